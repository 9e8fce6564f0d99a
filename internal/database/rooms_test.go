package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"counselchat/pkg/types"
)

func TestRoomDirectory_CreateDirectChatIsIdempotent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	counselor := s.createUser(t, "drkim", types.RoleCounselor)
	client := s.createUser(t, "jane", types.RoleClient)

	first, err := s.rooms.CreateDirectChat(ctx, counselor.ID, client.ID)
	if err != nil {
		t.Fatalf("CreateDirectChat failed: %v", err)
	}
	second, err := s.rooms.CreateDirectChat(ctx, counselor.ID, client.ID)
	if err != nil {
		t.Fatalf("second CreateDirectChat failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("Expected same room, got %d and %d", first.ID, second.ID)
	}
	if first.ID == types.GlobalRoomID {
		t.Error("direct room must not reuse the global room ID")
	}
	if first.Type != types.RoomTypeDirect {
		t.Errorf("Expected direct room, got %s", first.Type)
	}
}

func TestRoomDirectory_CreateDirectChatConcurrent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	counselor := s.createUser(t, "drkim", types.RoleCounselor)
	client := s.createUser(t, "jane", types.RoleClient)

	const callers = 10
	ids := make([]uint64, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := s.rooms.CreateDirectChat(ctx, counselor.ID, client.ID)
			errs[i] = err
			if room != nil {
				ids[i] = room.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("caller %d got room %d, want %d", i, ids[i], ids[0])
		}
	}

	var count int64
	s.manager.GetDB().Model(&types.ChatRoom{}).
		Where("counselor_id = ? AND client_id = ?", counselor.ID, client.ID).
		Count(&count)
	if count != 1 {
		t.Errorf("Expected exactly one room row, got %d", count)
	}
}

func TestRoomDirectory_CreateDirectChatValidation(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	counselor := s.createUser(t, "drkim", types.RoleCounselor)
	psychiatrist := s.createUser(t, "drlee", types.RolePsychiatrist)
	client := s.createUser(t, "jane", types.RoleClient)
	otherClient := s.createUser(t, "joe", types.RoleClient)

	tests := []struct {
		name        string
		counselorID uint64
		clientID    uint64
		wantErr     error
	}{
		{"psychiatrist may counsel", psychiatrist.ID, client.ID, nil},
		{"zero counselor", 0, client.ID, types.ErrInvalidParticipants},
		{"same user twice", counselor.ID, counselor.ID, types.ErrInvalidParticipants},
		{"client as counselor", otherClient.ID, client.ID, types.ErrInvalidParticipants},
		{"counselor as client", counselor.ID, psychiatrist.ID, types.ErrInvalidParticipants},
		{"unknown client", counselor.ID, 9999, types.ErrNotFound},
		{"unknown counselor", 9999, client.ID, types.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.rooms.CreateDirectChat(ctx, tt.counselorID, tt.clientID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateDirectChat() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRoomDirectory_IsUserInRoom(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	counselor := s.createUser(t, "drkim", types.RoleCounselor)
	client := s.createUser(t, "jane", types.RoleClient)
	outsider := s.createUser(t, "joe", types.RoleClient)
	admin := s.createUser(t, "root", types.RoleAdmin)

	room, err := s.rooms.CreateDirectChat(ctx, counselor.ID, client.ID)
	if err != nil {
		t.Fatalf("CreateDirectChat failed: %v", err)
	}

	tests := []struct {
		name   string
		roomID uint64
		userID uint64
		want   bool
	}{
		{"counselor in direct room", room.ID, counselor.ID, true},
		{"client in direct room", room.ID, client.ID, true},
		{"outsider denied", room.ID, outsider.ID, false},
		{"admin is not a participant", room.ID, admin.ID, false},
		{"everyone in global room", types.GlobalRoomID, outsider.ID, true},
		{"unknown user in global room", types.GlobalRoomID, 424242, true},
		{"missing room", 9999, counselor.ID, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.rooms.IsUserInRoom(ctx, tt.roomID, tt.userID)
			if err != nil {
				t.Fatalf("IsUserInRoom failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsUserInRoom(%d, %d) = %v, want %v", tt.roomID, tt.userID, got, tt.want)
			}
		})
	}
}

func TestRoomDirectory_GetRoomAndUserRoomIDs(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	counselor := s.createUser(t, "drkim", types.RoleCounselor)
	jane := s.createUser(t, "jane", types.RoleClient)
	joe := s.createUser(t, "joe", types.RoleClient)

	r1, _ := s.rooms.CreateDirectChat(ctx, counselor.ID, jane.ID)
	r2, _ := s.rooms.CreateDirectChat(ctx, counselor.ID, joe.ID)

	got, err := s.rooms.GetRoom(ctx, r1.ID)
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if !got.HasParticipant(jane.ID) {
		t.Error("GetRoom returned wrong participants")
	}

	if _, err := s.rooms.GetRoom(ctx, 9999); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	ids, err := s.rooms.UserRoomIDs(ctx, counselor.ID)
	if err != nil {
		t.Fatalf("UserRoomIDs failed: %v", err)
	}
	want := []uint64{types.GlobalRoomID, r1.ID, r2.ID}
	if len(ids) != len(want) {
		t.Fatalf("UserRoomIDs = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("UserRoomIDs = %v, want %v", ids, want)
		}
	}

	ids, _ = s.rooms.UserRoomIDs(ctx, joe.ID)
	if len(ids) != 2 || ids[1] != r2.ID {
		t.Errorf("joe should see global and r2, got %v", ids)
	}
}

func TestRoomDirectory_GetUserChatRooms(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	counselor := s.createUser(t, "drkim", types.RoleCounselor)
	nick := "sunny"
	jane := &types.User{Name: "Jane Doe", Nickname: &nick, Role: types.RoleClient}
	if err := s.users.CreateUser(ctx, jane); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	joe := s.createUser(t, "joe", types.RoleClient)

	withJane, _ := s.rooms.CreateDirectChat(ctx, counselor.ID, jane.ID)
	withJoe, _ := s.rooms.CreateDirectChat(ctx, counselor.ID, joe.ID)

	s.send(t, withJoe.ID, joe.ID, "hello from joe")
	time.Sleep(5 * time.Millisecond)
	s.send(t, withJane.ID, jane.ID, "hi doctor")
	s.send(t, withJane.ID, jane.ID, "are you there?")
	s.send(t, withJane.ID, counselor.ID, "yes")

	summaries, err := s.rooms.GetUserChatRooms(ctx, counselor.ID)
	if err != nil {
		t.Fatalf("GetUserChatRooms failed: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("Expected 3 rooms (global + 2 direct), got %d", len(summaries))
	}

	top := summaries[0]
	if top.RoomID != withJane.ID {
		t.Errorf("Expected most recent room %d first, got %d", withJane.ID, top.RoomID)
	}
	if top.Kind != types.SummaryKindCounselor || top.CounselorView == nil || top.ClientView != nil {
		t.Fatalf("counselor should get the counselor view: %+v", top)
	}
	if top.ClientName != "sunny" {
		t.Errorf("Expected client nickname, got %q", top.ClientName)
	}
	if top.UnreadCount != 2 {
		t.Errorf("Expected 2 unread (own message excluded), got %d", top.UnreadCount)
	}
	if top.LastMessage == nil || *top.LastMessage != "yes" {
		t.Errorf("Expected last message 'yes', got %v", top.LastMessage)
	}

	if summaries[1].RoomID != withJoe.ID {
		t.Errorf("Expected joe's room second, got %d", summaries[1].RoomID)
	}
	if summaries[2].RoomID != types.GlobalRoomID || summaries[2].Kind != types.SummaryKindGlobal {
		t.Errorf("Expected empty global room last, got %+v", summaries[2])
	}

	clientSide, err := s.rooms.GetUserChatRooms(ctx, jane.ID)
	if err != nil {
		t.Fatalf("GetUserChatRooms(client) failed: %v", err)
	}
	if len(clientSide) != 2 {
		t.Fatalf("Expected jane to see 2 rooms, got %d", len(clientSide))
	}
	direct := clientSide[0]
	if direct.ClientView == nil || direct.CounselorView != nil {
		t.Fatalf("client should get the client view: %+v", direct)
	}
	if direct.CounselorName != "drkim" || direct.CounselorRole != types.RoleCounselor {
		t.Errorf("unexpected counselor view: %+v", direct.ClientView)
	}
	if direct.UnreadCount != 1 {
		t.Errorf("Expected jane to have 1 unread, got %d", direct.UnreadCount)
	}
}

func TestBuildRoomSummaries_Ordering(t *testing.T) {
	counselorID, clientA, clientB := uint64(10), uint64(20), uint64(30)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m1, m2 := uint64(100), uint64(200)

	rows := []roomRow{
		{RoomID: types.GlobalRoomID, RoomType: types.RoomTypeGlobal},
		{RoomID: 2, RoomType: types.RoomTypeDirect, CounselorID: &counselorID, ClientID: &clientA, LastMessageID: &m1},
		{RoomID: 3, RoomType: types.RoomTypeDirect, CounselorID: &counselorID, ClientID: &clientB, LastMessageID: &m2},
		{RoomID: 4, RoomType: types.RoomTypeDirect, CounselorID: &counselorID, ClientID: &clientB},
	}
	last := map[uint64]*types.ChatMessage{
		m1: {ID: m1, Message: "older", CreatedAt: t0},
		m2: {ID: m2, Message: "newer", CreatedAt: t0.Add(time.Minute)},
	}

	got := buildRoomSummaries(counselorID, rows, last)
	order := []uint64{3, 2, 4, types.GlobalRoomID}
	for i, id := range order {
		if got[i].RoomID != id {
			t.Fatalf("position %d: got room %d, want %d", i, got[i].RoomID, id)
		}
	}
	if got[3].Title != GlobalRoomTitle {
		t.Errorf("global room title = %q", got[3].Title)
	}
}
