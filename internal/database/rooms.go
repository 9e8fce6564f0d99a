package database

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"counselchat/pkg/types"
)

// GlobalRoomTitle is the display title of the shared room
const GlobalRoomTitle = "Global Chat"

// RoomDirectory owns room creation and membership. IsUserInRoom is the
// only access check the rest of the system relies on.
type RoomDirectory struct {
	m *Manager
}

// NewRoomDirectory creates a room directory over the manager
func NewRoomDirectory(m *Manager) *RoomDirectory {
	return &RoomDirectory{m: m}
}

// CreateDirectChat returns the direct room of the pair, creating it on
// first use. Repeated and concurrent calls yield the same room.
func (d *RoomDirectory) CreateDirectChat(ctx context.Context, counselorID, clientID uint64) (*types.ChatRoom, error) {
	if counselorID == 0 || clientID == 0 || counselorID == clientID {
		return nil, types.ErrInvalidParticipants
	}

	if err := d.checkParticipants(ctx, counselorID, clientID); err != nil {
		return nil, err
	}

	var room types.ChatRoom
	err := d.m.executeWrite(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			found, err := findDirectRoom(tx, counselorID, clientID)
			if err != nil {
				return err
			}
			if found != nil {
				room = *found
				return nil
			}

			room = types.ChatRoom{
				Type:        types.RoomTypeDirect,
				CounselorID: &counselorID,
				ClientID:    &clientID,
			}
			return tx.Create(&room).Error
		})
	})

	// Another process won the insert; the unique pair index guarantees
	// the row now exists.
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		found, lookupErr := findDirectRoom(d.m.read(ctx), counselorID, clientID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if found == nil {
			return nil, fmt.Errorf("direct room for %d/%d vanished after conflict", counselorID, clientID)
		}
		return found, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create direct chat: %w", err)
	}
	return &room, nil
}

func (d *RoomDirectory) checkParticipants(ctx context.Context, counselorID, clientID uint64) error {
	var users []types.User
	if err := d.m.read(ctx).Where("id IN ?", []uint64{counselorID, clientID}).Find(&users).Error; err != nil {
		return fmt.Errorf("failed to query participants: %w", err)
	}

	var counselor, client *types.User
	for i := range users {
		switch users[i].ID {
		case counselorID:
			counselor = &users[i]
		case clientID:
			client = &users[i]
		}
	}
	if counselor == nil {
		return fmt.Errorf("counselor %d: %w", counselorID, types.ErrNotFound)
	}
	if client == nil {
		return fmt.Errorf("client %d: %w", clientID, types.ErrNotFound)
	}
	if !counselor.IsCounselor() || client.Role != types.RoleClient {
		return types.ErrInvalidParticipants
	}
	return nil
}

func findDirectRoom(db *gorm.DB, counselorID, clientID uint64) (*types.ChatRoom, error) {
	var rooms []types.ChatRoom
	err := db.Where("type = ? AND counselor_id = ? AND client_id = ?", types.RoomTypeDirect, counselorID, clientID).
		Limit(1).
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query direct room: %w", err)
	}
	if len(rooms) == 0 {
		return nil, nil
	}
	return &rooms[0], nil
}

// IsUserInRoom reports membership. Everyone is in the global room; a
// direct room admits only its two participants. Unknown rooms report
// false without an error so callers learn nothing about existence.
func (d *RoomDirectory) IsUserInRoom(ctx context.Context, roomID, userID uint64) (bool, error) {
	if roomID == types.GlobalRoomID {
		return true, nil
	}

	var rooms []types.ChatRoom
	if err := d.m.read(ctx).Where("id = ?", roomID).Limit(1).Find(&rooms).Error; err != nil {
		return false, fmt.Errorf("failed to query room: %w", err)
	}
	if len(rooms) == 0 {
		return false, nil
	}
	room := rooms[0]
	return room.Type == types.RoomTypeDirect && room.HasParticipant(userID), nil
}

// GetRoom returns a room or types.ErrNotFound
func (d *RoomDirectory) GetRoom(ctx context.Context, roomID uint64) (*types.ChatRoom, error) {
	var room types.ChatRoom
	err := d.m.read(ctx).First(&room, roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("room %d: %w", roomID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	return &room, nil
}

// UserRoomIDs lists every room a user belongs to, global room first
func (d *RoomDirectory) UserRoomIDs(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := d.m.read(ctx).
		Model(&types.ChatRoom{}).
		Where("type = ? AND (counselor_id = ? OR client_id = ?)", types.RoomTypeDirect, userID, userID).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query user rooms: %w", err)
	}
	return append([]uint64{types.GlobalRoomID}, ids...), nil
}

// roomRow is one room of a user with its participants' raw profile
// columns, the newest message ID and the user's unread count.
type roomRow struct {
	RoomID          uint64
	RoomType        string
	CounselorID     *uint64
	ClientID        *uint64
	CounselorName   *string
	CounselorAvatar *string
	CounselorRole   *string
	ClientName      *string
	ClientNickname  *string
	ClientAvatar    *string
	LastMessageID   *uint64
	UnreadCount     int64
}

const userRoomsQuery = `
SELECT r.id AS room_id, r.type AS room_type, r.counselor_id, r.client_id,
	co.name AS counselor_name, co.avatar AS counselor_avatar, co.role AS counselor_role,
	cl.name AS client_name, cl.nickname AS client_nickname, cl.avatar AS client_avatar,
	(SELECT MAX(m.id) FROM chat_messages m WHERE m.room_id = r.id) AS last_message_id,
	(SELECT COUNT(*) FROM chat_messages m
		WHERE m.room_id = r.id AND m.sender_id <> @user AND m.id > COALESCE(
			(SELECT p.last_message_id FROM chat_read_pointers p WHERE p.user_id = @user AND p.room_id = r.id), 0)
	) AS unread_count
FROM chat_rooms r
LEFT JOIN users co ON co.id = r.counselor_id
LEFT JOIN users cl ON cl.id = r.client_id
WHERE r.id = @global OR (r.type = 'direct' AND (r.counselor_id = @user OR r.client_id = @user))`

// GetUserChatRooms returns the user's rooms with the latest message and
// unread count, newest activity first. Membership is implied by the
// query so no per-room check is needed.
func (d *RoomDirectory) GetUserChatRooms(ctx context.Context, userID uint64) ([]*types.RoomSummary, error) {
	var rows []roomRow
	err := d.m.read(ctx).
		Raw(userRoomsQuery, map[string]interface{}{"user": userID, "global": types.GlobalRoomID}).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query chat rooms: %w", err)
	}

	ids := make([]uint64, 0, len(rows))
	for _, row := range rows {
		if row.LastMessageID != nil {
			ids = append(ids, *row.LastMessageID)
		}
	}

	lastMessages := make(map[uint64]*types.ChatMessage, len(ids))
	if len(ids) > 0 {
		var messages []types.ChatMessage
		if err := d.m.read(ctx).Where("id IN ?", ids).Find(&messages).Error; err != nil {
			return nil, fmt.Errorf("failed to query last messages: %w", err)
		}
		for i := range messages {
			lastMessages[messages[i].ID] = &messages[i]
		}
	}

	return buildRoomSummaries(userID, rows, lastMessages), nil
}

// buildRoomSummaries shapes each row for the viewer's side of the room and
// sorts by last activity. Rooms without messages sort last.
func buildRoomSummaries(userID uint64, rows []roomRow, lastMessages map[uint64]*types.ChatMessage) []*types.RoomSummary {
	summaries := make([]*types.RoomSummary, 0, len(rows))
	for _, row := range rows {
		summary := &types.RoomSummary{
			RoomID:      row.RoomID,
			RoomType:    row.RoomType,
			UnreadCount: row.UnreadCount,
		}
		if row.LastMessageID != nil {
			if msg, ok := lastMessages[*row.LastMessageID]; ok {
				text := msg.Message
				at := msg.CreatedAt
				summary.LastMessage = &text
				summary.LastMessageAt = &at
			}
		}

		switch {
		case row.RoomType == types.RoomTypeGlobal:
			summary.Kind = types.SummaryKindGlobal
			summary.Title = GlobalRoomTitle

		case row.CounselorID != nil && *row.CounselorID == userID:
			client := types.User{Role: types.RoleClient, Nickname: row.ClientNickname}
			client.Name = deref(row.ClientName)
			view := &types.CounselorView{
				ClientID:     derefID(row.ClientID),
				ClientName:   client.DisplayName(),
				ClientAvatar: deref(row.ClientAvatar),
			}
			summary.Kind = types.SummaryKindCounselor
			summary.Title = view.ClientName
			summary.CounselorView = view

		default:
			view := &types.ClientView{
				CounselorID:     derefID(row.CounselorID),
				CounselorName:   deref(row.CounselorName),
				CounselorAvatar: deref(row.CounselorAvatar),
				CounselorRole:   deref(row.CounselorRole),
			}
			summary.Kind = types.SummaryKindClient
			summary.Title = view.CounselorName
			summary.ClientView = view
		}

		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i].LastMessageAt, summaries[j].LastMessageAt
		switch {
		case a != nil && b != nil:
			if !a.Equal(*b) {
				return a.After(*b)
			}
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return summaries[i].RoomID > summaries[j].RoomID
	})

	return summaries
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefID(id *uint64) uint64 {
	if id == nil {
		return 0
	}
	return *id
}
