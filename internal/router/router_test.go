package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"counselchat/internal/websocket"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

var testUpgrader = gorillaws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// createTestWebSocketConnection dials a server that forwards every frame
// the client side writes into the returned channel.
func createTestWebSocketConnection(t *testing.T) (*gorillaws.Conn, <-chan []byte) {
	t.Helper()
	frames := make(chan []byte, 50)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, frames
}

type sentEvent struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

func nextEvent(t *testing.T, frames <-chan []byte) sentEvent {
	t.Helper()
	select {
	case data := <-frames:
		var ev sentEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("invalid frame %s: %v", data, err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
	return sentEvent{}
}

// fakeChat answers membership from a static table; unused methods panic
type fakeChat struct {
	interfaces.ChatService
	mu      sync.Mutex
	members map[uint64]map[uint64]bool
	sent    []string
	marked  []uint64
}

func (f *fakeChat) CanJoinRoom(ctx context.Context, roomID, userID uint64) error {
	if f.members[roomID][userID] {
		return nil
	}
	return types.ErrAuthorization
}

func (f *fakeChat) SendMessage(ctx context.Context, roomID, senderID uint64, message, messageType string) (*types.MessageWithSender, error) {
	if err := f.CanJoinRoom(ctx, roomID, senderID); err != nil {
		return nil, err
	}
	if _, err := types.ValidateMessage(message, messageType, types.DefaultMaxMessageLength); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.sent = append(f.sent, message)
	f.mu.Unlock()
	return &types.MessageWithSender{}, nil
}

func (f *fakeChat) MarkAsRead(ctx context.Context, roomID, messageID, userID uint64) (*types.ReadReceipt, error) {
	if err := f.CanJoinRoom(ctx, roomID, userID); err != nil {
		return nil, err
	}
	if messageID > 100 {
		return nil, errors.New("disk on fire")
	}
	f.mu.Lock()
	f.marked = append(f.marked, messageID)
	f.mu.Unlock()
	return &types.ReadReceipt{}, nil
}

type broadcast struct {
	room   uint64
	except string
	event  string
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcast
}

func (b *recordingBroadcaster) EmitToRoom(roomID uint64, event string, payload interface{}) int {
	return b.EmitToRoomExcept(roomID, "", event, payload)
}

func (b *recordingBroadcaster) EmitToRoomExcept(roomID uint64, exceptConnID string, event string, payload interface{}) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcast{roomID, exceptConnID, event})
	return 1
}

func (b *recordingBroadcaster) EmitToUser(userID uint64, event string, payload interface{}) int {
	return 0
}

func (b *recordingBroadcaster) SubscribeUser(userID, roomID uint64) int {
	return 0
}

func (b *recordingBroadcaster) last() broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return broadcast{}
	}
	return b.events[len(b.events)-1]
}

type routerFixture struct {
	router   *Router
	registry *websocket.Registry
	chat     *fakeChat
	bc       *recordingBroadcaster
	conn     *websocket.Connection
	frames   <-chan []byte
}

func setupRouter(t *testing.T, limit int) *routerFixture {
	t.Helper()
	ws, frames := createTestWebSocketConnection(t)
	conn := websocket.NewConnection(ws)
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.SetIdentity(types.Identity{UserID: 2, Name: "jane", Role: types.RoleClient}); err != nil {
		t.Fatalf("SetIdentity failed: %v", err)
	}

	registry := websocket.NewRegistry()
	if _, err := registry.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	chat := &fakeChat{members: map[uint64]map[uint64]bool{
		types.GlobalRoomID: {1: true, 2: true, 3: true},
		5:                  {1: true, 2: true},
		6:                  {1: true, 3: true},
	}}
	bc := &recordingBroadcaster{}
	return &routerFixture{
		router:   NewRouter(registry, chat, bc, NewRateLimiter(limit, time.Minute)),
		registry: registry,
		chat:     chat,
		bc:       bc,
		conn:     conn,
		frames:   frames,
	}
}

func (f *routerFixture) dispatch(frame string) {
	f.router.Dispatch(context.Background(), f.conn, []byte(frame))
}

func TestRouter_ImplementsDispatcher(t *testing.T) {
	var _ websocket.Dispatcher = &Router{}
}

func TestRouter_JoinRoomAuthorized(t *testing.T) {
	f := setupRouter(t, 10)

	f.dispatch(`{"event":"join_room","data":{"roomId":5}}`)

	ack := nextEvent(t, f.frames)
	if ack.Event != types.EventJoinedRoom || ack.Data["roomId"].(float64) != 5 {
		t.Fatalf("Expected joined_room ack, got %+v", ack)
	}
	if !f.registry.InRoom(f.conn, 5) {
		t.Error("connection should be subscribed to room 5")
	}
	got := f.bc.last()
	if got.event != types.EventUserJoinedRoom || got.room != 5 || got.except != f.conn.GetConnectionID() {
		t.Errorf("Expected user_joined_room to the others, got %+v", got)
	}
}

func TestRouter_JoinRoomDeniedKeepsConnection(t *testing.T) {
	f := setupRouter(t, 10)

	f.dispatch(`{"event":"join_room","data":{"roomId":6}}`)

	ev := nextEvent(t, f.frames)
	if ev.Event != types.EventError {
		t.Fatalf("Expected error event, got %+v", ev)
	}
	if ev.Data["event"] != types.EventJoinRoom || ev.Data["kind"] != types.KindAuthorization {
		t.Errorf("unexpected error payload: %+v", ev.Data)
	}
	if f.registry.InRoom(f.conn, 6) {
		t.Error("denied join must not subscribe")
	}
	if err := f.conn.WriteJSON(map[string]string{"still": "open"}); err != nil {
		t.Errorf("connection should stay open: %v", err)
	}
}

func TestRouter_LeaveRoom(t *testing.T) {
	f := setupRouter(t, 10)
	_, _ = f.registry.JoinRoom(f.conn, 5)

	f.dispatch(`{"event":"leave_room","data":{"roomId":5}}`)

	if ev := nextEvent(t, f.frames); ev.Event != types.EventLeftRoom {
		t.Fatalf("Expected left_room ack, got %+v", ev)
	}
	if f.registry.InRoom(f.conn, 5) {
		t.Error("connection should have left room 5")
	}
	if got := f.bc.last(); got.event != types.EventUserLeftRoom || got.room != 5 {
		t.Errorf("Expected user_left_room broadcast, got %+v", got)
	}
}

func TestRouter_TypingRequiresMembership(t *testing.T) {
	f := setupRouter(t, 10)

	f.dispatch(`{"event":"typing_start","data":{"roomId":5}}`)
	if ev := nextEvent(t, f.frames); ev.Event != types.EventError || ev.Data["kind"] != types.KindAuthorization {
		t.Fatalf("typing outside a joined room should fail, got %+v", ev)
	}

	_, _ = f.registry.JoinRoom(f.conn, 5)
	f.dispatch(`{"event":"typing_start","data":{"roomId":5}}`)
	if got := f.bc.last(); got.event != types.EventUserTyping || got.except != f.conn.GetConnectionID() {
		t.Errorf("Expected user_typing to the others, got %+v", got)
	}
	f.dispatch(`{"event":"typing_stop","data":{"roomId":5}}`)
	if got := f.bc.last(); got.event != types.EventUserStoppedTyping {
		t.Errorf("Expected user_stopped_typing, got %+v", got)
	}
}

func TestRouter_MarkAsReadAndSend(t *testing.T) {
	f := setupRouter(t, 10)

	f.dispatch(`{"event":"send_message","data":{"roomId":5,"message":"hello"}}`)
	f.dispatch(`{"event":"mark_as_read","data":{"roomId":5,"messageId":3}}`)

	f.chat.mu.Lock()
	defer f.chat.mu.Unlock()
	if len(f.chat.sent) != 1 || f.chat.sent[0] != "hello" {
		t.Errorf("send_message not forwarded: %v", f.chat.sent)
	}
	if len(f.chat.marked) != 1 || f.chat.marked[0] != 3 {
		t.Errorf("mark_as_read not forwarded: %v", f.chat.marked)
	}
}

func TestRouter_ErrorEvents(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantKind string
		wantMsg  string
	}{
		{"malformed json", `{"event":`, types.KindValidation, ""},
		{"unknown event", `{"event":"dance","data":{}}`, types.KindValidation, ""},
		{"missing room", `{"event":"join_room","data":{}}`, types.KindValidation, ""},
		{"missing message id", `{"event":"mark_as_read","data":{"roomId":5}}`, types.KindValidation, ""},
		{"empty message", `{"event":"send_message","data":{"roomId":5,"message":" "}}`, types.KindValidation, ""},
		{"foreign room", `{"event":"send_message","data":{"roomId":6,"message":"x"}}`, types.KindAuthorization, "no access to this chat room"},
		{"internal failure", `{"event":"mark_as_read","data":{"roomId":5,"messageId":500}}`, types.KindInternal, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupRouter(t, 10)
			f.dispatch(tt.frame)

			ev := nextEvent(t, f.frames)
			if ev.Event != types.EventError || ev.Data["kind"] != tt.wantKind {
				t.Fatalf("Expected %s error, got %+v", tt.wantKind, ev)
			}
			if tt.wantMsg != "" && ev.Data["message"] != tt.wantMsg {
				t.Errorf("message = %v, want %q", ev.Data["message"], tt.wantMsg)
			}
		})
	}
}

func TestRouter_RateLimitFailsActionNotConnection(t *testing.T) {
	f := setupRouter(t, 2)
	_, _ = f.registry.JoinRoom(f.conn, 5)

	f.dispatch(`{"event":"typing_start","data":{"roomId":5}}`)
	f.dispatch(`{"event":"typing_stop","data":{"roomId":5}}`)
	f.dispatch(`{"event":"send_message","data":{"roomId":5,"message":"third"}}`)

	ev := nextEvent(t, f.frames)
	if ev.Event != types.EventError || ev.Data["kind"] != types.KindRateLimited {
		t.Fatalf("Expected rate_limit_exceeded, got %+v", ev)
	}
	if len(f.chat.sent) != 0 {
		t.Error("rate-limited send must not reach the chat service")
	}
	if err := f.conn.WriteJSON(map[string]string{"still": "open"}); err != nil {
		t.Errorf("connection should stay open: %v", err)
	}
}

func TestRouter_DisconnectedNotifiesOnlyWhenOffline(t *testing.T) {
	f := setupRouter(t, 10)

	f.router.Disconnected(f.conn, []uint64{1, 5}, false)
	if len(f.bc.events) != 0 {
		t.Fatal("no notice while the user still has a socket")
	}

	f.router.Disconnected(f.conn, []uint64{1, 5}, true)
	if len(f.bc.events) != 2 || f.bc.events[0].event != types.EventUserLeftRoom {
		t.Errorf("Expected user_left_room to both rooms, got %+v", f.bc.events)
	}
}
