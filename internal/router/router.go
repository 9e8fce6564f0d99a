package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"counselchat/internal/websocket"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// Router turns client socket frames into chat operations. Every frame
// costs one rate-limit token; failures go back to the sending socket only.
type Router struct {
	registry    *websocket.Registry
	chat        interfaces.ChatService
	broadcaster interfaces.Broadcaster
	limiter     *RateLimiter
}

// NewRouter creates a socket event router
func NewRouter(registry *websocket.Registry, chat interfaces.ChatService, broadcaster interfaces.Broadcaster, limiter *RateLimiter) *Router {
	if limiter == nil {
		limiter = NewRateLimiter(DefaultRateLimit, DefaultRateWindow)
	}
	return &Router{
		registry:    registry,
		chat:        chat,
		broadcaster: broadcaster,
		limiter:     limiter,
	}
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomPayload struct {
	RoomID uint64 `json:"roomId"`
}

type markReadPayload struct {
	RoomID    uint64 `json:"roomId"`
	MessageID uint64 `json:"messageId"`
}

type sendPayload struct {
	RoomID      uint64 `json:"roomId"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
}

// Dispatch handles one frame and reports any failure as an error event
func (r *Router) Dispatch(ctx context.Context, conn *websocket.Connection, raw []byte) {
	event, err := r.Route(ctx, conn, raw)
	if err == nil {
		return
	}

	kind := types.ErrorKind(err)
	if kind == types.KindInternal {
		log.Printf("Socket event %q from user %d failed: %v", event, conn.GetUserID(), err)
	}
	if writeErr := conn.Emit(types.EventError, map[string]interface{}{
		"event":   event,
		"kind":    kind,
		"message": types.PublicMessage(err),
	}); writeErr != nil {
		log.Printf("Failed to send error event to user %d: %v", conn.GetUserID(), writeErr)
	}
}

// Route decodes and executes a frame, returning the event name it carried
func (r *Router) Route(ctx context.Context, conn *websocket.Connection, raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		return env.Event, types.ErrInvalidPayload
	}

	if !r.limiter.Allow(conn.GetUserID()) {
		return env.Event, types.ErrRateLimited
	}

	switch env.Event {
	case types.EventJoinRoom:
		return env.Event, r.joinRoom(ctx, conn, env.Data)
	case types.EventLeaveRoom:
		return env.Event, r.leaveRoom(conn, env.Data)
	case types.EventTypingStart:
		return env.Event, r.typing(conn, env.Data, types.EventUserTyping)
	case types.EventTypingStop:
		return env.Event, r.typing(conn, env.Data, types.EventUserStoppedTyping)
	case types.EventMarkAsRead:
		return env.Event, r.markAsRead(ctx, conn, env.Data)
	case types.EventSendMessage:
		return env.Event, r.sendMessage(ctx, conn, env.Data)
	default:
		return env.Event, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return types.ErrInvalidPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return types.ErrInvalidPayload
	}
	return nil
}

func decodeRoom(data json.RawMessage) (uint64, error) {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		return 0, err
	}
	if p.RoomID == 0 {
		return 0, types.ErrInvalidRoomID
	}
	return p.RoomID, nil
}

func (r *Router) joinRoom(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	roomID, err := decodeRoom(data)
	if err != nil {
		return err
	}
	identity := conn.GetIdentity()
	if err := r.chat.CanJoinRoom(ctx, roomID, identity.UserID); err != nil {
		return err
	}

	joined, err := r.registry.JoinRoom(conn, roomID)
	if err != nil {
		return fmt.Errorf("failed to join room %d: %w", roomID, err)
	}
	if err := conn.Emit(types.EventJoinedRoom, roomPayload{RoomID: roomID}); err != nil {
		log.Printf("Failed to ack join for user %d: %v", identity.UserID, err)
	}
	if joined {
		r.broadcaster.EmitToRoomExcept(roomID, conn.GetConnectionID(), types.EventUserJoinedRoom, map[string]interface{}{
			"roomId":   roomID,
			"userId":   identity.UserID,
			"userName": identity.Name,
		})
	}
	return nil
}

func (r *Router) leaveRoom(conn *websocket.Connection, data json.RawMessage) error {
	roomID, err := decodeRoom(data)
	if err != nil {
		return err
	}

	left := r.registry.LeaveRoom(conn, roomID)
	if err := conn.Emit(types.EventLeftRoom, roomPayload{RoomID: roomID}); err != nil {
		log.Printf("Failed to ack leave for user %d: %v", conn.GetUserID(), err)
	}
	if left {
		r.broadcaster.EmitToRoom(roomID, types.EventUserLeftRoom, map[string]interface{}{
			"roomId": roomID,
			"userId": conn.GetUserID(),
		})
	}
	return nil
}

// typing relays a typing indicator to the other sockets in a joined room
func (r *Router) typing(conn *websocket.Connection, data json.RawMessage, event string) error {
	roomID, err := decodeRoom(data)
	if err != nil {
		return err
	}
	if !r.registry.InRoom(conn, roomID) {
		return ErrNotInRoom
	}

	identity := conn.GetIdentity()
	r.broadcaster.EmitToRoomExcept(roomID, conn.GetConnectionID(), event, map[string]interface{}{
		"roomId":   roomID,
		"userId":   identity.UserID,
		"userName": identity.Name,
	})
	return nil
}

func (r *Router) markAsRead(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var p markReadPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.RoomID == 0 {
		return types.ErrInvalidRoomID
	}
	if p.MessageID == 0 {
		return types.ErrInvalidMessageID
	}
	_, err := r.chat.MarkAsRead(ctx, p.RoomID, p.MessageID, conn.GetUserID())
	return err
}

func (r *Router) sendMessage(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var p sendPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.RoomID == 0 {
		return types.ErrInvalidRoomID
	}
	_, err := r.chat.SendMessage(ctx, p.RoomID, conn.GetUserID(), p.Message, p.MessageType)
	return err
}

// Disconnected tells each room a user has gone offline. Rooms are not
// notified while the user still has another socket open.
func (r *Router) Disconnected(conn *websocket.Connection, rooms []uint64, offline bool) {
	if !offline {
		return
	}
	for _, roomID := range rooms {
		r.broadcaster.EmitToRoom(roomID, types.EventUserLeftRoom, map[string]interface{}{
			"roomId": roomID,
			"userId": conn.GetUserID(),
		})
	}
}
