package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// Options bounds message bodies and history pages
type Options struct {
	MaxMessageLength int
	DefaultPageSize  int
	MaxPageSize      int
}

// DefaultOptions returns the limits used when none are configured
func DefaultOptions() Options {
	return Options{
		MaxMessageLength: types.DefaultMaxMessageLength,
		DefaultPageSize:  types.DefaultPageSize,
		MaxPageSize:      types.MaxPageSize,
	}
}

// Service coordinates the stores and the broadcaster. Every room-scoped
// operation checks membership before touching anything else.
type Service struct {
	rooms       interfaces.RoomDirectory
	messages    interfaces.MessageStore
	reads       interfaces.ReadTracker
	users       interfaces.UserDirectory
	broadcaster interfaces.Broadcaster
	opts        Options
}

// NewService creates a chat service
func NewService(
	rooms interfaces.RoomDirectory,
	messages interfaces.MessageStore,
	reads interfaces.ReadTracker,
	users interfaces.UserDirectory,
	broadcaster interfaces.Broadcaster,
	opts Options,
) *Service {
	defaults := DefaultOptions()
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = defaults.MaxMessageLength
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = defaults.DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaults.MaxPageSize
	}
	return &Service{
		rooms:       rooms,
		messages:    messages,
		reads:       reads,
		users:       users,
		broadcaster: broadcaster,
		opts:        opts,
	}
}

// authorize fails with types.ErrAuthorization unless userID belongs to roomID
func (s *Service) authorize(ctx context.Context, roomID, userID uint64) error {
	if roomID == 0 {
		return types.ErrInvalidRoomID
	}
	ok, err := s.rooms.IsUserInRoom(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("failed to check room access: %w", err)
	}
	if !ok {
		return types.ErrAuthorization
	}
	return nil
}

// CreateDirectChat finds or creates the room of a counselor/client pair
// and subscribes both participants' live sockets to it. The caller must be
// one of the pair unless they are an admin.
func (s *Service) CreateDirectChat(ctx context.Context, callerID, counselorID, clientID uint64) (*types.ChatRoom, error) {
	if callerID != counselorID && callerID != clientID {
		caller, err := s.users.GetUser(ctx, callerID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		if caller == nil || caller.Role != types.RoleAdmin {
			return nil, types.ErrAuthorization
		}
	}

	room, err := s.rooms.CreateDirectChat(ctx, counselorID, clientID)
	if err != nil {
		return nil, err
	}

	// Sockets opened before the room existed were not auto-joined to it.
	subscribed := s.broadcaster.SubscribeUser(counselorID, room.ID) + s.broadcaster.SubscribeUser(clientID, room.ID)
	log.Printf("Direct chat ready: room=%d counselor=%d client=%d, %d sockets subscribed", room.ID, counselorID, clientID, subscribed)
	return room, nil
}

// SendMessage persists a message and broadcasts it to the room. The
// broadcast is best effort: offline participants catch up through history.
func (s *Service) SendMessage(ctx context.Context, roomID, senderID uint64, message, messageType string) (*types.MessageWithSender, error) {
	if err := s.authorize(ctx, roomID, senderID); err != nil {
		return nil, err
	}
	messageType, err := types.ValidateMessage(message, messageType, s.opts.MaxMessageLength)
	if err != nil {
		return nil, err
	}

	msg := &types.ChatMessage{
		RoomID:      roomID,
		SenderID:    senderID,
		Message:     message,
		MessageType: messageType,
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	enriched, err := s.messages.GetMessage(ctx, msg.ID)
	if err != nil {
		return nil, err
	}

	delivered := s.broadcaster.EmitToRoom(roomID, types.EventNewMessage, enriched)
	log.Printf("Message %d stored in room %d, delivered to %d sockets", msg.ID, roomID, delivered)
	return enriched, nil
}

// GetMessages returns one page of room history
func (s *Service) GetMessages(ctx context.Context, roomID, userID uint64, limit, offset int) (*types.MessagePage, error) {
	if err := s.authorize(ctx, roomID, userID); err != nil {
		return nil, err
	}
	limit, offset = types.NormalizePage(limit, offset, s.opts.DefaultPageSize, s.opts.MaxPageSize)
	return s.messages.GetMessagesPaginated(ctx, roomID, limit, offset)
}

// MarkAsRead advances the reader's pointer, then tells the room who read
// what and tells the reader's own sockets the new unread count.
func (s *Service) MarkAsRead(ctx context.Context, roomID, messageID, userID uint64) (*types.ReadReceipt, error) {
	if err := s.authorize(ctx, roomID, userID); err != nil {
		return nil, err
	}
	if err := s.reads.MarkAsRead(ctx, roomID, userID, messageID); err != nil {
		return nil, err
	}

	unread, err := s.messages.GetUnreadCount(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	receipt := &types.ReadReceipt{
		RoomID:      roomID,
		UserID:      userID,
		MessageID:   messageID,
		UnreadCount: unread,
		ReadAt:      time.Now().UTC(),
	}
	receipt.RoomDelivered = s.broadcaster.EmitToRoom(roomID, types.EventMessageRead, receipt)
	receipt.OwnerDelivered = s.broadcaster.EmitToUser(userID, types.EventUnreadCountUpdated, map[string]interface{}{
		"roomId":      roomID,
		"unreadCount": unread,
	})
	return receipt, nil
}

// GetUserChatRooms lists the caller's rooms; membership is implicit
func (s *Service) GetUserChatRooms(ctx context.Context, userID uint64) ([]*types.RoomSummary, error) {
	return s.rooms.GetUserChatRooms(ctx, userID)
}

// GetUnreadCount returns the caller's unread count in a room
func (s *Service) GetUnreadCount(ctx context.Context, roomID, userID uint64) (int64, error) {
	if err := s.authorize(ctx, roomID, userID); err != nil {
		return 0, err
	}
	return s.messages.GetUnreadCount(ctx, roomID, userID)
}

// GetUnreadMessages returns the caller's unread messages in a room
func (s *Service) GetUnreadMessages(ctx context.Context, roomID, userID uint64) ([]*types.MessageWithSender, error) {
	if err := s.authorize(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.messages.GetUnreadMessages(ctx, roomID, userID)
}

// GetRoomDetails returns a room the caller belongs to
func (s *Service) GetRoomDetails(ctx context.Context, roomID, userID uint64) (*types.ChatRoom, error) {
	if err := s.authorize(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.rooms.GetRoom(ctx, roomID)
}

// CanJoinRoom gates socket subscriptions with the same membership rule
func (s *Service) CanJoinRoom(ctx context.Context, roomID, userID uint64) error {
	return s.authorize(ctx, roomID, userID)
}

// UserRoomIDs lists the rooms a new socket is subscribed to
func (s *Service) UserRoomIDs(ctx context.Context, userID uint64) ([]uint64, error) {
	return s.rooms.UserRoomIDs(ctx, userID)
}
