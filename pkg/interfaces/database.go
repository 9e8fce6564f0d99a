package interfaces

import (
	"context"

	"counselchat/pkg/types"
)

// MessageStore is the append-only room log
type MessageStore interface {
	// CreateMessage persists a message and fills its ID and CreatedAt
	CreateMessage(ctx context.Context, message *types.ChatMessage) error

	// GetMessage returns one message joined with its sender's display data
	GetMessage(ctx context.Context, messageID uint64) (*types.MessageWithSender, error)

	// GetMessagesPaginated returns a page counted back from the newest
	// message, in chronological order
	GetMessagesPaginated(ctx context.Context, roomID uint64, limit, offset int) (*types.MessagePage, error)

	// GetUnreadMessages returns messages from others above the user's read pointer
	GetUnreadMessages(ctx context.Context, roomID, userID uint64) ([]*types.MessageWithSender, error)

	// GetUnreadCount counts what GetUnreadMessages would return
	GetUnreadCount(ctx context.Context, roomID, userID uint64) (int64, error)
}

// ReadTracker keeps one monotonic read pointer per (user, room)
type ReadTracker interface {
	MarkAsRead(ctx context.Context, roomID, userID, messageID uint64) error
	GetReadPointer(ctx context.Context, roomID, userID uint64) (*types.ReadPointer, error)
}

// RoomDirectory owns room membership and is the only access-control gate
type RoomDirectory interface {
	CreateDirectChat(ctx context.Context, counselorID, clientID uint64) (*types.ChatRoom, error)
	IsUserInRoom(ctx context.Context, roomID, userID uint64) (bool, error)
	GetRoom(ctx context.Context, roomID uint64) (*types.ChatRoom, error)
	UserRoomIDs(ctx context.Context, userID uint64) ([]uint64, error)
	GetUserChatRooms(ctx context.Context, userID uint64) ([]*types.RoomSummary, error)
}

// UserDirectory reads profiles owned by the platform's user service
type UserDirectory interface {
	GetUser(ctx context.Context, userID uint64) (*types.User, error)
}
