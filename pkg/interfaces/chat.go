package interfaces

import (
	"context"

	"counselchat/pkg/types"
)

// ChatService is the authorized entry point shared by the HTTP API and
// the socket event router. Every room-scoped call checks membership first.
type ChatService interface {
	CreateDirectChat(ctx context.Context, callerID, counselorID, clientID uint64) (*types.ChatRoom, error)
	SendMessage(ctx context.Context, roomID, senderID uint64, message, messageType string) (*types.MessageWithSender, error)
	GetMessages(ctx context.Context, roomID, userID uint64, limit, offset int) (*types.MessagePage, error)
	MarkAsRead(ctx context.Context, roomID, messageID, userID uint64) (*types.ReadReceipt, error)
	GetUserChatRooms(ctx context.Context, userID uint64) ([]*types.RoomSummary, error)
	GetUnreadCount(ctx context.Context, roomID, userID uint64) (int64, error)
	GetUnreadMessages(ctx context.Context, roomID, userID uint64) ([]*types.MessageWithSender, error)
	GetRoomDetails(ctx context.Context, roomID, userID uint64) (*types.ChatRoom, error)
	CanJoinRoom(ctx context.Context, roomID, userID uint64) error
	UserRoomIDs(ctx context.Context, userID uint64) ([]uint64, error)
}
