package database

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"counselchat/pkg/types"
)

// MessageStore is the append-only log of every room
type MessageStore struct {
	m *Manager
}

// NewMessageStore creates a message store over the manager
func NewMessageStore(m *Manager) *MessageStore {
	return &MessageStore{m: m}
}

// messageRow is a message joined with the raw sender profile columns.
// Sender fields are nullable because profiles live in another service.
type messageRow struct {
	types.ChatMessage
	UserName     *string
	UserNickname *string
	UserAvatar   *string
	UserRole     *string
}

func (r *messageRow) toMessageWithSender() *types.MessageWithSender {
	sender := types.User{ID: r.SenderID}
	if r.UserName != nil {
		sender.Name = *r.UserName
	}
	if r.UserAvatar != nil {
		sender.AvatarURL = *r.UserAvatar
	}
	if r.UserRole != nil {
		sender.Role = *r.UserRole
	}
	sender.Nickname = r.UserNickname

	return &types.MessageWithSender{
		ChatMessage:  r.ChatMessage,
		SenderName:   sender.DisplayName(),
		SenderAvatar: sender.AvatarURL,
		SenderRole:   sender.Role,
	}
}

// unreadPredicate selects messages of a room that a user has not read:
// sent by someone else and above the user's read pointer (or all of them
// when there is no pointer). Args: roomID, userID, userID, roomID.
const unreadPredicate = `m.room_id = ? AND m.sender_id <> ? AND m.id > COALESCE(
	(SELECT p.last_message_id FROM chat_read_pointers p WHERE p.user_id = ? AND p.room_id = ?), 0)`

func (s *MessageStore) withSender(ctx context.Context) *gorm.DB {
	return s.m.read(ctx).
		Table("chat_messages AS m").
		Select(`m.id, m.room_id, m.sender_id, m.message, m.message_type, m.created_at,
			u.name AS user_name, u.nickname AS user_nickname, u.avatar AS user_avatar, u.role AS user_role`).
		Joins("LEFT JOIN users u ON u.id = m.sender_id")
}

// CreateMessage persists a message. Only structural fields are checked
// here; body rules belong to the caller.
func (s *MessageStore) CreateMessage(ctx context.Context, message *types.ChatMessage) error {
	if message.RoomID == 0 {
		return types.ErrInvalidRoomID
	}
	if message.SenderID == 0 {
		return fmt.Errorf("%w: sender required", types.ErrValidation)
	}
	if strings.TrimSpace(message.Message) == "" {
		return types.ErrEmptyMessage
	}
	if message.MessageType == "" {
		message.MessageType = types.MessageTypeText
	}

	return s.m.executeWrite(ctx, func(db *gorm.DB) error {
		if err := db.Create(message).Error; err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// GetMessage returns one message with sender metadata or types.ErrNotFound
func (s *MessageStore) GetMessage(ctx context.Context, messageID uint64) (*types.MessageWithSender, error) {
	var rows []messageRow
	if err := s.withSender(ctx).Where("m.id = ?", messageID).Limit(1).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("message %d: %w", messageID, types.ErrNotFound)
	}
	return rows[0].toMessageWithSender(), nil
}

// GetMessagesPaginated reads limit+1 rows newest first, reports whether
// the extra row existed, and returns the page oldest first.
func (s *MessageStore) GetMessagesPaginated(ctx context.Context, roomID uint64, limit, offset int) (*types.MessagePage, error) {
	if limit <= 0 {
		limit = types.DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	var rows []messageRow
	err := s.withSender(ctx).
		Where("m.room_id = ?", roomID).
		Order("m.id DESC").
		Limit(limit + 1).
		Offset(offset).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	messages := make([]*types.MessageWithSender, len(rows))
	for i := range rows {
		messages[len(rows)-1-i] = rows[i].toMessageWithSender()
	}

	return &types.MessagePage{Messages: messages, HasMore: hasMore}, nil
}

// GetUnreadMessages returns a user's unread messages in a room, oldest first
func (s *MessageStore) GetUnreadMessages(ctx context.Context, roomID, userID uint64) ([]*types.MessageWithSender, error) {
	var rows []messageRow
	err := s.withSender(ctx).
		Where(unreadPredicate, roomID, userID, userID, roomID).
		Order("m.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query unread messages: %w", err)
	}

	messages := make([]*types.MessageWithSender, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toMessageWithSender())
	}
	return messages, nil
}

// GetUnreadCount counts a user's unread messages in a room
func (s *MessageStore) GetUnreadCount(ctx context.Context, roomID, userID uint64) (int64, error) {
	var count int64
	err := s.m.read(ctx).
		Table("chat_messages AS m").
		Where(unreadPredicate, roomID, userID, userID, roomID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// messageInRoom reports whether messageID belongs to roomID
func messageInRoom(db *gorm.DB, roomID, messageID uint64) (bool, error) {
	var count int64
	err := db.Model(&types.ChatMessage{}).
		Where("id = ? AND room_id = ?", messageID, roomID).
		Count(&count).Error
	return count > 0, err
}
