package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"counselchat/pkg/types"
)

// ReadTracker stores one read pointer per (user, room). Pointers only
// move forward: marking an older message read is accepted and ignored.
type ReadTracker struct {
	m *Manager
}

// NewReadTracker creates a read tracker over the manager
func NewReadTracker(m *Manager) *ReadTracker {
	return &ReadTracker{m: m}
}

// MarkAsRead advances the user's pointer in roomID to messageID unless it
// is already at or beyond it. The message must belong to the room.
func (t *ReadTracker) MarkAsRead(ctx context.Context, roomID, userID, messageID uint64) error {
	if roomID == 0 {
		return types.ErrInvalidRoomID
	}
	if messageID == 0 {
		return types.ErrInvalidMessageID
	}

	return t.m.executeWrite(ctx, func(db *gorm.DB) error {
		ok, err := messageInRoom(db, roomID, messageID)
		if err != nil {
			return fmt.Errorf("failed to verify message: %w", err)
		}
		if !ok {
			return fmt.Errorf("message %d in room %d: %w", messageID, roomID, types.ErrNotFound)
		}

		pointer := types.ReadPointer{
			UserID:        userID,
			RoomID:        roomID,
			LastMessageID: &messageID,
			ReadAt:        time.Now().UTC(),
		}
		err = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "room_id"}},
			DoUpdates: monotonicPointerUpdate(t.m.Dialect()),
		}).Create(&pointer).Error
		if err != nil {
			return fmt.Errorf("failed to upsert read pointer: %w", err)
		}
		return nil
	})
}

// monotonicPointerUpdate builds the conflict assignments that keep the
// larger of the stored and incoming message IDs. read_at is assigned
// first so it still compares against the old pointer.
func monotonicPointerUpdate(dialect string) clause.Set {
	if dialect == "mysql" {
		return clause.Set{
			{Column: clause.Column{Name: "read_at"}, Value: gorm.Expr(
				"IF(VALUES(last_message_id) > COALESCE(last_message_id, 0), VALUES(read_at), read_at)")},
			{Column: clause.Column{Name: "last_message_id"}, Value: gorm.Expr(
				"GREATEST(COALESCE(last_message_id, 0), VALUES(last_message_id))")},
		}
	}
	return clause.Set{
		{Column: clause.Column{Name: "read_at"}, Value: gorm.Expr(
			"CASE WHEN excluded.last_message_id > COALESCE(chat_read_pointers.last_message_id, 0) THEN excluded.read_at ELSE chat_read_pointers.read_at END")},
		{Column: clause.Column{Name: "last_message_id"}, Value: gorm.Expr(
			"MAX(COALESCE(chat_read_pointers.last_message_id, 0), excluded.last_message_id)")},
	}
}

// GetReadPointer returns the user's pointer in a room, or nil when the
// user has never read anything there.
func (t *ReadTracker) GetReadPointer(ctx context.Context, roomID, userID uint64) (*types.ReadPointer, error) {
	var pointer types.ReadPointer
	err := t.m.read(ctx).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		First(&pointer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query read pointer: %w", err)
	}
	return &pointer, nil
}
