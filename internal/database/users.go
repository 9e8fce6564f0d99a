package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"counselchat/pkg/types"
)

// UserDirectory reads the profile rows the chat core needs. Profiles
// are owned by the platform's user service; CreateUser exists for
// seeding local databases and tests.
type UserDirectory struct {
	m *Manager
}

// NewUserDirectory creates a user directory over the manager
func NewUserDirectory(m *Manager) *UserDirectory {
	return &UserDirectory{m: m}
}

// GetUser returns a profile or types.ErrNotFound
func (d *UserDirectory) GetUser(ctx context.Context, userID uint64) (*types.User, error) {
	var user types.User
	err := d.m.read(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %d: %w", userID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// CreateUser inserts a profile row
func (d *UserDirectory) CreateUser(ctx context.Context, user *types.User) error {
	return d.m.executeWrite(ctx, func(db *gorm.DB) error {
		if err := db.Create(user).Error; err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}
