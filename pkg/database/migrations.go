package database

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"counselchat/pkg/types"
)

// Migration is one versioned schema step. Up runs inside a transaction.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
}

type schemaMigration struct {
	Version   string    `gorm:"primaryKey;size:20"`
	AppliedAt time.Time `gorm:"not null"`
}

func (schemaMigration) TableName() string { return "schema_migrations" }

// MigrationManager applies pending migrations and records their versions
// in schema_migrations so restarts are no-ops.
type MigrationManager struct {
	db         *gorm.DB
	migrations []Migration
}

// NewMigrationManager creates a manager loaded with the chat schema migrations
func NewMigrationManager(db *gorm.DB) *MigrationManager {
	return &MigrationManager{
		db:         db,
		migrations: ChatMigrations(),
	}
}

// ChatMigrations returns the chat schema history in version order.
func ChatMigrations() []Migration {
	return []Migration{
		{
			Version:     "001",
			Description: "chat_tables",
			Up: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&types.User{},
					&types.ChatRoom{},
					&types.ChatMessage{},
					&types.ReadPointer{},
				)
			},
		},
		{
			Version:     "002",
			Description: "seed_global_room",
			Up: func(tx *gorm.DB) error {
				global := types.ChatRoom{ID: types.GlobalRoomID, Type: types.RoomTypeGlobal}
				return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&global).Error
			},
		},
	}
}

// ApplyMigrations applies every migration not yet recorded
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.db.AutoMigrate(&schemaMigration{}); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.AppliedVersions()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	pending := make([]Migration, 0, len(m.migrations))
	for _, migration := range m.migrations {
		if !done[migration.Version] {
			pending = append(pending, migration)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})

	for _, migration := range pending {
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

// AppliedVersions lists recorded migration versions in order
func (m *MigrationManager) AppliedVersions() ([]string, error) {
	var versions []string
	err := m.db.Model(&schemaMigration{}).Order("version").Pluck("version", &versions).Error
	return versions, err
}

func (m *MigrationManager) applyMigration(migration Migration) error {
	// MySQL commits DDL implicitly, so the transaction only guarantees
	// atomicity of data steps there.
	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := migration.Up(tx); err != nil {
			return err
		}
		return tx.Create(&schemaMigration{
			Version:   migration.Version,
			AppliedAt: time.Now().UTC(),
		}).Error
	})
}

// ValidateSchema ensures the database carries the tables and indexes the
// stores depend on.
func (m *MigrationManager) ValidateSchema() error {
	migrator := m.db.Migrator()

	requiredTables := []interface{}{
		&types.User{},
		&types.ChatRoom{},
		&types.ChatMessage{},
		&types.ReadPointer{},
	}
	for _, table := range requiredTables {
		if !migrator.HasTable(table) {
			return fmt.Errorf("required table for %T does not exist", table)
		}
	}

	requiredIndexes := []struct {
		model interface{}
		name  string
	}{
		{&types.ChatRoom{}, "idx_chat_rooms_pair"},
		{&types.ChatMessage{}, "idx_chat_messages_room_id"},
	}
	for _, idx := range requiredIndexes {
		if !migrator.HasIndex(idx.model, idx.name) {
			return fmt.Errorf("required index %s does not exist", idx.name)
		}
	}

	var global types.ChatRoom
	if err := m.db.First(&global, types.GlobalRoomID).Error; err != nil {
		return fmt.Errorf("global room missing: %w", err)
	}
	if global.Type != types.RoomTypeGlobal {
		return fmt.Errorf("room %d has type %q, want %q", types.GlobalRoomID, global.Type, types.RoomTypeGlobal)
	}
	return nil
}
