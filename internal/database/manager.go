package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	dbconfig "counselchat/pkg/database"
)

// Manager owns the gorm handle shared by the chat stores. Reads run
// concurrently; every write is funneled through one goroutine so SQLite
// never sees writer contention and find-or-create sequences stay atomic.
type Manager struct {
	db           *gorm.DB
	sqlDB        *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	writeTimeout time.Duration
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*gorm.DB) error
	result    chan error
}

// NewManager opens the configured database and starts the writer goroutine
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	gormConfig := &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Warn),
	}
	if !config.LogQueries {
		gormConfig.Logger = logger.Default.LogMode(logger.Silent)
	}

	var (
		db  *gorm.DB
		err error
	)
	switch config.Driver {
	case dbconfig.DriverSQLite:
		db, err = openSQLite(config, gormConfig)
	case dbconfig.DriverMySQL:
		db, err = gorm.Open(mysql.Open(config.DSN), gormConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxConnections)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = dbconfig.DefaultWriteTimeout
	}

	manager := &Manager{
		db:           db,
		sqlDB:        sqlDB,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		writeTimeout: writeTimeout,
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func openSQLite(config *dbconfig.Config, gormConfig *gorm.Config) (*gorm.DB, error) {
	if dir := filepath.Dir(config.DatabasePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", config.SQLiteDSN())
	if err != nil {
		return nil, err
	}
	if err := dbconfig.ApplySQLitePragmas(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{Conn: sqlDB}), gormConfig)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies pending schema migrations and validates the result
func (m *Manager) Migrate() error {
	mm := dbconfig.NewMigrationManager(m.db)
	if err := mm.ApplyMigrations(); err != nil {
		return err
	}
	return mm.ValidateSchema()
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && !isClientError(err) {
				log.Printf("Database write failed: %v", err)
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- ErrManagerClosed
				default:
					return
				}
			}
		}
	}
}

// executeWrite queues a write and waits for its result. Writes are not
// retried; the caller decides.
func (m *Manager) executeWrite(ctx context.Context, operation func(*gorm.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	op := writeOperation{
		operation: func(db *gorm.DB) error { return operation(db.WithContext(context.WithoutCancel(ctx))) },
		result:    result,
	}

	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- op:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	// Once queued the write runs to completion even if the caller goes away.
	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerClosed
		}
	}
}

// read returns a context-bound handle for concurrent reads
func (m *Manager) read(ctx context.Context) *gorm.DB {
	return m.db.WithContext(ctx)
}

// Dialect returns the active gorm dialect name ("sqlite" or "mysql")
func (m *Manager) Dialect() string {
	return m.db.Dialector.Name()
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int64
	if err := m.read(ctx).Table("chat_rooms").Count(&count).Error; err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying gorm handle for migrations and tests
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Close shuts down the writer goroutine and the connection pool
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
