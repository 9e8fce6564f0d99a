package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"counselchat/pkg/types"
)

const (
	writeBufferSize = 100
	writeWait       = 5 * time.Second
)

// Connection wraps one socket. All writes go through a single goroutine.
type Connection struct {
	conn          *websocket.Conn
	id            string
	writeCh       chan []byte
	identity      types.Identity
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex
}

// NewConnection creates a connection wrapper and starts its writer
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		id:      uuid.NewString(),
		writeCh: make(chan []byte, writeBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	// A failed write means the peer is gone; cancel so writers stop queueing.
	defer c.cancel()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for delivery
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeWait):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Emit sends a named server event
func (c *Connection) Emit(event string, data interface{}) error {
	return c.WriteJSON(types.Event{Event: event, Data: data})
}

// Ping sends a control ping outside the write queue; gorilla allows
// WriteControl concurrently with other writes.
func (c *Connection) Ping(timeout time.Duration) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// Done is closed once the connection is closed or its writer failed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// SetIdentity marks the connection authenticated as identity
func (c *Connection) SetIdentity(identity types.Identity) error {
	if identity.UserID == 0 {
		return ErrInvalidIdentity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.identity = identity
	c.authenticated = true
	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetConnectionID() string {
	return c.id
}

func (c *Connection) GetUserID() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity.UserID
}

func (c *Connection) GetIdentity() types.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}
