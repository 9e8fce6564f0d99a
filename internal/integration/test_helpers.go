package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"counselchat/internal/app"
	"counselchat/internal/auth"
	"counselchat/internal/config"
	"counselchat/pkg/types"
)

// TestSecret signs every token issued by an Environment
const TestSecret = "integration-secret-0123456789"

const eventTimeout = 3 * time.Second

// Environment is a fully wired server on a temporary database
type Environment struct {
	App    *app.Application
	Server *httptest.Server
}

// NewEnvironment starts the application behind an httptest server. modify
// may adjust the configuration before wiring.
func NewEnvironment(t *testing.T, modify func(*config.Config)) *Environment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "integration.db")
	cfg.Auth.JWTSecret = TestSecret
	cfg.RateLimit.Actions = 10000
	if modify != nil {
		modify(cfg)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	server := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		server.Close()
		_ = application.Stop(context.Background())
	})
	return &Environment{App: application, Server: server}
}

// SeedUser provisions a profile and returns it with a valid token
func (e *Environment) SeedUser(t *testing.T, name, role string) (*types.User, string) {
	t.Helper()
	user := &types.User{Name: name, Role: role}
	if err := e.App.Users().CreateUser(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user %s: %v", name, err)
	}
	token, err := auth.SignToken(TestSecret, user.ID, time.Hour)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return user, token
}

// Response is the decoded API envelope
type Response struct {
	Status  int             `json:"-"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// Request sends a JSON request with a bearer token and decodes the
// envelope. It is safe to call from any goroutine.
func (e *Environment) Request(method, path, token string, body interface{}) (*Response, error) {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
	}

	req, err := http.NewRequest(method, e.Server.URL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	out := &Response{Status: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return out, nil
}

// Do is Request for the test goroutine
func (e *Environment) Do(t *testing.T, method, path, token string, body interface{}) *Response {
	t.Helper()
	resp, err := e.Request(method, path, token, body)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// Decode unmarshals the envelope data into v
func (r *Response) Decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(r.Data, v); err != nil {
		t.Fatalf("Failed to decode data %s: %v", r.Data, err)
	}
}

// WebSocketURL is the socket endpoint with a token query parameter
func (e *Environment) WebSocketURL(token string) string {
	return "ws" + strings.TrimPrefix(e.Server.URL, "http") + "/ws?token=" + token
}

// Frame is one server event as received by a client
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Field extracts a numeric or string field of the frame data
func (f Frame) Field(key string) interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal(f.Data, &m); err != nil {
		return nil
	}
	return m[key]
}

// Client is a socket session that buffers every received frame
type Client struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan Frame
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// Dial opens a socket and waits for the connected acknowledgement
func (e *Environment) Dial(t *testing.T, token string) (*Client, Frame) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.WebSocketURL(token), nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}

	c := &Client{t: t, conn: conn, frames: make(chan Frame, 1024), done: make(chan struct{})}
	go c.readLoop()
	t.Cleanup(c.Close)

	ack := c.Expect(types.EventConnected, nil)
	return c, ack
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		select {
		case c.frames <- frame:
		default:
		}
	}
}

// Send writes one client event
func (c *Client) Send(event string, data interface{}) {
	c.t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
		c.t.Fatalf("Failed to send %s: %v", event, err)
	}
}

// Expect returns the next frame named event that satisfies match, skipping
// unrelated frames.
func (c *Client) Expect(event string, match func(Frame) bool) Frame {
	c.t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case frame := <-c.frames:
			if frame.Event == event && (match == nil || match(frame)) {
				return frame
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s", event)
			return Frame{}
		}
	}
}

// ExpectNone fails if a frame named event arrives within d
func (c *Client) ExpectNone(event string, d time.Duration) {
	c.t.Helper()
	deadline := time.After(d)
	for {
		select {
		case frame := <-c.frames:
			if frame.Event == event {
				c.t.Fatalf("unexpected %s: %s", event, frame.Data)
			}
		case <-deadline:
			return
		}
	}
}

// Close shuts the socket and waits for the reader to exit
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
	<-c.done
}

// InRoom matches frames whose roomId equals roomID
func InRoom(roomID uint64) func(Frame) bool {
	return func(f Frame) bool {
		return f.Field("roomId") == float64(roomID)
	}
}

// RoomPath builds an /api/chat/rooms path
func RoomPath(roomID uint64, suffix string) string {
	return fmt.Sprintf("/api/chat/rooms/%d%s", roomID, suffix)
}
