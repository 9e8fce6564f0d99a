package websocket

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"counselchat/internal/auth"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// Dispatcher receives client frames and disconnect notices
type Dispatcher interface {
	Dispatch(ctx context.Context, conn *Connection, raw []byte)
	Disconnected(conn *Connection, rooms []uint64, offline bool)
}

// RoomLister returns the rooms a user is subscribed to on connect
type RoomLister interface {
	UserRoomIDs(ctx context.Context, userID uint64) ([]uint64, error)
}

// Options tunes the socket lifecycle
type Options struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// DefaultOptions returns the heartbeat used when none is configured
func DefaultOptions() Options {
	return Options{
		AllowedOrigins: []string{"*"},
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Handler authenticates socket requests and runs each connection's read pump
type Handler struct {
	registry   *Registry
	auth       interfaces.Authenticator
	rooms      RoomLister
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	opts       Options
}

// NewHandler creates a socket handler
func NewHandler(registry *Registry, auth interfaces.Authenticator, rooms RoomLister, dispatcher Dispatcher, opts Options) *Handler {
	defaults := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.ReadTimeout <= opts.PingInterval {
		opts.ReadTimeout = 2 * opts.PingInterval
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}

	h := &Handler{
		registry:   registry,
		auth:       auth,
		rooms:      rooms,
		dispatcher: dispatcher,
		opts:       opts,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      originChecker(opts.AllowedOrigins),
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// tokenFromRequest reads the token query parameter, then the bearer header
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return auth.BearerToken(r.Header.Get("Authorization"))
}

// HandleWebSocket authenticates before upgrading, so rejected clients get
// a plain 401 and never hold a socket.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		http.Error(w, "authentication token required", http.StatusUnauthorized)
		return
	}
	identity, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		status := http.StatusUnauthorized
		if types.ErrorKind(err) == types.KindInternal {
			log.Printf("Socket authentication failed: %v", err)
			status = http.StatusInternalServerError
		}
		http.Error(w, types.PublicMessage(err), status)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(ws)
	if err := conn.SetIdentity(*identity); err != nil {
		log.Printf("Failed to set identity: %v", err)
		_ = conn.Close()
		return
	}

	first, err := h.registry.Register(conn)
	if err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = conn.Close()
		return
	}
	if first {
		log.Printf("User %d online", identity.UserID)
	}

	rooms := h.joinUserRooms(conn)
	if err := conn.Emit(types.EventConnected, map[string]interface{}{
		"userId": identity.UserID,
		"rooms":  rooms,
	}); err != nil {
		log.Printf("Failed to send connected ack to user %d: %v", identity.UserID, err)
	}

	go h.handleConnection(conn)
}

// joinUserRooms subscribes conn to every room its user belongs to. A
// lookup failure leaves the socket connected with no rooms.
func (h *Handler) joinUserRooms(conn *Connection) []uint64 {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userID := conn.GetUserID()
	roomIDs, err := h.rooms.UserRoomIDs(ctx, userID)
	if err != nil {
		log.Printf("Failed to load rooms for user %d: %v", userID, err)
		return []uint64{}
	}

	joined := make([]uint64, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		if _, err := h.registry.JoinRoom(conn, roomID); err != nil {
			log.Printf("Failed to auto-join room %d for user %d: %v", roomID, userID, err)
			continue
		}
		joined = append(joined, roomID)
	}
	return joined
}

// handleConnection runs the read pump until the peer goes away
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		rooms, offline := h.registry.Unregister(conn)
		_ = conn.Close()
		if offline {
			log.Printf("User %d offline", conn.GetUserID())
		}
		h.dispatcher.Disconnected(conn, rooms, offline)
	}()

	ws := conn.conn
	ws.SetReadLimit(h.opts.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(h.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(10 * time.Second); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error for user %d: %v", conn.GetUserID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatcher.Dispatch(context.Background(), conn, data)
	}
}
