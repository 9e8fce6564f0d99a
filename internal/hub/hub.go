package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"counselchat/internal/websocket"
	"counselchat/pkg/types"
)

// DefaultSweepInterval is how often registered sweepers run
const DefaultSweepInterval = time.Minute

// Hub fans events out to the sockets in the registry and runs periodic
// maintenance. Delivery is best effort: each emit returns how many sockets
// accepted the event, and an offline target simply yields 0.
type Hub struct {
	registry *websocket.Registry
	interval time.Duration

	sweepers []func()
	shutdown chan struct{}
	done     chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewHub creates a hub over registry
func NewHub(registry *websocket.Registry, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Hub{
		registry: registry,
		interval: interval,
	}
}

// AddSweeper registers fn to run on every maintenance tick
func (h *Hub) AddSweeper(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sweepers = append(h.sweepers, fn)
}

// Start begins the maintenance loop
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	log.Println("Starting broadcast hub...")
	go h.run(ctx, h.shutdown, h.done)
	return nil
}

// Stop ends the maintenance loop and waits for it to exit
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	log.Println("Stopping broadcast hub...")
	<-done
	return nil
}

// IsRunning reports whether the maintenance loop is active
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer log.Println("Hub maintenance stopped")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) sweep() {
	h.mu.RLock()
	sweepers := append([]func(){}, h.sweepers...)
	h.mu.RUnlock()

	for _, fn := range sweepers {
		fn()
	}
}

// EmitToRoom delivers an event to every socket joined to roomID
func (h *Hub) EmitToRoom(roomID uint64, event string, payload interface{}) int {
	return h.EmitToRoomExcept(roomID, "", event, payload)
}

// EmitToRoomExcept delivers to the room's sockets other than exceptConnID
func (h *Hub) EmitToRoomExcept(roomID uint64, exceptConnID string, event string, payload interface{}) int {
	delivered := 0
	for _, conn := range h.registry.RoomConnections(roomID) {
		if conn.GetConnectionID() == exceptConnID {
			continue
		}
		if h.EmitToConnection(conn, event, payload) {
			delivered++
		}
	}
	return delivered
}

// EmitToUser delivers to every live socket of userID. Nothing is queued
// for offline users.
func (h *Hub) EmitToUser(userID uint64, event string, payload interface{}) int {
	delivered := 0
	for _, conn := range h.registry.UserConnections(userID) {
		if h.EmitToConnection(conn, event, payload) {
			delivered++
		}
	}
	return delivered
}

// SubscribeUser joins a user's live sockets to a room created after they
// connected and acknowledges each new subscription
func (h *Hub) SubscribeUser(userID, roomID uint64) int {
	joined := h.registry.JoinUser(userID, roomID)
	for _, conn := range joined {
		h.EmitToConnection(conn, types.EventJoinedRoom, map[string]interface{}{"roomId": roomID})
	}
	return len(joined)
}

// EmitToConnection delivers to a single socket and reports success
func (h *Hub) EmitToConnection(conn *websocket.Connection, event string, payload interface{}) bool {
	if err := conn.WriteJSON(types.Event{Event: event, Data: payload}); err != nil {
		log.Printf("Failed to deliver %s to connection %s: %v", event, conn.GetConnectionID(), err)
		return false
	}
	return true
}
