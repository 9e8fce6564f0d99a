package websocket

import (
	"sort"
	"sync"
)

// Registry tracks live connections by user and by room. A user may hold
// several connections at once (tabs, devices); the user is offline only
// when the last one is unregistered.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // connID -> Connection
	users       map[uint64]map[string]*Connection // userID -> connID -> Connection
	rooms       map[uint64]map[string]*Connection // roomID -> connID -> Connection
	memberships map[string]map[uint64]struct{}    // connID -> joined rooms
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		users:       make(map[uint64]map[string]*Connection),
		rooms:       make(map[uint64]map[string]*Connection),
		memberships: make(map[string]map[uint64]struct{}),
	}
}

// Register adds an authenticated connection. It reports whether this is
// the user's first live connection.
func (r *Registry) Register(conn *Connection) (bool, error) {
	if conn == nil {
		return false, ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return false, ErrConnectionNotAuthenticated
	}

	userID := conn.GetUserID()
	connID := conn.GetConnectionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[connID] = conn
	set, exists := r.users[userID]
	if !exists {
		set = make(map[string]*Connection)
		r.users[userID] = set
	}
	set[connID] = conn
	if r.memberships[connID] == nil {
		r.memberships[connID] = make(map[uint64]struct{})
	}
	return !exists, nil
}

// Unregister removes conn from every map and returns the rooms it had
// joined and whether its user is now offline. Unknown connections are a
// no-op.
func (r *Registry) Unregister(conn *Connection) (rooms []uint64, offline bool) {
	if conn == nil {
		return nil, false
	}
	connID := conn.GetConnectionID()
	userID := conn.GetUserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Only the registered instance may remove itself.
	if registered, ok := r.connections[connID]; !ok || registered != conn {
		return nil, false
	}
	delete(r.connections, connID)

	for roomID := range r.memberships[connID] {
		rooms = append(rooms, roomID)
		r.removeFromRoom(roomID, connID)
	}
	delete(r.memberships, connID)
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })

	if set, ok := r.users[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, userID)
			offline = true
		}
	}
	return rooms, offline
}

// JoinRoom subscribes a registered connection to roomID. It reports
// whether the subscription is new.
func (r *Registry) JoinRoom(conn *Connection, roomID uint64) (bool, error) {
	if conn == nil {
		return false, ErrNilConnection
	}
	connID := conn.GetConnectionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.memberships[connID]
	if !ok {
		return false, ErrConnectionNotRegistered
	}
	if _, already := joined[roomID]; already {
		return false, nil
	}
	joined[roomID] = struct{}{}

	members := r.rooms[roomID]
	if members == nil {
		members = make(map[string]*Connection)
		r.rooms[roomID] = members
	}
	members[connID] = conn
	return true, nil
}

// JoinUser subscribes every live connection of userID to roomID and
// returns the connections that were not already joined.
func (r *Registry) JoinUser(userID, roomID uint64) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var joined []*Connection
	for connID, conn := range r.users[userID] {
		rooms := r.memberships[connID]
		if _, already := rooms[roomID]; already {
			continue
		}
		rooms[roomID] = struct{}{}

		members := r.rooms[roomID]
		if members == nil {
			members = make(map[string]*Connection)
			r.rooms[roomID] = members
		}
		members[connID] = conn
		joined = append(joined, conn)
	}
	return joined
}

// LeaveRoom unsubscribes conn from roomID and reports whether it was joined
func (r *Registry) LeaveRoom(conn *Connection, roomID uint64) bool {
	if conn == nil {
		return false
	}
	connID := conn.GetConnectionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.memberships[connID]
	if !ok {
		return false
	}
	if _, member := joined[roomID]; !member {
		return false
	}
	delete(joined, roomID)
	r.removeFromRoom(roomID, connID)
	return true
}

// removeFromRoom drops empty room sets; callers hold r.mu
func (r *Registry) removeFromRoom(roomID uint64, connID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// InRoom reports whether conn is subscribed to roomID
func (r *Registry) InRoom(conn *Connection, roomID uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.memberships[conn.GetConnectionID()][roomID]
	return ok
}

// RoomConnections returns a snapshot of the connections subscribed to roomID
func (r *Registry) RoomConnections(roomID uint64) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return snapshot(r.rooms[roomID])
}

// UserConnections returns a snapshot of a user's live connections
func (r *Registry) UserConnections(userID uint64) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return snapshot(r.users[userID])
}

func snapshot(set map[string]*Connection) []*Connection {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for _, conn := range set {
		out = append(out, conn)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection
func (r *Registry) IsOnline(userID uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userID]) > 0
}

// CloseAll closes every registered connection and returns how many were
// closed. Read pumps then exit and unregister themselves.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := snapshot(r.connections)
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"online_users":      len(r.users),
		"active_rooms":      len(r.rooms),
	}
}
