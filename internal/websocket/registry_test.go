package websocket

import (
	"fmt"
	"sync"
	"testing"

	"counselchat/pkg/types"
)

func newTestConnection(t *testing.T, userID uint64) *Connection {
	t.Helper()
	conn := NewConnection(createTestWebSocketConnection(t))
	t.Cleanup(func() { _ = conn.Close() })
	if userID != 0 {
		if err := conn.SetIdentity(types.Identity{UserID: userID}); err != nil {
			t.Fatalf("SetIdentity failed: %v", err)
		}
	}
	return conn
}

func TestRegistry_RegisterValidation(t *testing.T) {
	registry := NewRegistry()

	if _, err := registry.Register(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
	if _, err := registry.Register(newTestConnection(t, 0)); err != ErrConnectionNotAuthenticated {
		t.Errorf("Expected ErrConnectionNotAuthenticated, got %v", err)
	}
}

func TestRegistry_MultipleConnectionsPerUser(t *testing.T) {
	registry := NewRegistry()
	tab1 := newTestConnection(t, 1)
	tab2 := newTestConnection(t, 1)

	first, err := registry.Register(tab1)
	if err != nil || !first {
		t.Fatalf("first Register = %v, %v; want true, nil", first, err)
	}
	first, err = registry.Register(tab2)
	if err != nil || first {
		t.Fatalf("second Register = %v, %v; want false, nil", first, err)
	}
	if n := len(registry.UserConnections(1)); n != 2 {
		t.Fatalf("Expected 2 connections for user, got %d", n)
	}

	if _, offline := registry.Unregister(tab1); offline {
		t.Error("user should stay online while another tab is open")
	}
	if !registry.IsOnline(1) {
		t.Error("IsOnline should be true")
	}
	if _, offline := registry.Unregister(tab2); !offline {
		t.Error("user should be offline after the last tab closes")
	}
	if registry.IsOnline(1) {
		t.Error("IsOnline should be false")
	}
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	registry := NewRegistry()
	conn := newTestConnection(t, 1)
	_, _ = registry.Register(conn)

	_, offline := registry.Unregister(conn)
	if !offline {
		t.Error("first Unregister should report offline")
	}
	rooms, offline := registry.Unregister(conn)
	if offline || rooms != nil {
		t.Errorf("second Unregister should be a no-op, got %v %v", rooms, offline)
	}
	if _, offline := registry.Unregister(newTestConnection(t, 2)); offline {
		t.Error("unknown connection should be a no-op")
	}
}

func TestRegistry_RoomMembership(t *testing.T) {
	registry := NewRegistry()
	a := newTestConnection(t, 1)
	b := newTestConnection(t, 2)

	if _, err := registry.JoinRoom(a, 10); err != ErrConnectionNotRegistered {
		t.Errorf("Expected ErrConnectionNotRegistered, got %v", err)
	}

	_, _ = registry.Register(a)
	_, _ = registry.Register(b)

	tests := []struct {
		conn    *Connection
		room    uint64
		wantNew bool
	}{
		{a, 10, true},
		{a, 10, false},
		{b, 10, true},
		{a, 20, true},
	}
	for _, tt := range tests {
		joined, err := registry.JoinRoom(tt.conn, tt.room)
		if err != nil {
			t.Fatalf("JoinRoom failed: %v", err)
		}
		if joined != tt.wantNew {
			t.Errorf("JoinRoom(%s, %d) = %v, want %v", tt.conn.GetConnectionID(), tt.room, joined, tt.wantNew)
		}
	}

	if n := len(registry.RoomConnections(10)); n != 2 {
		t.Errorf("Expected 2 connections in room 10, got %d", n)
	}
	if !registry.InRoom(a, 20) || registry.InRoom(b, 20) {
		t.Error("InRoom disagrees with joins")
	}

	if !registry.LeaveRoom(b, 10) {
		t.Error("LeaveRoom should report membership")
	}
	if registry.LeaveRoom(b, 10) {
		t.Error("second LeaveRoom should report false")
	}

	rooms, _ := registry.Unregister(a)
	if len(rooms) != 2 || rooms[0] != 10 || rooms[1] != 20 {
		t.Errorf("Unregister should return joined rooms in order, got %v", rooms)
	}
	if registry.RoomConnections(10) != nil || registry.RoomConnections(20) != nil {
		t.Error("empty rooms should be pruned")
	}

	stats := registry.GetStats()
	if stats["total_connections"] != 1 || stats["online_users"] != 1 || stats["active_rooms"] != 0 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestRegistry_JoinUserSubscribesEverySocket(t *testing.T) {
	registry := NewRegistry()
	phone := newTestConnection(t, 1)
	laptop := newTestConnection(t, 1)
	other := newTestConnection(t, 2)
	for _, conn := range []*Connection{phone, laptop, other} {
		if _, err := registry.Register(conn); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	_, _ = registry.JoinRoom(phone, 7)

	joined := registry.JoinUser(1, 7)
	if len(joined) != 1 || joined[0] != laptop {
		t.Fatalf("only the socket not yet in the room should be returned, got %d", len(joined))
	}
	if !registry.InRoom(phone, 7) || !registry.InRoom(laptop, 7) || registry.InRoom(other, 7) {
		t.Error("JoinUser must cover exactly the user's sockets")
	}
	if again := registry.JoinUser(1, 7); len(again) != 0 {
		t.Errorf("second JoinUser should be a no-op, got %d", len(again))
	}
	if offline := registry.JoinUser(42, 7); offline != nil {
		t.Errorf("offline user should join nothing, got %d", len(offline))
	}

	rooms, _ := registry.Unregister(laptop)
	if len(rooms) != 1 || rooms[0] != 7 {
		t.Errorf("JoinUser memberships must be tracked for cleanup, got %v", rooms)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	registry := NewRegistry()
	a := newTestConnection(t, 1)
	b := newTestConnection(t, 2)
	_, _ = registry.Register(a)
	_, _ = registry.Register(b)

	if n := registry.CloseAll(); n != 2 {
		t.Errorf("Expected 2 connections closed, got %d", n)
	}
	for _, conn := range []*Connection{a, b} {
		select {
		case <-conn.Done():
		default:
			t.Errorf("connection %s still open", conn.GetConnectionID())
		}
	}
	if n := NewRegistry().CloseAll(); n != 0 {
		t.Errorf("empty registry should close nothing, got %d", n)
	}
}

func TestRegistry_ConcurrentRegisterAndUnregister(t *testing.T) {
	registry := NewRegistry()

	const users = 20
	conns := make([]*Connection, users)
	for i := range conns {
		conns[i] = newTestConnection(t, uint64(i+1))
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if _, err := registry.Register(c); err != nil {
				t.Errorf("Register failed: %v", err)
				return
			}
			_, _ = registry.JoinRoom(c, types.GlobalRoomID)
			_ = registry.RoomConnections(types.GlobalRoomID)
		}(conn)
	}
	wg.Wait()

	if n := len(registry.RoomConnections(types.GlobalRoomID)); n != users {
		t.Fatalf("Expected %d members of the global room, got %d", users, n)
	}

	for i, conn := range conns {
		if i%2 == 0 {
			wg.Add(1)
			go func(c *Connection) {
				defer wg.Done()
				registry.Unregister(c)
			}(conn)
		}
	}
	wg.Wait()

	if n := len(registry.RoomConnections(types.GlobalRoomID)); n != users/2 {
		t.Errorf("Expected %d members after unregistering half, got %d", users/2, n)
	}
	for i := range conns {
		want := i%2 != 0
		if got := registry.IsOnline(uint64(i + 1)); got != want {
			t.Errorf("%s online = %v, want %v", fmt.Sprint(i+1), got, want)
		}
	}
}
