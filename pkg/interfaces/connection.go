package interfaces

import (
	"context"

	"counselchat/pkg/types"
)

// Connection represents one authenticated realtime socket
type Connection interface {
	// WriteJSON sends a JSON frame to the client. Safe for concurrent use.
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its writer goroutine
	Close() error

	// GetConnectionID returns the unique ID of this socket
	GetConnectionID() string

	// GetUserID returns the connected user's ID
	GetUserID() uint64

	// GetIdentity returns the verified identity attached at handshake
	GetIdentity() types.Identity

	// IsAuthenticated returns true once an identity is attached
	IsAuthenticated() bool

	// SetIdentity attaches the verified identity. Called once per socket.
	SetIdentity(identity types.Identity) error
}

// Broadcaster fans events out to live sockets. Every call returns the
// number of sockets the event was queued to; zero is not an error.
type Broadcaster interface {
	EmitToRoom(roomID uint64, event string, payload interface{}) int
	EmitToRoomExcept(roomID uint64, exceptConnID string, event string, payload interface{}) int
	EmitToUser(userID uint64, event string, payload interface{}) int

	// SubscribeUser joins every live socket of userID to roomID and tells
	// the newly joined sockets with a joined_room event.
	SubscribeUser(userID, roomID uint64) int
}

// Authenticator resolves a bearer token into a verified identity
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*types.Identity, error)
}
