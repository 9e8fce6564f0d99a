package types

import (
	"errors"
	"fmt"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("no access to this chat room")
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrValidation     = errors.New("validation failed")
)

// Validation errors wrap ErrValidation so callers can match either.
var (
	ErrInvalidMessageType  = fmt.Errorf("%w: message type must be text or image", ErrValidation)
	ErrEmptyMessage        = fmt.Errorf("%w: message cannot be empty", ErrValidation)
	ErrMessageTooLong      = fmt.Errorf("%w: message too long", ErrValidation)
	ErrInvalidParticipants = fmt.Errorf("%w: direct chat needs one counselor and one client", ErrValidation)
	ErrInvalidRoomID       = fmt.Errorf("%w: invalid room ID", ErrValidation)
	ErrInvalidMessageID    = fmt.Errorf("%w: invalid message ID", ErrValidation)
	ErrInvalidPayload      = fmt.Errorf("%w: invalid payload", ErrValidation)
)

// Stable error kinds exposed to HTTP and socket clients
const (
	KindAuthentication = "authentication_error"
	KindAuthorization  = "authorization_error"
	KindNotFound       = "not_found"
	KindRateLimited    = "rate_limit_exceeded"
	KindValidation     = "validation_error"
	KindInternal       = "internal_error"
)

// ErrorKind maps an error chain to its stable kind.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}

// PublicMessage returns the message safe to show a client. Internal
// errors are collapsed so storage details never leak.
func PublicMessage(err error) string {
	if ErrorKind(err) == KindInternal {
		return "internal server error"
	}
	return err.Error()
}
