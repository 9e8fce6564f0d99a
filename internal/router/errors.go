package router

import (
	"fmt"

	"counselchat/pkg/types"
)

var (
	ErrUnknownEvent = fmt.Errorf("%w: unknown event", types.ErrValidation)
	ErrNotInRoom    = fmt.Errorf("%w: join the room first", types.ErrAuthorization)
)
