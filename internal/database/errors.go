package database

import (
	"errors"

	"gorm.io/gorm"

	"counselchat/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// isClientError reports errors caused by the request rather than the store
func isClientError(err error) bool {
	return types.ErrorKind(err) != types.KindInternal || errors.Is(err, gorm.ErrDuplicatedKey)
}
