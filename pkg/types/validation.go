package types

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxMessageLength = 5000
	DefaultPageSize         = 50
	MaxPageSize             = 100
)

// IsValidMessageType checks the message type against the accepted set.
func IsValidMessageType(messageType string) bool {
	switch messageType {
	case MessageTypeText, MessageTypeImage:
		return true
	default:
		return false
	}
}

// ValidateMessage checks a message body before it is persisted and
// returns the effective message type. An empty type defaults to text.
func ValidateMessage(body, messageType string, maxLength int) (string, error) {
	if messageType == "" {
		messageType = MessageTypeText
	}
	if !IsValidMessageType(messageType) {
		return "", ErrInvalidMessageType
	}
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyMessage
	}
	if maxLength > 0 && utf8.RuneCountInString(body) > maxLength {
		return "", fmt.Errorf("%w (max %d characters)", ErrMessageTooLong, maxLength)
	}
	return messageType, nil
}

// NormalizePage clamps pagination parameters. Non-positive limits fall
// back to the default, negative offsets to zero.
func NormalizePage(limit, offset, defaultSize, maxSize int) (int, int) {
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if maxSize <= 0 {
		maxSize = MaxPageSize
	}
	if limit <= 0 {
		limit = defaultSize
	}
	if limit > maxSize {
		limit = maxSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
