// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen = 36
	MaxRoomIDLen = 64
)

var (
	ErrUserIDTooLong = errors.New("user id too long")
	ErrRoomIDTooLong = errors.New("room id too long")
	ErrRoomIDInvalid = errors.New("room id contains whitespace")
)

// UserID is the caller-supplied label sent with create-or-join.
// It is informational only; ConnectionID is the identity.
type UserID string

func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

// ParseRoomID validates a caller-chosen room id. Empty is allowed and means
// "let the server pick one".
func ParseRoomID(raw string) (RoomID, error) {
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return "", ErrRoomIDInvalid
	}
	return RoomID(raw), nil
}
