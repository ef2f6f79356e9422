package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrNotMember     = errors.New("not a member of the room")
	ErrRoomNotFound  = errors.New("room not found")
)

// AlreadyInRoomError is returned by create-or-join when the connection
// already holds a membership. The caller must leave first.
type AlreadyInRoomError struct {
	Conn ConnectionID
	Room RoomID
}

func (e *AlreadyInRoomError) Error() string {
	return fmt.Sprintf("connection %s already in room %s", e.Conn, e.Room)
}

func (e *AlreadyInRoomError) Is(target error) bool { return target == ErrAlreadyInRoom }
