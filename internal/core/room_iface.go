package core

import "github.com/dkeye/Huddle/internal/domain"

// RoomStore is the storage backend behind the room registry. Implementations
// only need to be safe for concurrent use; the registry serializes compound
// updates itself.
type RoomStore interface {
	Room(id domain.RoomID) (*domain.Room, bool)
	SaveRoom(room *domain.Room)
	DeleteRoom(id domain.RoomID)
	Rooms() []*domain.Room

	Membership(conn domain.ConnectionID) (domain.RoomID, bool)
	SetMembership(conn domain.ConnectionID, room domain.RoomID)
	DeleteMembership(conn domain.ConnectionID)
}
