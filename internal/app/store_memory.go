package app

import (
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// MemoryStore is the single-process RoomStore. Rooms are stored as private
// copies so callers never alias registry state.
type MemoryStore struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomID]*domain.Room
	members map[domain.ConnectionID]domain.RoomID
}

var _ core.RoomStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:   make(map[domain.RoomID]*domain.Room),
		members: make(map[domain.ConnectionID]domain.RoomID),
	}
}

func (s *MemoryStore) Room(id domain.RoomID) (*domain.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (s *MemoryStore) SaveRoom(room *domain.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room.Clone()
}

func (s *MemoryStore) DeleteRoom(id domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
}

func (s *MemoryStore) Rooms() []*domain.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r.Clone())
	}
	return out
}

func (s *MemoryStore) Membership(conn domain.ConnectionID) (domain.RoomID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.members[conn]
	return id, ok
}

func (s *MemoryStore) SetMembership(conn domain.ConnectionID, room domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[conn] = room
}

func (s *MemoryStore) DeleteMembership(conn domain.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, conn)
}
