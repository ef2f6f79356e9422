package app

import (
	"crypto/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// JoinResult describes the outcome of CreateOrJoin. Room is a snapshot taken
// after the join.
type JoinResult struct {
	Room    *domain.Room
	Created bool
}

// LeaveResult describes a membership removal. Room is the snapshot after the
// removal; it is empty (and deleted from the store) when Deleted is true.
type LeaveResult struct {
	Room     *domain.Room
	Removed  domain.ConnectionID
	WasAdmin bool
	Deleted  bool
}

// Remaining lists the members left behind, in join order.
func (r LeaveResult) Remaining() []domain.ConnectionID {
	if r.Room == nil {
		return nil
	}
	return r.Room.Others("")
}

// MembershipNotifier receives the outcome of a removal the registry performed
// on its own initiative (transport disconnect).
type MembershipNotifier func(res LeaveResult)

// Registry owns room membership and admin designation. All compound updates
// run under one lock so a connection never holds two memberships.
type Registry struct {
	mu    sync.Mutex
	store core.RoomStore
	newID func() domain.RoomID
}

func NewRegistry(store core.RoomStore) *Registry {
	return &Registry{store: store, newID: newRoomID}
}

func newRoomID() domain.RoomID {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return domain.RoomID(strings.ToLower(id.String()))
}

// CreateOrJoin adds conn to roomID, creating the room with conn as admin when
// it does not exist. An empty roomID always creates a fresh room.
func (r *Registry) CreateOrJoin(conn domain.ConnectionID, user domain.UserID, roomID domain.RoomID) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.store.Membership(conn); ok {
		return JoinResult{}, &domain.AlreadyInRoomError{Conn: conn, Room: cur}
	}

	if roomID == "" {
		roomID = r.newID()
		for {
			if _, taken := r.store.Room(roomID); !taken {
				break
			}
			roomID = r.newID()
		}
	}

	room, ok := r.store.Room(roomID)
	created := !ok
	if created {
		room = &domain.Room{ID: roomID, AdminID: conn}
	}
	room.Add(domain.NewMember(conn, user))
	r.store.SaveRoom(room)
	r.store.SetMembership(conn, roomID)

	log.Info().
		Str("module", "app.registry").
		Str("sid", string(conn)).
		Str("room", string(roomID)).
		Bool("created", created).
		Int("members", len(room.Members)).
		Msg("joined room")
	return JoinResult{Room: room, Created: created}, nil
}

// Leave removes conn from roomID. The admin seat, if conn held it, stays vacant.
func (r *Registry) Leave(conn domain.ConnectionID, roomID domain.RoomID) (LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.store.Membership(conn)
	if !ok || cur != roomID {
		return LeaveResult{}, domain.ErrNotMember
	}
	return r.removeLocked(conn, roomID), nil
}

// RemoveAndBroadcast drops every membership conn holds (at most one) without
// an explicit leave and hands the outcome to notify. It reports whether conn
// was in a room.
func (r *Registry) RemoveAndBroadcast(conn domain.ConnectionID, notify MembershipNotifier) (LeaveResult, bool) {
	r.mu.Lock()
	roomID, ok := r.store.Membership(conn)
	if !ok {
		r.mu.Unlock()
		return LeaveResult{}, false
	}
	res := r.removeLocked(conn, roomID)
	r.mu.Unlock()

	if notify != nil {
		notify(res)
	}
	return res, true
}

// Kick removes target from roomID if actor is that room's current admin and
// target is a member. A refused kick returns false; it is a policy outcome,
// not a protocol fault.
func (r *Registry) Kick(actor domain.ConnectionID, roomID domain.RoomID, target domain.ConnectionID) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.store.Room(roomID)
	if !ok || !room.IsAdmin(actor) || !room.Has(target) {
		log.Info().
			Str("module", "app.registry").
			Str("sid", string(actor)).
			Str("room", string(roomID)).
			Str("target", string(target)).
			Msg("kick refused")
		return LeaveResult{}, false
	}
	return r.removeLocked(target, roomID), true
}

func (r *Registry) removeLocked(conn domain.ConnectionID, roomID domain.RoomID) LeaveResult {
	r.store.DeleteMembership(conn)

	room, ok := r.store.Room(roomID)
	if !ok {
		return LeaveResult{Room: &domain.Room{ID: roomID}, Removed: conn, Deleted: true}
	}
	wasAdmin := room.IsAdmin(conn)
	room.Remove(conn)

	res := LeaveResult{Room: room, Removed: conn, WasAdmin: wasAdmin}
	if room.Empty() {
		r.store.DeleteRoom(roomID)
		res.Deleted = true
	} else {
		r.store.SaveRoom(room)
	}

	log.Info().
		Str("module", "app.registry").
		Str("sid", string(conn)).
		Str("room", string(roomID)).
		Bool("was_admin", wasAdmin).
		Bool("deleted", res.Deleted).
		Msg("left room")
	return res
}

// RoomOf returns the room conn is currently a member of.
func (r *Registry) RoomOf(conn domain.ConnectionID) (*domain.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.store.Membership(conn)
	if !ok {
		return nil, false
	}
	return r.store.Room(id)
}

func (r *Registry) Room(id domain.RoomID) (*domain.Room, bool) {
	return r.store.Room(id)
}

// List returns room summaries ordered by id.
func (r *Registry) List() []core.RoomInfo {
	rooms := r.store.Rooms()
	out := make([]core.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, core.RoomInfoOf(room))
	}
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}
