// Package call is the client-side call controller: it owns the local media,
// one peer session per remote in the current room, and the event stream the
// UI consumes.
package call

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Huddle/internal/client/media"
	"github.com/dkeye/Huddle/internal/client/peer"
	"github.com/dkeye/Huddle/internal/client/rtc"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrInRoom         = errors.New("leave current room before joining a new one")
	ErrRoomIDRequired = errors.New("room id not provided")
	ErrNotInRoom      = errors.New("you are currently not in a room")
	ErrNotAdmin       = errors.New("only the room admin can kick")
)

type Options struct {
	UserID      string
	Signaler    peer.Signaler
	Media       media.Provider
	Constraints media.Constraints
	Transports  TransportFactory
	OnEvent     func(Event)
}

type Controller struct {
	opts Options

	mu      sync.Mutex
	room    string
	pending string // create-or-join sent, no reply yet
	leaving string // leave-room sent, no left-room yet
	// abandoned is a pending join the user left before the reply; the
	// reply is answered with leave-room.
	abandoned string
	selfID    string
	adminID   string
	local     *media.Handle
	extra     []webrtc.TrackLocal
	sessions  map[string]*remote

	evMu        sync.Mutex
	queue       []Event
	dispatching bool
}

type remote struct {
	session *peer.Session
	tr      Transport
}

func New(opts Options) *Controller {
	return &Controller{
		opts:     opts,
		sessions: make(map[string]*remote),
	}
}

// CreateRoom creates name, or a server-named room when name is empty.
func (c *Controller) CreateRoom(ctx context.Context, name string) error {
	return c.join(ctx, name)
}

func (c *Controller) JoinRoom(ctx context.Context, id string) error {
	if id == "" {
		c.notify(ErrRoomIDRequired.Error(), nil)
		c.flush()
		return ErrRoomIDRequired
	}
	return c.join(ctx, id)
}

func (c *Controller) join(ctx context.Context, id string) error {
	defer c.flush()

	c.mu.Lock()
	busy := c.busyLocked()
	c.mu.Unlock()
	if busy {
		c.notify(ErrInRoom.Error(), nil)
		return ErrInRoom
	}

	// capture happens outside the lock; it may block on devices
	if c.localHandle() == nil {
		h, err := c.opts.Media.Acquire(ctx, c.opts.Constraints)
		if err != nil {
			c.emit(Error{Err: err})
			return err
		}
		c.mu.Lock()
		c.local = h
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busyLocked() {
		c.notify(ErrInRoom.Error(), nil)
		return ErrInRoom
	}
	err := c.opts.Signaler.Send(protocol.Message{
		Type:   protocol.TypeCreateOrJoin,
		RoomID: id,
		UserID: c.opts.UserID,
	})
	if err != nil {
		c.emit(Error{Err: err})
		return err
	}
	// an empty id is a valid pending request; track it with a placeholder
	c.pending = pendingKey(id)
	return nil
}

func pendingKey(id string) string {
	if id == "" {
		return "\x00new"
	}
	return id
}

// replyMatches reports whether a join reply for roomID answers the request
// tracked under key.
func replyMatches(key, roomID string) bool {
	return key != "" && (key == pendingKey("") || key == roomID)
}

func (c *Controller) busyLocked() bool {
	return c.room != "" || c.pending != "" || c.abandoned != ""
}

// LeaveRoom tears down every peer session immediately and tells the server.
// LeftRoom is emitted when the server confirms. Leaving while a join is
// pending cancels it: the room is left as soon as the server admits us.
func (c *Controller) LeaveRoom() error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == "" && c.pending != "" {
		c.abandoned = c.pending
		c.pending = ""
		log.Info().Str("module", "call").Msg("pending join cancelled")
		return nil
	}
	if c.room == "" {
		c.notify(ErrNotInRoom.Error(), nil)
		return ErrNotInRoom
	}
	room := c.room
	c.teardownLocked()
	c.leaving = room
	if err := c.opts.Signaler.Send(protocol.Message{Type: protocol.TypeLeaveRoom, RoomID: room}); err != nil {
		c.leaving = ""
		c.emit(LeftRoom{RoomID: room})
		return err
	}
	return nil
}

// KickUser asks the server to remove target. The local admin check only
// avoids a pointless round trip; the server decides.
func (c *Controller) KickUser(target string) error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == "" {
		c.notify(ErrNotInRoom.Error(), nil)
		return ErrNotInRoom
	}
	if c.adminID == "" || c.adminID != c.selfID {
		c.notify(ErrNotAdmin.Error(), nil)
		return ErrNotAdmin
	}
	return c.opts.Signaler.Send(protocol.Message{
		Type:   protocol.TypeKickUser,
		RoomID: c.room,
		Target: target,
	})
}

// ReplaceOutboundTrack swaps the outbound track of the same kind on every
// active transport, without renegotiation.
func (c *Controller) ReplaceOutboundTrack(track webrtc.TrackLocal) error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for id, r := range c.sessions {
		if err := r.tr.ReplaceTrack(track); err != nil {
			errs = append(errs, fmt.Errorf("replace track for %s: %w", id, err))
		}
	}
	if c.local != nil {
		if rtp, ok := track.(*webrtc.TrackLocalStaticRTP); ok {
			switch track.Kind() {
			case webrtc.RTPCodecTypeAudio:
				c.local.Audio = rtp
			case webrtc.RTPCodecTypeVideo:
				c.local.Video = rtp
			}
		}
	}
	return errors.Join(errs...)
}

// AddOutboundTrack adds track to every active transport and renegotiates each
// one. A session with an offer outstanding offers again once it is answered.
// Sessions opened later get the track too.
func (c *Controller) AddOutboundTrack(track webrtc.TrackLocal) error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.extra = append(c.extra, track)
	var errs []error
	for _, id := range c.remoteIDsLocked() {
		r := c.sessions[id]
		if err := r.tr.AddTrack(track); err != nil {
			errs = append(errs, fmt.Errorf("add track for %s: %w", id, err))
			continue
		}
		if err := r.session.CreateOffer(); err != nil {
			c.notify("renegotiation failed", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close leaves the current room, or cancels a pending join.
func (c *Controller) Close() {
	c.mu.Lock()
	inRoom := c.room != "" || c.pending != ""
	c.mu.Unlock()
	if inRoom {
		_ = c.LeaveRoom()
	}
}

func (c *Controller) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Controller) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// Local returns the acquired capture handle, nil before the first join.
func (c *Controller) Local() *media.Handle {
	return c.localHandle()
}

func (c *Controller) IsAdmin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adminID != "" && c.adminID == c.selfID
}

// Participants lists the remotes with an open peer session.
func (c *Controller) Participants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteIDsLocked()
}

// Session returns the peer session for id, if one is open.
func (c *Controller) Session(id string) (*peer.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.sessions[id]
	if !ok {
		return nil, false
	}
	return r.session, true
}

func (c *Controller) remoteIDsLocked() []string {
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (c *Controller) localHandle() *media.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// openLocked creates the session for id with every local track attached.
func (c *Controller) openLocked(id string) (*remote, error) {
	if r, ok := c.sessions[id]; ok {
		return r, nil
	}

	var ref atomic.Pointer[peer.Session]
	handlers := rtc.Handlers{
		OnICECandidate: func(cand webrtc.ICECandidateInit) {
			if s := ref.Load(); s != nil {
				s.LocalCandidate(cand)
			}
		},
		OnTrack: func(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if s := ref.Load(); s != nil && !s.Closed() {
				c.emit(NewUser{ConnectionID: id, Track: track})
				c.flush()
			}
		},
		OnConnected: func() {
			if s := ref.Load(); s != nil {
				s.MarkConnected()
			}
		},
	}

	tr, err := c.opts.Transports(id, handlers)
	if err != nil {
		return nil, &peer.NegotiationError{Op: "open transport", Remote: id, Err: err}
	}
	var tracks []webrtc.TrackLocal
	if c.local != nil {
		tracks = c.local.Tracks()
	}
	for _, t := range append(tracks, c.extra...) {
		if err := tr.AddTrack(t); err != nil {
			_ = tr.Close()
			return nil, &peer.NegotiationError{Op: "add track", Remote: id, Err: err}
		}
	}

	// the larger connection id yields on glare; both ends compute the same pair
	s := peer.NewSession(id, c.room, tr, c.opts.Signaler,
		peer.WithPolite(c.selfID > id),
		peer.WithReporter(func(err error) {
			log.Debug().Err(err).Str("module", "call").Str("remote", id).Msg("candidate not applied")
		}))
	ref.Store(s)
	r := &remote{session: s, tr: tr}
	c.sessions[id] = r
	log.Info().Str("module", "call").Str("remote", id).Str("room", c.room).Msg("peer session opened")
	return r, nil
}

func (c *Controller) closeLocked(id string) bool {
	r, ok := c.sessions[id]
	if !ok {
		return false
	}
	delete(c.sessions, id)
	r.session.Close()
	return true
}

func (c *Controller) teardownLocked() {
	for _, id := range c.remoteIDsLocked() {
		c.closeLocked(id)
	}
	c.room = ""
	c.adminID = ""
	c.pending = ""
	c.abandoned = ""
}

func (c *Controller) notify(text string, err error) {
	c.emit(Notification{Text: text, Err: err})
}

// emit queues ev. It is safe to call with c.mu held; handlers run from flush
// once no lock is held, and events raised by a handler are queued behind the
// current batch.
func (c *Controller) emit(ev Event) {
	c.evMu.Lock()
	c.queue = append(c.queue, ev)
	c.evMu.Unlock()
}

func (c *Controller) flush() {
	c.evMu.Lock()
	if c.dispatching {
		c.evMu.Unlock()
		return
	}
	c.dispatching = true
	for len(c.queue) > 0 {
		batch := c.queue
		c.queue = nil
		c.evMu.Unlock()
		for _, ev := range batch {
			if c.opts.OnEvent != nil {
				c.opts.OnEvent(ev)
			}
		}
		c.evMu.Lock()
	}
	c.dispatching = false
	c.evMu.Unlock()
}
