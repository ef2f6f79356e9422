package call

import (
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/client/peer"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Handle applies one message from the signaling server. Messages about a
// room or remote that is no longer current are dropped.
func (c *Controller) Handle(msg protocol.Message) {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case protocol.TypeCreated, protocol.TypeJoined:
		c.onJoined(msg)
	case protocol.TypeUserConnected:
		c.onUserConnected(msg)
	case protocol.TypeOffer:
		c.onOffer(msg)
	case protocol.TypeAnswer:
		c.onAnswer(msg)
	case protocol.TypeCandidate:
		c.onCandidate(msg)
	case protocol.TypeUserDisconnected:
		if c.current(msg.RoomID) && c.closeLocked(msg.ConnectionID) {
			c.emit(UserLeave{ConnectionID: msg.ConnectionID})
			c.emit(RemoveUser{ConnectionID: msg.ConnectionID})
		}
	case protocol.TypeRemoveUser:
		if c.current(msg.RoomID) {
			c.closeLocked(msg.ConnectionID)
			c.emit(RemoveUser{ConnectionID: msg.ConnectionID})
		}
	case protocol.TypeKicked:
		c.onKicked(msg)
	case protocol.TypeLeftRoom:
		if msg.RoomID == c.leaving {
			c.leaving = ""
			c.emit(LeftRoom{RoomID: msg.RoomID})
		}
	case protocol.TypeError:
		c.onError(msg)
	case protocol.TypePong, protocol.TypeWhoAmI:
		log.Debug().Str("module", "call").Str("type", string(msg.Type)).Msg("server reply")
	default:
		log.Warn().Str("module", "call").Str("type", string(msg.Type)).Msg("unknown message")
	}
}

// current reports whether roomID refers to the room we are in. An empty
// roomID is accepted when we are in a room.
func (c *Controller) current(roomID string) bool {
	return c.room != "" && (roomID == "" || roomID == c.room)
}

func (c *Controller) onJoined(msg protocol.Message) {
	if replyMatches(c.abandoned, msg.RoomID) {
		c.abandoned = ""
		c.leaving = msg.RoomID
		if err := c.opts.Signaler.Send(protocol.Message{Type: protocol.TypeLeaveRoom, RoomID: msg.RoomID}); err != nil {
			c.leaving = ""
			c.emit(LeftRoom{RoomID: msg.RoomID})
		}
		return
	}
	if !replyMatches(c.pending, msg.RoomID) {
		log.Warn().Str("module", "call").Str("room", msg.RoomID).Msg("join reply without request")
		return
	}
	c.pending = ""
	c.room = msg.RoomID
	c.selfID = msg.SelfID
	c.adminID = msg.AdminID

	if msg.Type == protocol.TypeCreated {
		c.adminID = msg.SelfID
		c.emit(CreatedRoom{RoomID: msg.RoomID, SelfID: msg.SelfID})
		return
	}
	members := make([]string, 0, len(msg.Members))
	for _, m := range msg.Members {
		members = append(members, m.ID)
	}
	c.emit(JoinedRoom{RoomID: msg.RoomID, SelfID: msg.SelfID, AdminID: msg.AdminID, Members: members})
}

// onUserConnected is the offering side of the mesh: members already in the
// room offer to the newcomer.
func (c *Controller) onUserConnected(msg protocol.Message) {
	if !c.current(msg.RoomID) || msg.ConnectionID == "" || msg.ConnectionID == c.selfID {
		return
	}
	c.emit(PeerJoined{ConnectionID: msg.ConnectionID, UserID: msg.UserID})

	r, err := c.openLocked(msg.ConnectionID)
	if err != nil {
		c.notify("could not open peer session", err)
		return
	}
	if err := r.session.CreateOffer(); err != nil {
		c.notify("offer failed", err)
	}
}

func (c *Controller) onOffer(msg protocol.Message) {
	if !c.current(msg.RoomID) || msg.From == "" {
		return
	}
	r, err := c.openLocked(msg.From)
	if err != nil {
		c.notify("could not open peer session", err)
		return
	}
	err = r.session.OnRemoteOffer(msg.Description)
	switch {
	case err == nil:
	case errors.Is(err, peer.ErrGlare):
		c.notify(fmt.Sprintf("offer from %s ignored, local offer outstanding", msg.From), err)
	default:
		c.notify("answer failed", err)
	}
}

func (c *Controller) onAnswer(msg protocol.Message) {
	if !c.current(msg.RoomID) {
		return
	}
	r, ok := c.sessions[msg.From]
	if !ok {
		log.Debug().Str("module", "call").Str("remote", msg.From).Msg("answer for unknown session dropped")
		return
	}
	err := r.session.OnRemoteAnswer(msg.Description)
	if err != nil && !errors.Is(err, peer.ErrUnexpectedAnswer) {
		c.notify("answer rejected", err)
	}
}

// onCandidate opens the session when a candidate overtakes the offer; the
// session buffers it until the remote description is set.
func (c *Controller) onCandidate(msg protocol.Message) {
	if !c.current(msg.RoomID) || msg.From == "" {
		return
	}
	r, err := c.openLocked(msg.From)
	if err != nil {
		c.notify("could not open peer session", err)
		return
	}
	// failures are logged by the session reporter
	_ = r.session.OnCandidate(msg.Candidate)
}

func (c *Controller) onKicked(msg protocol.Message) {
	// the kick won the race with our leave; the server drops the leave
	if c.leaving != "" && msg.RoomID == c.leaving {
		c.leaving = ""
		c.emit(Kicked{RoomID: msg.RoomID})
		c.emit(LeftRoom{RoomID: msg.RoomID})
		return
	}
	if !c.current(msg.RoomID) {
		return
	}
	room := c.room
	c.teardownLocked()
	c.emit(Kicked{RoomID: room})
	c.emit(LeftRoom{RoomID: room})
}

func (c *Controller) onError(msg protocol.Message) {
	switch msg.Error {
	case protocol.CodeAlreadyInRoom, protocol.CodeInvalidRoom, protocol.CodeInvalidUser, protocol.CodeRateLimited:
		c.pending = ""
		c.abandoned = ""
	}
	c.emit(Error{Code: msg.Error, Err: fmt.Errorf("server refused: %s", msg.Error)})
}
