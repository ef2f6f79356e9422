// Package orch routes signaling messages between the members of a room and
// emits the membership notifications that follow every registry change.
package orch

import (
	"errors"
	"sync"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Orchestrator is the server-side session coordinator. Handle and
// OnDisconnect are serialized, so registry decisions and the broadcasts that
// follow them are observed by every member in the same order.
type Orchestrator struct {
	Registry *app.Registry
	Policy   app.Policy

	mu    sync.Mutex
	conns map[domain.ConnectionID]core.SignalConnection
}

func New(reg *app.Registry, policy app.Policy) *Orchestrator {
	return &Orchestrator{
		Registry: reg,
		Policy:   policy,
		conns:    make(map[domain.ConnectionID]core.SignalConnection),
	}
}

// Attach makes id reachable for outbound frames. The adapter owns conn.
func (o *Orchestrator) Attach(id domain.ConnectionID, conn core.SignalConnection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conns[id] = conn
	log.Info().Str("module", "orch").Str("sid", string(id)).Int("connections", len(o.conns)).Msg("attached")
}

// Connections returns the number of attached signaling connections.
func (o *Orchestrator) Connections() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.conns)
}

// Handle processes one inbound message from id.
func (o *Orchestrator) Handle(id domain.ConnectionID, msg protocol.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.conns[id]; !ok {
		log.Warn().Str("module", "orch").Str("sid", string(id)).Msg("message from detached connection")
		return
	}

	switch msg.Type {
	case protocol.TypeCreateOrJoin:
		o.handleCreateOrJoin(id, msg)
	case protocol.TypeLeaveRoom:
		o.handleLeave(id, msg)
	case protocol.TypeKickUser:
		o.handleKick(id, msg)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		o.handleRelay(id, msg)
	case protocol.TypeWhoAmI:
		o.handleWhoAmI(id)
	default:
		log.Warn().Str("module", "orch").Str("sid", string(id)).Str("type", string(msg.Type)).Msg("unknown signal")
		o.sendLocked(id, protocol.Errorf(protocol.CodeBadPayload, msg.RoomID))
	}
}

// OnDisconnect runs when the transport for id is gone. Remaining room
// members receive removeUser; no explicit leave is required.
func (o *Orchestrator) OnDisconnect(id domain.ConnectionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disconnectLocked(id)
}

func (o *Orchestrator) disconnectLocked(id domain.ConnectionID) {
	if _, ok := o.conns[id]; !ok {
		return
	}
	delete(o.conns, id)

	o.Registry.RemoveAndBroadcast(id, func(res app.LeaveResult) {
		for _, other := range res.Remaining() {
			o.sendLocked(other, protocol.Message{
				Type:         protocol.TypeRemoveUser,
				RoomID:       string(res.Room.ID),
				ConnectionID: string(id),
			})
		}
	})
	log.Info().Str("module", "orch").Str("sid", string(id)).Int("connections", len(o.conns)).Msg("detached")
}

func (o *Orchestrator) sendLocked(to domain.ConnectionID, msg protocol.Message) {
	conn, ok := o.conns[to]
	if !ok {
		return
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode")
		return
	}
	err = conn.TrySend(data)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrBackpressure):
		o.onBackpressure(to, msg)
	case errors.Is(err, core.ErrConnClosed):
		log.Debug().Str("module", "orch").Str("sid", string(to)).Str("type", string(msg.Type)).Msg("send on closed connection")
	default:
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(to)).Msg("send failed")
	}
}

func (o *Orchestrator) onBackpressure(to domain.ConnectionID, msg protocol.Message) {
	log.Warn().Str("module", "orch").Str("sid", string(to)).Str("type", string(msg.Type)).Msg("send buffer full")
	if o.Policy == nil {
		return
	}
	if o.Policy.OnBackPressure(domain.RoomID(msg.RoomID), to) != app.Disconnect {
		return
	}
	// The adapter's read pump reports the closed socket through
	// OnDisconnect; closing here only stops the writer.
	if conn, ok := o.conns[to]; ok {
		conn.Close()
	}
}
