package orch

import (
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offer/answer/candidate without looking at the payload.
// Messages from non-members, for another room, or to a connection outside
// the sender's room are dropped.
func (o *Orchestrator) handleRelay(id domain.ConnectionID, msg protocol.Message) {
	room, ok := o.Registry.RoomOf(id)
	if !ok || (msg.RoomID != "" && msg.RoomID != string(room.ID)) {
		log.Debug().
			Str("module", "orch").
			Str("sid", string(id)).
			Str("type", string(msg.Type)).
			Str("room", msg.RoomID).
			Msg("relay from non-member dropped")
		return
	}

	msg.From = string(id)
	msg.RoomID = string(room.ID)

	if msg.Target != "" {
		target := domain.ConnectionID(msg.Target)
		if target == id || !room.Has(target) {
			log.Debug().
				Str("module", "orch").
				Str("sid", string(id)).
				Str("target", msg.Target).
				Msg("relay to non-member dropped")
			return
		}
		o.sendLocked(target, msg)
		return
	}

	for _, other := range room.Others(id) {
		o.sendLocked(other, msg)
	}
}
