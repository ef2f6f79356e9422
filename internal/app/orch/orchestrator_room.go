package orch

import (
	"errors"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) handleCreateOrJoin(id domain.ConnectionID, msg protocol.Message) {
	roomID, err := domain.ParseRoomID(msg.RoomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(id)).Msg("create-or-join: bad room id")
		o.sendLocked(id, protocol.Errorf(protocol.CodeInvalidRoom, msg.RoomID))
		return
	}
	user, err := domain.ParseUserID(msg.UserID)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(id)).Msg("create-or-join: bad user id")
		o.sendLocked(id, protocol.Errorf(protocol.CodeInvalidUser, msg.RoomID))
		return
	}

	res, err := o.Registry.CreateOrJoin(id, user, roomID)
	if err != nil {
		var already *domain.AlreadyInRoomError
		if errors.As(err, &already) {
			o.sendLocked(id, protocol.Errorf(protocol.CodeAlreadyInRoom, string(already.Room)))
			return
		}
		log.Error().Err(err).Str("module", "orch").Str("sid", string(id)).Msg("create-or-join")
		o.sendLocked(id, protocol.Errorf(protocol.CodeBadPayload, msg.RoomID))
		return
	}

	room := res.Room
	reply := protocol.Message{
		Type:    protocol.TypeJoined,
		RoomID:  string(room.ID),
		UserID:  string(user),
		SelfID:  string(id),
		AdminID: string(room.AdminID),
		Members: membersExcept(room, id),
	}
	if res.Created {
		reply.Type = protocol.TypeCreated
	}
	o.sendLocked(id, reply)

	if res.Created {
		return
	}
	for _, other := range room.Others(id) {
		o.sendLocked(other, protocol.Message{
			Type:         protocol.TypeUserConnected,
			RoomID:       string(room.ID),
			ConnectionID: string(id),
			UserID:       string(user),
		})
	}
}

func (o *Orchestrator) handleLeave(id domain.ConnectionID, msg protocol.Message) {
	res, err := o.Registry.Leave(id, domain.RoomID(msg.RoomID))
	if err != nil {
		// second leave, or a leave for a room already torn down by a kick
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(id)).Str("room", msg.RoomID).Msg("leave ignored")
		return
	}
	o.sendLocked(id, protocol.Message{Type: protocol.TypeLeftRoom, RoomID: msg.RoomID})
	o.broadcastRemoval(res, protocol.TypeUserDisconnected)
}

func (o *Orchestrator) handleKick(id domain.ConnectionID, msg protocol.Message) {
	target := domain.ConnectionID(msg.Target)
	res, ok := o.Registry.Kick(id, domain.RoomID(msg.RoomID), target)
	if !ok {
		o.sendLocked(id, protocol.Errorf(protocol.CodeKickDenied, msg.RoomID))
		return
	}
	o.sendLocked(target, protocol.Message{Type: protocol.TypeKicked, RoomID: msg.RoomID})
	o.broadcastRemoval(res, protocol.TypeRemoveUser)
}

func (o *Orchestrator) handleWhoAmI(id domain.ConnectionID) {
	reply := protocol.Message{Type: protocol.TypeWhoAmI, SelfID: string(id)}
	if room, ok := o.Registry.RoomOf(id); ok {
		reply.RoomID = string(room.ID)
		reply.AdminID = string(room.AdminID)
		reply.Members = membersExcept(room, id)
	}
	o.sendLocked(id, reply)
}

func (o *Orchestrator) broadcastRemoval(res app.LeaveResult, typ protocol.Type) {
	for _, other := range res.Remaining() {
		o.sendLocked(other, protocol.Message{
			Type:         typ,
			RoomID:       string(res.Room.ID),
			ConnectionID: string(res.Removed),
		})
	}
}

func membersExcept(room *domain.Room, id domain.ConnectionID) []protocol.Member {
	out := make([]protocol.Member, 0, len(room.Members))
	for _, m := range room.Members {
		if m.ID == id {
			continue
		}
		out = append(out, protocol.Member{ID: string(m.ID), UserID: string(m.User)})
	}
	return out
}
