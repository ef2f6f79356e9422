// Package protocol defines the signaling messages exchanged between browsers
// (or the headless client) and the server. Every frame is one JSON object
// with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Type string

const (
	TypeCreateOrJoin     Type = "create-or-join"
	TypeCreated          Type = "created"
	TypeJoined           Type = "joined"
	TypeUserConnected    Type = "user-connected"
	TypeUserDisconnected Type = "user-disconnected"
	TypeOffer            Type = "offer"
	TypeAnswer           Type = "answer"
	TypeCandidate        Type = "candidate"
	TypeLeaveRoom        Type = "leave-room"
	TypeLeftRoom         Type = "left-room"
	TypeKickUser         Type = "kick-user"
	TypeKicked           Type = "kicked"
	TypeRemoveUser       Type = "removeUser"

	TypeWhoAmI Type = "whoami"
	TypePing   Type = "ping"
	TypePong   Type = "pong"
	TypeError  Type = "error"
)

// Error codes carried by TypeError messages.
const (
	CodeBadPayload    = "bad_payload"
	CodeInvalidRoom   = "invalid_room"
	CodeInvalidUser   = "invalid_user"
	CodeAlreadyInRoom = "already_in_room"
	CodeKickDenied    = "kick_denied"
	CodeRateLimited   = "rate_limited"
)

var ErrMissingType = errors.New("message without type")

// Member is the wire view of a room member.
type Member struct {
	ID     string `json:"id"`
	UserID string `json:"userId,omitempty"`
}

// Message is the single tagged type for all signaling frames. Which fields
// are meaningful depends on Type.
type Message struct {
	Type Type `json:"type"`

	RoomID       string   `json:"roomId,omitempty"`
	UserID       string   `json:"userId,omitempty"`
	SelfID       string   `json:"selfId,omitempty"`
	ConnectionID string   `json:"connectionId,omitempty"`
	AdminID      string   `json:"adminId,omitempty"`
	Members      []Member `json:"members,omitempty"`

	// From is stamped by the server on relayed messages; clients never set it.
	From string `json:"from,omitempty"`
	// Target is the kicked connection for kick-user and the optional
	// recipient for offer/answer/candidate.
	Target string `json:"targetConnectionId,omitempty"`

	// Relayed verbatim, the server never looks inside.
	Description json.RawMessage `json:"sessionDescription,omitempty"`
	Candidate   json.RawMessage `json:"iceCandidate,omitempty"`

	Error string `json:"error,omitempty"`
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == "" {
		return Message{}, ErrMissingType
	}
	return m, nil
}

func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return b, nil
}

func Errorf(code string, roomID string) Message {
	return Message{Type: TypeError, Error: code, RoomID: roomID}
}
