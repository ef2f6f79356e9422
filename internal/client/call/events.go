package call

import "github.com/pion/webrtc/v4"

// Event is everything the UI collaborator reacts to. Consumers switch on the
// concrete type.
type Event interface {
	event()
}

type CreatedRoom struct {
	RoomID string
	SelfID string
}

type JoinedRoom struct {
	RoomID  string
	SelfID  string
	AdminID string
	Members []string
}

type LeftRoom struct {
	RoomID string
}

// NewUser carries a remote media track as soon as it arrives.
type NewUser struct {
	ConnectionID string
	Track        *webrtc.TrackRemote
}

// RemoveUser asks the UI to drop a remote's media.
type RemoveUser struct {
	ConnectionID string
}

type Kicked struct {
	RoomID string
}

// UserLeave is a remote that left on its own (as opposed to kick or disconnect).
type UserLeave struct {
	ConnectionID string
}

// Error is a failed action or a server-side refusal. Code is the wire error
// code when the server sent it.
type Error struct {
	Code string
	Err  error
}

// Notification is informational; Err is set for non-fatal negotiation failures.
type Notification struct {
	Text string
	Err  error
}

// PeerJoined is a remote entering the current room, before any media.
type PeerJoined struct {
	ConnectionID string
	UserID       string
}

func (CreatedRoom) event()  {}
func (JoinedRoom) event()   {}
func (LeftRoom) event()     {}
func (NewUser) event()      {}
func (RemoveUser) event()   {}
func (Kicked) event()       {}
func (UserLeave) event()    {}
func (Error) event()        {}
func (Notification) event() {}
func (PeerJoined) event()   {}
