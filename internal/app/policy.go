package app

import "github.com/dkeye/Huddle/internal/domain"

type BackpressureAction int

// Disconnect closes the recipient. Any other action leaves it connected and
// the frame is lost.
const Disconnect BackpressureAction = iota + 1

// Policy decides what happens to a recipient whose outbound buffer is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, member domain.ConnectionID) BackpressureAction
}

// SimplePolicy disconnects slow members; the disconnect path then cleans up
// their membership like any other transport loss.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, domain.ConnectionID) BackpressureAction {
	return Disconnect
}
