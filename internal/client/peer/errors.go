package peer

import (
	"errors"
	"fmt"
)

var (
	ErrClosed           = errors.New("peer session closed")
	ErrInvalidState     = errors.New("invalid negotiation state")
	ErrGlare            = errors.New("remote offer while local offer outstanding")
	ErrUnexpectedAnswer = errors.New("answer without outstanding offer")
)

// NegotiationError is a failed description step. The session keeps its prior
// state so the step can be retried.
type NegotiationError struct {
	Op     string
	Remote string
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s with %s: %v", e.Op, e.Remote, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// TransportError is a failed candidate application. It is never fatal.
type TransportError struct {
	Remote string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("candidate from %s: %v", e.Remote, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
