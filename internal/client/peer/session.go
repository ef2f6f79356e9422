// Package peer holds the per-remote negotiation state machine: one transport,
// the offer/answer progress for it, and the candidates that arrived early.
package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int

const (
	Idle State = iota
	OfferSent
	OfferReceived
	AnswerSent
	Stable
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OfferSent:
		return "offer-sent"
	case OfferReceived:
		return "offer-received"
	case AnswerSent:
		return "answer-sent"
	case Stable:
		return "stable"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transport is the negotiated media transport for one remote.
// CreateAnswer also applies the answer as the local description. An offer
// from CreateOffer may be withdrawn with Rollback until the answer is set.
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	Rollback() error
	Close() error
}

// Signaler delivers negotiation messages to the signaling server.
type Signaler interface {
	Send(protocol.Message) error
}

type Option func(*Session)

// WithReporter receives non-fatal failures (TransportError).
func WithReporter(fn func(error)) Option {
	return func(s *Session) { s.report = fn }
}

// WithPolite makes the session yield on glare: it withdraws its own offer,
// answers the remote one and offers again afterwards. The impolite side
// ignores the colliding offer. The two ends of a pair must disagree.
func WithPolite(polite bool) Option {
	return func(s *Session) { s.polite = polite }
}

// WithStateHook observes every transition.
func WithStateHook(fn func(from, to State)) Option {
	return func(s *Session) { s.onState = fn }
}

type Session struct {
	remote string
	room   string
	tr     Transport
	sig    Signaler

	mu        sync.Mutex
	state     State
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closed    bool
	polite    bool
	// renegotiate is set when an offer could not go out yet; the next
	// completed exchange sends it.
	renegotiate bool

	report  func(error)
	onState func(from, to State)
	logger  zerolog.Logger
}

func NewSession(remote, room string, tr Transport, sig Signaler, opts ...Option) *Session {
	s := &Session{
		remote: remote,
		room:   room,
		tr:     tr,
		sig:    sig,
		logger: log.With().Str("module", "peer").Str("remote", remote).Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) Remote() string { return s.remote }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns how many candidates are buffered.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// CreateOffer starts (or restarts) negotiation from this side. While an
// offer is outstanding the request is queued and sent once the answer lands.
func (s *Session) CreateOffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state == OfferSent {
		s.renegotiate = true
		s.logger.Debug().Msg("offer queued behind outstanding offer")
		return nil
	}
	return s.offerLocked()
}

func (s *Session) offerLocked() error {
	switch s.state {
	case Idle, Stable, AnswerSent:
	default:
		return s.negErr("create offer", fmt.Errorf("%w: %s", ErrInvalidState, s.state))
	}

	offer, err := s.tr.CreateOffer()
	if err != nil {
		return s.negErr("create offer", err)
	}
	if err := s.sendDescription(protocol.TypeOffer, offer); err != nil {
		return s.negErr("send offer", err)
	}
	s.setState(OfferSent)
	return nil
}

// OnRemoteOffer applies a remote offer and replies with an answer. On glare
// the impolite side returns ErrGlare and changes nothing; the polite side
// rolls its offer back, answers, and then offers again.
func (s *Session) OnRemoteOffer(raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	offer, err := parseDescription(raw, webrtc.SDPTypeOffer)
	if err != nil {
		return s.negErr("apply offer", err)
	}
	switch s.state {
	case Idle, Stable, AnswerSent:
	case OfferSent:
		if !s.polite {
			s.logger.Warn().Msg("remote offer during local offer ignored")
			return ErrGlare
		}
		if err := s.tr.Rollback(); err != nil {
			return s.negErr("rollback offer", err)
		}
		s.renegotiate = true
		s.logger.Info().Msg("local offer rolled back for remote offer")
		if s.remoteSet {
			s.setState(Stable)
		} else {
			s.setState(Idle)
		}
	default:
		return s.negErr("apply offer", fmt.Errorf("%w: %s", ErrInvalidState, s.state))
	}

	prior := s.state
	s.setState(OfferReceived)
	if err := s.tr.SetRemoteDescription(offer); err != nil {
		s.setState(prior)
		return s.negErr("apply offer", err)
	}
	s.remoteSet = true
	s.flushPending()

	answer, err := s.tr.CreateAnswer()
	if err != nil {
		s.setState(prior)
		return s.negErr("create answer", err)
	}
	if err := s.sendDescription(protocol.TypeAnswer, answer); err != nil {
		s.setState(prior)
		return s.negErr("send answer", err)
	}
	s.setState(AnswerSent)
	return s.resumeLocked()
}

// OnRemoteAnswer completes a locally started negotiation. Outside OfferSent
// the answer is ignored and ErrUnexpectedAnswer is returned.
func (s *Session) OnRemoteAnswer(raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state != OfferSent {
		s.logger.Warn().Str("state", s.state.String()).Msg("unexpected answer ignored")
		return ErrUnexpectedAnswer
	}

	answer, err := parseDescription(raw, webrtc.SDPTypeAnswer)
	if err != nil {
		return s.negErr("apply answer", err)
	}
	if err := s.tr.SetRemoteDescription(answer); err != nil {
		return s.negErr("apply answer", err)
	}
	s.remoteSet = true
	s.flushPending()
	s.setState(Stable)
	return s.resumeLocked()
}

// resumeLocked sends the offer that was queued or rolled back.
func (s *Session) resumeLocked() error {
	if !s.renegotiate {
		return nil
	}
	s.renegotiate = false
	s.logger.Debug().Msg("sending queued offer")
	return s.offerLocked()
}

// OnCandidate applies a remote candidate, or buffers it until the remote
// description is set. Failures are reported and returned but never change state.
func (s *Session) OnCandidate(raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err != nil {
		return s.transportErr(fmt.Errorf("decode candidate: %w", err))
	}
	if !s.remoteSet {
		s.pending = append(s.pending, cand)
		s.logger.Debug().Int("pending", len(s.pending)).Msg("candidate buffered")
		return nil
	}
	if err := s.tr.AddICECandidate(cand); err != nil {
		return s.transportErr(err)
	}
	return nil
}

// LocalCandidate forwards a locally gathered candidate to the remote.
func (s *Session) LocalCandidate(cand webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	raw, err := json.Marshal(cand)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode local candidate")
		return
	}
	err = s.sig.Send(protocol.Message{
		Type:      protocol.TypeCandidate,
		RoomID:    s.room,
		Target:    s.remote,
		Candidate: raw,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("send local candidate")
	}
}

// MarkConnected is called when the transport reports connectivity.
func (s *Session) MarkConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.state == AnswerSent {
		s.setState(Stable)
	}
}

// Close releases the transport. Calling it again is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pending = nil
	if err := s.tr.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("close transport")
	}
	s.logger.Info().Str("state", s.state.String()).Msg("session closed")
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) flushPending() {
	pending := s.pending
	s.pending = nil
	for _, cand := range pending {
		if err := s.tr.AddICECandidate(cand); err != nil {
			_ = s.transportErr(err)
		}
	}
	if len(pending) > 0 {
		s.logger.Debug().Int("applied", len(pending)).Msg("buffered candidates flushed")
	}
}

func (s *Session) sendDescription(typ protocol.Type, desc webrtc.SessionDescription) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	return s.sig.Send(protocol.Message{
		Type:        typ,
		RoomID:      s.room,
		Target:      s.remote,
		Description: raw,
	})
}

func (s *Session) setState(to State) {
	from := s.state
	s.state = to
	s.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state")
	if s.onState != nil {
		s.onState(from, to)
	}
}

func (s *Session) negErr(op string, err error) error {
	s.logger.Warn().Err(err).Str("op", op).Msg("negotiation failed")
	return &NegotiationError{Op: op, Remote: s.remote, Err: err}
}

func (s *Session) transportErr(err error) error {
	terr := &TransportError{Remote: s.remote, Err: err}
	s.logger.Warn().Err(err).Msg("candidate failed")
	if s.report != nil {
		s.report(terr)
	}
	return terr
}

var errEmptyDescription = errors.New("empty session description")

func parseDescription(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	if len(raw) == 0 {
		return webrtc.SessionDescription{}, errEmptyDescription
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode description: %w", err)
	}
	if desc.Type != want {
		return webrtc.SessionDescription{}, fmt.Errorf("description type %s, want %s", desc.Type, want)
	}
	return desc, nil
}
