// Package rtc adapts a pion PeerConnection to the peer session transport.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/config"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSender = errors.New("no sender for track kind")
	ErrNoOffer  = errors.New("no unanswered local offer")
)

// Handlers are the application callbacks. They must be set before Start and
// may be invoked from pion's goroutines.
type Handlers struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnTrack        func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	OnConnected    func()
	OnClosed       func()
}

type WebRTCConnection struct {
	pc       *webrtc.PeerConnection
	remote   string
	handlers Handlers
	cancel   context.CancelFunc
	logger   zerolog.Logger

	mu      sync.Mutex
	senders []*webrtc.RTPSender
	staged  *webrtc.SessionDescription
	closed  bool
}

// Configuration builds the pion configuration from the ICE server list.
// forceRelay restricts ICE to TURN candidates and only applies when a
// server with credentials is present.
func Configuration(servers []config.ICEServer, forceRelay bool) webrtc.Configuration {
	cfg := webrtc.Configuration{ICETransportPolicy: webrtc.ICETransportPolicyAll}
	hasTURN := false
	for _, s := range servers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
		if s.Username != "" {
			hasTURN = true
		}
	}
	if forceRelay && hasTURN {
		cfg.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return cfg
}

func NewWebRTCConnection(cfg webrtc.Configuration, remote string, h Handlers) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &WebRTCConnection{
		pc:       pc,
		remote:   remote,
		handlers: h,
		logger:   log.With().Str("module", "webrtc").Str("remote", remote).Logger(),
	}, nil
}

// Start wires pion's callbacks. The ctx passed to OnTrack is cancelled when
// ICE fails or the connection closes.
func (c *WebRTCConnection) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed || s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if c.handlers.OnConnected != nil {
				c.handlers.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if c.handlers.OnClosed != nil {
				c.handlers.OnClosed()
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.handlers.OnICECandidate != nil {
			c.handlers.OnICECandidate(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.handlers.OnTrack != nil {
			c.handlers.OnTrack(ctx, track, receiver)
		}
	})
}

// CreateOffer returns a new offer and stages it. pion cannot roll back a
// local offer, so the offer becomes the local description only when its
// answer arrives; until then Rollback discards it.
func (c *WebRTCConnection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	c.mu.Lock()
	c.staged = &offer
	c.mu.Unlock()
	return offer, nil
}

// Rollback withdraws the staged offer so a remote offer can be answered.
func (c *WebRTCConnection) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.staged == nil {
		return ErrNoOffer
	}
	c.staged = nil
	c.logger.Debug().Msg("staged offer withdrawn")
	return nil
}

func (c *WebRTCConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return *c.pc.LocalDescription(), nil
}

// SetRemoteDescription applies d. An answer first applies the staged offer;
// a remote offer discards it.
func (c *WebRTCConnection) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	staged := c.staged
	c.staged = nil
	c.mu.Unlock()

	if staged != nil && d.Type == webrtc.SDPTypeAnswer {
		if err := c.pc.SetLocalDescription(*staged); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
	}
	return c.pc.SetRemoteDescription(d)
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AddTrack attaches a local track. Negotiation is the caller's job.
func (c *WebRTCConnection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.senders = append(c.senders, sender)
	c.mu.Unlock()
	go c.readRTCP(sender)
	return nil
}

// ReplaceTrack swaps the outbound track of the same kind without renegotiation.
func (c *WebRTCConnection) ReplaceTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.senders {
		cur := s.Track()
		if cur != nil && cur.Kind() == track.Kind() {
			return s.ReplaceTrack(track)
		}
	}
	return fmt.Errorf("%w: %s", ErrNoSender, track.Kind())
}

// readRTCP drains receiver reports so pion's interceptors keep working.
func (c *WebRTCConnection) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *WebRTCConnection) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *WebRTCConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}
