package rtc

import (
	"context"
	"strings"
	"testing"

	"github.com/dkeye/Huddle/internal/client/media"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfiguration(t *testing.T) {
	stun := config.ICEServer{URLs: config.DefaultSTUN}
	turn := config.ICEServer{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"}

	cases := []struct {
		name    string
		servers []config.ICEServer
		relay   bool
		policy  webrtc.ICETransportPolicy
	}{
		{"stun only", []config.ICEServer{stun}, false, webrtc.ICETransportPolicyAll},
		{"relay without turn", []config.ICEServer{stun}, true, webrtc.ICETransportPolicyAll},
		{"relay with turn", []config.ICEServer{stun, turn}, true, webrtc.ICETransportPolicyRelay},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Configuration(tc.servers, tc.relay)
			assert.Len(t, cfg.ICEServers, len(tc.servers))
			assert.Equal(t, tc.policy, cfg.ICETransportPolicy)
		})
	}
}

func newConn(t *testing.T, remote string) *WebRTCConnection {
	t.Helper()
	c, err := NewWebRTCConnection(webrtc.Configuration{}, remote, Handlers{})
	require.NoError(t, err)
	c.Start(context.Background())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOfferAnswerAndReplace(t *testing.T) {
	h, err := media.SyntheticProvider{StreamID: "s"}.Acquire(context.Background(), media.Constraints{Audio: true, Video: true})
	require.NoError(t, err)

	a := newConn(t, "B")
	b := newConn(t, "A")
	for _, tr := range h.Tracks() {
		require.NoError(t, a.AddTrack(tr))
	}

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.True(t, strings.Contains(offer.SDP, "m=audio"))
	assert.True(t, strings.Contains(offer.SDP, "m=video"))
	// staged until the answer arrives
	assert.Equal(t, webrtc.SignalingStateStable, a.SignalingState())

	require.NoError(t, b.SetRemoteDescription(offer))
	answer, err := b.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	require.NoError(t, a.SetRemoteDescription(answer))
	assert.Equal(t, webrtc.SignalingStateStable, a.SignalingState())

	screen, err := media.NewVideoTrack("screen", "s")
	require.NoError(t, err)
	require.NoError(t, a.ReplaceTrack(screen))

	assert.ErrorIs(t, b.ReplaceTrack(screen), ErrNoSender)
}

func TestRollback_AnswersCollidingOffer(t *testing.T) {
	ctx := context.Background()
	ha, err := media.SyntheticProvider{StreamID: "a"}.Acquire(ctx, media.Constraints{Audio: true})
	require.NoError(t, err)
	hb, err := media.SyntheticProvider{StreamID: "b"}.Acquire(ctx, media.Constraints{Audio: true})
	require.NoError(t, err)

	a := newConn(t, "B")
	b := newConn(t, "A")
	require.NoError(t, a.AddTrack(ha.Audio))
	require.NoError(t, b.AddTrack(hb.Audio))

	_, err = a.CreateOffer()
	require.NoError(t, err)
	offerB, err := b.CreateOffer()
	require.NoError(t, err)

	// a yields: its own offer is withdrawn and b's is answered
	require.NoError(t, a.Rollback())
	assert.ErrorIs(t, a.Rollback(), ErrNoOffer)
	require.NoError(t, a.SetRemoteDescription(offerB))
	answer, err := a.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SignalingStateStable, a.SignalingState())

	require.NoError(t, b.SetRemoteDescription(answer))
	assert.Equal(t, webrtc.SignalingStateStable, b.SignalingState())
}

func TestClose_Idempotent(t *testing.T) {
	c, err := NewWebRTCConnection(webrtc.Configuration{}, "X", Handlers{})
	require.NoError(t, err)
	c.Start(context.Background())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
