package call

import (
	"context"

	"github.com/dkeye/Huddle/internal/client/peer"
	"github.com/dkeye/Huddle/internal/client/rtc"
	"github.com/pion/webrtc/v4"
)

// Transport is a peer session transport that also carries local tracks.
type Transport interface {
	peer.Transport
	AddTrack(webrtc.TrackLocal) error
	ReplaceTrack(webrtc.TrackLocal) error
}

// TransportFactory opens a transport to remote. The handlers are already
// bound to the session that will own it.
type TransportFactory func(remote string, h rtc.Handlers) (Transport, error)

// PionFactory opens real pion connections. Their track contexts derive from ctx.
func PionFactory(ctx context.Context, cfg webrtc.Configuration) TransportFactory {
	return func(remote string, h rtc.Handlers) (Transport, error) {
		c, err := rtc.NewWebRTCConnection(cfg, remote, h)
		if err != nil {
			return nil, err
		}
		c.Start(ctx)
		return c, nil
	}
}
