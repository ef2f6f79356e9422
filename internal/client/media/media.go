// Package media supplies the local capture handle shared by every peer
// session and drains remote tracks.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var ErrNoTracks = errors.New("neither audio nor video requested")

// MediaAcquisitionError means local capture could not start. Joining a room
// is aborted when it happens.
type MediaAcquisitionError struct {
	Kind string
	Err  error
}

func (e *MediaAcquisitionError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("acquire media: %v", e.Err)
	}
	return fmt.Sprintf("acquire %s: %v", e.Kind, e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

type Constraints struct {
	Audio bool
	Video bool
}

// Handle is the local capture stream. Tracks are shared by reference across
// peer sessions; only a screen-share swap replaces one.
type Handle struct {
	StreamID string
	Audio    *webrtc.TrackLocalStaticRTP
	Video    *webrtc.TrackLocalStaticRTP
}

func (h *Handle) Tracks() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	if h.Audio != nil {
		out = append(out, h.Audio)
	}
	if h.Video != nil {
		out = append(out, h.Video)
	}
	return out
}

// Provider acquires local media.
type Provider interface {
	Acquire(ctx context.Context, c Constraints) (*Handle, error)
}

// SyntheticProvider produces static RTP tracks that are fed by the caller
// (see Pump); a headless participant has no capture devices.
type SyntheticProvider struct {
	StreamID string
}

func (p SyntheticProvider) Acquire(ctx context.Context, c Constraints) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &MediaAcquisitionError{Err: err}
	}
	if !c.Audio && !c.Video {
		return nil, &MediaAcquisitionError{Err: ErrNoTracks}
	}
	stream := p.StreamID
	if stream == "" {
		stream = uuid.NewString()
	}

	h := &Handle{StreamID: stream}
	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", stream)
		if err != nil {
			return nil, &MediaAcquisitionError{Kind: "audio", Err: err}
		}
		h.Audio = t
	}
	if c.Video {
		t, err := NewVideoTrack("video", stream)
		if err != nil {
			return nil, &MediaAcquisitionError{Kind: "video", Err: err}
		}
		h.Video = t
	}
	return h, nil
}

// NewVideoTrack creates a VP8 track, used for the camera and for screen share.
func NewVideoTrack(id, stream string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		id, stream)
}
