package media

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// OpusSilence is a single 20ms Opus silence frame.
var OpusSilence = []byte{0xf8, 0xff, 0xfe}

const opusPayloadType = 111

// RTPWriter is satisfied by *webrtc.TrackLocalStaticRTP.
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

// Pump writes payload every interval until ctx is done or a write fails.
// Sequence numbers and timestamps advance per packet.
func Pump(ctx context.Context, w RTPWriter, payload []byte, interval time.Duration, clockRate uint32) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	step := uint32(uint64(clockRate) * uint64(interval) / uint64(time.Second))
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: uint16(rand.UintN(1 << 16)),
			Timestamp:      rand.Uint32(),
			SSRC:           rand.Uint32(),
		},
		Payload: payload,
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := w.WriteRTP(pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		pkt.SequenceNumber++
		pkt.Timestamp += step
	}
}

// Stats summarizes a drained track.
type Stats struct {
	Packets  int
	Bytes    int
	Lost     int
	LastSSRC uint32
}

// Drain reads packets until ctx is done or read fails, counting them.
// Sequence gaps are counted as lost.
func Drain(ctx context.Context, remote string, read func() (*rtp.Packet, error)) Stats {
	logger := log.With().Str("module", "media").Str("remote", remote).Logger()

	var (
		st      Stats
		lastSeq uint16
		started bool
	)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Int("packets", st.Packets).Msg("drain ctx done")
			return st
		default:
		}
		pkt, err := read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn().Err(err).Msg("drain read error, stopping")
			}
			return st
		}
		if started {
			if gap := pkt.SequenceNumber - lastSeq; gap > 1 && gap < 1<<15 {
				st.Lost += int(gap - 1)
			}
		}
		started = true
		lastSeq = pkt.SequenceNumber
		st.Packets++
		st.Bytes += len(pkt.Payload)
		st.LastSSRC = pkt.SSRC
	}
}
