package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dkeye/Huddle/internal/client/call"
	"github.com/dkeye/Huddle/internal/client/media"
	"github.com/dkeye/Huddle/internal/client/rtc"
	signalclient "github.com/dkeye/Huddle/internal/client/signal"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join an existing room (or create it if nobody is there)",
	Example: `  huddle join standup
  huddle join standup --server wss://huddle.example.org/api/ws/signal --video=false`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v.Set("room", args[0])
		return run(cmd.Context(), false)
	},
}

var createCmd = &cobra.Command{
	Use:   "create [room-id]",
	Short: "Create a room; the server picks an id when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			v.Set("room", args[0])
		}
		return run(cmd.Context(), true)
	},
}

func run(parent context.Context, create bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadClient(v)
	if err != nil {
		return err
	}

	sig := signalclient.NewClient(cfg.Server)
	if err := sig.Connect(ctx); err != nil {
		return err
	}
	defer sig.Close()

	ctrl := call.New(call.Options{
		UserID:      cfg.User,
		Signaler:    sig,
		Media:       media.SyntheticProvider{},
		Constraints: media.Constraints{Audio: cfg.Audio, Video: cfg.Video},
		Transports:  call.PionFactory(ctx, rtc.Configuration(cfg.ICEServers(), cfg.Relay)),
		OnEvent:     func(ev call.Event) { onEvent(ctx, ev) },
	})
	defer ctrl.Close()

	if create {
		err = ctrl.CreateRoom(ctx, cfg.Room)
	} else {
		err = ctrl.JoinRoom(ctx, cfg.Room)
	}
	if err != nil {
		return err
	}
	if h := ctrl.Local(); h != nil && h.Audio != nil {
		go func() {
			if err := media.Pump(ctx, h.Audio, media.OpusSilence, 20*time.Millisecond, 48000); err != nil {
				log.Warn().Err(err).Str("module", "cli").Msg("audio pump stopped")
			}
		}()
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sig.Done():
			return errors.New("signaling connection closed")
		case msg, ok := <-sig.Incoming():
			if !ok {
				return errors.New("signaling connection closed")
			}
			ctrl.Handle(msg)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if quit := command(ctx, ctrl, line); quit {
				return nil
			}
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- strings.TrimSpace(sc.Text())
	}
}

// command runs one stdin command and reports whether to quit.
func command(ctx context.Context, ctrl *call.Controller, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	var err error
	switch fields[0] {
	case "kick":
		if len(fields) != 2 {
			fmt.Println("usage: kick <connection-id>")
			return false
		}
		err = ctrl.KickUser(fields[1])
	case "leave":
		err = ctrl.LeaveRoom()
	case "join":
		if len(fields) != 2 {
			fmt.Println("usage: join <room-id>")
			return false
		}
		err = ctrl.JoinRoom(ctx, fields[1])
	case "share":
		err = share(ctrl)
	case "who":
		fmt.Printf("room=%s self=%s admin=%t peers=%v\n", ctrl.Room(), ctrl.SelfID(), ctrl.IsAdmin(), ctrl.Participants())
	case "quit", "exit":
		return true
	default:
		fmt.Println("commands: kick <id> | leave | join <room> | share | who | quit")
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "cli").Str("cmd", fields[0]).Msg("command failed")
	}
	return false
}

// share swaps the camera track for a screen track on every peer.
func share(ctrl *call.Controller) error {
	stream := "screen"
	if h := ctrl.Local(); h != nil {
		stream = h.StreamID
	}
	track, err := media.NewVideoTrack("screen", stream)
	if err != nil {
		return err
	}
	if h := ctrl.Local(); h != nil && h.Video == nil {
		return ctrl.AddOutboundTrack(track)
	}
	return ctrl.ReplaceOutboundTrack(track)
}

func onEvent(ctx context.Context, ev call.Event) {
	logger := log.With().Str("module", "cli").Logger()
	switch e := ev.(type) {
	case call.CreatedRoom:
		logger.Info().Str("room", e.RoomID).Str("self", e.SelfID).Msg("created room")
	case call.JoinedRoom:
		logger.Info().Str("room", e.RoomID).Str("self", e.SelfID).Str("admin", e.AdminID).Strs("members", e.Members).Msg("joined room")
	case call.LeftRoom:
		logger.Info().Str("room", e.RoomID).Msg("left room")
	case call.PeerJoined:
		logger.Info().Str("remote", e.ConnectionID).Str("user", e.UserID).Msg("peer joined")
	case call.NewUser:
		logger.Info().Str("remote", e.ConnectionID).Str("kind", e.Track.Kind().String()).Msg("receiving media")
		go drain(ctx, e.ConnectionID, e.Track)
	case call.RemoveUser:
		logger.Info().Str("remote", e.ConnectionID).Msg("peer removed")
	case call.UserLeave:
		logger.Info().Str("remote", e.ConnectionID).Msg("peer left")
	case call.Kicked:
		logger.Warn().Str("room", e.RoomID).Msg("kicked from room")
	case call.Error:
		logger.Error().Err(e.Err).Str("code", e.Code).Msg("error")
	case call.Notification:
		logger.Info().Err(e.Err).Msg(e.Text)
	}
}

func drain(ctx context.Context, remote string, track *webrtc.TrackRemote) {
	st := media.Drain(ctx, remote, func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
	log.Info().
		Str("module", "cli").
		Str("remote", remote).
		Str("kind", track.Kind().String()).
		Int("packets", st.Packets).
		Int("lost", st.Lost).
		Msg("track ended")
}
