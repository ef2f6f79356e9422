package cmd

import (
	"os"

	"github.com/dkeye/Huddle/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var v = config.NewClientViper()

var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Headless participant for Huddle video rooms",
	Long: `huddle joins a Huddle room over the signaling server and negotiates a
WebRTC connection with every other member. It sends synthetic media and
reports what it receives.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if v.GetBool("debug") {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		return nil
	},
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("huddle")
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("server", v.GetString("server"), "signaling WebSocket URL")
	f.String("user", "", "user label sent with create-or-join")
	f.StringSlice("stun", v.GetStringSlice("stun"), "STUN server URLs")
	f.StringSlice("turn", nil, "TURN server URLs")
	f.String("turn-user", "", "TURN username")
	f.String("turn-pass", "", "TURN credential")
	f.Bool("relay", false, "force TURN relay")
	f.Bool("video", true, "send a video track")
	f.Bool("audio", true, "send an audio track")
	f.Bool("debug", false, "debug logging")
	_ = v.BindPFlags(f)

	rootCmd.AddCommand(joinCmd, createCmd)
}
