package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Client is the headless participant's configuration. Values come from cobra
// flags bound into viper, overridable by HUDDLE_* environment variables.
type Client struct {
	Server string `mapstructure:"server"`
	Room   string `mapstructure:"room"`
	User   string `mapstructure:"user"`

	STUN     []string `mapstructure:"stun"`
	TURN     []string `mapstructure:"turn"`
	TURNUser string   `mapstructure:"turn-user"`
	TURNPass string   `mapstructure:"turn-pass"`
	Relay    bool     `mapstructure:"relay"`

	Video bool `mapstructure:"video"`
	Audio bool `mapstructure:"audio"`
}

// NewClientViper returns a viper instance with the client defaults and
// environment binding in place. Callers bind their flags into it.
func NewClientViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("huddle")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("stun", DefaultSTUN)
	v.SetDefault("video", true)
	v.SetDefault("audio", true)
	return v
}

func LoadClient(v *viper.Viper) (*Client, error) {
	var c Client
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if c.Server == "" {
		return nil, fmt.Errorf("server url is required")
	}
	if len(c.TURN) > 0 && (c.TURNUser == "" || c.TURNPass == "") {
		return nil, fmt.Errorf("turn servers need --turn-user and --turn-pass")
	}
	return &c, nil
}

// ICEServers converts the client flags into the shared ICEServer shape.
func (c *Client) ICEServers() []ICEServer {
	var out []ICEServer
	if len(c.STUN) > 0 {
		out = append(out, ICEServer{URLs: c.STUN})
	}
	if len(c.TURN) > 0 {
		out = append(out, ICEServer{URLs: c.TURN, Username: c.TURNUser, Credential: c.TURNPass})
	}
	return out
}
