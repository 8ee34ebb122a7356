package config

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"

	"peerchat/net/announce"
	"peerchat/presence/server"
)

var log = logrus.New()

// Config is the on-disk configuration for the peerchat application.
type Config struct {
	configFile string

	Chat struct {
		Username  string `json:"username"`
		Host      string `json:"host"`
		Port      int    `json:"port"` // 0 means OS-assigned
		Downloads string `json:"downloads"`
	} `json:"chat"`

	// Presence settings cover both the client side (Server) and the server
	// side (Host/Port/StorePath of a locally run presence server).
	Presence struct {
		Server    string `json:"server"` // host:port to register with; empty disables
		Host      string `json:"host"`
		Port      int    `json:"port"`
		StorePath string `json:"store"` // empty keeps registrations in memory
	} `json:"presence"`

	Discovery struct {
		Multicast bool   `json:"multicast"`
		Group     string `json:"group"`
	} `json:"discovery"`
}

// NewEmptyConfig generates a new configuration with default settings.
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Chat.Host = "0.0.0.0"
	cfg.Chat.Port = 0
	cfg.Chat.Downloads = "downloads"

	cfg.Presence.Server = ""
	cfg.Presence.Host = "0.0.0.0"
	cfg.Presence.Port = server.DefaultPort
	cfg.Presence.StorePath = ""

	cfg.Discovery.Multicast = false
	cfg.Discovery.Group = announce.DefaultGroup

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file.
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, c)
}
