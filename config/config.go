package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Duration is a time.Duration that is stored as a Go duration string ("5s") in the config file.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Plain numbers are accepted as nanoseconds
		var n int64
		if nerr := json.Unmarshal(data, &n); nerr != nil {
			return err
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the configuration of a peer and of the presence registry
type Config struct {
	// Default config file location
	configFile string

	Node struct {
		PeerID string `json:"peer_id"`
	} `json:"node"`

	Registry struct {
		URL           string   `json:"url"`            // Used by peers to reach the registry
		ListenAddress string   `json:"listen"`         // Used by the registry server
		TTL           Duration `json:"ttl"`            // Presence expiry window
		SweepInterval Duration `json:"sweep_interval"` // 0 disables the background sweep
	} `json:"registry"`

	Network struct {
		ListenAddress  string   `json:"listen"`
		AdvertisedPort int      `json:"advertised_port"`
		DialTimeout    Duration `json:"dial_timeout"`
		IOTimeout      Duration `json:"io_timeout"`
		MaxFrameSize   uint32   `json:"max_frame"`
	} `json:"network"`

	Presence struct {
		PollInterval      Duration `json:"poll_interval"`
		PollCeiling       Duration `json:"poll_ceiling"`
		HeartbeatInterval Duration `json:"heartbeat_interval"`
		HeartbeatJitter   Duration `json:"heartbeat_jitter"`
		RequestTimeout    Duration `json:"request_timeout"`
	} `json:"presence"`

	DataStore struct {
		HistoryPath string `json:"history"`
		PendingPath string `json:"pending"`
	} `json:"datastore"`

	Transform struct {
		Passphrase string `json:"passphrase"`
	} `json:"transform"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Registry.URL = "http://127.0.0.1:5000"
	cfg.Registry.ListenAddress = ":5000"
	cfg.Registry.TTL = Duration(30 * time.Second)

	cfg.Network.ListenAddress = ":9001"
	cfg.Network.DialTimeout = Duration(5 * time.Second)
	cfg.Network.IOTimeout = Duration(5 * time.Second)
	cfg.Network.MaxFrameSize = 1 << 20

	cfg.Presence.PollInterval = Duration(5 * time.Second)
	cfg.Presence.PollCeiling = Duration(30 * time.Second)
	cfg.Presence.HeartbeatInterval = Duration(10 * time.Second)
	cfg.Presence.HeartbeatJitter = Duration(time.Second)
	cfg.Presence.RequestTimeout = Duration(5 * time.Second)

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
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

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}

// ValidatePeer checks the settings needed to run a chat peer and fills in per-peer store paths.
func (c *Config) ValidatePeer() error {
	if c.Node.PeerID == "" {
		return errors.New("node.peer_id is not set")
	}
	if c.Registry.URL == "" {
		return errors.New("registry.url is not set")
	}
	if c.Presence.PollInterval <= 0 || c.Presence.PollCeiling < c.Presence.PollInterval {
		return fmt.Errorf("invalid poll interval %v / ceiling %v", c.Presence.PollInterval.Std(), c.Presence.PollCeiling.Std())
	}
	if c.Presence.HeartbeatJitter >= c.Presence.HeartbeatInterval {
		return fmt.Errorf("heartbeat jitter %v must be below the interval %v", c.Presence.HeartbeatJitter.Std(), c.Presence.HeartbeatInterval.Std())
	}

	// Stores are scoped per local peer identity
	base := filepath.Join(os.TempDir(), "peerchat", c.Node.PeerID)
	if c.DataStore.HistoryPath == "" {
		c.DataStore.HistoryPath = filepath.Join(base, "history.db")
	}
	if c.DataStore.PendingPath == "" {
		c.DataStore.PendingPath = filepath.Join(base, "pending")
	}
	return nil
}
