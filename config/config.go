// Package config loads DHT node configuration from TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/opd-ai/mainline/dht"
	"github.com/opd-ai/mainline/nodeid"
	"github.com/sirupsen/logrus"
)

// ErrUnknownKey is returned when a file contains keys Load does not know.
var ErrUnknownKey = errors.New("config: unknown key")

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the file layout of a node configuration.
type Config struct {
	ListenAddress string    `toml:"ListenAddress"`
	NodeID        string    `toml:"NodeID,omitempty"`
	LogLevel      string    `toml:"LogLevel"`
	DHT           DHTConfig `toml:"DHT"`
}

// DHTConfig mirrors dht.Settings.
type DHTConfig struct {
	ReadOnly            bool     `toml:"ReadOnly"`
	BucketSize          int      `toml:"BucketSize"`
	Alpha               int      `toml:"Alpha"`
	ShortlistWidth      int      `toml:"ShortlistWidth"`
	QueryTimeout        Duration `toml:"QueryTimeout"`
	LookupTimeout       Duration `toml:"LookupTimeout"`
	SweepInterval       Duration `toml:"SweepInterval"`
	MaintenanceInterval Duration `toml:"MaintenanceInterval"`
	RefreshInterval     Duration `toml:"RefreshInterval"`
	NodeFreshness       Duration `toml:"NodeFreshness"`
	MaxNodeFailures     int      `toml:"MaxNodeFailures"`
	PingInterval        Duration `toml:"PingInterval"`
	PruneAfter          Duration `toml:"PruneAfter"`
	TokenRotation       Duration `toml:"TokenRotation"`
	PeerTTL             Duration `toml:"PeerTTL"`
	MaxTorrents         int      `toml:"MaxTorrents"`
	MaxPeersPerTorrent  int      `toml:"MaxPeersPerTorrent"`
	MaxPeersResponse    int      `toml:"MaxPeersResponse"`
	IPDecayInterval     Duration `toml:"IPDecayInterval"`
	RateLimit           float64  `toml:"RateLimit"`
	RateBurst           int      `toml:"RateBurst"`
	Routers             []string `toml:"Routers"`
	ClientVersion       string   `toml:"ClientVersion"`
}

// Default returns the configuration matching dht.DefaultSettings.
func Default() *Config {
	return &Config{
		ListenAddress: "0.0.0.0:6881",
		LogLevel:      "info",
		DHT:           fromSettings(dht.DefaultSettings()),
	}
}

// Load reads path on top of the defaults. Keys missing from the file
// keep their default values; unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w in %s: %s", ErrUnknownKey, path, strings.Join(keys, ", "))
	}

	if err := cfg.DHT.Settings().Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if _, err := cfg.ID(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if _, err := cfg.Level(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ID returns the configured node ID, zero when unset.
func (c *Config) ID() (nodeid.ID, error) {
	if strings.TrimSpace(c.NodeID) == "" {
		return nodeid.ID{}, nil
	}
	return nodeid.ParseHex(strings.TrimSpace(c.NodeID))
}

// Level parses LogLevel; an empty value means info.
func (c *Config) Level() (logrus.Level, error) {
	if strings.TrimSpace(c.LogLevel) == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(strings.TrimSpace(c.LogLevel))
}

// Options builds dht.Options from the configuration.
func (c *Config) Options() (*dht.Options, error) {
	id, err := c.ID()
	if err != nil {
		return nil, err
	}
	opts := dht.NewOptions()
	opts.ListenAddr = c.ListenAddress
	opts.ID = id
	opts.Settings = c.DHT.Settings()
	return opts, nil
}

// Settings converts the file form into dht.Settings.
func (c DHTConfig) Settings() dht.Settings {
	return dht.Settings{
		ReadOnly:            c.ReadOnly,
		BucketSize:          c.BucketSize,
		Alpha:               c.Alpha,
		ShortlistWidth:      c.ShortlistWidth,
		QueryTimeout:        c.QueryTimeout.Duration,
		LookupTimeout:       c.LookupTimeout.Duration,
		SweepInterval:       c.SweepInterval.Duration,
		MaintenanceInterval: c.MaintenanceInterval.Duration,
		RefreshInterval:     c.RefreshInterval.Duration,
		NodeFreshness:       c.NodeFreshness.Duration,
		MaxNodeFailures:     c.MaxNodeFailures,
		PingInterval:        c.PingInterval.Duration,
		PruneAfter:          c.PruneAfter.Duration,
		TokenRotation:       c.TokenRotation.Duration,
		PeerTTL:             c.PeerTTL.Duration,
		MaxTorrents:         c.MaxTorrents,
		MaxPeersPerTorrent:  c.MaxPeersPerTorrent,
		MaxPeersResponse:    c.MaxPeersResponse,
		IPDecayInterval:     c.IPDecayInterval.Duration,
		RateLimit:           c.RateLimit,
		RateBurst:           c.RateBurst,
		Routers:             append([]string(nil), c.Routers...),
		ClientVersion:       c.ClientVersion,
	}
}

func fromSettings(s dht.Settings) DHTConfig {
	return DHTConfig{
		ReadOnly:            s.ReadOnly,
		BucketSize:          s.BucketSize,
		Alpha:               s.Alpha,
		ShortlistWidth:      s.ShortlistWidth,
		QueryTimeout:        Duration{s.QueryTimeout},
		LookupTimeout:       Duration{s.LookupTimeout},
		SweepInterval:       Duration{s.SweepInterval},
		MaintenanceInterval: Duration{s.MaintenanceInterval},
		RefreshInterval:     Duration{s.RefreshInterval},
		NodeFreshness:       Duration{s.NodeFreshness},
		MaxNodeFailures:     s.MaxNodeFailures,
		PingInterval:        Duration{s.PingInterval},
		PruneAfter:          Duration{s.PruneAfter},
		TokenRotation:       Duration{s.TokenRotation},
		PeerTTL:             Duration{s.PeerTTL},
		MaxTorrents:         s.MaxTorrents,
		MaxPeersPerTorrent:  s.MaxPeersPerTorrent,
		MaxPeersResponse:    s.MaxPeersResponse,
		IPDecayInterval:     Duration{s.IPDecayInterval},
		RateLimit:           s.RateLimit,
		RateBurst:           s.RateBurst,
		Routers:             append([]string(nil), s.Routers...),
		ClientVersion:       s.ClientVersion,
	}
}
