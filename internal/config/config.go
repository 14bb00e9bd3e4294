package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"regionping/internal/models"
)

// Config represents configuration data for the latency service.
type Config struct {
	DataDirectory string `yaml:"data_directory"`

	MainRegion  string `yaml:"main_region"`
	TeamRegion  string `yaml:"team_region"`
	PageURL     string `yaml:"page_url"`
	PingVisible bool   `yaml:"ping_visible"`

	ProbeIntervalMs    int `yaml:"probe_interval_ms"`
	ReconnectBackoffMs int `yaml:"reconnect_backoff_ms"`
	MaxRetries         int `yaml:"max_retries"`
	DialTimeoutSec     int `yaml:"dial_timeout_seconds"`

	RecordIntervalSec int `yaml:"record_interval_seconds"`
	MaxHistory        int `yaml:"max_history"`

	HUDIntervalMs        int     `yaml:"hud_interval_ms"`
	PushIntervalMs       int     `yaml:"push_interval_ms"`
	PageUpdatesPerSecond float64 `yaml:"page_updates_per_second"`

	NodeID         string `yaml:"node_id"`
	NodeName       string `yaml:"node_name"`
	Peers          []Peer `yaml:"peers"`
	PeerRefreshSec int    `yaml:"peer_refresh_seconds"`
}

// Peer defines a remote regionping instance to aggregate.
type Peer struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Enabled bool   `yaml:"enabled"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "regionping-local"
	}

	return Config{
		DataDirectory:        filepath.Join(".dist", "data"),
		MainRegion:           string(models.RegionNA),
		PingVisible:          true,
		ProbeIntervalMs:      250,
		ReconnectBackoffMs:   1000,
		MaxRetries:           3,
		DialTimeoutSec:       5,
		RecordIntervalSec:    5,
		MaxHistory:           20000,
		HUDIntervalMs:        500,
		PushIntervalMs:       1000,
		PageUpdatesPerSecond: 2,
		NodeID:               hostname,
		NodeName:             hostname,
		PeerRefreshSec:       60,
	}
}

// Load reads configuration from yaml file. Missing files fall back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	def := DefaultConfig()
	if c.DataDirectory == "" {
		c.DataDirectory = def.DataDirectory
	}
	if c.MainRegion == "" {
		c.MainRegion = def.MainRegion
	}
	if _, ok := models.ParseRegion(c.MainRegion); !ok {
		return fmt.Errorf("main_region %q is not a known region", c.MainRegion)
	}
	if c.TeamRegion != "" {
		if _, ok := models.ParseRegion(c.TeamRegion); !ok {
			return fmt.Errorf("team_region %q is not a known region", c.TeamRegion)
		}
	}
	if c.ProbeIntervalMs <= 0 {
		c.ProbeIntervalMs = def.ProbeIntervalMs
	}
	if c.ReconnectBackoffMs <= 0 {
		c.ReconnectBackoffMs = def.ReconnectBackoffMs
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.DialTimeoutSec <= 0 {
		c.DialTimeoutSec = def.DialTimeoutSec
	}
	if c.RecordIntervalSec <= 0 {
		c.RecordIntervalSec = def.RecordIntervalSec
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = def.MaxHistory
	}
	if c.HUDIntervalMs <= 0 {
		c.HUDIntervalMs = def.HUDIntervalMs
	}
	if c.PushIntervalMs <= 0 {
		c.PushIntervalMs = def.PushIntervalMs
	}
	if c.PageUpdatesPerSecond <= 0 {
		c.PageUpdatesPerSecond = def.PageUpdatesPerSecond
	}
	if c.NodeID == "" {
		c.NodeID = def.NodeID
	}
	if c.NodeName == "" {
		c.NodeName = c.NodeID
	}
	if c.PeerRefreshSec <= 0 {
		c.PeerRefreshSec = def.PeerRefreshSec
	}
	for i, peer := range c.Peers {
		if !peer.Enabled {
			continue
		}
		if peer.ID == "" {
			return fmt.Errorf("peer %d is missing id", i)
		}
		if peer.BaseURL == "" {
			return fmt.Errorf("peer %s base_url is required", peer.ID)
		}
	}
	return nil
}

// ProbeInterval is the delay between a response and the next probe.
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMs) * time.Millisecond
}

// ReconnectBackoff is the fixed delay before a reconnection attempt.
func (c Config) ReconnectBackoff() time.Duration {
	return time.Duration(c.ReconnectBackoffMs) * time.Millisecond
}

// DialTimeout bounds a single websocket handshake.
func (c Config) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSec) * time.Second
}

// RecordInterval is how often the estimate is sampled into history.
func (c Config) RecordInterval() time.Duration {
	return time.Duration(c.RecordIntervalSec) * time.Second
}

// HUDInterval is the HUD refresh period.
func (c Config) HUDInterval() time.Duration {
	return time.Duration(c.HUDIntervalMs) * time.Millisecond
}

// PushInterval is the websocket push period.
func (c Config) PushInterval() time.Duration {
	return time.Duration(c.PushIntervalMs) * time.Millisecond
}
