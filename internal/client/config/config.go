// Package config handles configuration for the client component, including
// defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the Signal/Noise client.
//
// Fields:
//   - ServerEndpointAddr: base URL of the sync API (e.g., "http://127.0.0.1:8080").
//   - DatabasePath: path to the local SQLite file.
//   - PollInterval: how often the background loop checks for remote changes.
//   - MinSyncGap: minimum time between two background syncs.
//   - RequestTimeout: per-request HTTP timeout.
type Config struct {
	ServerEndpointAddr string
	DatabasePath       string
	PollInterval       time.Duration
	MinSyncGap         time.Duration
	RequestTimeout     time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.DatabasePath = "signalnoise.db"
	c.PollInterval = 2 * time.Minute
	c.MinSyncGap = 1 * time.Minute
	c.RequestTimeout = 10 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
