package config

import "time"

// Config holds runtime settings for the NoteKeeper CLI.
//
// Fields:
//   - ServerEndpointAddr: base URL of the backend HTTP endpoint.
//   - DatabasePath: path of the local SQLite mirror.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - FlushInterval: how often the sync engine pushes pending local edits.
//   - PingInterval: keepalive interval of the realtime websocket session.
//
// Units: the intervals are time.Duration values (e.g., 3*time.Second).
type Config struct {
	ServerEndpointAddr  string
	DatabasePath        string
	OnlineCheckInterval time.Duration
	FlushInterval       time.Duration
	PingInterval        time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.DatabasePath = "notekeeper.db"
	c.OnlineCheckInterval = 3 * time.Second
	c.FlushInterval = 5 * time.Second
	c.PingInterval = 20 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
