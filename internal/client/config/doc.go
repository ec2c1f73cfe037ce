// Package config loads runtime configuration for the NoteKeeper CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the backend HTTP endpoint
//	-f string   path of the local database file
//	-i int      online status check interval (seconds)
//	-s int      sync flush interval (seconds)
//	-p int      websocket ping interval (seconds)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "3s" or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "http://127.0.0.1:8080",
//	  "database_path": "notekeeper.db",
//	  "online_check_interval": "3s",
//	  "flush_interval": "5s",
//	  "ping_interval": "20s"
//	}
//
// Primary API
//
//   - type Config                     — holds the endpoint, database path and intervals
//   - func LoadConfig() *Config       — builds Config by applying defaults, JSON, then flags
//   - func (*Config) LoadDefaults()   — sets sensible defaults
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
