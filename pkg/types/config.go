package types

import (
	"os"
	"path/filepath"
)

// Config represents the main configuration for Airlock.
type Config struct {
	Server Server `yaml:"server"`
	Data   Data   `yaml:"data"`
	Worker Worker `yaml:"worker"`
	Backup Backup `yaml:"backup"`
}

// Server defines HTTP server settings.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Data defines persistent state settings.
type Data struct {
	Dir string `yaml:"dir"` // Directory holding the master key and database
}

// Worker defines worker pool and sandbox settings.
type Worker struct {
	Backend          string   `yaml:"backend"`            // "jsvm" (in-process) or "remote"
	Slots            int      `yaml:"slots"`              // Number of sandbox workers
	RemoteURL        string   `yaml:"remote_url"`         // Base URL for the remote backend
	DefaultTimeout   int      `yaml:"default_timeout"`    // Per-execution timeout (seconds)
	LLMWaitTimeout   int      `yaml:"llm_wait_timeout"`   // Max seconds to wait for an LLM response
	AllowedHosts     []string `yaml:"allowed_hosts"`      // Network allowlist passed to the sandbox
	MaxScriptBytes   int      `yaml:"max_script_bytes"`   // Reject scripts larger than this
	HistoryPageLimit int      `yaml:"history_page_limit"` // Default page size for execution listings
}

// Backup defines encrypted snapshot settings.
type Backup struct {
	Dir string `yaml:"dir"` // Snapshot directory; defaults to <data.dir>/backups
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: Server{
			Host: "0.0.0.0",
			Port: 9090,
		},
		Data: Data{
			Dir: "./data",
		},
		Worker: Worker{
			Backend:          "jsvm",
			Slots:            4,
			DefaultTimeout:   60,
			LLMWaitTimeout:   300,
			MaxScriptBytes:   1 << 20,
			HistoryPageLimit: 50,
		},
	}
}

// Resolve applies environment overrides and fills derived paths.
func (c *Config) Resolve() {
	if dir := os.Getenv("AIRLOCK_DATA_DIR"); dir != "" {
		c.Data.Dir = dir
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(c.Data.Dir, "backups")
	}
}

// DBPath returns the path of the sqlite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.Data.Dir, "airlock.db")
}

// MasterKeyPath returns the path of the master key file.
func (c *Config) MasterKeyPath() string {
	return filepath.Join(c.Data.Dir, ".secret")
}

// IdentityPath returns the path of the backup identity file.
func (c *Config) IdentityPath() string {
	return filepath.Join(c.Data.Dir, ".identity")
}
