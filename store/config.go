package store

import (
	"log/slog"
	"time"
)

// Config holds configuration for the Store.
type Config struct {
	// Connection names the backend connection the store was opened on.
	// Default: "default"
	Connection string `yaml:"connection"`

	// Guard names the authentication guard that resolves bearer tokens.
	// Default: "redis-api"
	Guard string `yaml:"guard"`

	// Provider names the user provider behind the guard.
	// Default: "redis"
	Provider string `yaml:"provider"`

	// Logger receives best-effort cleanup failures and skipped relation members.
	// Default: slog.Default()
	Logger *slog.Logger `yaml:"-"`

	// Now is the clock used for timestamps.
	// Default: time.Now
	Now func() time.Time `yaml:"-"`
}

// DefaultConfig returns the default integration names.
func DefaultConfig() Config {
	return Config{
		Connection: "default",
		Guard:      "redis-api",
		Provider:   "redis",
	}
}

// validate fills unset values with defaults.
func (c *Config) validate() {
	if c.Connection == "" {
		c.Connection = "default"
	}
	if c.Guard == "" {
		c.Guard = "redis-api"
	}
	if c.Provider == "" {
		c.Provider = "redis"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
