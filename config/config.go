// Package config loads the presencectl configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvClientID overrides client.id when set.
const EnvClientID = "PRESENCE_RPC_CLIENT_ID"

// Client identifies the application to the peer.
type Client struct {
	ID                 string `toml:"id"`
	CommandTimeoutMs   int    `toml:"command_timeout_ms"`
	HandshakeTimeoutMs int    `toml:"handshake_timeout_ms"`
}

// Socket selects the IPC endpoint. An empty Dir searches the default
// runtime directories.
type Socket struct {
	Dir  string `toml:"dir"`
	Name string `toml:"name"`
}

// RateLimit throttles SET_ACTIVITY; the peer silently drops updates sent
// faster than about one every few seconds.
type RateLimit struct {
	ActivityPerSecond float64 `toml:"activity_per_second"`
	ActivityBurst     int     `toml:"activity_burst"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the full configuration file.
type Config struct {
	Client    Client    `toml:"client"`
	Socket    Socket    `toml:"socket"`
	RateLimit RateLimit `toml:"rate_limit"`
	Logging   Logging   `toml:"logging"`
}

// Default returns a configuration with every optional field set.
func Default() Config {
	return Config{
		Client: Client{
			CommandTimeoutMs:   5000,
			HandshakeTimeoutMs: 10000,
		},
		Socket: Socket{
			Name: "discord-ipc",
		},
		RateLimit: RateLimit{
			ActivityPerSecond: 0.25,
			ActivityBurst:     5,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}

// DefaultConfigPath returns the absolute path of the default configuration file.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/presence-rpc/config.toml")
}

// Override adjusts a loaded configuration before validation, e.g. from
// command-line flags.
type Override func(*Config)

// WithClientID replaces client.id when id is non-empty.
func WithClientID(id string) Override {
	return func(c *Config) {
		if id = strings.TrimSpace(id); id != "" {
			c.Client.ID = id
		}
	}
}

// Load reads path (or the default location when empty), applies environment
// overrides, then overrides, and validates the result. A missing file is not
// an error; the defaults are used. The resolved path and whether it existed
// are returned.
func Load(path string, overrides ...Override) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

// CommandTimeout is the bounded wait for synchronous commands.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Client.CommandTimeoutMs) * time.Millisecond
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Client.HandshakeTimeoutMs) * time.Millisecond
}

func (c *Config) normalize() error {
	if id := strings.TrimSpace(os.Getenv(EnvClientID)); id != "" {
		c.Client.ID = id
	}
	c.Client.ID = strings.TrimSpace(c.Client.ID)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))

	if c.Socket.Dir != "" {
		dir, err := expandPath(c.Socket.Dir)
		if err != nil {
			return fmt.Errorf("socket.dir: %w", err)
		}
		c.Socket.Dir = dir
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return "", false, err
		}
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %q is a directory", expanded)
	}
	return expanded, true, nil
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
