package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateClient(); err != nil {
		return err
	}
	if err := c.validateSocket(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateClient() error {
	if c.Client.ID == "" {
		return fmt.Errorf("client.id is required. Set %s or edit the config file", EnvClientID)
	}
	for _, r := range c.Client.ID {
		if r < '0' || r > '9' {
			return fmt.Errorf("client.id must be a numeric application id, got %q", c.Client.ID)
		}
	}
	if c.Client.CommandTimeoutMs < 0 {
		return errors.New("client.command_timeout_ms must be >= 0")
	}
	if c.Client.HandshakeTimeoutMs < 0 {
		return errors.New("client.handshake_timeout_ms must be >= 0")
	}
	return nil
}

func (c *Config) validateSocket() error {
	if strings.TrimSpace(c.Socket.Name) == "" {
		return errors.New("socket.name must be set")
	}
	if strings.ContainsRune(c.Socket.Name, '/') {
		return fmt.Errorf("socket.name must be a base name, got %q", c.Socket.Name)
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.ActivityPerSecond < 0 {
		return errors.New("rate_limit.activity_per_second must be >= 0")
	}
	if c.RateLimit.ActivityPerSecond > 0 && c.RateLimit.ActivityBurst < 1 {
		return errors.New("rate_limit.activity_burst must be >= 1 when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "auto", "json", "text":
	default:
		return fmt.Errorf("logging.format must be one of auto, json, text; got %q", c.Logging.Format)
	}
	return nil
}
