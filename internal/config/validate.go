package config

import (
	"errors"
	"fmt"

	"github.com/bethna/marketfeed/internal/model"
)

var validProviders = map[string]bool{
	"binance":   true,
	"coingecko": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that all required fields are set and values are valid.
func (c *StreamerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Stream.Symbols) == 0 {
		return errors.New("stream.symbols must name at least one symbol")
	}
	for _, s := range c.Stream.Symbols {
		if s == "" {
			return errors.New("stream.symbols must not contain empty entries")
		}
	}

	if c.Connection.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}

	for _, p := range c.Providers.Order {
		if !validProviders[p] {
			return fmt.Errorf("providers.order: unknown provider %q", p)
		}
	}

	if !model.Interval(c.Reconcile.Interval).Valid() {
		return fmt.Errorf("reconcile.interval: unknown interval %q", c.Reconcile.Interval)
	}
	if c.Reconcile.Limit < 1 {
		return errors.New("reconcile.limit must be >= 1")
	}
	if c.Reconcile.BufferSize < 1 {
		return errors.New("reconcile.buffer_size must be >= 1")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}

	return nil
}
