package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultExchange             = "binance"
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultStaleTimeout         = 90 * time.Second
	DefaultCoinGeckoMaxRetries  = 2
	DefaultCoinGeckoBackoff     = 1 * time.Second
	DefaultCacheTTL             = 5 * time.Minute
	DefaultInterval             = "1m"
	DefaultLimit                = 500
	DefaultBufferSize           = 1000
	DefaultDebounce             = 100 * time.Millisecond
	DefaultIdleGrace            = 30 * time.Second
	DefaultHealthPort           = 8080
	DefaultLogLevel             = "info"
)

func (c *StreamerConfig) applyDefaults() {
	// Stream defaults
	if c.Stream.Exchange == "" {
		c.Stream.Exchange = DefaultExchange
	}

	// Connection defaults
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.HeartbeatInterval == 0 {
		c.Connection.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.StaleTimeout == 0 {
		c.Connection.StaleTimeout = DefaultStaleTimeout
	}

	// Provider defaults
	if len(c.Providers.Order) == 0 {
		c.Providers.Order = []string{"binance", "coingecko"}
	}
	if c.Providers.CoinGecko.MaxRetries == 0 {
		c.Providers.CoinGecko.MaxRetries = DefaultCoinGeckoMaxRetries
	}
	if c.Providers.CoinGecko.RetryBackoff == 0 {
		c.Providers.CoinGecko.RetryBackoff = DefaultCoinGeckoBackoff
	}
	if c.Providers.CacheTTL == 0 {
		c.Providers.CacheTTL = DefaultCacheTTL
	}

	// Reconcile defaults
	if c.Reconcile.Interval == "" {
		c.Reconcile.Interval = DefaultInterval
	}
	if c.Reconcile.Limit == 0 {
		c.Reconcile.Limit = DefaultLimit
	}
	if c.Reconcile.BufferSize == 0 {
		c.Reconcile.BufferSize = DefaultBufferSize
	}
	if c.Reconcile.Debounce == 0 {
		c.Reconcile.Debounce = DefaultDebounce
	}
	if c.Reconcile.IdleGrace == 0 {
		c.Reconcile.IdleGrace = DefaultIdleGrace
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}
