package config

import "time"

// StreamerConfig is the root configuration for a streamer instance.
type StreamerConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Stream     StreamConfig     `yaml:"stream"`
	Connection ConnectionConfig `yaml:"connection"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Health     HealthConfig     `yaml:"health"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InstanceConfig identifies this streamer.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// StreamConfig selects the exchange feed and the symbols to follow.
type StreamConfig struct {
	Exchange string   `yaml:"exchange"`
	Symbols  []string `yaml:"symbols"`
}

// ConnectionConfig holds WebSocket connection settings.
type ConnectionConfig struct {
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	StaleTimeout         time.Duration `yaml:"stale_timeout"`
}

// ProvidersConfig holds historical candle provider settings.
type ProvidersConfig struct {
	// Order lists the providers to try, first match wins.
	Order     []string        `yaml:"order"`
	CoinGecko CoinGeckoConfig `yaml:"coingecko"`
	CacheTTL  time.Duration   `yaml:"cache_ttl"`
}

// CoinGeckoConfig holds the CoinGecko REST client settings.
type CoinGeckoConfig struct {
	BaseURL      string        `yaml:"base_url"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// ReconcileConfig holds candle reconciliation settings.
type ReconcileConfig struct {
	Interval   string        `yaml:"interval"`
	Limit      int           `yaml:"limit"`
	BufferSize int           `yaml:"buffer_size"`
	Debounce   time.Duration `yaml:"debounce"`
	IdleGrace  time.Duration `yaml:"idle_grace"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}
