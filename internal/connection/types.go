package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrConnectTimeout  = errors.New("connect timeout")
	ErrStaleConnection = errors.New("connection stale (no traffic)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrDuplicateID     = errors.New("duplicate connection id")
)

// Status describes the observable lifecycle state of a Conn.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"

	// StatusError is informational only; it is always followed by a
	// disconnected transition and is never a resting state.
	StatusError Status = "error"
)

// StatusEvent is a timestamped status transition delivered to status
// subscribers. Not retained beyond delivery.
type StatusEvent struct {
	Status Status
	At     time.Time
	Err    error // non-nil only for StatusError
}

// Frame is a decoded inbound message: the provider's type tag, the raw
// payload, and the local receive timestamp. Never mutated after creation.
type Frame struct {
	Type       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Handler receives inbound frames for a subscribed type tag.
type Handler func(Frame)

// StatusHandler receives status transitions.
type StatusHandler func(StatusEvent)

// TagAll subscribes a handler to every inbound frame regardless of its
// extracted type tag. Providers whose wire format has no tag field
// (array-shaped frames) are consumed this way.
const TagAll = "*"

// heartbeatMessage is the periodic keep-alive payload sent while connected.
type heartbeatMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Config configures a single Conn.
type Config struct {
	URL string // WebSocket endpoint

	ReconnectDelay       time.Duration // base backoff; attempt k waits delay × 2^(k-1)
	MaxReconnectAttempts int           // retries stop after this many consecutive attempts
	HeartbeatInterval    time.Duration // ping cadence while connected (0 disables)
	ConnectTimeout       time.Duration // deadline for a single dial
	WriteTimeout         time.Duration // write deadline for sends
	StaleTimeout         time.Duration // no-traffic watchdog (0 disables)

	// TagField is the JSON field carrying the message-type tag.
	// Defaults to "type"; binance streams use "e".
	TagField string

	// Dialer overrides the transport (nil = gorilla/websocket).
	Dialer Dialer
}

// DefaultConfig returns sensible defaults for a streaming endpoint.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		ReconnectDelay:       time.Second,
		MaxReconnectAttempts: 5,
		HeartbeatInterval:    30 * time.Second,
		ConnectTimeout:       10 * time.Second,
		WriteTimeout:         5 * time.Second,
		StaleTimeout:         90 * time.Second,
		TagField:             "type",
	}
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.TagField == "" {
		c.TagField = "type"
	}
}
