package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriber is one typed frame handler registration.
type subscriber struct {
	id uuid.UUID
	fn Handler
}

// statusSubscriber is one status handler registration.
type statusSubscriber struct {
	id uuid.UUID
	fn StatusHandler
}

// Conn owns one duplex streaming socket to one endpoint and implements the
// reconnect/heartbeat lifecycle. At most one live socket exists at a time;
// all state transitions happen under c.mu, handlers are invoked without it.
type Conn struct {
	id     string
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	mu          sync.Mutex
	sock        Socket
	status      Status
	manualClose bool
	dialing     bool
	attempts    int
	gen         uint64 // bumped on every connect/disconnect; invalidates stale loops

	subs       map[string][]subscriber
	statusSubs []statusSubscriber

	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	lastTraffic    time.Time

	// afterFunc schedules reconnect retries; swapped in tests for a
	// deterministic clock.
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewConn creates a connection for one endpoint. It does not dial until
// Connect is called.
func NewConn(id string, cfg Config, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = newWSDialer(cfg.WriteTimeout)
	}

	return &Conn{
		id:        id,
		cfg:       cfg,
		dialer:    dialer,
		logger:    logger.With("conn_id", id),
		status:    StatusDisconnected,
		subs:      make(map[string][]subscriber),
		afterFunc: time.AfterFunc,
	}
}

// ID returns the registry identity of this connection.
func (c *Conn) ID() string { return c.id }

// URL returns the endpoint this connection dials.
func (c *Conn) URL() string { return c.cfg.URL }

// Status returns the current lifecycle state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected reports whether a live socket is open.
func (c *Conn) IsConnected() bool {
	return c.Status() == StatusConnected
}

// Connect opens the socket. Idempotent if already connected. A dial that
// exceeds ConnectTimeout is cancelled and surfaces ErrConnectTimeout without
// leaving a half-open socket. On success the reconnect-attempt counter is
// reset and the heartbeat starts.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected || c.dialing {
		c.mu.Unlock()
		return nil
	}
	c.dialing = true
	c.manualClose = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	c.emitStatus(StatusEvent{Status: StatusConnecting, At: time.Now()})

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	sock, err := c.dialer.Dial(dctx, c.cfg.URL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrConnectTimeout
		}

		c.mu.Lock()
		c.dialing = false
		c.status = StatusDisconnected
		manual := c.manualClose
		c.mu.Unlock()

		c.logger.Warn("connect failed", "url", c.cfg.URL, "error", err)
		c.emitStatus(StatusEvent{Status: StatusError, At: time.Now(), Err: err})
		c.emitStatus(StatusEvent{Status: StatusDisconnected, At: time.Now()})

		if !manual {
			c.scheduleReconnect()
		}
		return err
	}

	c.mu.Lock()
	if c.manualClose {
		// Disconnect raced the dial; discard the fresh socket.
		c.dialing = false
		c.mu.Unlock()
		sock.Close()
		return ErrAlreadyClosed
	}
	c.dialing = false
	c.sock = sock
	c.status = StatusConnected
	c.attempts = 0
	c.gen++
	gen := c.gen
	c.lastTraffic = time.Now()
	var stop chan struct{}
	if c.cfg.HeartbeatInterval > 0 {
		stop = make(chan struct{})
		c.heartbeatStop = stop
	}
	c.mu.Unlock()

	// Emit connected before the read loop starts so an immediate read
	// failure cannot surface error/disconnected ahead of it.
	c.logger.Debug("connected", "url", c.cfg.URL)
	c.emitStatus(StatusEvent{Status: StatusConnected, At: time.Now()})

	go c.readLoop(gen, sock)
	if stop != nil {
		go c.heartbeatLoop(stop)
	}
	return nil
}

// Send marshals v and writes it to the socket. Best-effort: returns false,
// never an error, when the socket is not open or the write fails.
func (c *Conn) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Debug("send marshal failed", "error", err)
		return false
	}

	c.mu.Lock()
	sock := c.sock
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected || sock == nil {
		return false
	}
	if err := sock.WriteMessage(data); err != nil {
		c.logger.Debug("send failed", "error", err)
		return false
	}
	return true
}

// Subscribe registers a handler for a message-type tag. All handlers for a
// tag are invoked in registration order on every matching frame. The
// returned closure removes exactly this registration.
func (c *Conn) Subscribe(tag string, fn Handler) func() {
	id := uuid.New()

	c.mu.Lock()
	c.subs[tag] = append(c.subs[tag], subscriber{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		handlers := c.subs[tag]
		for i, s := range handlers {
			if s.id == id {
				c.subs[tag] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
		if len(c.subs[tag]) == 0 {
			delete(c.subs, tag)
		}
	}
}

// OnStatusChange registers a handler for status transitions.
func (c *Conn) OnStatusChange(fn StatusHandler) func() {
	id := uuid.New()

	c.mu.Lock()
	c.statusSubs = append(c.statusSubs, statusSubscriber{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.statusSubs {
			if s.id == id {
				c.statusSubs = append(c.statusSubs[:i:i], c.statusSubs[i+1:]...)
				break
			}
		}
	}
}

// Disconnect marks the connection manually closed, suppressing any further
// reconnects (an already-queued retry becomes a no-op), cancels timers,
// closes the socket, clears all subscriptions, and emits a final
// disconnected status.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.status = StatusDisconnected
	c.attempts = 0
	statusSubs := c.statusSubs
	c.subs = make(map[string][]subscriber)
	c.statusSubs = nil
	c.mu.Unlock()

	c.logger.Debug("disconnected")
	ev := StatusEvent{Status: StatusDisconnected, At: time.Now()}
	for _, s := range statusSubs {
		s.fn(ev)
	}
}

// readLoop reads frames until the socket fails, dispatching each to
// subscribers in arrival order.
func (c *Conn) readLoop(gen uint64, sock Socket) {
	for {
		data, err := sock.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			c.handleClosed(gen, err)
			return
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.lastTraffic = receivedAt
		c.mu.Unlock()

		c.dispatch(Frame{
			Type:       extractTag(data, c.cfg.TagField),
			Payload:    data,
			ReceivedAt: receivedAt,
		})
	}
}

// dispatch invokes tag-matched handlers, then TagAll handlers, in
// registration order.
func (c *Conn) dispatch(frame Frame) {
	c.mu.Lock()
	handlers := make([]subscriber, 0, len(c.subs[frame.Type])+len(c.subs[TagAll]))
	handlers = append(handlers, c.subs[frame.Type]...)
	if frame.Type != TagAll {
		handlers = append(handlers, c.subs[TagAll]...)
	}
	c.mu.Unlock()

	for _, s := range handlers {
		s.fn(frame)
	}
}

// handleClosed reacts to an unexpected socket closure: emits error and
// disconnected statuses, then enters the reconnect path.
func (c *Conn) handleClosed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.manualClose {
		// Stale read loop or a deliberate close already handled.
		c.mu.Unlock()
		return
	}
	c.gen++
	c.status = StatusDisconnected
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.mu.Unlock()

	c.logger.Warn("connection closed", "url", c.cfg.URL, "error", err)
	c.emitStatus(StatusEvent{Status: StatusError, At: time.Now(), Err: err})
	c.emitStatus(StatusEvent{Status: StatusDisconnected, At: time.Now()})

	c.scheduleReconnect()
}

// scheduleReconnect queues the next retry with exponential backoff:
// delay = ReconnectDelay × 2^(attempt-1). Retries stop once the attempt
// counter reaches MaxReconnectAttempts; the connection then rests in
// disconnected until Connect is called explicitly.
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		attempts := c.attempts
		c.mu.Unlock()
		c.logger.Error("max reconnect attempts reached", "attempts", attempts)
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.cfg.ReconnectDelay << (attempt - 1)

	c.reconnectTimer = c.afterFunc(delay, func() {
		c.mu.Lock()
		manual := c.manualClose
		c.mu.Unlock()
		if manual {
			return
		}
		// Connect logs and reschedules on failure.
		c.Connect(context.Background())
	})
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// heartbeatLoop sends a periodic ping while connected. When StaleTimeout is
// set it also forces a reconnect if no traffic has been observed, covering
// endpoints that die silently without signalling a close.
func (c *Conn) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Send(heartbeatMessage{Type: "ping", Timestamp: time.Now().UnixMilli()})

			if c.cfg.StaleTimeout <= 0 {
				continue
			}
			c.mu.Lock()
			stale := time.Since(c.lastTraffic) > c.cfg.StaleTimeout
			sock := c.sock
			c.mu.Unlock()

			if stale && sock != nil {
				c.logger.Warn("no traffic within stale timeout, forcing reconnect",
					"stale_timeout", c.cfg.StaleTimeout,
				)
				// The read loop surfaces the close and reconnects.
				sock.Close()
			}
		}
	}
}

// emitStatus delivers a status event to all registered handlers.
func (c *Conn) emitStatus(ev StatusEvent) {
	c.mu.Lock()
	handlers := make([]statusSubscriber, len(c.statusSubs))
	copy(handlers, c.statusSubs)
	c.mu.Unlock()

	for _, s := range handlers {
		s.fn(ev)
	}
}

// extractTag pulls the message-type tag out of a raw frame. Frames without
// the tag field (or non-object frames) yield an empty tag and reach only
// TagAll subscribers.
func extractTag(data []byte, field string) string {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ""
	}
	raw, ok := envelope[field]
	if !ok {
		return ""
	}
	var tag string
	if err := json.Unmarshal(raw, &tag); err != nil {
		return ""
	}
	return tag
}
