package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry creates, looks up, and tears down named connections. It is the
// single owner of the id → Conn map; no other component creates or removes
// connections.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		conns:  make(map[string]*Conn),
	}
}

// Create registers a new connection under id. Returns ErrDuplicateID if the
// id is already taken; duplicate ids are a programming error and are never
// silently swallowed.
func (r *Registry) Create(id string, cfg Config) (*Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}

	conn := NewConn(id, cfg, r.logger)
	r.conns[id] = conn

	r.logger.Debug("connection created", "conn_id", id, "url", cfg.URL)
	return conn, nil
}

// Get returns the connection registered under id, if any.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Remove disconnects and discards the connection under id. Safe to call for
// an unknown id (idempotent no-op).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if ok {
		conn.Disconnect()
		r.logger.Debug("connection removed", "conn_id", id)
	}
}

// ConnectAll dials every registered connection. Best-effort settle-all:
// every connection is attempted, individual failures are logged and do not
// abort the batch; the first failure (if any) is returned.
func (r *Registry) ConnectAll(ctx context.Context) error {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, conn := range conns {
		g.Go(func() error {
			if err := conn.Connect(ctx); err != nil {
				r.logger.Warn("connect failed", "conn_id", conn.ID(), "error", err)
				return fmt.Errorf("connect %s: %w", conn.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// DisconnectAll disconnects and discards every connection.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Disconnect()
	}
	r.logger.Debug("all connections disconnected", "count", len(conns))
}

// StatusSnapshot reports, per id, whether the connection is currently open.
func (r *Registry) StatusSnapshot() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[string]bool, len(r.conns))
	for id, conn := range r.conns {
		status[id] = conn.IsConnected()
	}
	return status
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
