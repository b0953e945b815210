// Package reconcile joins historical candle series with live tick streams
// into one coherent, ordered view per symbol. Historical candles are
// immutable once fetched; realtime ticks extend the series from the last
// historical bucket forward. Watchers are notified on a debounce so tick
// bursts coalesce into one rebuild.
package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bethna/marketfeed/internal/catalog"
	"github.com/bethna/marketfeed/internal/connection"
	"github.com/bethna/marketfeed/internal/model"
	"github.com/bethna/marketfeed/internal/provider"
)

const (
	// DefaultBufferSize bounds the per-symbol realtime tick ring.
	DefaultBufferSize = 1000

	// DefaultDebounce coalesces tick bursts into one watcher rebuild.
	DefaultDebounce = 100 * time.Millisecond

	// DefaultIdleGrace keeps a stream alive briefly after its last
	// subscriber leaves, so quick resubscribes reuse the connection.
	DefaultIdleGrace = 30 * time.Second
)

// Series is a reconciled candle view for one symbol.
type Series struct {
	Symbol   string
	Interval model.Interval
	Candles  []model.Candle

	// Source names the provider that supplied the historical base.
	Source string
	// Synthetic is true when the historical base was generated locally.
	Synthetic bool
	// LiveTicks counts the buffered realtime ticks behind this view.
	LiveTicks int
}

// Options tunes a Reconciler. Zero values take the package defaults.
type Options struct {
	BufferSize int
	Debounce   time.Duration
	IdleGrace  time.Duration

	// Connection templates the per-symbol connection settings. URL and
	// TagField are filled from the catalog entry.
	Connection connection.Config
}

func (o *Options) applyDefaults() {
	if o.BufferSize == 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Debounce == 0 {
		o.Debounce = DefaultDebounce
	}
	if o.IdleGrace == 0 {
		o.IdleGrace = DefaultIdleGrace
	}
	if o.Connection == (connection.Config{}) {
		o.Connection = connection.DefaultConfig("")
	}
}

type watcher struct {
	interval model.Interval
	limit    int
	fn       func(Series)
}

// state is the per-symbol reconciliation state. Guarded by Reconciler.mu
// except for the tick buffer, which has its own lock.
type state struct {
	buf        *tickBuffer
	tickSubs   map[uuid.UUID]func(model.Tick)
	watchers   map[uuid.UUID]*watcher
	stopStream func()
	debounce   *time.Timer
	idle       *time.Timer
}

func (s *state) empty() bool {
	return len(s.tickSubs) == 0 && len(s.watchers) == 0
}

// Reconciler owns the per-symbol streams, tick buffers, and watcher fan-out.
type Reconciler struct {
	fetcher  *provider.Fetcher
	registry *connection.Registry
	entry    catalog.Entry
	logger   *slog.Logger
	opts     Options

	mu      sync.Mutex
	streams map[string]*state
	closed  bool

	// openStream starts the realtime feed for a symbol and returns its
	// teardown. Swapped out in tests.
	openStream func(ctx context.Context, symbol string) func()

	// afterFunc schedules debounce and idle timers. Swapped out in tests.
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// New creates a Reconciler streaming through the given exchange entry.
func New(fetcher *provider.Fetcher, registry *connection.Registry, entry catalog.Entry, logger *slog.Logger, opts Options) *Reconciler {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reconciler{
		fetcher:   fetcher,
		registry:  registry,
		entry:     entry,
		logger:    logger,
		opts:      opts,
		streams:   make(map[string]*state),
		afterFunc: time.AfterFunc,
	}
	r.openStream = r.openExchangeStream
	return r
}

// GetSeries returns the reconciled series for a symbol. With live set, the
// symbol's realtime stream is started (if not already) and buffered ticks
// are merged over the historical base; otherwise the historical series is
// returned as fetched. It never fails: the fetcher degrades to a synthetic
// base when every provider is down.
func (r *Reconciler) GetSeries(ctx context.Context, symbol string, interval model.Interval, limit int, live bool) Series {
	hist := r.fetcher.Fetch(ctx, symbol, interval, limit)

	if !live {
		return Series{
			Symbol:    symbol,
			Interval:  interval,
			Candles:   hist.Candles,
			Source:    hist.Source,
			Synthetic: hist.Synthetic,
		}
	}

	r.mu.Lock()
	st := r.ensureState(ctx, symbol)
	r.mu.Unlock()

	ticks := st.buf.Snapshot()
	return buildSeries(symbol, interval, limit, hist, ticks)
}

// Watch fetches the historical base, starts the symbol's stream, and calls
// fn with the reconciled series now and again after each debounced tick
// batch. The returned func cancels the watch; when the last subscriber for
// a symbol leaves, its stream is torn down after a grace period.
func (r *Reconciler) Watch(ctx context.Context, symbol string, interval model.Interval, limit int, fn func(Series)) func() {
	hist := r.fetcher.Fetch(ctx, symbol, interval, limit)
	w := &watcher{interval: interval, limit: limit, fn: fn}

	r.mu.Lock()
	st := r.ensureState(ctx, symbol)
	id := uuid.New()
	st.watchers[id] = w
	r.mu.Unlock()

	fn(buildSeries(symbol, interval, limit, hist, st.buf.Snapshot()))

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(st.watchers, id)
			r.maybeIdle(symbol, st)
		})
	}
}

// SubscribeTicks delivers every buffered tick for the symbol to fn as it
// arrives, starting the stream if needed. The returned func unsubscribes.
func (r *Reconciler) SubscribeTicks(ctx context.Context, symbol string, fn func(model.Tick)) func() {
	r.mu.Lock()
	st := r.ensureState(ctx, symbol)
	id := uuid.New()
	st.tickSubs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(st.tickSubs, id)
			r.maybeIdle(symbol, st)
		})
	}
}

// IngestTick buffers one realtime tick, fans it out to tick subscribers,
// and schedules a debounced watcher rebuild. Ticks are accepted even when
// no stream is open for the symbol.
func (r *Reconciler) IngestTick(symbol string, tick model.Tick) {
	r.mu.Lock()
	st, ok := r.streams[symbol]
	if !ok {
		st = r.newState()
		r.streams[symbol] = st
	}
	st.buf.Append(tick)

	subs := make([]func(model.Tick), 0, len(st.tickSubs))
	for _, fn := range st.tickSubs {
		subs = append(subs, fn)
	}

	if st.debounce == nil && len(st.watchers) > 0 {
		st.debounce = r.afterFunc(r.opts.Debounce, func() {
			r.rebuild(symbol)
		})
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(tick)
	}
}

// Close tears down every stream and drops all state.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true

	for symbol, st := range r.streams {
		if st.debounce != nil {
			st.debounce.Stop()
		}
		if st.idle != nil {
			st.idle.Stop()
		}
		if st.stopStream != nil {
			st.stopStream()
		}
		delete(r.streams, symbol)
	}
}

// rebuild recomputes every watcher's series from the current buffer and
// notifies them. The historical base is re-fetched each time: the cache
// absorbs the cost while fresh, and a provider that was down when the watch
// began is retried here, so recovery reconciles everything buffered so far.
// Fetches and watcher callbacks run outside the lock.
func (r *Reconciler) rebuild(symbol string) {
	r.mu.Lock()
	st, ok := r.streams[symbol]
	if !ok {
		r.mu.Unlock()
		return
	}
	st.debounce = nil

	ticks := st.buf.Snapshot()
	watchers := make([]*watcher, 0, len(st.watchers))
	for _, w := range st.watchers {
		watchers = append(watchers, w)
	}
	r.mu.Unlock()

	for _, w := range watchers {
		hist := r.fetcher.Fetch(context.Background(), symbol, w.interval, w.limit)
		w.fn(buildSeries(symbol, w.interval, w.limit, hist, ticks))
	}
}

// ensureState returns the symbol's state, creating it and opening its
// realtime stream on first use. Caller holds r.mu.
func (r *Reconciler) ensureState(ctx context.Context, symbol string) *state {
	st, ok := r.streams[symbol]
	if !ok {
		st = r.newState()
		r.streams[symbol] = st
	}
	if st.idle != nil {
		st.idle.Stop()
		st.idle = nil
	}
	if st.stopStream == nil && !r.closed {
		st.stopStream = r.openStream(ctx, symbol)
	}
	return st
}

func (r *Reconciler) newState() *state {
	return &state{
		buf:      newTickBuffer(r.opts.BufferSize),
		tickSubs: make(map[uuid.UUID]func(model.Tick)),
		watchers: make(map[uuid.UUID]*watcher),
	}
}

// maybeIdle schedules stream teardown once the last subscriber leaves.
// Caller holds r.mu.
func (r *Reconciler) maybeIdle(symbol string, st *state) {
	if !st.empty() || st.idle != nil || st.stopStream == nil {
		return
	}
	st.idle = r.afterFunc(r.opts.IdleGrace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		cur, ok := r.streams[symbol]
		if !ok || cur != st || !st.empty() {
			return
		}
		if st.stopStream != nil {
			st.stopStream()
			st.stopStream = nil
		}
		if st.debounce != nil {
			st.debounce.Stop()
		}
		delete(r.streams, symbol)
		r.logger.Debug("stream idle, torn down", "symbol", symbol)
	})
}

// openExchangeStream creates the symbol's connection from the catalog
// entry, wires frame parsing into the tick buffer, and re-sends the
// subscribe payload on every (re)connect.
func (r *Reconciler) openExchangeStream(ctx context.Context, symbol string) func() {
	entry := r.entry
	connID := entry.Exchange + "-" + strings.ToLower(strings.ReplaceAll(symbol, "/", "-"))

	cfg := r.opts.Connection
	cfg.URL = entry.URL(symbol)
	cfg.TagField = entry.TagField

	conn, err := r.registry.Create(connID, cfg)
	if err != nil {
		// Duplicate id means a stream for this symbol already exists.
		r.logger.Warn("stream connection not created", "id", connID, "error", err)
		return func() {}
	}

	unsubFrames := conn.Subscribe(entry.Channel, func(frame connection.Frame) {
		tick, ok := entry.Parse(symbol, frame.Payload, frame.ReceivedAt)
		if !ok {
			return
		}
		r.IngestTick(symbol, tick)
	})

	var unsubStatus func()
	if entry.SubscribeMessage != nil {
		unsubStatus = conn.OnStatusChange(func(ev connection.StatusEvent) {
			if ev.Status == connection.StatusConnected {
				conn.Send(entry.SubscribeMessage(symbol))
			}
		})
	}

	if err := conn.Connect(ctx); err != nil {
		// Reconnect scheduling is the connection's job; just record it.
		r.logger.Warn("initial connect failed", "id", connID, "error", err)
	}

	return func() {
		unsubFrames()
		if unsubStatus != nil {
			unsubStatus()
		}
		r.registry.Remove(connID)
	}
}

// buildSeries merges buffered ticks over the historical base. Ticks at or
// before the last historical bucket are discarded; the rest are grouped
// into candles and overlaid.
func buildSeries(symbol string, interval model.Interval, limit int, hist provider.Result, ticks []model.Tick) Series {
	var afterTS int64
	if n := len(hist.Candles); n > 0 {
		afterTS = hist.Candles[n-1].BucketStart
	}

	realtime := groupTicks(ticks, interval, afterTS)
	return Series{
		Symbol:    symbol,
		Interval:  interval,
		Candles:   mergeCandles(hist.Candles, realtime, limit),
		Source:    hist.Source,
		Synthetic: hist.Synthetic,
		LiveTicks: len(ticks),
	}
}
