package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bethna/marketfeed/internal/catalog"
	"github.com/bethna/marketfeed/internal/model"
	"github.com/bethna/marketfeed/internal/provider"
)

// staticProvider returns a fixed series for every request.
type staticProvider struct {
	candles []model.Candle
	err     error
}

func (p *staticProvider) Name() string { return "static" }

func (p *staticProvider) Candles(_ context.Context, _ string, _ model.Interval, _ int) ([]model.Candle, error) {
	if p.err != nil {
		return nil, p.err
	}
	return model.CloneCandles(p.candles), nil
}

// timerRecorder captures scheduled timers instead of running them, so
// debounce and idle behavior can be driven deterministically.
type timerRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (r *timerRecorder) afterFunc(d time.Duration, fn func()) *time.Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	r.fns = append(r.fns, fn)
	return time.NewTimer(time.Hour)
}

func (r *timerRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fns)
}

func (r *timerRecorder) delay(i int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delays[i]
}

func (r *timerRecorder) fire(i int) {
	r.mu.Lock()
	fn := r.fns[i]
	r.mu.Unlock()
	fn()
}

// streamCounter stubs out exchange connections.
type streamCounter struct {
	opened atomic.Int64
	closed atomic.Int64
}

func (s *streamCounter) open(context.Context, string) func() {
	s.opened.Add(1)
	return func() { s.closed.Add(1) }
}

func histCandles() []model.Candle {
	// One 1m candle covering bucket 60000.
	return []model.Candle{
		{BucketStart: 60_000, Open: 50, High: 53, Low: 49, Close: 51, Volume: 500},
	}
}

func newTestReconciler(t *testing.T, prov provider.Provider, opts Options) (*Reconciler, *streamCounter, *timerRecorder) {
	t.Helper()

	fetcher := provider.NewFetcher([]provider.Provider{prov})
	r := New(fetcher, nil, catalog.Entry{Exchange: "test"}, nil, opts)

	streams := &streamCounter{}
	timers := &timerRecorder{}
	r.openStream = streams.open
	r.afterFunc = timers.afterFunc
	return r, streams, timers
}

func TestReconciler_GetSeriesHistoricalOnly(t *testing.T) {
	r, streams, _ := newTestReconciler(t, &staticProvider{candles: histCandles()}, Options{})

	series := r.GetSeries(context.Background(), "ETH/USD", model.Interval1m, 10, false)

	if len(series.Candles) != 1 || series.Candles[0].BucketStart != 60_000 {
		t.Fatalf("Candles = %+v, want the single historical candle", series.Candles)
	}
	if series.Source != "static" || series.Synthetic {
		t.Errorf("Source/Synthetic = %q/%v, want static/false", series.Source, series.Synthetic)
	}
	if streams.opened.Load() != 0 {
		t.Errorf("streams opened = %d, want 0 for a non-live request", streams.opened.Load())
	}
}

func TestReconciler_GetSeriesLiveMergesTicks(t *testing.T) {
	r, streams, _ := newTestReconciler(t, &staticProvider{candles: histCandles()}, Options{})

	// Ticks after the historical window land in the next 1m bucket.
	r.IngestTick("ETH/USD", tick(130_000, 52))
	r.IngestTick("ETH/USD", tick(150_000, 55))

	series := r.GetSeries(context.Background(), "ETH/USD", model.Interval1m, 10, true)

	if len(series.Candles) != 2 {
		t.Fatalf("len(Candles) = %d, want 2", len(series.Candles))
	}
	live := series.Candles[1]
	if live.BucketStart != 120_000 {
		t.Errorf("live BucketStart = %d, want 120000", live.BucketStart)
	}
	if live.Open != 52 || live.High != 55 || live.Close != 55 {
		t.Errorf("live OHC = %v/%v/%v, want 52/55/55", live.Open, live.High, live.Close)
	}
	if series.LiveTicks != 2 {
		t.Errorf("LiveTicks = %d, want 2", series.LiveTicks)
	}
	if streams.opened.Load() != 1 {
		t.Errorf("streams opened = %d, want 1", streams.opened.Load())
	}
}

func TestReconciler_StreamOpenedOncePerSymbol(t *testing.T) {
	r, streams, _ := newTestReconciler(t, &staticProvider{candles: histCandles()}, Options{})

	stop1 := r.Watch(context.Background(), "ETH/USD", model.Interval1m, 10, func(Series) {})
	stop2 := r.Watch(context.Background(), "ETH/USD", model.Interval1m, 10, func(Series) {})
	defer stop1()
	defer stop2()

	r.GetSeries(context.Background(), "ETH/USD", model.Interval1m, 10, true)

	if streams.opened.Load() != 1 {
		t.Errorf("streams opened = %d, want 1 shared stream", streams.opened.Load())
	}
}

func TestReconciler_WatchDebouncesRebuilds(t *testing.T) {
	r, _, timers := newTestReconciler(t, &staticProvider{candles: histCandles()}, Options{})

	var mu sync.Mutex
	var got []Series
	stop := r.Watch(context.Background(), "ETH/USD", model.Interval1m, 10, func(s Series) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	defer stop()

	mu.Lock()
	if len(got) != 1 {
		t.Fatalf("initial deliveries = %d, want 1", len(got))
	}
	mu.Unlock()

	// A burst of ticks schedules exactly one debounce timer.
	r.IngestTick("ETH/USD", tick(130_000, 52))
	r.IngestTick("ETH/USD", tick(140_000, 53))
	r.IngestTick("ETH/USD", tick(150_000, 55))

	if timers.count() != 1 {
		t.Fatalf("timers scheduled = %d, want 1", timers.count())
	}
	if timers.delay(0) != DefaultDebounce {
		t.Errorf("debounce delay = %v, want %v", timers.delay(0), DefaultDebounce)
	}

	timers.fire(0)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("deliveries after debounce = %d, want 2", len(got))
	}
	final := got[1]
	if final.LiveTicks != 3 {
		t.Errorf("LiveTicks = %d, want 3", final.LiveTicks)
	}
	if len(final.Candles) != 2 || final.Candles[1].Close != 55 {
		t.Errorf("merged series = %+v, want 2 candles closing at 55", final.Candles)
	}
}

// flakyProvider fails every request until recover is called.
type flakyProvider struct {
	mu      sync.Mutex
	up      bool
	candles []model.Candle
}

func (p *flakyProvider) Name() string { return "flaky" }

func (p *flakyProvider) Candles(_ context.Context, _ string, _ model.Interval, _ int) ([]model.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.up {
		return nil, context.DeadlineExceeded
	}
	return model.CloneCandles(p.candles), nil
}

func (p *flakyProvider) recover() {
	p.mu.Lock()
	p.up = true
	p.mu.Unlock()
}

func TestReconciler_RebuildPicksUpProviderRecovery(t *testing.T) {
	prov := &flakyProvider{candles: histCandles()}
	r, _, timers := newTestReconciler(t, prov, Options{})

	var mu sync.Mutex
	var got []Series
	stop := r.Watch(context.Background(), "ETH/USD", model.Interval1m, 10, func(s Series) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	defer stop()

	mu.Lock()
	if len(got) != 1 || !got[0].Synthetic {
		t.Fatalf("initial delivery = %+v, want one synthetic series while the provider is down", got)
	}
	mu.Unlock()

	// Provider comes back; the next debounced rebuild must re-fetch the
	// historical base and reconcile the buffered ticks over it.
	prov.recover()
	r.IngestTick("ETH/USD", tick(130_000, 52))
	timers.fire(0)

	mu.Lock()
	defer mu.Unlock()
	final := got[len(got)-1]
	if final.Synthetic {
		t.Fatal("series still synthetic after provider recovery")
	}
	if final.Source != "flaky" {
		t.Errorf("Source = %q, want flaky", final.Source)
	}
	if len(final.Candles) != 2 {
		t.Fatalf("len(Candles) = %d, want historical candle plus live candle", len(final.Candles))
	}
	if final.Candles[0].BucketStart != 60_000 || final.Candles[1].BucketStart != 120_000 {
		t.Errorf("buckets = %d, %d; want 60000, 120000",
			final.Candles[0].BucketStart, final.Candles[1].BucketStart)
	}
	if final.Candles[1].Close != 52 {
		t.Errorf("live Close = %v, want 52", final.Candles[1].Close)
	}
}

func TestReconciler_HistoricalBaseImmutable(t *testing.T) {
	hist := histCandles()
	r, _, timers := newTestReconciler(t, &staticProvider{candles: hist}, Options{})

	var mu sync.Mutex
	var last Series
	stop := r.Watch(context.Background(), "ETH/USD", model.Interval1m, 10, func(s Series) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	defer stop()

	// A tick inside the last historical bucket extends it but must not
	// rewrite the historical open.
	r.IngestTick("ETH/USD", tick(119_000, 99))
	timers.fire(0)

	mu.Lock()
	defer mu.Unlock()
	if len(last.Candles) != 1 {
		t.Fatalf("len(Candles) = %d, want 1", len(last.Candles))
	}
	c := last.Candles[0]
	if c.Open != 50 {
		t.Errorf("Open = %v, want historical open 50", c.Open)
	}
	if c.High != 99 || c.Close != 99 {
		t.Errorf("High/Close = %v/%v, want 99/99", c.High, c.Close)
	}
}

func TestReconciler_IdleTeardownAfterGrace(t *testing.T) {
	r, streams, timers := newTestReconciler(t, &staticProvider{candles: histCandles()}, Options{})

	stop := r.Watch(context.Background(), "ETH/USD", model.Interval1m, 10, func(Series) {})
	stop()

	if timers.count() != 1 {
		t.Fatalf("timers scheduled = %d, want 1 idle timer", timers.count())
	}
	if timers.delay(0) != DefaultIdleGrace {
		t.Errorf("idle delay = %v, want %v", timers.delay(0), DefaultIdleGrace)
	}
	if streams.closed.Load() != 0 {
		t.Fatal("stream closed before the grace period")
	}

	timers.fire(0)
	if streams.closed.Load() != 1 {
		t.Errorf("streams closed = %d, want 1 after grace", streams.closed.Load())
	}
}

func TestReconciler_ResubscribeCancelsIdleTeardown(t *testing.T) {
	r, streams, timers := newTestReconciler(t, &staticProvider{candles: histCandles()}, Options{})

	stop := r.Watch(context.Background(), "ETH/USD", model.Interval1m, 10, func(Series) {})
	stop()

	stop2 := r.Watch(context.Background(), "ETH/USD", model.Interval1m, 10, func(Series) {})
	defer stop2()

	// The idle timer was stopped; even if its callback runs, the stream
	// stays up because a subscriber is present again.
	timers.fire(0)

	if streams.closed.Load() != 0 {
		t.Errorf("streams closed = %d, want 0 after resubscribe", streams.closed.Load())
	}
	if streams.opened.Load() != 1 {
		t.Errorf("streams opened = %d, want 1 (reused)", streams.opened.Load())
	}
}

func TestReconciler_BufferBounded(t *testing.T) {
	r, _, _ := newTestReconciler(t, &staticProvider{candles: histCandles()}, Options{BufferSize: 5})

	for i := int64(0); i < 10; i++ {
		r.IngestTick("ETH/USD", tick(130_000+i*1000, 52))
	}

	series := r.GetSeries(context.Background(), "ETH/USD", model.Interval1m, 10, true)
	if series.LiveTicks != 5 {
		t.Errorf("LiveTicks = %d, want 5 (bounded buffer)", series.LiveTicks)
	}
}

func TestReconciler_SubscribeTicksFanout(t *testing.T) {
	r, _, _ := newTestReconciler(t, &staticProvider{candles: histCandles()}, Options{})

	var mu sync.Mutex
	var got []model.Tick
	unsub := r.SubscribeTicks(context.Background(), "ETH/USD", func(t model.Tick) {
		mu.Lock()
		got = append(got, t)
		mu.Unlock()
	})

	r.IngestTick("ETH/USD", tick(130_000, 52))
	unsub()
	r.IngestTick("ETH/USD", tick(140_000, 53))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Price != 52 {
		t.Errorf("received %+v, want the single pre-unsubscribe tick", got)
	}
}

func TestReconciler_SyntheticFallbackStillBuffers(t *testing.T) {
	failing := &staticProvider{err: context.DeadlineExceeded}
	r, _, _ := newTestReconciler(t, failing, Options{})

	r.IngestTick("ETH/USD", tick(time.Now().UnixMilli(), 52))
	series := r.GetSeries(context.Background(), "ETH/USD", model.Interval1m, 10, true)

	if !series.Synthetic {
		t.Error("Synthetic = false, want true when the provider chain fails")
	}
	if series.LiveTicks != 1 {
		t.Errorf("LiveTicks = %d, want 1: tick buffering must survive fetch failure", series.LiveTicks)
	}
}

func TestReconciler_CloseTearsDownStreams(t *testing.T) {
	r, streams, _ := newTestReconciler(t, &staticProvider{candles: histCandles()}, Options{})

	r.Watch(context.Background(), "ETH/USD", model.Interval1m, 10, func(Series) {})
	r.Watch(context.Background(), "BTC/USD", model.Interval1m, 10, func(Series) {})

	r.Close()

	if streams.closed.Load() != 2 {
		t.Errorf("streams closed = %d, want 2", streams.closed.Load())
	}
}
