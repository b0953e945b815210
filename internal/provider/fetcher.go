package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bethna/marketfeed/internal/model"
)

// DefaultCacheTTL bounds how stale a cached series may be before a refetch.
const DefaultCacheTTL = 5 * time.Minute

// Result is a fetched historical series plus where it came from.
type Result struct {
	Candles []model.Candle
	// Source is the name of the provider that produced the series.
	Source string
	// Synthetic is true when every real provider failed and the series
	// was generated locally.
	Synthetic bool
}

type cacheEntry struct {
	result    Result
	fetchedAt time.Time
}

// Fetcher resolves historical candles through an ordered provider chain,
// falling back to a synthetic series when every provider fails. Results from
// real providers are cached; a cached series is reused while its last candle
// is younger than the TTL. Concurrent fetches for the same key are collapsed
// into one upstream call.
type Fetcher struct {
	providers []Provider
	synth     *Synthetic
	ttl       time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	group singleflight.Group

	now func() time.Time
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithCacheTTL overrides the cache freshness window.
func WithCacheTTL(ttl time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.ttl = ttl
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a fetcher over the given provider chain, tried in order.
func NewFetcher(providers []Provider, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		providers: providers,
		synth:     NewSynthetic(),
		ttl:       DefaultCacheTTL,
		logger:    slog.Default(),
		cache:     make(map[string]cacheEntry),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns a historical series for the symbol. It never returns an
// error: when the whole provider chain fails it degrades to a synthetic
// series, which is not cached so real providers are retried on the next call.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, interval model.Interval, limit int) Result {
	key := fmt.Sprintf("%s-%s-%d", symbol, interval, limit)

	f.mu.Lock()
	if entry, ok := f.cache[key]; ok && f.fresh(entry) {
		f.mu.Unlock()
		return entry.result
	}
	f.mu.Unlock()

	v, _, _ := f.group.Do(key, func() (any, error) {
		// Re-check under the flight: another caller may have populated
		// the cache while this one waited for the lock.
		f.mu.Lock()
		if entry, ok := f.cache[key]; ok && f.fresh(entry) {
			f.mu.Unlock()
			return entry.result, nil
		}
		f.mu.Unlock()

		result := f.fetchChain(ctx, symbol, interval, limit)
		if !result.Synthetic {
			f.mu.Lock()
			f.cache[key] = cacheEntry{result: result, fetchedAt: f.now()}
			f.mu.Unlock()
		}
		return result, nil
	})
	return v.(Result)
}

// Invalidate drops any cached series for the key.
func (f *Fetcher) Invalidate(symbol string, interval model.Interval, limit int) {
	key := fmt.Sprintf("%s-%s-%d", symbol, interval, limit)
	f.mu.Lock()
	delete(f.cache, key)
	f.mu.Unlock()
}

func (f *Fetcher) fetchChain(ctx context.Context, symbol string, interval model.Interval, limit int) Result {
	for _, p := range f.providers {
		candles, err := p.Candles(ctx, symbol, interval, limit)
		if err != nil {
			f.logger.Warn("historical provider failed",
				"provider", p.Name(),
				"symbol", symbol,
				"interval", interval,
				"error", err,
			)
			continue
		}
		if len(candles) == 0 {
			f.logger.Warn("historical provider returned no candles",
				"provider", p.Name(),
				"symbol", symbol,
				"interval", interval,
			)
			continue
		}
		model.SortCandles(candles)
		return Result{Candles: candles, Source: p.Name()}
	}

	f.logger.Warn("all historical providers failed, generating synthetic series",
		"symbol", symbol,
		"interval", interval,
		"limit", limit,
	)
	return Result{
		Candles:   f.synth.Candles(symbol, interval, limit),
		Source:    f.synth.Name(),
		Synthetic: true,
	}
}

// fresh reports whether the cached series still covers the present: the last
// candle's bucket must have started within the TTL.
func (f *Fetcher) fresh(entry cacheEntry) bool {
	candles := entry.result.Candles
	if len(candles) == 0 {
		return false
	}
	last := candles[len(candles)-1]
	return f.now().UnixMilli()-last.BucketStart < f.ttl.Milliseconds()
}
