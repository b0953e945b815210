package model

import "time"

// -----------------------------------------------------------------------------
// Intervals
// -----------------------------------------------------------------------------

// Interval is a candle bucket width (exchange kline notation).
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// intervalDurations maps interval notation to wall-clock duration.
var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
}

// Duration returns the interval's wall-clock duration.
// Unknown intervals default to one hour.
func (i Interval) Duration() time.Duration {
	if d, ok := intervalDurations[i]; ok {
		return d
	}
	return time.Hour
}

// Millis returns the interval width in milliseconds.
func (i Interval) Millis() int64 {
	return i.Duration().Milliseconds()
}

// Minutes returns the interval width in whole minutes.
func (i Interval) Minutes() int {
	return int(i.Duration() / time.Minute)
}

// Valid reports whether the interval is one of the supported notations.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// BucketStart returns the start of the bucket containing ts (ms since epoch).
// A timestamp exactly on a bucket boundary belongs to the bucket it starts.
func (i Interval) BucketStart(ts int64) int64 {
	w := i.Millis()
	return (ts / w) * w
}

// -----------------------------------------------------------------------------
// Ticks
// -----------------------------------------------------------------------------

// TickSource labels where a price sample came from, so merge logic can
// decide precedence.
type TickSource string

const (
	SourceHistorical TickSource = "historical"
	SourceRealtime   TickSource = "realtime"
)

// Tick is a single normalized price sample.
type Tick struct {
	Symbol    string     // Logical symbol (e.g., "ETH/USD")
	Price     float64    // Last trade or quote price
	Timestamp int64      // Sample time (ms since epoch)
	Source    TickSource // historical or realtime

	// 24h rollup stats, populated when the provider's wire format carries
	// them (zero otherwise).
	Volume24h float64
	High24h   float64
	Low24h    float64
	Change24h float64
}

// -----------------------------------------------------------------------------
// Candles
// -----------------------------------------------------------------------------

// Candle is an OHLCV aggregate for one time bucket.
type Candle struct {
	BucketStart int64   // Bucket start (ms since epoch)
	Open        float64 // First price in bucket
	High        float64 // Highest price in bucket
	Low         float64 // Lowest price in bucket
	Close       float64 // Last price in bucket
	Volume      float64 // Traded volume (proxy count for tick-derived candles)
}

// Valid reports whether the candle satisfies low ≤ open,close ≤ high.
func (c Candle) Valid() bool {
	if c.Low > c.Open || c.Low > c.Close {
		return false
	}
	if c.High < c.Open || c.High < c.Close {
		return false
	}
	return c.Low <= c.High
}
