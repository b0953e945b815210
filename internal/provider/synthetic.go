package provider

import (
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/bethna/marketfeed/internal/model"
)

// basePrices seed the synthetic walk at a plausible level per asset.
var basePrices = map[string]float64{
	"btc": 65000,
	"eth": 3200,
	"sol": 100,
}

const defaultBasePrice = 100

// Synthetic generates a deterministic random-walk series for a symbol. It is
// the terminal fallback when every real provider fails, so chart consumers
// always have something to render. The walk is seeded from the symbol, so
// repeated calls for the same symbol and window produce the same shape.
type Synthetic struct {
	now func() time.Time
}

// NewSynthetic creates the fallback generator.
func NewSynthetic() *Synthetic {
	return &Synthetic{now: time.Now}
}

func (s *Synthetic) Name() string { return "synthetic" }

// Candles produces limit candles ending at the current interval bucket.
// It never fails.
func (s *Synthetic) Candles(symbol string, interval model.Interval, limit int) []model.Candle {
	if limit <= 0 {
		return nil
	}

	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(symbol)))
	rng := rand.New(rand.NewPCG(h.Sum64(), 0x9e3779b97f4a7c15))

	price := basePrice(symbol)
	step := interval.Millis()
	end := interval.BucketStart(s.now().UnixMilli())
	start := end - int64(limit-1)*step

	candles := make([]model.Candle, 0, limit)
	for ts := start; ts <= end; ts += step {
		// Drift each bucket within ±1% of the running price.
		drift := (rng.Float64() - 0.5) * 0.02 * price
		open := price
		close := price + drift
		high := open
		low := open
		if close > high {
			high = close
		}
		if close < low {
			low = close
		}
		// Wicks extend beyond the body by up to 0.5%.
		high += rng.Float64() * 0.005 * price
		low -= rng.Float64() * 0.005 * price

		candles = append(candles, model.Candle{
			BucketStart: ts,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       close,
			Volume:      rng.Float64() * 1000,
		})
		price = close
	}
	return candles
}

func basePrice(symbol string) float64 {
	base := strings.ToLower(symbol)
	if i := strings.Index(base, "/"); i >= 0 {
		base = base[:i]
	}
	if p, ok := basePrices[base]; ok {
		return p
	}
	return defaultBasePrice
}
