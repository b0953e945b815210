package reconcile

import (
	"log/slog"

	"github.com/bethna/marketfeed/internal/model"
)

// tickVolumeProxy stands in for per-tick trade volume, which ticker feeds do
// not carry. Each tick contributes this much to its candle's volume.
const tickVolumeProxy = 100

// groupTicks buckets realtime ticks into candles at the given interval.
// Ticks at or before afterTS are discarded: they are already represented by
// the historical series. Output is ordered by bucket start.
func groupTicks(ticks []model.Tick, interval model.Interval, afterTS int64) []model.Candle {
	var candles []model.Candle
	index := make(map[int64]int)

	for _, t := range ticks {
		if t.Timestamp <= afterTS {
			continue
		}
		bucket := interval.BucketStart(t.Timestamp)

		i, ok := index[bucket]
		if !ok {
			index[bucket] = len(candles)
			candles = append(candles, model.Candle{
				BucketStart: bucket,
				Open:        t.Price,
				High:        t.Price,
				Low:         t.Price,
				Close:       t.Price,
				Volume:      tickVolumeProxy,
			})
			continue
		}

		c := &candles[i]
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Close = t.Price
		c.Volume += tickVolumeProxy
	}

	model.SortCandles(candles)
	return candles
}

// mergeCandles overlays realtime candles onto the historical series. A
// realtime candle sharing a bucket with a historical one extends that
// candle in place: high/low widen, close is overwritten, volume adds. The
// historical open survives. Distinct buckets append. The result is ordered
// and trimmed to the most recent limit candles.
func mergeCandles(historical, realtime []model.Candle, limit int) []model.Candle {
	merged := model.CloneCandles(historical)
	index := make(map[int64]int, len(merged))
	for i, c := range merged {
		index[c.BucketStart] = i
	}

	for _, rt := range realtime {
		i, ok := index[rt.BucketStart]
		if !ok {
			index[rt.BucketStart] = len(merged)
			merged = append(merged, rt)
			continue
		}

		c := &merged[i]
		if rt.High > c.High {
			c.High = rt.High
		}
		if rt.Low < c.Low {
			c.Low = rt.Low
		}
		c.Close = rt.Close
		c.Volume += rt.Volume
	}

	model.SortCandles(merged)
	merged = model.TailCandles(merged, limit)

	// Bucket keys are unique through the index map, so after sorting the
	// series must be strictly increasing.
	if !model.SeriesOrdered(merged) {
		slog.Error("merged series violates ordering", "candles", len(merged))
	}
	return merged
}
