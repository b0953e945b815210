package model

import "sort"

// SortCandles orders candles ascending by bucket start, in place.
func SortCandles(candles []Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].BucketStart < candles[j].BucketStart
	})
}

// TailCandles returns the most recent limit candles from an ascending series.
// The input slice is not modified.
func TailCandles(candles []Candle, limit int) []Candle {
	if limit <= 0 || len(candles) <= limit {
		return candles
	}
	return candles[len(candles)-limit:]
}

// SeriesOrdered reports whether bucket starts are strictly increasing
// (ordered with no duplicates).
func SeriesOrdered(candles []Candle) bool {
	for i := 1; i < len(candles); i++ {
		if candles[i].BucketStart <= candles[i-1].BucketStart {
			return false
		}
	}
	return true
}

// CloneCandles returns a copy so callers can hand series to subscribers
// without sharing the backing array.
func CloneCandles(candles []Candle) []Candle {
	out := make([]Candle, len(candles))
	copy(out, candles)
	return out
}
