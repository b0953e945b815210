// Package model defines shared data types used across the market-data pipeline.
//
// Conventions:
//   - Prices: float64 in the quote currency
//   - Timestamps: int64 milliseconds since Unix epoch (matches exchange wire formats)
//   - Candles: bucketed by interval; bucket start inclusive, bucket end exclusive
package model
