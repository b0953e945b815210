// Package provider fetches historical OHLC candles from a prioritized chain
// of market-data providers, degrading to a synthetic series so consumers
// never receive an empty result.
package provider

import (
	"context"
	"fmt"

	"github.com/bethna/marketfeed/internal/model"
)

// Provider is one historical candle source.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string

	// Candles returns up to limit candles for the symbol at the given
	// interval, ascending by bucket start.
	Candles(ctx context.Context, symbol string, interval model.Interval, limit int) ([]model.Candle, error)
}

// APIError represents an HTTP error from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
