package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bethna/marketfeed/internal/model"
)

// DefaultCoinGeckoURL is the public API base.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// coinIDs maps common base symbols to CoinGecko coin ids. Symbols not
// listed fall back to the lowercased base, which works for coins whose id
// matches their ticker.
var coinIDs = map[string]string{
	"btc":  "bitcoin",
	"eth":  "ethereum",
	"sol":  "solana",
	"ada":  "cardano",
	"doge": "dogecoin",
	"xrp":  "ripple",
}

// CoinGecko is the secondary historical provider. Its OHLC endpoint is
// day-bucketed, so the requested interval × limit window is converted to a
// day count.
type CoinGecko struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// CoinGeckoOption configures the provider.
type CoinGeckoOption func(*CoinGecko)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) CoinGeckoOption {
	return func(c *CoinGecko) {
		c.httpClient = hc
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) CoinGeckoOption {
	return func(c *CoinGecko) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CoinGeckoOption {
	return func(c *CoinGecko) {
		c.logger = logger
	}
}

// NewCoinGecko creates the provider. An empty baseURL uses the public API.
func NewCoinGecko(baseURL string, opts ...CoinGeckoOption) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}

	c := &CoinGecko{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   2,
		retryBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CoinGecko) Name() string { return "coingecko" }

// Candles fetches the day-bucketed OHLC series and returns the most recent
// limit entries. The endpoint carries no volume data.
func (c *CoinGecko) Candles(ctx context.Context, symbol string, interval model.Interval, limit int) ([]model.Candle, error) {
	query := url.Values{}
	query.Set("vs_currency", "usd")
	query.Set("days", strconv.Itoa(daysFor(interval, limit)))

	path := "/coins/" + coinID(symbol) + "/ohlc"
	body, err := c.doWithRetry(ctx, path, query)
	if err != nil {
		return nil, err
	}

	// Wire format: [[ts_ms, open, high, low, close], ...]
	var rows [][]float64
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("coingecko ohlc: unmarshal response: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		candles = append(candles, model.Candle{
			BucketStart: int64(row[0]),
			Open:        row[1],
			High:        row[2],
			Low:         row[3],
			Close:       row[4],
		})
	}
	return model.TailCandles(candles, limit), nil
}

// doWithRetry performs a GET with exponential backoff on retryable errors.
func (c *CoinGecko) doWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *CoinGecko) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			Provider:   "coingecko",
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// coinID maps "ETH/USD" to the CoinGecko coin id ("ethereum").
func coinID(symbol string) string {
	base := strings.ToLower(symbol)
	if i := strings.Index(base, "/"); i >= 0 {
		base = base[:i]
	}
	if id, ok := coinIDs[base]; ok {
		return id
	}
	return base
}

// daysFor converts an interval × limit window to whole days, rounding up.
func daysFor(interval model.Interval, limit int) int {
	minutes := limit * interval.Minutes()
	days := (minutes + 24*60 - 1) / (24 * 60)
	if days < 1 {
		days = 1
	}
	return days
}
