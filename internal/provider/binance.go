package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"

	"github.com/bethna/marketfeed/internal/model"
)

// Binance is the primary historical provider, backed by the spot klines API.
type Binance struct {
	client *binance.Client
}

// NewBinance creates the provider. Klines are public data; no credentials
// are needed.
func NewBinance() *Binance {
	return &Binance{client: binance.NewClient("", "")}
}

// NewBinanceWithBaseURL points the provider at a different endpoint
// (test servers).
func NewBinanceWithBaseURL(baseURL string) *Binance {
	client := binance.NewClient("", "")
	client.BaseURL = baseURL
	return &Binance{client: client}
}

func (b *Binance) Name() string { return "binance" }

// Candles fetches spot klines. "ETH/USDT" is rendered as "ETHUSDT".
func (b *Binance) Candles(ctx context.Context, symbol string, interval model.Interval, limit int) ([]model.Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(binancePair(symbol)).
		Interval(string(interval)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}

	return convertKlines(klines), nil
}

// binancePair renders "ETH/USDT" as "ETHUSDT".
func binancePair(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// convertKlines maps the string-typed kline payload to candles. Klines with
// unparseable prices are dropped.
func convertKlines(klines []*binance.Kline) []model.Candle {
	candles := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		open, err1 := strconv.ParseFloat(k.Open, 64)
		high, err2 := strconv.ParseFloat(k.High, 64)
		low, err3 := strconv.ParseFloat(k.Low, 64)
		closePrice, err4 := strconv.ParseFloat(k.Close, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		candles = append(candles, model.Candle{
			BucketStart: k.OpenTime,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closePrice,
			Volume:      volume,
		})
	}
	return candles
}
