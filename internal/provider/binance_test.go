package provider

import (
	"testing"

	binance "github.com/adshao/go-binance/v2"

	"github.com/bethna/marketfeed/internal/model"
)

func TestBinancePair(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"ETH/USDT", "ETHUSDT"},
		{"eth/usdt", "ETHUSDT"},
		{"BTCUSDT", "BTCUSDT"},
	}
	for _, tt := range tests {
		if got := binancePair(tt.symbol); got != tt.want {
			t.Errorf("binancePair(%q) = %q, want %q", tt.symbol, got, tt.want)
		}
	}
}

func TestConvertKlines(t *testing.T) {
	klines := []*binance.Kline{
		{
			OpenTime: 1700000000000,
			Open:     "3200.50",
			High:     "3210.00",
			Low:      "3195.00",
			Close:    "3205.20",
			Volume:   "1234.5",
		},
		{
			OpenTime: 1700000060000,
			Open:     "not-a-number",
			High:     "1",
			Low:      "1",
			Close:    "1",
			Volume:   "1",
		},
	}

	candles := convertKlines(klines)
	if len(candles) != 1 {
		t.Fatalf("len = %d, want 1 (bad kline dropped)", len(candles))
	}
	want := model.Candle{
		BucketStart: 1700000000000,
		Open:        3200.50,
		High:        3210.00,
		Low:         3195.00,
		Close:       3205.20,
		Volume:      1234.5,
	}
	if candles[0] != want {
		t.Errorf("candles[0] = %+v, want %+v", candles[0], want)
	}
}
