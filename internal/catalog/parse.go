package catalog

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/bethna/marketfeed/internal/model"
)

// -----------------------------------------------------------------------------
// Binance 24h ticker stream
// -----------------------------------------------------------------------------

// binanceTickerWire is the @ticker stream payload. Prices come as strings.
type binanceTickerWire struct {
	EventType   string `json:"e"` // "24hrTicker"
	EventTime   int64  `json:"E"` // ms since epoch
	Symbol      string `json:"s"`
	LastPrice   string `json:"c"`
	ChangePct   string `json:"P"`
	Volume      string `json:"v"`
	High        string `json:"h"`
	Low         string `json:"l"`
}

func parseBinance(symbol string, payload []byte, receivedAt time.Time) (model.Tick, bool) {
	var wire binanceTickerWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return model.Tick{}, false
	}
	if wire.EventType != "24hrTicker" {
		return model.Tick{}, false
	}

	price, err := strconv.ParseFloat(wire.LastPrice, 64)
	if err != nil || price <= 0 {
		return model.Tick{}, false
	}

	ts := wire.EventTime
	if ts == 0 {
		ts = receivedAt.UnixMilli()
	}

	return model.Tick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: ts,
		Source:    model.SourceRealtime,
		Volume24h: parseFloatOrZero(wire.Volume),
		High24h:   parseFloatOrZero(wire.High),
		Low24h:    parseFloatOrZero(wire.Low),
		Change24h: parseFloatOrZero(wire.ChangePct),
	}, true
}

// -----------------------------------------------------------------------------
// Coinbase ticker channel
// -----------------------------------------------------------------------------

type coinbaseSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// coinbaseTickerWire is the ticker channel payload.
type coinbaseTickerWire struct {
	Type      string `json:"type"` // "ticker"
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Open24h   string `json:"open_24h"`
	Volume24h string `json:"volume_24h"`
	High24h   string `json:"high_24h"`
	Low24h    string `json:"low_24h"`
	Time      string `json:"time"` // RFC3339
}

func parseCoinbase(symbol string, payload []byte, receivedAt time.Time) (model.Tick, bool) {
	var wire coinbaseTickerWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return model.Tick{}, false
	}
	if wire.Type != "ticker" {
		return model.Tick{}, false
	}

	price, err := strconv.ParseFloat(wire.Price, 64)
	if err != nil || price <= 0 {
		return model.Tick{}, false
	}

	ts := receivedAt.UnixMilli()
	if t, err := time.Parse(time.RFC3339, wire.Time); err == nil {
		ts = t.UnixMilli()
	}

	open24h := parseFloatOrZero(wire.Open24h)
	change := 0.0
	if open24h > 0 {
		change = (price - open24h) / open24h * 100
	}

	return model.Tick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: ts,
		Source:    model.SourceRealtime,
		Volume24h: parseFloatOrZero(wire.Volume24h),
		High24h:   parseFloatOrZero(wire.High24h),
		Low24h:    parseFloatOrZero(wire.Low24h),
		Change24h: change,
	}, true
}

// -----------------------------------------------------------------------------
// Kraken v1 ticker channel
// -----------------------------------------------------------------------------

type krakenSubscribe struct {
	Event        string             `json:"event"`
	Pair         []string           `json:"pair"`
	Subscription krakenSubscription `json:"subscription"`
}

type krakenSubscription struct {
	Name string `json:"name"`
}

// krakenTickerData is the second element of a kraken ticker frame:
// [channelID, {...}, "ticker", "XBT/USD"]. String pairs are [price, volume].
type krakenTickerData struct {
	Close  []string `json:"c"` // [price, lot volume]
	Volume []string `json:"v"` // [today, 24h]
	High   []string `json:"h"`
	Low    []string `json:"l"`
}

func parseKraken(symbol string, payload []byte, receivedAt time.Time) (model.Tick, bool) {
	// Data frames are arrays; control messages (objects) fail here and are
	// correctly skipped.
	var frame []json.RawMessage
	if err := json.Unmarshal(payload, &frame); err != nil || len(frame) < 4 {
		return model.Tick{}, false
	}

	var channel string
	if err := json.Unmarshal(frame[2], &channel); err != nil || channel != "ticker" {
		return model.Tick{}, false
	}

	var data krakenTickerData
	if err := json.Unmarshal(frame[1], &data); err != nil || len(data.Close) == 0 {
		return model.Tick{}, false
	}

	price, err := strconv.ParseFloat(data.Close[0], 64)
	if err != nil || price <= 0 {
		return model.Tick{}, false
	}

	tick := model.Tick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: receivedAt.UnixMilli(), // kraken ticker frames carry no timestamp
		Source:    model.SourceRealtime,
	}
	if len(data.Volume) > 1 {
		tick.Volume24h = parseFloatOrZero(data.Volume[1])
	}
	if len(data.High) > 1 {
		tick.High24h = parseFloatOrZero(data.High[1])
	}
	if len(data.Low) > 1 {
		tick.Low24h = parseFloatOrZero(data.Low[1])
	}
	return tick, true
}

func parseFloatOrZero(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
