// Package catalog maps a logical symbol/exchange pair to provider-specific
// subscription parameters: endpoint URL, subscribe payload, and a parser for
// that provider's wire format. Adding a provider means adding one entry and
// one parse function; nothing else changes.
package catalog

import (
	"strings"
	"time"

	"github.com/bethna/marketfeed/internal/connection"
	"github.com/bethna/marketfeed/internal/model"
)

// ParseFunc decodes one raw frame into a normalized tick. It returns false
// for frames that are not price updates (control messages, heartbeats,
// other channels).
type ParseFunc func(symbol string, payload []byte, receivedAt time.Time) (model.Tick, bool)

// Entry holds everything needed to stream one symbol from one exchange.
type Entry struct {
	Exchange string

	// Channel is the frame tag carrying ticker updates on this provider.
	// connection.TagAll for providers whose data frames carry no tag.
	Channel string

	// TagField is the JSON field holding the frame tag ("type" unless the
	// provider says otherwise).
	TagField string

	// URL renders the endpoint for a symbol. Some providers encode the
	// subscription in the URL itself.
	URL func(symbol string) string

	// SubscribeMessage renders the payload to send after connecting.
	// nil when the URL already encodes the subscription.
	SubscribeMessage func(symbol string) any

	Parse ParseFunc
}

var entries = map[string]Entry{
	"binance": {
		Exchange: "binance",
		Channel:  "24hrTicker",
		TagField: "e",
		URL: func(symbol string) string {
			return "wss://stream.binance.com:9443/ws/" + binanceSymbol(symbol) + "@ticker"
		},
		SubscribeMessage: nil, // stream path is the subscription
		Parse:            parseBinance,
	},
	"coinbase": {
		Exchange: "coinbase",
		Channel:  "ticker",
		TagField: "type",
		URL: func(string) string {
			return "wss://ws-feed.exchange.coinbase.com"
		},
		SubscribeMessage: func(symbol string) any {
			return coinbaseSubscribe{
				Type:       "subscribe",
				ProductIDs: []string{coinbaseProduct(symbol)},
				Channels:   []string{"ticker"},
			}
		},
		Parse: parseCoinbase,
	},
	"kraken": {
		Exchange: "kraken",
		Channel:  connection.TagAll, // data frames are arrays, no tag field
		TagField: "event",
		URL: func(string) string {
			return "wss://ws.kraken.com"
		},
		SubscribeMessage: func(symbol string) any {
			return krakenSubscribe{
				Event: "subscribe",
				Pair:  []string{krakenPair(symbol)},
				Subscription: krakenSubscription{
					Name: "ticker",
				},
			}
		},
		Parse: parseKraken,
	},
}

// Lookup returns the catalog entry for an exchange.
func Lookup(exchange string) (Entry, bool) {
	e, ok := entries[strings.ToLower(exchange)]
	return e, ok
}

// Exchanges lists the supported exchange names.
func Exchanges() []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	return names
}

// binanceSymbol renders "ETH/USD" as "ethusd".
func binanceSymbol(symbol string) string {
	return strings.ToLower(strings.ReplaceAll(symbol, "/", ""))
}

// coinbaseProduct renders "ETH/USD" as "ETH-USD".
func coinbaseProduct(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", "-"))
}

// krakenPair renders "BTC/USD" as "XBT/USD" (kraken's bitcoin notation).
func krakenPair(symbol string) string {
	pair := strings.ToUpper(symbol)
	if strings.HasPrefix(pair, "BTC/") {
		pair = "XBT/" + strings.TrimPrefix(pair, "BTC/")
	}
	return pair
}
