package model

import "time"

// Side marks which side of the book a trade hit.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Tick represents a single trade observation for one instrument.
// Prices carry the stream's decimal values; the tick store keeps them
// as-is and never re-quantizes.
type Tick struct {
	Time   time.Time `json:"time"`
	Price  float64   `json:"price"`
	Volume int64     `json:"volume"`
	Side   Side      `json:"side"`
	Bid    float64   `json:"bid,omitempty"`
	Ask    float64   `json:"ask,omitempty"`
}

// SubKey canonicalizes a (symbol, exchange) pair into the "SYMBOL:EXCHANGE"
// form used both as the wire multiplexing key and the alert-grouping key.
// Exchange defaults to NSE when absent.
func SubKey(symbol, exchange string) string {
	if exchange == "" {
		exchange = "NSE"
	}
	return symbol + ":" + exchange
}
