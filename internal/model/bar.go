package model

import "time"

// Bar is one OHLCV bar of chart history. Charts push these into the
// monitor's OHLC cache; the daemon never fetches history itself.
type Bar struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// BarKey identifies a cached bar series: "SYMBOL:EXCHANGE:INTERVAL".
func BarKey(symbol, exchange, interval string) string {
	return SubKey(symbol, exchange) + ":" + interval
}
