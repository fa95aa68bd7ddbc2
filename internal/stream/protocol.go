package stream

import (
	"encoding/json"
	"fmt"
)

// Mode selects the payload richness of a subscription.
type Mode string

const (
	ModeLTP   Mode = "LTP"
	ModeQuote Mode = "QUOTE"
	ModeTick  Mode = "TICK"
)

// richness orders modes for resubscribe coalescing: when several logical
// subscriptions want the same key, the wire carries the richest mode.
func (m Mode) richness() int {
	switch m {
	case ModeTick:
		return 3
	case ModeQuote:
		return 2
	default:
		return 1
	}
}

// ── Client → server frames ──

type authFrame struct {
	Action string `json:"action"` // "authenticate"
	APIKey string `json:"api_key"`
}

type subscribeFrame struct {
	Action   string `json:"action"` // "subscribe"
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Mode     Mode   `json:"mode"`
}

type unsubscribeFrame struct {
	Action   string `json:"action"` // "unsubscribe"
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

type pongFrame struct {
	Type string `json:"type"` // "pong"
}

// ── Server → client frames, modeled as a tagged union ──

// Message is a decoded server frame. The concrete types are Ping,
// AuthResult, MarketData and ServerError; dispatch with a type switch.
type Message interface {
	isMessage()
}

// Ping is the server keep-alive probe. It must be answered with a pong
// immediately, or the server will eventually drop the connection as idle.
type Ping struct{}

// AuthResult reports the outcome of the authentication handshake.
type AuthResult struct {
	Status string
}

// OK reports whether the handshake succeeded.
func (a *AuthResult) OK() bool {
	return a.Status == "success" || a.Status == "authenticated"
}

// MarketData is one price update for a subscribed instrument.
type MarketData struct {
	Symbol   string
	Exchange string
	Data     QuoteData
}

// Key returns the canonical subscription key of this update.
func (m *MarketData) Key() string {
	k := Key{Symbol: m.Symbol, Exchange: m.Exchange}
	return k.String()
}

// QuoteData carries the payload of a market_data frame. The backend emits
// either "ltp" or "last_price" depending on the mode; Price resolves both.
type QuoteData struct {
	LTP       float64 `json:"ltp"`
	LastPrice float64 `json:"last_price"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    int64   `json:"volume"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
}

// Price returns the last traded price regardless of which field carried it.
func (d QuoteData) Price() float64 {
	if d.LTP != 0 {
		return d.LTP
	}
	return d.LastPrice
}

// ServerError is an error frame pushed by the backend.
type ServerError struct {
	Message string
	Code    int
}

func (*Ping) isMessage()        {}
func (*AuthResult) isMessage()  {}
func (*MarketData) isMessage()  {}
func (*ServerError) isMessage() {}

// envelope peeks at the discriminator fields before full decoding.
type envelope struct {
	Type     string          `json:"type"`
	Status   string          `json:"status"`
	Symbol   string          `json:"symbol"`
	Exchange string          `json:"exchange"`
	Data     json.RawMessage `json:"data"`
	Message  string          `json:"message"`
	Code     int             `json:"code"`
}

// Decode parses a raw server frame into its Message variant. Unknown or
// malformed frames return an error; the caller drops them without
// notifying subscribers.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case "ping":
		return &Ping{}, nil
	case "auth", "authenticated":
		status := env.Status
		if status == "" && env.Type == "authenticated" {
			status = "authenticated"
		}
		return &AuthResult{Status: status}, nil
	case "market_data":
		var data QuoteData
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return nil, fmt.Errorf("decode market_data payload: %w", err)
			}
		}
		return &MarketData{Symbol: env.Symbol, Exchange: env.Exchange, Data: data}, nil
	case "error":
		return &ServerError{Message: env.Message, Code: env.Code}, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
}
