// Package stream owns the single multiplexed streaming connection to the
// market-data backend. Any number of logical subscriptions share one
// physical websocket; the manager handles the authentication handshake,
// ref-counted subscribe/unsubscribe frames, ping/pong keep-alive and
// reconnection with full state recovery.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"alertstream/internal/model"
)

// DefaultReconnectDelay is the fixed delay before a reconnect attempt after
// an unexpected close. No backoff growth, no attempt cutoff: the manager
// retries for as long as at least one logical subscription remains open.
const DefaultReconnectDelay = 2 * time.Second

// State is the physical connection's handshake state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateAuthenticated
	StateReconnecting // closed unexpectedly, reconnect timer pending
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Key identifies one instrument on the wire.
type Key struct {
	Symbol   string
	Exchange string
}

// String returns the canonical "SYMBOL:EXCHANGE" form.
func (k Key) String() string {
	return model.SubKey(k.Symbol, k.Exchange)
}

// Conn is the minimal transport surface the manager needs. Production uses
// a gorilla/websocket adapter; tests inject an in-memory fake.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a transport connection to the given URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Credentials supplies the streaming endpoint and its API key. APIKey may
// fail when no session exists yet; that is a hard local failure for the
// current connect attempt.
type Credentials interface {
	APIKey() (string, error)
	WebSocketURL() string
}

// Callback receives market-data updates for a logical subscription's keys.
type Callback func(*MarketData)

// Subscription is one logical subscription handle. It is owned exclusively
// by its creator and released via Close.
type Subscription struct {
	m    *Manager
	keys map[string]Key
	cb   Callback
	mode Mode

	// ready gates delivery until registration has finished, closing the
	// race where a fast-arriving frame reaches a half-constructed
	// subscriber.
	ready  bool
	closed bool
}

// State reports the physical connection's current state.
func (s *Subscription) State() State {
	return s.m.State()
}

// Close releases the subscription. Keys no other live subscription still
// needs get an unsubscribe frame; when the last subscription closes, the
// physical connection is torn down and any pending reconnect is cancelled.
func (s *Subscription) Close() {
	s.m.closeSubscription(s)
}

// Manager multiplexes logical subscriptions over one physical connection.
// Construct with New — the zero value is not usable.
type Manager struct {
	dial  Dialer
	creds Credentials
	log   *slog.Logger

	// ReconnectDelay overrides DefaultReconnectDelay (tests shorten it).
	ReconnectDelay time.Duration

	// OnStateChange, when set, receives every state transition. Called
	// without the manager lock held.
	OnStateChange func(State)

	// OnReconnect, when set, is invoked each time a reconnect attempt is
	// scheduled. Used for metrics.
	OnReconnect func()

	// OnAuthReject, when set, is invoked when the backend rejects the
	// authentication handshake. Session-based credential providers drop
	// their cached token here so the next connect attempt logs in fresh.
	OnAuthReject func()

	mu        sync.Mutex
	state     State
	conn      Conn
	gen       int // connection generation; stale read loops are ignored
	subs      map[*Subscription]struct{}
	refs      map[string]int // key string → live subscriptions wanting it
	keyIndex  map[string]Key // key string → structured key
	reconnect *time.Timer
}

// New creates a Manager. dial and creds are required; log falls back to
// slog.Default.
func New(dial Dialer, creds Credentials, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		dial:           dial,
		creds:          creds,
		log:            log,
		ReconnectDelay: DefaultReconnectDelay,
		state:          StateDisconnected,
		subs:           make(map[*Subscription]struct{}),
		refs:           make(map[string]int),
		keyIndex:       make(map[string]Key),
	}
}

// State returns the physical connection's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// KeyCount reports the size of the global symbol set.
func (m *Manager) KeyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refs)
}

// Subscribe registers a logical subscription for keys. Net-new keys join
// the global symbol set; if the connection is already authenticated,
// subscribe frames go out for those keys only — keys other subscribers
// already cover are never re-sent. The physical connection is opened on
// first use.
func (m *Manager) Subscribe(keys []Key, cb Callback, mode Mode) *Subscription {
	sub := &Subscription{
		m:    m,
		keys: make(map[string]Key, len(keys)),
		cb:   cb,
		mode: mode,
	}

	m.mu.Lock()
	var netNew []Key
	for _, k := range keys {
		ks := k.String()
		if _, dup := sub.keys[ks]; dup {
			continue
		}
		sub.keys[ks] = k
		if m.refs[ks] == 0 {
			netNew = append(netNew, k)
		}
		m.refs[ks]++
		m.keyIndex[ks] = k
	}
	m.subs[sub] = struct{}{}

	switch m.state {
	case StateDisconnected:
		m.startConnectLocked()
	case StateAuthenticated:
		for _, k := range netNew {
			m.sendLocked(subscribeFrame{Action: "subscribe", Symbol: k.Symbol, Exchange: k.Exchange, Mode: mode})
		}
	}

	// Registration complete — deliveries may begin.
	sub.ready = true
	m.mu.Unlock()
	return sub
}

func (m *Manager) closeSubscription(sub *Subscription) {
	m.mu.Lock()
	if sub.closed {
		m.mu.Unlock()
		return
	}
	sub.closed = true
	sub.ready = false
	delete(m.subs, sub)

	for ks, k := range sub.keys {
		m.refs[ks]--
		if m.refs[ks] > 0 {
			continue
		}
		delete(m.refs, ks)
		delete(m.keyIndex, ks)
		if m.state == StateAuthenticated {
			m.sendLocked(unsubscribeFrame{Action: "unsubscribe", Symbol: k.Symbol, Exchange: k.Exchange})
		}
	}

	if len(m.subs) == 0 {
		m.teardownLocked()
	}
	m.mu.Unlock()
}

// teardownLocked closes the physical connection and cancels any pending
// reconnect. Caller holds the lock.
func (m *Manager) teardownLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.gen++
	m.setStateLocked(StateDisconnected)
}

// startConnectLocked begins a connect attempt. Caller holds the lock.
func (m *Manager) startConnectLocked() {
	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnecting)
	go m.connect(gen)
}

func (m *Manager) connect(gen int) {
	apiKey, err := m.creds.APIKey()
	if err != nil {
		// Hard local failure: no credential means no retry loop. The
		// caller re-invokes once a credential exists.
		m.log.Error("streaming credential unavailable", "err", err)
		m.mu.Lock()
		if gen == m.gen {
			m.setStateLocked(StateDisconnected)
		}
		m.mu.Unlock()
		return
	}

	conn, err := m.dial(context.Background(), m.creds.WebSocketURL())
	if err != nil {
		m.log.Warn("stream dial failed", "err", err)
		m.mu.Lock()
		if gen == m.gen {
			m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	if gen != m.gen || len(m.subs) == 0 {
		// Torn down while dialing.
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.setStateLocked(StateAuthenticating)
	m.sendLocked(authFrame{Action: "authenticate", APIKey: apiKey})
	m.mu.Unlock()

	go m.readLoop(conn, gen)
}

func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen)
			return
		}
		msg, err := Decode(raw)
		if err != nil {
			// Malformed frame: dropped, no subscriber is notified, the
			// next valid frame proceeds normally.
			m.log.Debug("dropping unparseable frame", "err", err)
			continue
		}
		m.dispatch(msg, gen)
	}
}

func (m *Manager) dispatch(msg Message, gen int) {
	switch v := msg.(type) {
	case *Ping:
		m.mu.Lock()
		if gen == m.gen {
			m.sendLocked(pongFrame{Type: "pong"})
		}
		m.mu.Unlock()

	case *AuthResult:
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		if v.OK() {
			m.setStateLocked(StateAuthenticated)
			m.resubscribeAllLocked()
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		// Auth rejection is terminal for this connection attempt; the
		// surrounding layer surfaces it. Distinct from the close path,
		// which does retry.
		m.log.Error("stream authentication rejected", "status", v.Status)
		if m.OnAuthReject != nil {
			m.OnAuthReject()
		}

	case *MarketData:
		m.deliver(v, gen)

	case *ServerError:
		m.log.Warn("stream server error", "message", v.Message, "code", v.Code)
	}
}

// resubscribeAllLocked re-sends subscribe frames for the entire global
// symbol set — the recovery mechanism after a reconnect. Each key goes out
// exactly once, carrying the richest mode any live subscription wants.
func (m *Manager) resubscribeAllLocked() {
	modes := make(map[string]Mode, len(m.refs))
	for sub := range m.subs {
		for ks := range sub.keys {
			if cur, ok := modes[ks]; !ok || sub.mode.richness() > cur.richness() {
				modes[ks] = sub.mode
			}
		}
	}
	for ks := range m.refs {
		k := m.keyIndex[ks]
		mode := modes[ks]
		if mode == "" {
			mode = ModeQuote
		}
		m.sendLocked(subscribeFrame{Action: "subscribe", Symbol: k.Symbol, Exchange: k.Exchange, Mode: mode})
	}
}

func (m *Manager) deliver(md *MarketData, gen int) {
	key := md.Key()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	var targets []Callback
	for sub := range m.subs {
		if !sub.ready {
			continue
		}
		if _, ok := sub.keys[key]; ok {
			targets = append(targets, sub.cb)
		}
	}
	m.mu.Unlock()

	for _, cb := range targets {
		m.invoke(cb, md)
	}
}

// invoke shields delivery from a misbehaving subscriber: a panicking
// callback is caught and logged so the rest still receive the update.
func (m *Manager) invoke(cb Callback, md *MarketData) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error("subscriber callback panic", "key", md.Key(), "panic", rec)
		}
	}()
	cb(md)
}

func (m *Manager) handleClose(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return // superseded connection
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if len(m.subs) == 0 {
		m.setStateLocked(StateDisconnected)
		return
	}
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the fixed-delay reconnect timer. Caller
// holds the lock.
func (m *Manager) scheduleReconnectLocked() {
	m.setStateLocked(StateReconnecting)
	if m.OnReconnect != nil {
		go m.OnReconnect()
	}
	delay := m.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	m.reconnect = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnect = nil
		if len(m.subs) > 0 && m.conn == nil && m.state == StateReconnecting {
			m.startConnectLocked()
		}
		m.mu.Unlock()
	})
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.OnStateChange != nil {
		go m.OnStateChange(s)
	}
}

func (m *Manager) sendLocked(v any) {
	if m.conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		m.log.Error("marshal outbound frame", "err", err)
		return
	}
	if err := m.conn.WriteMessage(data); err != nil {
		m.log.Warn("write frame failed", "err", err)
	}
}
