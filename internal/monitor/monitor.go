// Package monitor runs the global alert loop: it keeps one multiplexed
// stream subscription covering every symbol that has an active alert,
// evaluates alerts on each price update, and fires trigger events.
package monitor

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"alertstream/internal/alertstore"
	"alertstream/internal/condition"
	"alertstream/internal/indicator"
	"alertstream/internal/model"
	"alertstream/internal/stream"
	"alertstream/internal/tickstore"
)

// DefaultOHLCTTL is how long pushed bar history stays usable for
// indicator evaluation before it is considered stale.
const DefaultOHLCTTL = 5 * time.Minute

// Streams is the slice of the connection manager the monitor needs.
type Streams interface {
	Subscribe(keys []stream.Key, cb stream.Callback, mode stream.Mode) Subscription
}

// Subscription is a handle over one logical subscription.
type Subscription interface {
	Close()
}

// ManagerStreams adapts *stream.Manager to the Streams interface.
type ManagerStreams struct {
	M *stream.Manager
}

func (ms ManagerStreams) Subscribe(keys []stream.Key, cb stream.Callback, mode stream.Mode) Subscription {
	return ms.M.Subscribe(keys, cb, mode)
}

// TriggerFunc receives every fired alert.
type TriggerFunc func(model.TriggerEvent)

type barsEntry struct {
	bars []model.Bar
	at   time.Time
}

// Monitor owns the evaluation state for every active alert: last seen
// price per symbol, crossing position per price alert, and the previous
// indicator snapshot per indicator alert. It is safe for concurrent use;
// price updates arrive from the stream read loop while Refresh and
// UpdateOHLC are called from API handlers.
type Monitor struct {
	streams Streams
	alerts  *alertstore.Store
	cache   *indicator.Cache
	ticks   *tickstore.Store
	log     *slog.Logger
	now     func() time.Time

	// OHLCTTL bounds the age of pushed bar history. Zero means
	// DefaultOHLCTTL.
	OHLCTTL time.Duration

	// OnEvaluate, if set, is called once per evaluated alert. Used for
	// metrics.
	OnEvaluate func()

	mu        sync.Mutex
	started   bool
	running   bool
	sub       Subscription
	onTrigger TriggerFunc
	lastPrice map[string]float64          // sub key -> last seen price
	positions map[string]position         // alert ID -> threshold side
	prevSnaps map[string]indicator.Values // alert ID -> previous indicator values
	bars      map[string]barsEntry        // bar key -> pushed OHLC history
}

// New builds a monitor over the given collaborators. ticks may be nil when
// tick retention is not wanted.
func New(streams Streams, alerts *alertstore.Store, cache *indicator.Cache, ticks *tickstore.Store, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		streams:   streams,
		alerts:    alerts,
		cache:     cache,
		ticks:     ticks,
		log:       log.With("component", "monitor"),
		now:       time.Now,
		lastPrice: make(map[string]float64),
		positions: make(map[string]position),
		prevSnaps: make(map[string]indicator.Values),
		bars:      make(map[string]barsEntry),
	}
}

// Start begins monitoring. Calling Start on a started monitor is a no-op;
// the original callback stays in place.
func (m *Monitor) Start(onTrigger TriggerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.onTrigger = onTrigger
	m.restartLocked()
}

// Stop tears down the subscription and clears evaluation state. A stopped
// monitor can be started again.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	m.running = false
	if m.sub != nil {
		m.sub.Close()
		m.sub = nil
	}
	m.lastPrice = make(map[string]float64)
	m.positions = make(map[string]position)
	m.prevSnaps = make(map[string]indicator.Values)
}

// Refresh re-reads the alert set and rebuilds the subscription. It does
// nothing before Start. Call it after any alert mutation so the symbol
// set tracks the store.
func (m *Monitor) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.restartLocked()
}

// Running reports whether the monitor currently holds a subscription.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// restartLocked closes any live subscription and opens a fresh one over
// the current alert symbol set.
func (m *Monitor) restartLocked() {
	if m.sub != nil {
		m.sub.Close()
		m.sub = nil
	}

	keys := m.alertKeys()
	if len(keys) == 0 {
		m.running = false
		m.log.Info("no active alerts, monitor idle")
		return
	}

	m.sub = m.streams.Subscribe(keys, m.onPriceUpdate, stream.ModeQuote)
	m.running = true
	m.log.Info("monitoring started", "symbols", len(keys))
}

// alertKeys returns the deduplicated symbol set across every active
// alert, in stable order.
func (m *Monitor) alertKeys() []stream.Key {
	seen := make(map[string]stream.Key)
	for _, a := range m.alerts.List() {
		if a.Status != model.StatusActive {
			continue
		}
		k := stream.Key{Symbol: a.Symbol, Exchange: a.Exchange}
		seen[k.String()] = k
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	keys := make([]stream.Key, 0, len(names))
	for _, name := range names {
		keys = append(keys, seen[name])
	}
	return keys
}

// UpdateOHLC replaces the bar history used for indicator alerts on one
// (symbol, exchange, interval). Charts push this on every completed bar;
// history older than OHLCTTL is ignored at evaluation time.
func (m *Monitor) UpdateOHLC(symbol, exchange, interval string, bars []model.Bar) {
	key := model.BarKey(symbol, exchange, interval)
	cp := make([]model.Bar, len(bars))
	copy(cp, bars)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[key] = barsEntry{bars: cp, at: m.now()}
	if m.cache != nil {
		m.cache.Invalidate(symbol, exchange, interval)
	}
}

// onPriceUpdate is the hot path, invoked by the stream read loop for every
// tick on a subscribed symbol. The alert list is re-read from the store on
// each update so concurrent mutations take effect immediately.
func (m *Monitor) onPriceUpdate(md *stream.MarketData) {
	price := md.Data.Price()
	if price == 0 {
		return
	}
	key := md.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	prevPrice, hasPrev := m.lastPrice[key]
	m.recordTick(key, md, price, prevPrice, hasPrev)

	var priceAlerts, indAlerts []model.Alert
	for _, a := range m.alerts.ListForKey(key) {
		if a.Status != model.StatusActive {
			continue
		}
		if a.Type == model.AlertPrice {
			priceAlerts = append(priceAlerts, a)
		} else {
			indAlerts = append(indAlerts, a)
		}
	}

	for _, a := range priceAlerts {
		m.evalPriceAlert(a, price, prevPrice, hasPrev)
	}
	if len(indAlerts) > 0 {
		m.evalIndicatorAlerts(md.Symbol, md.Exchange, indAlerts, price, prevPrice, hasPrev)
	}

	// Last write: evaluations above compare against the price before
	// this tick.
	m.lastPrice[key] = price
}

// recordTick appends this update to the tick store, inferring trade side
// from the price delta.
func (m *Monitor) recordTick(key string, md *stream.MarketData, price, prevPrice float64, hasPrev bool) {
	if m.ticks == nil {
		return
	}
	side := model.SideBuy
	if hasPrev && price < prevPrice {
		side = model.SideSell
	}
	ts := m.now()
	if md.Data.Timestamp > 0 {
		ts = time.UnixMilli(md.Data.Timestamp)
	}
	m.ticks.Append(key, model.Tick{
		Time:   ts,
		Price:  price,
		Volume: md.Data.Volume,
		Side:   side,
		Bid:    md.Data.Bid,
		Ask:    md.Data.Ask,
	})
}

// evalPriceAlert runs the crossing state machine for one price alert.
// Fired price alerts are one-shot: they are removed from the store.
func (m *Monitor) evalPriceAlert(a model.Alert, price, prevPrice float64, hasPrev bool) {
	if m.OnEvaluate != nil {
		m.OnEvaluate()
	}
	if !hasPrev {
		// Very first observation for this symbol: no decision possible
		// yet. The next tick seeds the position from this price.
		return
	}

	pos, hasPos := m.positions[a.ID]
	res := checkCrossing(a.Condition, a.Price, pos, hasPos, prevPrice, price)
	m.positions[a.ID] = res.pos
	if !res.fired {
		return
	}

	if err := m.alerts.Remove(a.ID); err != nil {
		m.log.Warn("failed to remove fired alert", "id", a.ID, "err", err)
	}
	delete(m.positions, a.ID)

	m.log.Info("price alert fired",
		"id", a.ID, "symbol", a.Symbol, "condition", a.Condition,
		"threshold", a.Price, "price", price, "direction", res.direction)
	m.emit(model.TriggerEvent{
		AlertID:      a.ID,
		Symbol:       a.Symbol,
		Exchange:     a.Exchange,
		AlertType:    model.AlertPrice,
		Condition:    a.Condition,
		Timestamp:    m.now(),
		AlertPrice:   a.Price,
		CurrentPrice: price,
		Direction:    res.direction,
	})
}

// evalIndicatorAlerts computes one indicator snapshot per interval and
// evaluates each alert against it. The previous snapshot an alert is
// compared to is the monitor's own per-alert copy, so it survives cache
// expiry between updates.
func (m *Monitor) evalIndicatorAlerts(symbol, exchange string, alerts []model.Alert, price, prevPrice float64, hasPrev bool) {
	byInterval := make(map[string][]model.Alert)
	for _, a := range alerts {
		byInterval[a.Interval] = append(byInterval[a.Interval], a)
	}

	px := condition.PriceContext{Current: price, Previous: prevPrice, HasPrev: hasPrev}
	ttl := m.OHLCTTL
	if ttl <= 0 {
		ttl = DefaultOHLCTTL
	}

	for interval, group := range byInterval {
		entry, ok := m.bars[model.BarKey(symbol, exchange, interval)]
		if !ok || m.now().Sub(entry.at) > ttl {
			// No usable bar history pushed for this interval.
			continue
		}

		snap := m.cache.Get(symbol, exchange, interval, specsFor(group), entry.bars)
		for _, a := range group {
			m.evalIndicatorAlert(a, snap, px)
		}
	}
}

func (m *Monitor) evalIndicatorAlert(a model.Alert, snap indicator.Snapshot, px condition.PriceContext) {
	if m.OnEvaluate != nil {
		m.OnEvaluate()
	}
	comp, ok := snap[a.Indicator]
	if !ok {
		// Not computable from the available bars; leave the previous
		// snapshot untouched.
		return
	}

	prev := m.prevSnaps[a.ID]
	fired := condition.Evaluate(a, comp.Current, prev, px)
	m.prevSnaps[a.ID] = comp.Current

	if !fired {
		return
	}
	if err := m.alerts.MarkTriggered(a.ID); err != nil {
		m.log.Warn("failed to mark alert triggered", "id", a.ID, "err", err)
	}
	delete(m.prevSnaps, a.ID)

	m.log.Info("indicator alert fired",
		"id", a.ID, "symbol", a.Symbol, "indicator", a.Indicator,
		"condition", a.Condition, "interval", a.Interval)
	m.emit(model.TriggerEvent{
		AlertID:      a.ID,
		Symbol:       a.Symbol,
		Exchange:     a.Exchange,
		AlertType:    model.AlertIndicator,
		Condition:    a.Condition,
		Timestamp:    m.now(),
		CurrentPrice: px.Current,
		Indicator:    a.Indicator,
		Message:      triggerMessage(a),
	})
}

// specsFor collapses a group of indicator alerts into the distinct
// indicator computations they need. The snapshot is keyed by indicator id,
// so alerts on the same indicator share one computation and the first
// alert's parameters win.
func specsFor(alerts []model.Alert) []indicator.Spec {
	seen := make(map[string]bool)
	var specs []indicator.Spec
	for _, a := range alerts {
		if seen[a.Indicator] {
			continue
		}
		seen[a.Indicator] = true
		specs = append(specs, indicator.Spec{ID: a.Indicator, Params: a.Params})
	}
	return specs
}

func triggerMessage(a model.Alert) string {
	return a.Symbol + " " + a.Indicator + " " + string(a.Condition)
}

// emit delivers one trigger event, isolating callback panics from the
// read loop.
func (m *Monitor) emit(ev model.TriggerEvent) {
	cb := m.onTrigger
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("trigger callback panicked", "alert", ev.AlertID, "panic", r)
		}
	}()
	cb(ev)
}
