package monitor

import (
	"sync"
	"testing"
	"time"

	"alertstream/internal/alertstore"
	"alertstream/internal/indicator"
	"alertstream/internal/model"
	"alertstream/internal/stream"
	"alertstream/internal/tickstore"
)

type fakeSub struct {
	mu     sync.Mutex
	closed int
}

func (s *fakeSub) Close() {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
}

func (s *fakeSub) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeStreams struct {
	mu   sync.Mutex
	subs []*fakeSub
	keys [][]stream.Key
	cb   stream.Callback
}

func (f *fakeStreams) Subscribe(keys []stream.Key, cb stream.Callback, mode stream.Mode) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSub{}
	f.subs = append(f.subs, sub)
	f.keys = append(f.keys, keys)
	f.cb = cb
	return sub
}

func (f *fakeStreams) lastKeys() []stream.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.keys) == 0 {
		return nil
	}
	return f.keys[len(f.keys)-1]
}

func (f *fakeStreams) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// tick pushes one quote update through the monitor's callback.
func (f *fakeStreams) tick(symbol string, price float64) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	cb(&stream.MarketData{
		Symbol:   symbol,
		Exchange: "NSE",
		Data:     stream.QuoteData{LTP: price, Volume: 10},
	})
}

type harness struct {
	mon     *Monitor
	streams *fakeStreams
	alerts  *alertstore.Store
	ticks   *tickstore.Store

	mu    sync.Mutex
	fired []model.TriggerEvent
}

func (h *harness) events() []model.TriggerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.TriggerEvent, len(h.fired))
	copy(out, h.fired)
	return out
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		streams: &fakeStreams{},
		alerts:  alertstore.New(alertstore.NewMemoryStorage(), nil),
		ticks:   tickstore.New(nil),
	}
	h.mon = New(h.streams, h.alerts, indicator.NewCache(0), h.ticks, nil)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.mon.Start(func(ev model.TriggerEvent) {
		h.mu.Lock()
		h.fired = append(h.fired, ev)
		h.mu.Unlock()
	})
}

func (h *harness) addPriceAlert(t *testing.T, symbol string, cond model.Condition, threshold float64) model.Alert {
	t.Helper()
	a, err := h.alerts.Add(model.Alert{
		Symbol:    symbol,
		Type:      model.AlertPrice,
		Condition: cond,
		Price:     threshold,
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestStart_SubscribesToAlertSymbolSet(t *testing.T) {
	h := newHarness(t)
	h.addPriceAlert(t, "SBIN", model.CondCrossing, 800)
	h.addPriceAlert(t, "SBIN", model.CondCrossingUp, 820)
	h.addPriceAlert(t, "INFY", model.CondCrossing, 1500)

	h.start(t)

	keys := h.streams.lastKeys()
	if len(keys) != 2 {
		t.Fatalf("subscribed to %d keys, want 2 (deduplicated)", len(keys))
	}
	if !h.mon.Running() {
		t.Error("monitor should be running")
	}
}

func TestStart_NoAlertsMeansNoSubscription(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if h.streams.subscribeCount() != 0 {
		t.Error("no subscription expected with an empty alert set")
	}
	if h.mon.Running() {
		t.Error("monitor should be idle")
	}
}

func TestStart_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.addPriceAlert(t, "SBIN", model.CondCrossing, 800)
	h.start(t)
	h.mon.Start(func(model.TriggerEvent) {})

	if got := h.streams.subscribeCount(); got != 1 {
		t.Errorf("subscribe called %d times, want 1", got)
	}
}

func TestRefresh_NoOpBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.addPriceAlert(t, "SBIN", model.CondCrossing, 800)
	h.mon.Refresh()

	if h.streams.subscribeCount() != 0 {
		t.Error("refresh before start must not subscribe")
	}
}

func TestRefresh_RebuildsSubscription(t *testing.T) {
	h := newHarness(t)
	h.addPriceAlert(t, "SBIN", model.CondCrossing, 800)
	h.start(t)

	h.addPriceAlert(t, "INFY", model.CondCrossing, 1500)
	h.mon.Refresh()

	if got := h.streams.subscribeCount(); got != 2 {
		t.Fatalf("subscribe called %d times, want 2", got)
	}
	if h.streams.subs[0].closeCount() != 1 {
		t.Error("old subscription should be closed on refresh")
	}
	if len(h.streams.lastKeys()) != 2 {
		t.Errorf("new subscription covers %d keys, want 2", len(h.streams.lastKeys()))
	}
}

func TestCrossingUp_SeedingObservationNeverFires(t *testing.T) {
	h := newHarness(t)
	a := h.addPriceAlert(t, "SBIN", model.CondCrossingUp, 800)
	h.start(t)

	// [T-1, T-1, T+1]: exactly one fire, on the third tick.
	h.streams.tick("SBIN", 799)
	h.streams.tick("SBIN", 799)
	if len(h.events()) != 0 {
		t.Fatal("no fire expected before the price crosses")
	}
	h.streams.tick("SBIN", 801)

	evs := h.events()
	if len(evs) != 1 {
		t.Fatalf("got %d fires, want exactly 1", len(evs))
	}
	ev := evs[0]
	if ev.AlertID != a.ID || ev.Direction != "up" || ev.CurrentPrice != 801 {
		t.Errorf("unexpected event %+v", ev)
	}

	// Fired price alerts are one-shot.
	if _, err := h.alerts.Get(a.ID); err == nil {
		t.Error("fired price alert should be removed from storage")
	}
}

func TestCrossingUp_SecondTickOnlySeeds(t *testing.T) {
	h := newHarness(t)
	a := h.addPriceAlert(t, "SBIN", model.CondCrossingUp, 800)
	h.start(t)

	// The very first observation for a symbol is skipped outright; the
	// second seeds the position from the first and must not fire even
	// though the price moved across the threshold between them.
	h.streams.tick("SBIN", 799)
	h.streams.tick("SBIN", 801)
	if evs := h.events(); len(evs) != 0 {
		t.Fatalf("got %d fires on the seeding observation, want 0", len(evs))
	}
	if _, err := h.alerts.Get(a.ID); err != nil {
		t.Fatal("alert should still be stored")
	}

	// Only a genuine re-cross from the seeded side fires.
	h.streams.tick("SBIN", 799)
	h.streams.tick("SBIN", 801)
	evs := h.events()
	if len(evs) != 1 || evs[0].Direction != "up" {
		t.Fatalf("got %+v, want one 'up' fire after the re-cross", evs)
	}
}

func TestCrossing_FiresBothDirections(t *testing.T) {
	h := newHarness(t)
	h.addPriceAlert(t, "SBIN", model.CondCrossing, 800)
	h.start(t)

	// Fires are one-shot, so re-add between directions.
	h.streams.tick("SBIN", 805) // first observation, skipped
	h.streams.tick("SBIN", 805) // seeds above
	h.streams.tick("SBIN", 795) // fires down

	evs := h.events()
	if len(evs) != 1 || evs[0].Direction != "down" {
		t.Fatalf("after downward cross got %+v, want one 'down' fire", evs)
	}

	h.addPriceAlert(t, "SBIN", model.CondCrossing, 800)
	h.streams.tick("SBIN", 796) // seeds below, never fires
	h.streams.tick("SBIN", 805) // fires up

	evs = h.events()
	if len(evs) != 2 || evs[1].Direction != "up" {
		t.Fatalf("after upward cross got %+v, want a second 'up' fire", evs)
	}
}

func TestCrossingDown_IgnoresUpwardCross(t *testing.T) {
	h := newHarness(t)
	h.addPriceAlert(t, "SBIN", model.CondCrossingDown, 800)
	h.start(t)

	h.streams.tick("SBIN", 795)
	h.streams.tick("SBIN", 805) // upward: must not fire
	if len(h.events()) != 0 {
		t.Fatal("crossing_down fired on an upward cross")
	}
	h.streams.tick("SBIN", 790)
	if len(h.events()) != 1 {
		t.Fatalf("got %d fires, want 1 on the downward cross", len(h.events()))
	}
}

func TestAlertCreatedAfterMove_FiresOnlyOnReversal(t *testing.T) {
	h := newHarness(t)
	h.addPriceAlert(t, "SBIN", model.CondCrossing, 800)
	h.start(t)

	// Price already above threshold before a second alert appears.
	h.streams.tick("SBIN", 810)
	h.streams.tick("SBIN", 815)

	late := h.addPriceAlert(t, "SBIN", model.CondCrossing, 812)
	h.streams.tick("SBIN", 816) // seeds the late alert, no fire
	if len(h.events()) != 0 {
		t.Fatal("alert created after the move must not fire retroactively")
	}

	h.streams.tick("SBIN", 811) // reversal below 812
	evs := h.events()
	if len(evs) != 1 || evs[0].AlertID != late.ID || evs[0].Direction != "down" {
		t.Fatalf("got %+v, want one 'down' fire for the late alert", evs)
	}
}

func TestTicksRecordedWithInferredSide(t *testing.T) {
	h := newHarness(t)
	h.addPriceAlert(t, "SBIN", model.CondCrossing, 800)
	h.start(t)

	h.streams.tick("SBIN", 790)
	h.streams.tick("SBIN", 791)
	h.streams.tick("SBIN", 789)

	recent := h.ticks.Recent(model.SubKey("SBIN", ""), 10)
	if len(recent) != 3 {
		t.Fatalf("recorded %d ticks, want 3", len(recent))
	}
	if recent[1].Side != model.SideBuy {
		t.Errorf("uptick side=%q, want buy", recent[1].Side)
	}
	if recent[2].Side != model.SideSell {
		t.Errorf("downtick side=%q, want sell", recent[2].Side)
	}
}

func TestIndicatorAlert_FiresAndStaysAsTriggered(t *testing.T) {
	h := newHarness(t)
	a, err := h.alerts.Add(model.Alert{
		Symbol:    "SBIN",
		Type:      model.AlertIndicator,
		Condition: model.CondGreaterThan,
		Indicator: "sma",
		Interval:  "5m",
		Params:    map[string]float64{"period": 2},
		Value:     100,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.start(t)

	h.mon.UpdateOHLC("SBIN", "", "5m", barsFromCloses(98, 99, 104))
	h.streams.tick("SBIN", 104) // sma(2)=101.5 > 100

	evs := h.events()
	if len(evs) != 1 {
		t.Fatalf("got %d fires, want 1", len(evs))
	}
	if evs[0].AlertType != model.AlertIndicator || evs[0].Indicator != "sma" {
		t.Errorf("unexpected event %+v", evs[0])
	}

	// Indicator alerts are kept as a record, not deleted.
	got, err := h.alerts.Get(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusTriggered {
		t.Errorf("status=%q, want Triggered", got.Status)
	}

	// A triggered alert is out of the evaluation set.
	h.streams.tick("SBIN", 105)
	if len(h.events()) != 1 {
		t.Error("triggered alert must not fire again")
	}
}

func TestIndicatorAlert_SkipsWithoutBars(t *testing.T) {
	h := newHarness(t)
	if _, err := h.alerts.Add(model.Alert{
		Symbol:    "SBIN",
		Type:      model.AlertIndicator,
		Condition: model.CondGreaterThan,
		Indicator: "sma",
		Interval:  "5m",
		Value:     0,
	}); err != nil {
		t.Fatal(err)
	}
	h.start(t)

	// No OHLC pushed: evaluation skips, no fire and no error.
	h.streams.tick("SBIN", 500)
	h.streams.tick("SBIN", 501)
	if len(h.events()) != 0 {
		t.Fatal("indicator alert evaluated without bar history")
	}
}

func TestIndicatorAlert_StaleBarsIgnored(t *testing.T) {
	h := newHarness(t)
	if _, err := h.alerts.Add(model.Alert{
		Symbol:    "SBIN",
		Type:      model.AlertIndicator,
		Condition: model.CondGreaterThan,
		Indicator: "sma",
		Interval:  "5m",
		Params:    map[string]float64{"period": 2},
		Value:     0,
	}); err != nil {
		t.Fatal(err)
	}
	h.start(t)

	now := time.Now()
	h.mon.now = func() time.Time { return now }
	h.mon.UpdateOHLC("SBIN", "", "5m", barsFromCloses(98, 99, 104))

	h.mon.now = func() time.Time { return now.Add(DefaultOHLCTTL + time.Second) }
	h.streams.tick("SBIN", 104)
	if len(h.events()) != 0 {
		t.Fatal("stale bar history must not be evaluated")
	}
}

func TestCrossesAbove_UsesMonitorHeldPreviousSnapshot(t *testing.T) {
	h := newHarness(t)
	if _, err := h.alerts.Add(model.Alert{
		Symbol:    "SBIN",
		Type:      model.AlertIndicator,
		Condition: model.CondCrossesAbove,
		Indicator: "sma",
		Interval:  "5m",
		Params:    map[string]float64{"period": 2},
		Value:     100,
	}); err != nil {
		t.Fatal(err)
	}
	h.start(t)

	// First evaluation has no previous snapshot: never fires.
	h.mon.UpdateOHLC("SBIN", "", "5m", barsFromCloses(99, 99)) // sma=99
	h.streams.tick("SBIN", 99)
	if len(h.events()) != 0 {
		t.Fatal("first indicator evaluation must not fire a cross")
	}

	// New bars move the SMA across the threshold relative to the held
	// previous snapshot.
	h.mon.UpdateOHLC("SBIN", "", "5m", barsFromCloses(99, 104)) // sma=101.5
	h.streams.tick("SBIN", 104)
	if len(h.events()) != 1 {
		t.Fatalf("got %d fires, want 1 on the cross", len(h.events()))
	}
}

func TestTriggerCallbackPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.addPriceAlert(t, "SBIN", model.CondCrossingUp, 800)
	h.mon.Start(func(model.TriggerEvent) { panic("boom") })

	h.streams.tick("SBIN", 799)
	h.streams.tick("SBIN", 799)
	h.streams.tick("SBIN", 801) // fires; panic must not escape

	// The monitor keeps processing ticks afterwards.
	h.streams.tick("SBIN", 802)
	if h.ticks.Len(model.SubKey("SBIN", "")) != 4 {
		t.Error("tick processing stopped after a callback panic")
	}
}

func TestStop_ClosesSubscriptionAndClearsState(t *testing.T) {
	h := newHarness(t)
	h.addPriceAlert(t, "SBIN", model.CondCrossingUp, 800)
	h.start(t)
	h.streams.tick("SBIN", 799)

	h.mon.Stop()
	if h.streams.subs[0].closeCount() != 1 {
		t.Error("stop should close the subscription")
	}
	if h.mon.Running() {
		t.Error("monitor still running after stop")
	}

	// Start again: price history was cleared, so the first tick after
	// restart carries no previous price and cannot fire.
	h.start(t)
	h.streams.tick("SBIN", 801)
	if len(h.events()) != 0 {
		t.Error("first tick after restart fired")
	}
}

// barsFromCloses builds a bar series with the given closes.
func barsFromCloses(closes ...float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	base := time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = model.Bar{
			TS:    base.Add(time.Duration(i) * 5 * time.Minute),
			Open:  c,
			High:  c + 1,
			Low:   c - 1,
			Close: c,
		}
	}
	return bars
}
