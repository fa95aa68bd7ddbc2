// Package alertstore persists user alert definitions through a pluggable
// key-value storage backend and normalizes the two historical storage
// namespaces (legacy per-chart price alerts and indicator alerts) into one
// in-memory shape.
package alertstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"alertstream/internal/model"
)

const (
	// Storage namespaces. Price alerts predate indicator alerts and keep
	// their original key for compatibility with existing data.
	priceAlertsKey     = "alertstream:price_alerts"
	indicatorAlertsKey = "alertstream:indicator_alerts"

	// DefaultRetention is how long any alert survives before the sweep
	// removes it.
	DefaultRetention = 24 * time.Hour
)

// ErrNotFound is returned when an alert ID does not exist.
var ErrNotFound = errors.New("alert not found")

// Storage is the consumed key-value persistence interface: synchronous JSON
// get/set by key. Implementations may fail (quota, corrupt payload); the
// store treats a failure as "not persisted, continue in-memory".
type Storage interface {
	// Get unmarshals the value at key into v. ok is false when the key
	// has never been written.
	Get(key string, v any) (ok bool, err error)
	// Set marshals v and writes it at key.
	Set(key string, v any) error
}

// Store keeps the alert set. Reads go to the storage backend on every call
// so callers always see the freshest persisted state; the in-memory mirror
// is the fallback when the backend fails.
type Store struct {
	storage Storage
	log     *slog.Logger
	now     func() time.Time

	// OnSweep, if set, receives the removal count of each non-empty
	// retention sweep. Used for metrics.
	OnSweep func(removed int)

	mu        sync.Mutex
	price     []model.Alert
	indicator []model.Alert

	// Dirty namespaces hold in-memory mutations a failed persist never
	// reached the backend. Reload must not clobber them with the stale
	// persisted list; the flag clears once a persist succeeds.
	dirtyPrice     bool
	dirtyIndicator bool
}

// New creates a Store over the given backend.
func New(storage Storage, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{storage: storage, log: log, now: time.Now}
	s.reload()
	return s
}

// reload refreshes the in-memory mirror from storage. Backend errors and
// namespaces with unpersisted mutations leave the current mirror untouched.
func (s *Store) reload() {
	var price []model.Alert
	if ok, err := s.storage.Get(priceAlertsKey, &price); err != nil {
		s.log.Warn("alert storage read failed, using in-memory state", "namespace", "price", "err", err)
	} else if ok {
		s.mu.Lock()
		if !s.dirtyPrice {
			s.price = normalize(price, model.AlertPrice)
		}
		s.mu.Unlock()
	}

	var ind []model.Alert
	if ok, err := s.storage.Get(indicatorAlertsKey, &ind); err != nil {
		s.log.Warn("alert storage read failed, using in-memory state", "namespace", "indicator", "err", err)
	} else if ok {
		s.mu.Lock()
		if !s.dirtyIndicator {
			s.indicator = normalize(ind, model.AlertIndicator)
		}
		s.mu.Unlock()
	}
}

// normalize fills the gaps legacy records leave: missing type, exchange,
// status and series defaults.
func normalize(alerts []model.Alert, typ model.AlertType) []model.Alert {
	out := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Type == "" {
			a.Type = typ
		}
		if a.Exchange == "" {
			a.Exchange = "NSE"
		}
		if a.Status == "" {
			a.Status = model.StatusActive
		}
		if a.Type == model.AlertPrice && a.Condition == "" {
			a.Condition = model.CondCrossing
		}
		if a.Type == model.AlertIndicator && a.Series == "" {
			a.Series = "value"
		}
		out = append(out, a)
	}
	return out
}

// List returns every stored alert, re-read from the backend. Freshness
// over throughput: the monitor calls this on every tick.
func (s *Store) List() []model.Alert {
	s.reload()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Alert, 0, len(s.price)+len(s.indicator))
	out = append(out, s.price...)
	out = append(out, s.indicator...)
	return out
}

// ListForKey returns alerts for one subscription key.
func (s *Store) ListForKey(key string) []model.Alert {
	all := s.List()
	out := all[:0]
	for _, a := range all {
		if a.Key() == key {
			out = append(out, a)
		}
	}
	return out
}

// Get returns one alert by ID.
func (s *Store) Get(id string) (model.Alert, error) {
	for _, a := range s.List() {
		if a.ID == id {
			return a, nil
		}
	}
	return model.Alert{}, ErrNotFound
}

// Add stores a new alert, assigning an ID and creation time when absent.
func (s *Store) Add(a model.Alert) (model.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	norm := normalize([]model.Alert{a}, a.Type)
	a = norm[0]

	s.mu.Lock()
	if a.Type == model.AlertIndicator {
		s.indicator = append(s.indicator, a)
	} else {
		s.price = append(s.price, a)
	}
	s.mu.Unlock()

	s.persist(a.Type)
	return a, nil
}

// Remove deletes an alert by ID from whichever namespace holds it.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	typ, found := s.removeLocked(id)
	s.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	s.persist(typ)
	return nil
}

func (s *Store) removeLocked(id string) (model.AlertType, bool) {
	for i, a := range s.price {
		if a.ID == id {
			s.price = append(s.price[:i], s.price[i+1:]...)
			return model.AlertPrice, true
		}
	}
	for i, a := range s.indicator {
		if a.ID == id {
			s.indicator = append(s.indicator[:i], s.indicator[i+1:]...)
			return model.AlertIndicator, true
		}
	}
	return "", false
}

// MarkTriggered flips an indicator alert's status to Triggered. Indicator
// alerts retain their record as audit history, unlike one-shot price
// alerts which are removed on fire.
func (s *Store) MarkTriggered(id string) error {
	s.mu.Lock()
	found := false
	for i := range s.indicator {
		if s.indicator[i].ID == id {
			s.indicator[i].Status = model.StatusTriggered
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	s.persist(model.AlertIndicator)
	return nil
}

// persist writes one namespace back. A failing backend is logged and
// otherwise ignored — the in-memory mirror carries on.
func (s *Store) persist(typ model.AlertType) {
	s.mu.Lock()
	var key string
	var alerts []model.Alert
	if typ == model.AlertIndicator {
		key = indicatorAlertsKey
		alerts = append([]model.Alert(nil), s.indicator...)
	} else {
		key = priceAlertsKey
		alerts = append([]model.Alert(nil), s.price...)
	}
	s.mu.Unlock()

	err := s.storage.Set(key, alerts)
	if err != nil {
		s.log.Warn("alert storage write failed, continuing in-memory", "key", key, "err", err)
	}

	s.mu.Lock()
	if typ == model.AlertIndicator {
		s.dirtyIndicator = err != nil
	} else {
		s.dirtyPrice = err != nil
	}
	s.mu.Unlock()
}

// Sweep removes alerts older than maxAge and returns how many were
// dropped. Triggered indicator alerts age out the same way.
func (s *Store) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	dropped := 0
	keep := func(alerts []model.Alert) []model.Alert {
		out := alerts[:0]
		for _, a := range alerts {
			if a.CreatedAt.After(cutoff) {
				out = append(out, a)
			} else {
				dropped++
			}
		}
		return out
	}
	s.price = keep(s.price)
	s.indicator = keep(s.indicator)
	s.mu.Unlock()

	if dropped > 0 {
		s.persist(model.AlertPrice)
		s.persist(model.AlertIndicator)
		s.log.Info("alert retention sweep", "dropped", dropped)
		if s.OnSweep != nil {
			s.OnSweep(dropped)
		}
	}
	return dropped
}

// RunSweeper runs the retention sweep on a ticker until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(maxAge)
		}
	}
}
