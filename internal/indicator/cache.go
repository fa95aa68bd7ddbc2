package indicator

import (
	"sync"
	"time"

	"alertstream/internal/model"
)

// DefaultTTL is how long a computed snapshot stays fresh.
const DefaultTTL = 30 * time.Second

// Snapshot is the cached computation result for one (symbol, exchange,
// interval): every requested indicator keyed by its spec ID.
type Snapshot map[string]Computed

type cacheEntry struct {
	snap       Snapshot
	specIDs    map[string]bool // the spec set this snapshot was computed for
	computedAt time.Time
}

// covers reports whether the entry was computed for every requested spec.
// Absence from specIDs (not from snap — an indicator may be legitimately
// uncomputable from the bars) forces a recompute, so an alert on a new
// indicator is never starved by a fresh-but-narrower snapshot.
func (e cacheEntry) covers(specs []Spec) bool {
	for _, s := range specs {
		if !e.specIDs[s.ID] {
			return false
		}
	}
	return true
}

// Cache memoizes indicator snapshots per (symbol, exchange, interval) with
// a short TTL so per-tick evaluation does not recompute on every tick.
// Eviction is TTL-based and lazy (checked on read, or via Sweep) — the key
// space is bounded by the number of actively-watched symbol/interval
// combinations, so there is no size bound.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time

	// Optional hit/miss hooks for metrics.
	OnHit  func()
	OnMiss func()
}

// NewCache creates a Cache with the given TTL (DefaultTTL when ttl <= 0).
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached snapshot for the key if it is younger than the
// TTL and was computed for every requested spec; otherwise it recomputes
// every indicator in specs from bars and caches the result. Indicators
// that cannot be computed from the supplied bars are simply absent from
// the snapshot.
func (c *Cache) Get(symbol, exchange, interval string, specs []Spec, bars []model.Bar) Snapshot {
	key := model.BarKey(symbol, exchange, interval)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.computedAt) < c.ttl && e.covers(specs) {
		c.mu.Unlock()
		if c.OnHit != nil {
			c.OnHit()
		}
		return e.snap
	}
	c.mu.Unlock()

	if c.OnMiss != nil {
		c.OnMiss()
	}

	snap := make(Snapshot, len(specs))
	ids := make(map[string]bool, len(specs))
	for _, spec := range specs {
		ids[spec.ID] = true
		if computed, ok := Compute(spec, bars); ok {
			snap[spec.ID] = computed
		}
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{snap: snap, specIDs: ids, computedAt: c.now()}
	c.mu.Unlock()
	return snap
}

// Invalidate drops the cached snapshot for one key.
func (c *Cache) Invalidate(symbol, exchange, interval string) {
	c.mu.Lock()
	delete(c.entries, model.BarKey(symbol, exchange, interval))
	c.mu.Unlock()
}

// Sweep removes every expired entry and reports how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	cutoff := c.now().Add(-c.ttl)
	for k, e := range c.entries {
		if e.computedAt.Before(cutoff) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of cached snapshots, fresh or stale.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
