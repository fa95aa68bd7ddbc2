// Package tickstore keeps a bounded per-symbol history of recent ticks and
// fans incoming ticks out to registered listeners. It is a pure data
// structure — no network, no persistence.
package tickstore

import (
	"log/slog"
	"sync"

	"alertstream/internal/model"
)

// MaxTicksInMemory is the per-symbol circular buffer capacity. Once full,
// the oldest tick is evicted first (FIFO) — there is no other policy.
const MaxTicksInMemory = 10_000

// ring is a fixed-capacity circular buffer of ticks.
type ring struct {
	buf   []model.Tick
	start int // index of the oldest tick
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]model.Tick, capacity)}
}

func (r *ring) push(t model.Tick) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = t
		r.count++
		return
	}
	// Full: overwrite the oldest slot and advance start.
	r.buf[r.start] = t
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot copies out the newest n ticks in chronological order.
// n <= 0 means all.
func (r *ring) snapshot(n int) []model.Tick {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]model.Tick, n)
	first := r.start + r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(first+i)%len(r.buf)]
	}
	return out
}

// Listener receives every tick appended for its subscription key.
type Listener func(key string, t model.Tick)

// Store holds per-symbol tick rings plus the listener registry.
// All methods are safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	capacity  int
	rings     map[string]*ring
	listeners map[string]map[int]Listener
	global    map[int]Listener
	nextID    int

	log *slog.Logger
}

// New creates a Store with the default per-symbol capacity.
func New(log *slog.Logger) *Store {
	return NewWithCapacity(MaxTicksInMemory, log)
}

// NewWithCapacity creates a Store with an explicit per-symbol capacity.
func NewWithCapacity(capacity int, log *slog.Logger) *Store {
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		capacity:  capacity,
		rings:     make(map[string]*ring),
		listeners: make(map[string]map[int]Listener),
		global:    make(map[int]Listener),
		log:       log,
	}
}

// Append records a tick for key and notifies listeners. Listener panics are
// contained so one bad consumer cannot break delivery to the rest.
func (s *Store) Append(key string, t model.Tick) {
	s.mu.Lock()
	r, ok := s.rings[key]
	if !ok {
		r = newRing(s.capacity)
		s.rings[key] = r
	}
	r.push(t)

	var fns []Listener
	if reg := s.listeners[key]; len(reg) > 0 {
		fns = make([]Listener, 0, len(reg))
		for _, fn := range reg {
			fns = append(fns, fn)
		}
	}
	for _, fn := range s.global {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		s.deliver(fn, key, t)
	}
}

func (s *Store) deliver(fn Listener, key string, t model.Tick) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("tick listener panic", "key", key, "panic", rec)
		}
	}()
	fn(key, t)
}

// Recent returns up to n of the newest ticks for key, oldest first.
func (s *Store) Recent(key string, n int) []model.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rings[key]
	if !ok {
		return nil
	}
	return r.snapshot(n)
}

// Len reports how many ticks are currently buffered for key.
func (s *Store) Len(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rings[key]; ok {
		return r.count
	}
	return 0
}

// Subscribe registers a listener for key and returns its unsubscribe func.
// Unsubscribing twice is a no-op.
func (s *Store) Subscribe(key string, fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	reg, ok := s.listeners[key]
	if !ok {
		reg = make(map[int]Listener)
		s.listeners[key] = reg
	}
	id := s.nextID
	s.nextID++
	reg[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if reg, ok := s.listeners[key]; ok {
			delete(reg, id)
			if len(reg) == 0 {
				delete(s.listeners, key)
			}
		}
		s.mu.Unlock()
	}
}

// SubscribeAll registers a listener for every key. Used by consumers
// that span the whole symbol set, like the disk archiver.
func (s *Store) SubscribeAll(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.global[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.global, id)
		s.mu.Unlock()
	}
}

// Clear drops all buffered ticks for key. Listeners stay registered.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	delete(s.rings, key)
	s.mu.Unlock()
}
