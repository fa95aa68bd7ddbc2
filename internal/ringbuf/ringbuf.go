// Package ringbuf provides a lock-free, single-producer single-consumer
// (SPSC) ring buffer for ticks. It decouples the stream's delivery path
// from slow consumers like the disk archiver: the producer never blocks,
// overflowing ticks are dropped and counted.
package ringbuf

import (
	"sync/atomic"

	"alertstream/internal/model"
)

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Entry is one buffered tick with its subscription key.
type Entry struct {
	Key  string
	Tick model.Tick
}

// Ring is a lock-free SPSC ring buffer. Size is a power of two for fast
// bitwise modulo.
type Ring struct {
	buf  []Entry
	mask uint64

	// Separate cache lines to prevent false sharing between producer
	// and consumer.
	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by consumer
	_pad2 [cacheLine]byte

	dropped atomic.Uint64
}

// New creates a ring buffer. capacity is rounded up to the next power of
// two, minimum 2.
func New(capacity int) *Ring {
	c := nextPow2(capacity)
	if c < 2 {
		c = 2
	}
	return &Ring{
		buf:  make([]Entry, c),
		mask: uint64(c - 1),
	}
}

// Push appends an entry. Returns false when the buffer is full; the entry
// is dropped and counted in that case. Non-blocking.
func (r *Ring) Push(e Entry) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if head-tail >= uint64(len(r.buf)) {
		r.dropped.Add(1)
		return false
	}

	r.buf[head&r.mask] = e
	r.head.Store(head + 1)
	return true
}

// Pop retrieves the next entry. Returns false when the buffer is empty.
// Non-blocking.
func (r *Ring) Pop() (Entry, bool) {
	tail := r.tail.Load()
	head := r.head.Load()

	if tail >= head {
		return Entry{}, false
	}

	e := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return e, true
}

// Len returns the current number of buffered entries.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Dropped returns the total number of entries dropped on overflow.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
