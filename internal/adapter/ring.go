package adapter

import (
	"sync"

	"github.com/botwire/botwire/pkg/types"
)

// Ring is a bounded most-recent-first buffer of records. Pushes beyond the
// cap drop the oldest entries.
type Ring struct {
	mu  sync.Mutex
	max int
	buf []types.Record
}

// NewRing creates a ring with the given capacity.
func NewRing(max int) *Ring {
	if max <= 0 {
		max = 1
	}
	return &Ring{max: max}
}

// Push inserts a record at the head, trimming to capacity.
func (r *Ring) Push(record types.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append([]types.Record{record}, r.buf...)
	if len(r.buf) > r.max {
		r.buf = r.buf[:r.max]
	}
}

// Snapshot returns up to limit records, most recent first. limit <= 0 returns
// everything.
func (r *Ring) Snapshot(limit int) []types.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.buf)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]types.Record(nil), r.buf[:n]...)
}

// Len returns the current number of records.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
