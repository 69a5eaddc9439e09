// Package trace correlates asynchronous outbound replies with the injected
// request that caused them. A trace id travels as an ambient value on the
// context; the store keeps per-trace response lists until claimed or expired.
package trace

import (
	"context"
	"sync"
	"time"

	"github.com/botwire/botwire/pkg/types"
)

type contextKey struct{}

// WithTrace returns a context carrying the given trace id as the ambient
// scope. All code reached from this context (including event-bus handlers
// spawned with it) can read the id back via FromContext.
func WithTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKey{}, traceID)
}

// FromContext reads the ambient trace id, if any.
func FromContext(ctx context.Context) (string, bool) {
	traceID, ok := ctx.Value(contextKey{}).(string)
	return traceID, ok && traceID != ""
}

// Entry is the in-flight state of one trace.
type Entry struct {
	CreatedAt int64          `json:"createdAt"`
	Request   types.Record   `json:"request"`
	Responses []types.Record `json:"responses"`
}

// Store maps trace ids to in-flight entries. All mutations are serialized by
// an internal mutex; response lists are append-only.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewStore creates an empty trace store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Register creates a trace entry with an empty response list. Registering an
// existing id overwrites it; duplicate caller-supplied ids are caller error.
func (s *Store) Register(traceID string, request types.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[traceID] = &Entry{
		CreatedAt: time.Now().UnixMilli(),
		Request:   request,
	}
}

// Append adds a response record to a live trace. Returns false when no entry
// exists for the id (orphaned send).
func (s *Store) Append(traceID string, record types.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[traceID]
	if !ok {
		return false
	}
	entry.Responses = append(entry.Responses, record)
	return true
}

// Get returns a snapshot of the entry for the id.
func (s *Store) Get(traceID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[traceID]
	if !ok {
		return Entry{}, false
	}

	snapshot := Entry{
		CreatedAt: entry.CreatedAt,
		Request:   entry.Request,
		Responses: append([]types.Record(nil), entry.Responses...),
	}
	return snapshot, true
}

// Delete removes the entry for the id.
func (s *Store) Delete(traceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, traceID)
}

// Len returns the number of live traces.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ScheduleEviction deletes the entry after ttl. Fire-and-forget: the timer
// does not keep the process alive and deleting an already-claimed trace is a
// no-op.
func (s *Store) ScheduleEviction(traceID string, ttl time.Duration) {
	time.AfterFunc(ttl, func() {
		s.Delete(traceID)
	})
}
