// Package memory implements the domain store interfaces on process-local
// maps. State is lost on restart; intended for tests and simulate mode.
package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/openperps/perpdesk/internal/domain"
)

// Store is an in-memory domain.StateStore.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
}

var _ domain.StateStore = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{values: make(map[string][]byte)}
}

// Get returns the value stored under key, or domain.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return bytes.Clone(value), nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = bytes.Clone(value)
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// defaultAuditCap bounds the in-memory audit log so a long-lived process
// does not grow without limit.
const defaultAuditCap = 4096

// AuditLog is an in-memory domain.AuditStore holding at most cap entries,
// dropping the oldest when full. It backs installs that run without
// PostgreSQL.
type AuditLog struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	nextID  int64
	cap     int
	now     func() time.Time
}

var _ domain.AuditStore = (*AuditLog)(nil)

// NewAuditLog creates an AuditLog with the default capacity.
func NewAuditLog() *AuditLog {
	return &AuditLog{nextID: 1, cap: defaultAuditCap, now: time.Now}
}

// Log appends an entry with the given event name and detail map.
func (l *AuditLog) Log(_ context.Context, event string, detail map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, domain.AuditEntry{
		ID:        l.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: l.now().UTC(),
	})
	l.nextID++

	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
	return nil
}

// ListRecent returns up to limit entries, newest first.
func (l *AuditLog) ListRecent(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]domain.AuditEntry, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

// ListBefore returns up to limit entries created strictly before cutoff,
// oldest first.
func (l *AuditLog) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.AuditEntry
	for _, e := range l.entries {
		if !e.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DeleteBefore removes entries created strictly before cutoff and reports
// how many were deleted.
func (l *AuditLog) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	var deleted int64
	for _, e := range l.entries {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return deleted, nil
}
