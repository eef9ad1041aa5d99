package domain

import (
	"context"
	"time"
)

// StateStore persists opaque state blobs keyed by name. Writes replace
// the whole value; implementations guarantee a reader never observes a
// partial write. Get returns ErrNotFound for a missing key.
type StateStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log of user-facing
// operations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	ListRecent(ctx context.Context, limit int) ([]AuditEntry, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
