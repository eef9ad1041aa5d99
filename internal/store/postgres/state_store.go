package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openperps/perpdesk/internal/domain"
)

// StateStore implements domain.StateStore on a single kv table. Writes are
// whole-value upserts so a reader never observes a partially written blob.
type StateStore struct {
	pool *pgxpool.Pool
}

var _ domain.StateStore = (*StateStore)(nil)

// NewStateStore creates a StateStore backed by the given pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Get returns the value stored under key, or domain.ErrNotFound.
func (s *StateStore) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT value FROM kv_state WHERE key = $1`

	var value []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %q: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (s *StateStore) Put(ctx context.Context, key string, value []byte) error {
	const query = `
		INSERT INTO kv_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("postgres: put %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *StateStore) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM kv_state WHERE key = $1`

	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("postgres: delete %q: %w", key, err)
	}
	return nil
}
