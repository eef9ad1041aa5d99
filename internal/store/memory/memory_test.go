package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openperps/perpdesk/internal/domain"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	// Returned slices are copies; mutating one must not corrupt the store.
	got[0] = 'X'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), again)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditLogListRecent(t *testing.T) {
	ctx := context.Background()
	l := NewAuditLog()

	require.NoError(t, l.Log(ctx, "first", nil))
	require.NoError(t, l.Log(ctx, "second", map[string]any{"n": 2}))
	require.NoError(t, l.Log(ctx, "third", nil))

	entries, err := l.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "third", entries[0].Event)
	require.Equal(t, "second", entries[1].Event)
	require.Equal(t, map[string]any{"n": 2}, entries[1].Detail)
}

func TestAuditLogRetention(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	l := NewAuditLog()
	for i := 0; i < 5; i++ {
		offset := time.Duration(i) * time.Hour
		l.now = func() time.Time { return base.Add(offset) }
		require.NoError(t, l.Log(ctx, "event", map[string]any{"i": i}))
	}

	cutoff := base.Add(3 * time.Hour)

	old, err := l.ListBefore(ctx, cutoff, 0)
	require.NoError(t, err)
	require.Len(t, old, 3)
	require.Equal(t, 0, old[0].Detail["i"])
	require.Equal(t, 2, old[2].Detail["i"])

	deleted, err := l.DeleteBefore(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	remaining, err := l.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}

func TestAuditLogCapDropsOldest(t *testing.T) {
	ctx := context.Background()
	l := NewAuditLog()
	l.cap = 3

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Log(ctx, "event", map[string]any{"i": i}))
	}

	entries, err := l.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, 4, entries[0].Detail["i"])
	require.Equal(t, 2, entries[2].Detail["i"])
}
