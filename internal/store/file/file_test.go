package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openperps/perpdesk/internal/domain"
)

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "state.json"))

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Put(ctx, "a", []byte("one")))
	require.NoError(t, s.Put(ctx, "b", []byte("two")))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), got)

	require.NoError(t, s.Put(ctx, "a", []byte("three")))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("three"), got)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Deleting twice is fine.
	require.NoError(t, s.Delete(ctx, "a"))
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")

	s := New(path)
	require.NoError(t, s.Put(ctx, "session", []byte(`{"userID":"u1"}`)))

	reopened := New(path)
	got, err := reopened.Get(ctx, "session")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"userID":"u1"}`), got)
}

func TestStateFileIsOwnerOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s := New(path)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "state.json"))

	require.NoError(t, s.Put(ctx, "k", []byte("abc")))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	got[0] = 'X'

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}
