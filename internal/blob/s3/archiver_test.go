package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openperps/perpdesk/internal/domain"
	"github.com/openperps/perpdesk/internal/store/memory"
)

type fakeWriter struct {
	puts   []string
	bodies [][]byte
	err    error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	body, _ := io.ReadAll(data)
	w.puts = append(w.puts, path)
	w.bodies = append(w.bodies, body)
	return nil
}

func newTestArchiver(writer domain.BlobWriter, audit domain.AuditStore) *AuditArchiver {
	return NewAuditArchiver(writer, audit, 90*24*time.Hour, time.Hour, slog.New(slog.DiscardHandler))
}

func TestArchiveAuditMovesOldEntries(t *testing.T) {
	ctx := context.Background()
	audit := memory.NewAuditLog()
	require.NoError(t, audit.Log(ctx, "register", map[string]any{"username": "ada"}))
	require.NoError(t, audit.Log(ctx, "order_submitted", map[string]any{"market": "BTC-PERP"}))
	require.NoError(t, audit.Log(ctx, "sign_out", nil))

	writer := &fakeWriter{}
	arch := newTestArchiver(writer, audit)

	count, err := arch.ArchiveAudit(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.Len(t, writer.puts, 1)
	assert.True(t, strings.HasPrefix(writer.puts[0], "archive/audit/"))
	assert.True(t, strings.HasSuffix(writer.puts[0], ".jsonl"))

	// The object holds one JSON line per entry.
	lines := bytes.Split(bytes.TrimSpace(writer.bodies[0]), []byte("\n"))
	require.Len(t, lines, 3)
	var first domain.AuditEntry
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "register", first.Event)

	// The store no longer holds the archived entries.
	remaining, err := audit.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestArchiveAuditNothingToDo(t *testing.T) {
	ctx := context.Background()
	audit := memory.NewAuditLog()
	require.NoError(t, audit.Log(ctx, "register", nil))

	writer := &fakeWriter{}
	arch := newTestArchiver(writer, audit)

	// Cutoff in the past: the entry is newer than it, so nothing moves.
	count, err := arch.ArchiveAudit(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.puts)

	remaining, err := audit.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestArchiveAuditKeepsEntriesOnUploadFailure(t *testing.T) {
	ctx := context.Background()
	audit := memory.NewAuditLog()
	require.NoError(t, audit.Log(ctx, "register", nil))

	writer := &fakeWriter{err: errors.New("bucket gone")}
	arch := newTestArchiver(writer, audit)

	count, err := arch.ArchiveAudit(ctx, time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Zero(t, count)

	// Failed upload must not delete anything.
	remaining, err := audit.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestAuditArchivePath(t *testing.T) {
	before := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive/audit/2026-02/audit-7-42.jsonl", auditArchivePath(before, 7, 42))
}
