package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openperps/perpdesk/internal/domain"
	"github.com/openperps/perpdesk/internal/metrics"
)

// archiveBatchSize bounds how many audit entries one sweep iteration
// moves at a time.
const archiveBatchSize = 1000

// AuditArchiver implements domain.Archiver by draining old audit
// entries from the primary store into JSONL objects in S3. Entries are
// deleted from the store only after their batch has been uploaded, so a
// failed upload leaves them in place for the next sweep.
type AuditArchiver struct {
	writer    domain.BlobWriter
	audit     domain.AuditStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuditArchiver creates an archiver that keeps retention worth of
// audit history in the store and sweeps the rest every interval.
func NewAuditArchiver(
	writer domain.BlobWriter,
	audit domain.AuditStore,
	retention time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *AuditArchiver {
	return &AuditArchiver{
		writer:    writer,
		audit:     audit,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

var _ domain.Archiver = (*AuditArchiver)(nil)

// ArchiveAudit moves every audit entry created before the cutoff into
// object storage and returns how many entries were archived. Batches
// are uploaded as newline-delimited JSON under
// archive/audit/YYYY-MM/audit-<firstID>-<lastID>.jsonl.
func (a *AuditArchiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	for {
		entries, err := a.audit.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(entries)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit marshal: %w", err)
		}

		first, last := entries[0], entries[len(entries)-1]
		path := auditArchivePath(before, first.ID, last.ID)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive audit upload: %w", err)
		}

		// Delete only what this batch covered. The store lists oldest
		// first, so everything at or before the last entry's timestamp
		// is in the object we just wrote.
		cutoff := last.CreatedAt.Add(time.Nanosecond)
		if cutoff.After(before) {
			cutoff = before
		}
		if _, err := a.audit.DeleteBefore(ctx, cutoff); err != nil {
			return total, fmt.Errorf("s3blob: archive audit delete: %w", err)
		}

		total += int64(len(entries))
		metrics.AuditEntriesArchived.Add(float64(len(entries)))
		a.logger.InfoContext(ctx, "archived audit batch",
			slog.String("path", path),
			slog.Int("count", len(entries)),
		)

		if len(entries) < archiveBatchSize {
			return total, nil
		}
	}
}

// Run sweeps on the configured interval until the context is cancelled.
// The first sweep happens immediately.
func (a *AuditArchiver) Run(ctx context.Context) error {
	interval := a.interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	a.logger.InfoContext(ctx, "audit archiver started",
		slog.Duration("interval", interval),
		slog.Duration("retention", a.retention),
	)

	a.sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *AuditArchiver) sweep(ctx context.Context) {
	before := a.now().Add(-a.retention)
	count, err := a.ArchiveAudit(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "audit sweep failed",
			slog.String("error", err.Error()),
			slog.Int64("archived", count),
		)
		return
	}
	if count > 0 {
		a.logger.InfoContext(ctx, "audit sweep complete", slog.Int64("archived", count))
	}
}

// auditArchivePath builds the S3 key for one archived batch,
// partitioned by the year-month of the cutoff.
func auditArchivePath(before time.Time, firstID, lastID int64) string {
	return fmt.Sprintf("archive/audit/%s/audit-%d-%d.jsonl", before.Format("2006-01"), firstID, lastID)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by
// '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
