package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/openperps/perpdesk/internal/domain"
)

// ActivityService is the audit surface the activity handler needs.
type ActivityService interface {
	AuditTrail(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

// ArchiveLister enumerates audit batches already moved to cold storage.
type ArchiveLister interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// auditArchivePrefix is where the archiver parks audit batches.
const auditArchivePrefix = "archive/audit/"

// ActivityHandler serves the dashboard's recent-activity panel.
type ActivityHandler struct {
	svc      ActivityService
	archives ArchiveLister
	logger   *slog.Logger
}

// NewActivityHandler creates an ActivityHandler. archives may be nil
// when no cold storage is configured; Archives then reports an empty
// list.
func NewActivityHandler(svc ActivityService, archives ArchiveLister, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{svc: svc, archives: archives, logger: logger}
}

// List returns recent audit entries, newest first.
// GET /api/activity?limit=50
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)
	entries, err := h.svc.AuditTrail(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit trail read failed",
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"activity": entries,
	})
}

type archiveEntry struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// Archives lists the audit batches the retention sweep has uploaded.
// GET /api/activity/archives
func (h *ActivityHandler) Archives(w http.ResponseWriter, r *http.Request) {
	batches := []archiveEntry{}
	if h.archives != nil {
		infos, err := h.archives.List(r.Context(), auditArchivePrefix)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "archive listing failed",
				slog.String("error", err.Error()))
			writeDomainError(w, err)
			return
		}
		for _, info := range infos {
			batches = append(batches, archiveEntry{
				Path:         info.Path,
				Size:         info.Size,
				LastModified: info.LastModified,
			})
		}
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"archives": batches,
	})
}
