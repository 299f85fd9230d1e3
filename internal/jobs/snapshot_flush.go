package jobs

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/wrenchly/internal/service"
	"github.com/DukeRupert/wrenchly/internal/worker"
)

// SnapshotFlushHandler writes buffered usage telemetry to the snapshot table.
type SnapshotFlushHandler struct {
	report service.ReportService
	logger *slog.Logger
}

// NewSnapshotFlushHandler creates a new handler for snapshot flushes.
func NewSnapshotFlushHandler(report service.ReportService, logger *slog.Logger) *SnapshotFlushHandler {
	return &SnapshotFlushHandler{report: report, logger: logger}
}

// Type returns the job type identifier.
func (h *SnapshotFlushHandler) Type() string {
	return worker.JobTypeSnapshotFlush
}

// Handle flushes once. Failed deltas stay buffered for the next attempt.
func (h *SnapshotFlushHandler) Handle(ctx context.Context) error {
	n, err := h.report.FlushSnapshots(ctx)
	if err != nil {
		return err
	}
	h.logger.Debug("Snapshots flushed", "deltas", n)
	return nil
}
