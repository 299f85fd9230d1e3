package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/metrics"
	"github.com/DukeRupert/wrenchly/internal/repository"
)

// =============================================================================
// Snapshot Recorder
// =============================================================================

// SnapshotRecorder buffers per-tenant, per-day usage and request telemetry
// in memory and writes it to the snapshot repository in batches. Recording
// never blocks on the database.
type SnapshotRecorder struct {
	repo   repository.SnapshotRepository
	logger *slog.Logger

	mu      sync.Mutex
	pending map[deltaKey]*domain.SnapshotDelta
}

type deltaKey struct {
	tenant uuid.UUID
	day    time.Time
}

// NewSnapshotRecorder creates a SnapshotRecorder.
func NewSnapshotRecorder(repo repository.SnapshotRepository, logger *slog.Logger) *SnapshotRecorder {
	return &SnapshotRecorder{
		repo:    repo,
		logger:  logger,
		pending: make(map[deltaKey]*domain.SnapshotDelta),
	}
}

// RecordUsage adds consumed units to the day's snapshot.
func (r *SnapshotRecorder) RecordUsage(tenantID uuid.UUID, resource domain.Resource, amount int64, at time.Time) {
	if amount <= 0 {
		return
	}
	r.update(tenantID, at, func(d *domain.SnapshotDelta) {
		d.Usage.Add(resource, amount)
	})
}

// RecordRequest adds one request to the day's snapshot.
func (r *SnapshotRecorder) RecordRequest(tenantID uuid.UUID, sample domain.RequestSample, at time.Time) {
	r.update(tenantID, at, func(d *domain.SnapshotDelta) {
		d.Requests++
		d.TotalResponseMs += sample.Latency.Milliseconds()
		if sample.Failed {
			d.Errors++
		}
		if sample.ServerError {
			d.ServerErrors++
		}
	})
}

func (r *SnapshotRecorder) update(tenantID uuid.UUID, at time.Time, fn func(*domain.SnapshotDelta)) {
	day, _ := domain.SnapshotDay(at)
	k := deltaKey{tenant: tenantID, day: day}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.pending[k]
	if !ok {
		d = &domain.SnapshotDelta{TenantID: tenantID, Day: day}
		r.pending[k] = d
	}
	fn(d)
}

// Pending returns the number of buffered tenant-day deltas.
func (r *SnapshotRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush swaps out the buffer and applies it in one batch. On failure the
// deltas are merged back so the next flush retries them.
func (r *SnapshotRecorder) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return 0, nil
	}
	batch := r.pending
	r.pending = make(map[deltaKey]*domain.SnapshotDelta)
	r.mu.Unlock()

	deltas := make([]domain.SnapshotDelta, 0, len(batch))
	for _, d := range batch {
		if !d.IsZero() {
			deltas = append(deltas, *d)
		}
	}

	if err := r.repo.Apply(ctx, deltas); err != nil {
		r.mergeBack(batch)
		metrics.SnapshotFlushesTotal.WithLabelValues("failed").Inc()
		r.logger.Error("snapshot flush failed", "deltas", len(deltas), "error", err)
		return 0, err
	}

	metrics.SnapshotFlushesTotal.WithLabelValues("completed").Inc()
	r.logger.Debug("snapshot deltas flushed", "deltas", len(deltas))
	return len(deltas), nil
}

func (r *SnapshotRecorder) mergeBack(batch map[deltaKey]*domain.SnapshotDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, old := range batch {
		cur, ok := r.pending[k]
		if !ok {
			r.pending[k] = old
			continue
		}
		cur.Usage.Merge(old.Usage)
		cur.Requests += old.Requests
		cur.Errors += old.Errors
		cur.ServerErrors += old.ServerErrors
		cur.TotalResponseMs += old.TotalResponseMs
	}
}
