package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/plans"
	"github.com/DukeRupert/wrenchly/internal/repository"
	"github.com/DukeRupert/wrenchly/internal/storage"
)

// maxArchiveSize caps a single archived snapshot document.
const maxArchiveSize = 1 << 20

// =============================================================================
// Interface Definition
// =============================================================================

// ReportService answers dashboard and statistics queries and maintains the
// daily usage snapshots they are built from.
type ReportService interface {
	// GetDashboard returns current-period usage per resource with the plan,
	// subscription status and open alerts.
	GetDashboard(ctx context.Context, tenantID uuid.UUID) (*domain.Dashboard, error)

	// GetStats aggregates the tenant's snapshots over the lookback period.
	// Returns domain.EINVALID for an unknown period.
	GetStats(ctx context.Context, tenantID uuid.UUID, period domain.StatsPeriod) (*domain.UsageStats, error)

	// RecordUsage buffers consumed units for the day's snapshot.
	RecordUsage(tenantID uuid.UUID, resource domain.Resource, amount int64, at time.Time)

	// RecordRequest buffers request telemetry for the day's snapshot.
	RecordRequest(tenantID uuid.UUID, sample domain.RequestSample, at time.Time)

	// FlushSnapshots writes buffered telemetry to the snapshot store.
	FlushSnapshots(ctx context.Context) (int, error)

	// FinalizeSnapshots closes every snapshot whose day ended before now
	// and archives it. Returns the number finalized.
	FinalizeSnapshots(ctx context.Context, now time.Time) (int, error)

	// ListArchivedSnapshots returns the days archived for the tenant,
	// oldest first.
	ListArchivedSnapshots(ctx context.Context, tenantID uuid.UUID) ([]time.Time, error)

	// GetArchivedSnapshot reads one archived day. Returns domain.ENOTFOUND
	// when the day was never archived.
	GetArchivedSnapshot(ctx context.Context, tenantID uuid.UUID, day time.Time) (*domain.UsageSnapshot, error)

	// PruneArchivedSnapshots deletes archived days before the given day and
	// returns how many were removed.
	PruneArchivedSnapshots(ctx context.Context, tenantID uuid.UUID, before time.Time) (int, error)
}

// =============================================================================
// Implementation
// =============================================================================

type reportService struct {
	quota         QuotaService
	catalog       *plans.Catalog
	snapshots     repository.SnapshotRepository
	subscriptions repository.SubscriptionRepository
	alerts        repository.AlertRepository
	recorder      *SnapshotRecorder
	archive       storage.Storage
	now           func() time.Time
	logger        *slog.Logger
}

// NewReportService creates a new ReportService. archive may be nil to skip
// archiving finalized snapshots.
func NewReportService(
	quota QuotaService,
	catalog *plans.Catalog,
	snapshots repository.SnapshotRepository,
	subscriptions repository.SubscriptionRepository,
	alerts repository.AlertRepository,
	recorder *SnapshotRecorder,
	archive storage.Storage,
	logger *slog.Logger,
) ReportService {
	return &reportService{
		quota:         quota,
		catalog:       catalog,
		snapshots:     snapshots,
		subscriptions: subscriptions,
		alerts:        alerts,
		recorder:      recorder,
		archive:       archive,
		now:           time.Now,
		logger:        logger,
	}
}

// GetDashboard builds the current-period overview.
func (s *reportService) GetDashboard(ctx context.Context, tenantID uuid.UUID) (*domain.Dashboard, error) {
	const op = "report.dashboard"

	usage, err := s.quota.GetUsage(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	plan, err := s.catalog.Get(usage.PlanID)
	if err != nil {
		return nil, err
	}

	status := domain.SubscriptionActive
	sub, err := s.subscriptions.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load subscription")
	}
	if sub != nil && sub.Status.Valid() {
		status = sub.Status
	}

	open, err := s.alerts.ListOpen(ctx, tenantID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load alerts")
	}
	if open == nil {
		open = []*domain.Alert{}
	}

	resources := make(map[domain.Resource]domain.ResourceUsage, len(domain.Resources))
	for _, r := range domain.Resources {
		limit, _ := plan.Limits.For(r)
		resources[r] = domain.NewResourceUsage(limit, usage.Counters.Get(r))
	}

	return &domain.Dashboard{
		TenantID: tenantID,
		Plan: domain.PlanSummary{
			ID:       plan.ID,
			Name:     plan.Name,
			Features: plan.Features,
		},
		Status:     status,
		Period:     domain.Period{Start: usage.PeriodStart, End: usage.PeriodEnd},
		LastReset:  usage.LastReset,
		Resources:  resources,
		OpenAlerts: open,
	}, nil
}

// GetStats aggregates snapshots in [now - period, now].
func (s *reportService) GetStats(ctx context.Context, tenantID uuid.UUID, period domain.StatsPeriod) (*domain.UsageStats, error) {
	const op = "report.stats"

	period, err := domain.ParseStatsPeriod(string(period))
	if err != nil {
		return nil, err
	}

	to := s.now().UTC()
	from := period.Since(to)

	snaps, err := s.snapshots.List(ctx, tenantID, from, to)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load snapshots")
	}

	stats := domain.AggregateSnapshots(snaps)
	stats.TenantID = tenantID
	stats.Period = period
	stats.From = from
	stats.To = to
	return &stats, nil
}

// RecordUsage buffers consumption for snapshots.
func (s *reportService) RecordUsage(tenantID uuid.UUID, resource domain.Resource, amount int64, at time.Time) {
	s.recorder.RecordUsage(tenantID, resource, amount, at)
}

// RecordRequest buffers request telemetry for snapshots.
func (s *reportService) RecordRequest(tenantID uuid.UUID, sample domain.RequestSample, at time.Time) {
	s.recorder.RecordRequest(tenantID, sample, at)
}

// FlushSnapshots persists buffered deltas.
func (s *reportService) FlushSnapshots(ctx context.Context) (int, error) {
	const op = "report.flush_snapshots"

	n, err := s.recorder.Flush(ctx)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to flush snapshots")
	}
	return n, nil
}

// FinalizeSnapshots flushes pending deltas, then closes and archives
// every snapshot for a day that has ended.
func (s *reportService) FinalizeSnapshots(ctx context.Context, now time.Time) (int, error) {
	const op = "report.finalize_snapshots"

	if _, err := s.FlushSnapshots(ctx); err != nil {
		return 0, err
	}

	today, _ := domain.SnapshotDay(now)
	closed, err := s.snapshots.FinalizeBefore(ctx, today)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to finalize snapshots")
	}

	for _, snap := range closed {
		if err := s.archiveSnapshot(ctx, snap); err != nil {
			level := slog.LevelWarn
			if storage.IsPermanent(err) || domain.ErrorCode(err) == domain.EINVALID {
				level = slog.LevelError
			}
			s.logger.Log(ctx, level, "failed to archive snapshot",
				"tenant_id", snap.TenantID,
				"day", snap.PeriodStart.Format(time.DateOnly),
				"error", err,
			)
		}
	}

	if len(closed) > 0 {
		s.logger.Info("snapshots finalized", "count", len(closed), "before", today.Format(time.DateOnly))
	}
	return len(closed), nil
}

func (s *reportService) archiveSnapshot(ctx context.Context, snap domain.UsageSnapshot) error {
	const op = "report.archive_snapshot"

	if s.archive == nil {
		return nil
	}

	key := storage.SnapshotKey(snap.TenantID, snap.PeriodStart)
	exists, err := s.archive.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		s.logger.Debug("snapshot already archived", "key", key)
		return nil
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	err = s.archive.Put(ctx, key, bytes.NewReader(body), storage.PutOptions{
		ContentType: storage.ContentTypeJSON,
		MaxSize:     maxArchiveSize,
	})
	switch {
	case storage.IsKeyExists(err):
		// Another instance archived it between the check and the write.
		return nil
	case storage.IsTooLarge(err):
		return domain.Invalid(op, "snapshot exceeds archive size limit")
	}
	return err
}

// ListArchivedSnapshots walks the tenant's archive prefix.
func (s *reportService) ListArchivedSnapshots(ctx context.Context, tenantID uuid.UUID) ([]time.Time, error) {
	const op = "report.list_archive"

	keys, err := s.archiveKeys(ctx, op, tenantID)
	if err != nil {
		return nil, err
	}

	days := make([]time.Time, 0, len(keys))
	for _, key := range keys {
		day, err := storage.SnapshotDayFromKey(key)
		if storage.IsInvalidKey(err) {
			s.logger.Warn("skipping unrecognized archive key", "key", key)
			continue
		}
		if err != nil {
			return nil, domain.Internal(err, op, "failed to read archive key")
		}
		days = append(days, day)
	}
	return days, nil
}

// GetArchivedSnapshot decodes the archived document for day.
func (s *reportService) GetArchivedSnapshot(ctx context.Context, tenantID uuid.UUID, day time.Time) (*domain.UsageSnapshot, error) {
	const op = "report.get_archive"

	if s.archive == nil {
		return nil, domain.Errorf(domain.EUNAVAILABLE, op, "snapshot archive is not configured")
	}

	start, _ := domain.SnapshotDay(day)
	key := storage.SnapshotKey(tenantID, start)
	rc, _, err := s.archive.Get(ctx, key)
	if err != nil {
		switch {
		case storage.IsNotFound(err):
			return nil, domain.NotFound(op, "snapshot", start.Format(time.DateOnly))
		case storage.IsPermanent(err):
			return nil, domain.Internal(err, op, "snapshot archive rejected the read")
		}
		return nil, domain.Unavailable(err, op, "snapshot archive unavailable")
	}
	defer rc.Close()

	var snap domain.UsageSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return nil, domain.Internal(err, op, "failed to decode archived snapshot")
	}
	return &snap, nil
}

// PruneArchivedSnapshots removes archived days strictly before before.
func (s *reportService) PruneArchivedSnapshots(ctx context.Context, tenantID uuid.UUID, before time.Time) (int, error) {
	const op = "report.prune_archive"

	keys, err := s.archiveKeys(ctx, op, tenantID)
	if err != nil {
		return 0, err
	}

	cutoff, _ := domain.SnapshotDay(before)
	pruned := 0
	for _, key := range keys {
		day, err := storage.SnapshotDayFromKey(key)
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if err := s.archive.Delete(ctx, key); err != nil {
			return pruned, domain.Unavailable(err, op, "failed to delete archived snapshot")
		}
		pruned++
	}

	if pruned > 0 {
		s.logger.Info("archived snapshots pruned",
			"tenant_id", tenantID,
			"count", pruned,
			"before", cutoff.Format(time.DateOnly),
		)
	}
	return pruned, nil
}

func (s *reportService) archiveKeys(ctx context.Context, op string, tenantID uuid.UUID) ([]string, error) {
	if s.archive == nil {
		return nil, domain.Errorf(domain.EUNAVAILABLE, op, "snapshot archive is not configured")
	}
	keys, err := s.archive.List(ctx, storage.SnapshotPrefix(tenantID))
	if err != nil {
		return nil, domain.Unavailable(err, op, "snapshot archive unavailable")
	}
	return keys, nil
}
