package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/metrics"
	"github.com/DukeRupert/wrenchly/internal/usagestore"
)

// =============================================================================
// Interface Definition
// =============================================================================

// RolloverService resets usage counters at period boundaries or on
// operator request.
type RolloverService interface {
	// ResetCounters zeroes the tenant's counters immediately and starts the
	// window containing now. Open quota alerts are resolved.
	ResetCounters(ctx context.Context, tenantID uuid.UUID) (*domain.TenantUsage, error)

	// RunPeriodRollover resets every tenant whose window has elapsed at now
	// and finalizes closed snapshots. It returns the tenants that rolled.
	RunPeriodRollover(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// SnapshotFinalizer closes snapshots for days that have ended.
type SnapshotFinalizer interface {
	FinalizeSnapshots(ctx context.Context, now time.Time) (int, error)
}

// =============================================================================
// Implementation
// =============================================================================

type rolloverService struct {
	store     usagestore.Store
	resolver  QuotaAlertResolver
	finalizer SnapshotFinalizer
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// RolloverOption configures a RolloverService.
type RolloverOption func(*rolloverService)

// WithStoreTimeout bounds each per-tenant store call. Defaults to
// DefaultQuotaTimeout.
func WithStoreTimeout(d time.Duration) RolloverOption {
	return func(s *rolloverService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewRolloverService creates a new RolloverService. finalizer may be nil.
func NewRolloverService(store usagestore.Store, resolver QuotaAlertResolver, finalizer SnapshotFinalizer, logger *slog.Logger, opts ...RolloverOption) RolloverService {
	s := &rolloverService{
		store:     store,
		resolver:  resolver,
		finalizer: finalizer,
		timeout:   DefaultQuotaTimeout,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResetCounters performs an unconditional reset.
func (s *rolloverService) ResetCounters(ctx context.Context, tenantID uuid.UUID) (*domain.TenantUsage, error) {
	const op = "rollover.reset"

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	usage, err := s.store.Reset(storeCtx, tenantID, s.now())
	if err != nil {
		if usagestore.IsTenantNotFound(err) {
			return nil, domain.NotProvisioned(op, tenantID.String())
		}
		metrics.QuotaStoreError(op, "")
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(storeCtx.Err(), context.DeadlineExceeded) {
			return nil, domain.Unavailable(err, op, "usage store timed out")
		}
		return nil, domain.Unavailable(err, op, "usage store unavailable")
	}

	s.logger.Info("usage counters reset",
		"tenant_id", tenantID,
		"period_start", usage.PeriodStart,
		"period_end", usage.PeriodEnd,
	)
	s.resolveQuotaAlerts(ctx, tenantID)
	return usage, nil
}

// RunPeriodRollover walks tenants due at now. A failure on one tenant is
// logged and does not stop the others.
func (s *rolloverService) RunPeriodRollover(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	const op = "rollover.run"

	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		metrics.QuotaStoreError(op, "")
		return nil, domain.Unavailable(err, op, "failed to list tenants due for rollover")
	}

	rolled := make([]uuid.UUID, 0, len(due))
	for _, tenantID := range due {
		if err := ctx.Err(); err != nil {
			return rolled, err
		}

		usage, ok, err := s.rolloverIfDue(ctx, tenantID, now)
		if err != nil {
			s.logger.Error("period rollover failed", "tenant_id", tenantID, "error", err)
			continue
		}
		if !ok {
			// Another instance or a lazy read got there first.
			continue
		}

		metrics.PeriodRolloversTotal.Inc()
		s.logger.Info("usage period rolled over",
			"tenant_id", tenantID,
			"period_start", usage.PeriodStart,
			"period_end", usage.PeriodEnd,
		)
		s.resolveQuotaAlerts(ctx, tenantID)
		rolled = append(rolled, tenantID)
	}

	if s.finalizer != nil {
		if _, err := s.finalizer.FinalizeSnapshots(ctx, now); err != nil {
			s.logger.Error("failed to finalize snapshots", "error", err)
		}
	}

	return rolled, nil
}

func (s *rolloverService) rolloverIfDue(ctx context.Context, tenantID uuid.UUID, now time.Time) (*domain.TenantUsage, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.RolloverIfDue(ctx, tenantID, now)
}

func (s *rolloverService) resolveQuotaAlerts(ctx context.Context, tenantID uuid.UUID) {
	if s.resolver == nil {
		return
	}
	if _, err := s.resolver.ResolveQuotaAlerts(ctx, tenantID); err != nil {
		s.logger.Warn("failed to resolve quota alerts after reset", "tenant_id", tenantID, "error", err)
	}
}
