// Package service contains the business logic layer.
//
// This file implements the quota service: admission checks and atomic
// consumption of plan-limited resources. Quota checks fail closed; any
// store failure denies the request and is returned to the caller.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/metrics"
	"github.com/DukeRupert/wrenchly/internal/plans"
	"github.com/DukeRupert/wrenchly/internal/usagestore"
)

// DefaultQuotaTimeout bounds every store call made on the quota path.
const DefaultQuotaTimeout = 2 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines operations for checking and consuming quota.
type QuotaService interface {
	// GetUsage returns the tenant's usage record for the current period,
	// rolling it over first if the period has elapsed.
	// Returns domain.ENOTPROVISIONED when the tenant is unknown and
	// auto-provisioning is disabled.
	GetUsage(ctx context.Context, tenantID uuid.UUID) (*domain.TenantUsage, error)

	// CheckLimit reports whether amount more units of resource would fit
	// the tenant's plan. Nothing is consumed. A denied check is a normal
	// result; errors are infrastructure or configuration failures and are
	// always accompanied by Allowed=false.
	CheckLimit(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64) (domain.LimitCheck, error)

	// Consume atomically reserves amount units if they fit the plan.
	// The returned check describes usage before the reservation.
	Consume(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64) (ConsumeResult, error)

	// Increment adds amount units without consulting the plan. Intended
	// for callers that already called CheckLimit. Never provisions.
	Increment(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64) (*domain.TenantUsage, error)

	// Provision creates the tenant's usage record on planID (the default
	// plan when empty). Idempotent.
	Provision(ctx context.Context, tenantID uuid.UUID, planID domain.PlanID) (*domain.TenantUsage, error)

	// ChangePlan moves the tenant to planID without touching counters.
	ChangePlan(ctx context.Context, tenantID uuid.UUID, planID domain.PlanID) (*domain.TenantUsage, error)
}

// ConsumeResult is the outcome of Consume.
type ConsumeResult struct {
	Check domain.LimitCheck
	// Usage is the record after the call; nil when the store failed.
	Usage *domain.TenantUsage
}

// UsageRecorder receives consumed units for snapshot accounting.
type UsageRecorder interface {
	RecordUsage(tenantID uuid.UUID, resource domain.Resource, amount int64, at time.Time)
}

// QuotaAlertResolver closes a tenant's quota alerts after its counters reset.
type QuotaAlertResolver interface {
	ResolveQuotaAlerts(ctx context.Context, tenantID uuid.UUID) ([]*domain.Alert, error)
}

// QuotaConfig configures the quota service.
type QuotaConfig struct {
	Timeout       time.Duration
	AutoProvision bool

	// Optional collaborators.
	Recorder UsageRecorder
	Resolver QuotaAlertResolver
	Now      func() time.Time
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	store         usagestore.Store
	catalog       *plans.Catalog
	timeout       time.Duration
	autoProvision bool
	recorder      UsageRecorder
	resolver      QuotaAlertResolver
	now           func() time.Time
	logger        *slog.Logger
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(store usagestore.Store, catalog *plans.Catalog, cfg QuotaConfig, logger *slog.Logger) QuotaService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultQuotaTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &quotaService{
		store:         store,
		catalog:       catalog,
		timeout:       cfg.Timeout,
		autoProvision: cfg.AutoProvision,
		recorder:      cfg.Recorder,
		resolver:      cfg.Resolver,
		now:           cfg.Now,
		logger:        logger,
	}
}

// GetUsage returns the tenant's current usage record.
func (s *quotaService) GetUsage(ctx context.Context, tenantID uuid.UUID) (*domain.TenantUsage, error) {
	const op = "quota.get_usage"

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.load(ctx, op, tenantID, "")
}

// CheckLimit evaluates a prospective consumption without applying it.
func (s *quotaService) CheckLimit(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64) (domain.LimitCheck, error) {
	const op = "quota.check_limit"

	denied := domain.LimitCheck{Resource: resource}
	amount, err := normalizeAmount(op, amount)
	if err != nil {
		return denied, err
	}
	if !resource.Valid() {
		return denied, domain.Invalid(op, "unknown resource type")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	usage, err := s.load(ctx, op, tenantID, resource)
	if err != nil {
		return denied, err
	}

	limit, err := s.limitFor(op, usage.PlanID, resource)
	if err != nil {
		return denied, err
	}

	check := domain.EvaluateLimit(resource, limit, usage.Counters.Get(resource), amount)
	metrics.QuotaCheck(string(resource), check.Allowed)
	return check, nil
}

// Consume reserves capacity with a single atomic store call.
func (s *quotaService) Consume(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64) (ConsumeResult, error) {
	const op = "quota.consume"

	result := ConsumeResult{Check: domain.LimitCheck{Resource: resource}}
	amount, err := normalizeAmount(op, amount)
	if err != nil {
		return result, err
	}
	if !resource.Valid() {
		return result, domain.Invalid(op, "unknown resource type")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	usage, err := s.load(ctx, op, tenantID, resource)
	if err != nil {
		return result, err
	}

	limit, err := s.limitFor(op, usage.PlanID, resource)
	if err != nil {
		return result, err
	}

	after, admitted, err := s.store.TryConsume(ctx, tenantID, resource, amount, limit)
	if err != nil {
		return result, s.storeFailure(ctx, op, tenantID, resource, err)
	}

	before := after.Counters.Get(resource)
	if admitted {
		before -= amount
	}
	result.Check = domain.EvaluateLimit(resource, limit, before, amount)
	result.Check.Allowed = admitted
	result.Usage = after

	metrics.QuotaCheck(string(resource), admitted)
	if !admitted {
		s.logger.Info("quota exceeded",
			"tenant_id", tenantID,
			"resource", resource,
			"used", before,
			"limit", limit.Int64(),
		)
		return result, nil
	}

	s.recordUsage(tenantID, resource, amount)
	return result, nil
}

// Increment adds to a counter unconditionally.
func (s *quotaService) Increment(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64) (*domain.TenantUsage, error) {
	const op = "quota.increment"

	amount, err := normalizeAmount(op, amount)
	if err != nil {
		return nil, err
	}
	if !resource.Valid() {
		return nil, domain.Invalid(op, "unknown resource type")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Units consumed after the period boundary belong to the new period.
	if _, err := s.rollover(ctx, op, tenantID); err != nil {
		return nil, err
	}

	usage, err := s.store.Increment(ctx, tenantID, resource, amount)
	if err != nil {
		return nil, s.storeFailure(ctx, op, tenantID, resource, err)
	}

	s.recordUsage(tenantID, resource, amount)
	return usage, nil
}

// Provision creates a usage record for a tenant.
func (s *quotaService) Provision(ctx context.Context, tenantID uuid.UUID, planID domain.PlanID) (*domain.TenantUsage, error) {
	const op = "quota.provision"

	plan, err := s.resolvePlan(op, planID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	usage, err := s.store.Provision(ctx, tenantID, plan.ID, s.now())
	if err != nil {
		return nil, s.storeFailure(ctx, op, tenantID, "", err)
	}

	s.logger.Info("tenant provisioned", "tenant_id", tenantID, "plan", usage.PlanID)
	return usage, nil
}

// ChangePlan updates the tenant's plan, provisioning it when allowed.
func (s *quotaService) ChangePlan(ctx context.Context, tenantID uuid.UUID, planID domain.PlanID) (*domain.TenantUsage, error) {
	const op = "quota.change_plan"

	plan, err := s.resolvePlan(op, planID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	usage, err := s.store.SetPlan(ctx, tenantID, plan.ID)
	if usagestore.IsTenantNotFound(err) && s.autoProvision {
		usage, err = s.store.Provision(ctx, tenantID, plan.ID, s.now())
	}
	if err != nil {
		return nil, s.storeFailure(ctx, op, tenantID, "", err)
	}

	s.logger.Info("tenant plan changed", "tenant_id", tenantID, "plan", usage.PlanID)
	return usage, nil
}

// =============================================================================
// Helper Methods
// =============================================================================

// load fetches the tenant's record, provisioning and rolling it over as
// needed.
func (s *quotaService) load(ctx context.Context, op string, tenantID uuid.UUID, resource domain.Resource) (*domain.TenantUsage, error) {
	usage, err := s.store.Get(ctx, tenantID)
	if usagestore.IsTenantNotFound(err) {
		if !s.autoProvision {
			return nil, domain.NotProvisioned(op, tenantID.String())
		}
		usage, err = s.store.Provision(ctx, tenantID, s.catalog.Default().ID, s.now())
		if err == nil {
			s.logger.Info("tenant auto-provisioned", "tenant_id", tenantID, "plan", usage.PlanID)
		}
	}
	if err != nil {
		return nil, s.storeFailure(ctx, op, tenantID, resource, err)
	}

	if usage.RolloverDue(s.now()) {
		rolled, err := s.rollover(ctx, op, tenantID)
		if err != nil {
			return nil, err
		}
		if rolled != nil {
			usage = rolled
		}
	}
	return usage, nil
}

// rollover resets the tenant's counters if its period has ended. It
// returns the fresh record, or nil when nothing was due.
func (s *quotaService) rollover(ctx context.Context, op string, tenantID uuid.UUID) (*domain.TenantUsage, error) {
	usage, rolled, err := s.store.RolloverIfDue(ctx, tenantID, s.now())
	if err != nil {
		return nil, s.storeFailure(ctx, op, tenantID, "", err)
	}
	if !rolled {
		return nil, nil
	}

	metrics.PeriodRolloversTotal.Inc()
	s.logger.Info("usage period rolled over",
		"tenant_id", tenantID,
		"period_start", usage.PeriodStart,
		"period_end", usage.PeriodEnd,
	)

	if s.resolver != nil {
		if _, err := s.resolver.ResolveQuotaAlerts(ctx, tenantID); err != nil {
			s.logger.Warn("failed to resolve quota alerts after rollover", "tenant_id", tenantID, "error", err)
		}
	}
	return usage, nil
}

func (s *quotaService) limitFor(op string, planID domain.PlanID, resource domain.Resource) (domain.Limit, error) {
	plan, err := s.catalog.Get(planID)
	if err != nil {
		s.logger.Error("usage record references unknown plan", "plan", planID, "op", op)
		return domain.Limit{}, err
	}
	limit, ok := plan.Limits.For(resource)
	if !ok {
		return domain.Limit{}, domain.Errorf(domain.EINTERNAL, op, "plan %s has no limit for %s", planID, resource)
	}
	return limit, nil
}

// resolvePlan validates an operator-supplied plan id.
func (s *quotaService) resolvePlan(op string, planID domain.PlanID) (domain.Plan, error) {
	if planID == "" {
		return s.catalog.Default(), nil
	}
	if !planID.Valid() {
		return domain.Plan{}, domain.Invalid(op, "unknown plan")
	}
	return s.catalog.Get(planID)
}

func (s *quotaService) recordUsage(tenantID uuid.UUID, resource domain.Resource, amount int64) {
	metrics.UsageIncrementsTotal.WithLabelValues(string(resource)).Add(float64(amount))
	if s.recorder != nil {
		s.recorder.RecordUsage(tenantID, resource, amount, s.now())
	}
}

// storeFailure translates a store error into a domain error, logging and
// counting infrastructure failures.
func (s *quotaService) storeFailure(ctx context.Context, op string, tenantID uuid.UUID, resource domain.Resource, err error) error {
	switch {
	case usagestore.IsTenantNotFound(err):
		return domain.NotProvisioned(op, tenantID.String())
	case usagestore.IsInvalidInput(err):
		return domain.Invalid(op, err.Error())
	}

	metrics.QuotaStoreError(op, string(resource))
	s.logger.Error("usage store failure",
		"op", op,
		"tenant_id", tenantID,
		"resource", resource,
		"error", err,
	)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.Unavailable(err, op, "usage store timed out")
	}
	return domain.Unavailable(err, op, "usage store unavailable")
}

// normalizeAmount applies the default of one unit and rejects negatives.
func normalizeAmount(op string, amount int64) (int64, error) {
	if amount == 0 {
		return 1, nil
	}
	if amount < 0 {
		return 0, domain.Invalid(op, "amount must be at least 1")
	}
	return amount, nil
}
