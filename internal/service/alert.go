package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/email"
	"github.com/DukeRupert/wrenchly/internal/metrics"
	"github.com/DukeRupert/wrenchly/internal/plans"
	"github.com/DukeRupert/wrenchly/internal/repository"
	"github.com/DukeRupert/wrenchly/internal/usagestore"
)

const (
	// DefaultAlertTimeout bounds a single tenant's threshold evaluation.
	DefaultAlertTimeout = 5 * time.Second

	// sweepConcurrency caps parallel tenant evaluations during a sweep.
	sweepConcurrency = 8

	// activityRetention is how long an idle tenant's activity window is kept.
	activityRetention = 10 * time.Minute
)

// =============================================================================
// Interface Definition
// =============================================================================

// AlertService raises, deduplicates and resolves usage alerts.
//
// Alerting is best-effort: callers on the request path should log errors
// from these methods rather than fail the request.
type AlertService interface {
	// EvaluateThresholds compares each bounded resource against the alert
	// thresholds and returns alerts created or escalated by this call.
	EvaluateThresholds(ctx context.Context, tenantID uuid.UUID) ([]*domain.Alert, error)

	// ListAlerts returns the tenant's alerts, newest first.
	ListAlerts(ctx context.Context, tenantID uuid.UUID, filter domain.AlertFilter) ([]*domain.Alert, error)

	// ResolveAlert marks one alert resolved.
	// Returns domain.ENOTFOUND if the alert does not belong to the tenant.
	ResolveAlert(ctx context.Context, tenantID uuid.UUID, alertID string) (*domain.Alert, error)

	// ResolveQuotaAlerts resolves every open quota alert of the tenant.
	ResolveQuotaAlerts(ctx context.Context, tenantID uuid.UUID) ([]*domain.Alert, error)

	// ObserveRequest feeds one request into the activity monitor and raises
	// unusual_activity or performance_issue alerts when warranted.
	ObserveRequest(ctx context.Context, tenantID uuid.UUID, sample domain.RequestSample) ([]*domain.Alert, error)

	// Sweep evaluates thresholds for every provisioned tenant and returns
	// the number of alerts raised.
	Sweep(ctx context.Context) (int, error)
}

// AlertConfig configures the alert service.
type AlertConfig struct {
	Timeout  time.Duration
	Activity ActivityConfig
	Now      func() time.Time
}

// =============================================================================
// Implementation
// =============================================================================

type alertService struct {
	store         usagestore.Store
	catalog       *plans.Catalog
	alerts        repository.AlertRepository
	subscriptions repository.SubscriptionRepository
	mailer        email.EmailService
	activity      *ActivityMonitor
	timeout       time.Duration
	now           func() time.Time
	printer       *message.Printer
	logger        *slog.Logger
}

// NewAlertService creates a new AlertService. mailer may be nil to disable
// notifications.
func NewAlertService(
	store usagestore.Store,
	catalog *plans.Catalog,
	alerts repository.AlertRepository,
	subscriptions repository.SubscriptionRepository,
	mailer email.EmailService,
	cfg AlertConfig,
	logger *slog.Logger,
) AlertService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAlertTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &alertService{
		store:         store,
		catalog:       catalog,
		alerts:        alerts,
		subscriptions: subscriptions,
		mailer:        mailer,
		activity:      NewActivityMonitor(cfg.Activity),
		timeout:       cfg.Timeout,
		now:           cfg.Now,
		printer:       message.NewPrinter(language.English),
		logger:        logger,
	}
}

// EvaluateThresholds raises, escalates or resolves quota alerts.
func (s *alertService) EvaluateThresholds(ctx context.Context, tenantID uuid.UUID) ([]*domain.Alert, error) {
	const op = "alert.evaluate_thresholds"

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	usage, err := s.store.Get(ctx, tenantID)
	if err != nil {
		if usagestore.IsTenantNotFound(err) {
			return nil, domain.NotProvisioned(op, tenantID.String())
		}
		return nil, domain.Unavailable(err, op, "usage store unavailable")
	}

	// A stale period is reset, and its alerts resolved, by the rollover.
	if usage.RolloverDue(s.now()) {
		return nil, nil
	}

	plan, err := s.catalog.Get(usage.PlanID)
	if err != nil {
		return nil, err
	}

	var raised []*domain.Alert
	for _, resource := range domain.Resources {
		limit, _ := plan.Limits.For(resource)
		used := usage.Counters.Get(resource)
		pct := limit.Percentage(used)
		key := domain.QuotaAlertKey(resource)

		sev, typ, ok := domain.SeverityFor(pct)
		if !ok {
			if err := s.resolveKey(ctx, tenantID, key); err != nil {
				return raised, domain.Internal(err, op, "failed to resolve alert")
			}
			continue
		}

		max, _ := limit.Max()
		candidate := &domain.Alert{
			TenantID: tenantID,
			Key:      key,
			Type:     typ,
			Severity: sev,
			Message:  s.quotaMessage(resource, typ, pct, used, max),
			Data: map[string]any{
				"resource":   string(resource),
				"percentage": pct,
				"used":       used,
				"limit":      max,
			},
		}

		alert, changed, escalated, err := s.raise(ctx, candidate)
		if err != nil {
			return raised, domain.Internal(err, op, "failed to record alert")
		}
		if changed {
			raised = append(raised, alert)
			s.notify(ctx, alert, escalated)
		}
	}

	return raised, nil
}

// ListAlerts returns a tenant's alerts.
func (s *alertService) ListAlerts(ctx context.Context, tenantID uuid.UUID, filter domain.AlertFilter) ([]*domain.Alert, error) {
	const op = "alert.list"

	alerts, err := s.alerts.List(ctx, tenantID, filter)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list alerts")
	}
	if alerts == nil {
		alerts = []*domain.Alert{}
	}
	return alerts, nil
}

// ResolveAlert marks an alert resolved.
func (s *alertService) ResolveAlert(ctx context.Context, tenantID uuid.UUID, alertID string) (*domain.Alert, error) {
	const op = "alert.resolve"

	alert, err := s.alerts.Resolve(ctx, tenantID, alertID, s.now())
	if err != nil {
		return nil, domain.Internal(err, op, "failed to resolve alert")
	}
	if alert == nil {
		return nil, domain.NotFound(op, "alert", alertID)
	}

	s.logger.Info("alert resolved", "tenant_id", tenantID, "alert_id", alertID)
	return alert, nil
}

// ResolveQuotaAlerts resolves all open quota alerts of a tenant.
func (s *alertService) ResolveQuotaAlerts(ctx context.Context, tenantID uuid.UUID) ([]*domain.Alert, error) {
	const op = "alert.resolve_quota"

	resolved, err := s.alerts.ResolveOpen(ctx, tenantID, "quota:", s.now())
	if err != nil {
		return nil, domain.Internal(err, op, "failed to resolve quota alerts")
	}
	if len(resolved) > 0 {
		s.logger.Info("quota alerts resolved", "tenant_id", tenantID, "count", len(resolved))
	}
	return resolved, nil
}

// ObserveRequest records request telemetry for anomaly detection.
func (s *alertService) ObserveRequest(ctx context.Context, tenantID uuid.UUID, sample domain.RequestSample) ([]*domain.Alert, error) {
	const op = "alert.observe_request"

	findings := s.activity.Observe(tenantID, sample, s.now())
	if len(findings) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var raised []*domain.Alert
	for _, f := range findings {
		alert, changed, escalated, err := s.raise(ctx, &domain.Alert{
			TenantID: tenantID,
			Key:      domain.ActivityAlertKey(f.Type),
			Type:     f.Type,
			Severity: f.Severity,
			Message:  f.Message,
			Data:     f.Data,
		})
		if err != nil {
			return raised, domain.Internal(err, op, "failed to record activity alert")
		}
		if changed {
			raised = append(raised, alert)
			s.notify(ctx, alert, escalated)
		}
	}
	return raised, nil
}

// Sweep evaluates every tenant with bounded parallelism. Per-tenant
// failures are logged and do not stop the sweep.
func (s *alertService) Sweep(ctx context.Context) (int, error) {
	const op = "alert.sweep"

	s.activity.Prune(s.now().Add(-activityRetention))

	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return 0, domain.Unavailable(err, op, "failed to list tenants")
	}

	var raised atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, id := range tenants {
		g.Go(func() error {
			alerts, err := s.EvaluateThresholds(gctx, id)
			if err != nil {
				s.logger.Warn("threshold evaluation failed", "tenant_id", id, "error", err)
				return nil
			}
			raised.Add(int64(len(alerts)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(raised.Load()), err
	}
	return int(raised.Load()), ctx.Err()
}

// =============================================================================
// Helper Methods
// =============================================================================

// raise creates candidate, or escalates the open alert with the same key
// when candidate is more severe. changed reports whether anything was
// written; escalated whether an existing alert was updated.
func (s *alertService) raise(ctx context.Context, candidate *domain.Alert) (alert *domain.Alert, changed, escalated bool, err error) {
	open, err := s.alerts.GetOpen(ctx, candidate.TenantID, candidate.Key)
	if err != nil {
		return nil, false, false, err
	}

	if open == nil {
		candidate.CreatedAt = s.now().UTC()
		err := s.alerts.Create(ctx, candidate)
		if errors.Is(err, repository.ErrOpenAlertExists) {
			// Lost a race with a concurrent evaluation; its alert stands.
			return nil, false, false, nil
		}
		if err != nil {
			return nil, false, false, err
		}
		metrics.UsageAlertsTotal.WithLabelValues(string(candidate.Type), string(candidate.Severity)).Inc()
		s.logger.Info("usage alert raised",
			"tenant_id", candidate.TenantID,
			"alert_id", candidate.ID,
			"type", candidate.Type,
			"severity", candidate.Severity,
		)
		return candidate, true, false, nil
	}

	if candidate.Severity.Rank() <= open.Severity.Rank() {
		return open, false, false, nil
	}

	open.Type = candidate.Type
	open.Severity = candidate.Severity
	open.Message = candidate.Message
	open.Data = candidate.Data
	if err := s.alerts.Escalate(ctx, open); err != nil {
		if errors.Is(err, repository.ErrAlertNotOpen) {
			return nil, false, false, nil
		}
		return nil, false, false, err
	}

	metrics.UsageAlertsTotal.WithLabelValues(string(open.Type), string(open.Severity)).Inc()
	s.logger.Info("usage alert escalated",
		"tenant_id", open.TenantID,
		"alert_id", open.ID,
		"type", open.Type,
		"severity", open.Severity,
	)
	return open, true, true, nil
}

func (s *alertService) resolveKey(ctx context.Context, tenantID uuid.UUID, key string) error {
	open, err := s.alerts.GetOpen(ctx, tenantID, key)
	if err != nil || open == nil {
		return err
	}
	if _, err := s.alerts.Resolve(ctx, tenantID, open.ID, s.now()); err != nil {
		return err
	}
	s.logger.Info("usage alert auto-resolved", "tenant_id", tenantID, "alert_id", open.ID)
	return nil
}

func (s *alertService) quotaMessage(resource domain.Resource, typ domain.AlertType, pct float64, used, max int64) string {
	if typ == domain.AlertLimitExceeded {
		return s.printer.Sprintf("Plan limit for %s reached: %d of %d used.", resource.Label(), used, max)
	}
	return s.printer.Sprintf("Usage of %s is at %.0f%% of the plan limit (%d of %d).", resource.Label(), pct, used, max)
}

// notify emails the tenant's billing contact about high and critical
// alerts. Failures are logged only.
func (s *alertService) notify(ctx context.Context, alert *domain.Alert, escalated bool) {
	if s.mailer == nil || alert.Severity.Rank() < domain.SeverityHigh.Rank() {
		return
	}

	sub, err := s.subscriptions.GetByTenant(ctx, alert.TenantID)
	if err != nil {
		s.logger.Warn("failed to load subscription for alert email", "tenant_id", alert.TenantID, "error", err)
		return
	}
	if sub == nil || sub.ContactEmail == "" {
		return
	}

	payload := email.UsageAlert{
		TenantID:  alert.TenantID.String(),
		Severity:  string(alert.Severity),
		Type:      string(alert.Type),
		Message:   alert.Message,
		RaisedAt:  alert.CreatedAt,
		Escalated: escalated,
	}
	if alert.IsQuota() {
		if r, ok := alert.Data["resource"].(string); ok {
			payload.Resource = domain.Resource(r).Label()
		}
		payload.Used, _ = alert.Data["used"].(int64)
		payload.Limit, _ = alert.Data["limit"].(int64)
		payload.Percent, _ = alert.Data["percentage"].(float64)
	}

	if err := s.mailer.SendUsageAlertEmail(ctx, sub.ContactEmail, payload); err != nil {
		s.logger.Warn("failed to send alert email", "tenant_id", alert.TenantID, "alert_id", alert.ID, "error", err)
	}
}
