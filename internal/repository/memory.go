package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

// In-memory repositories back tests and the memory usage store in local
// development. They honor the same invariants as the Postgres versions.

// =============================================================================
// Alerts
// =============================================================================

// MemoryAlertRepository is an in-process AlertRepository.
type MemoryAlertRepository struct {
	mu     sync.Mutex
	alerts []*domain.Alert
}

// NewMemoryAlertRepository creates an empty alert repository.
func NewMemoryAlertRepository() *MemoryAlertRepository {
	return &MemoryAlertRepository{}
}

func copyAlert(a *domain.Alert) *domain.Alert {
	c := *a
	if a.Data != nil {
		c.Data = make(map[string]any, len(a.Data))
		for k, v := range a.Data {
			c.Data[k] = v
		}
	}
	return &c
}

func (r *MemoryAlertRepository) Create(ctx context.Context, alert *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.alerts {
		if a.TenantID == alert.TenantID && a.Key == alert.Key && !a.Resolved {
			return ErrOpenAlertExists
		}
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	alert.UpdatedAt = alert.CreatedAt
	if alert.ID == "" {
		alert.ID = newAlertID(alert.CreatedAt)
	}
	alert.Resolved = false
	r.alerts = append(r.alerts, copyAlert(alert))
	return nil
}

func (r *MemoryAlertRepository) GetOpen(ctx context.Context, tenantID uuid.UUID, key string) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.alerts {
		if a.TenantID == tenantID && a.Key == key && !a.Resolved {
			return copyAlert(a), nil
		}
	}
	return nil, nil
}

func (r *MemoryAlertRepository) ListOpen(ctx context.Context, tenantID uuid.UUID) ([]*domain.Alert, error) {
	resolved := false
	return r.List(ctx, tenantID, domain.AlertFilter{Resolved: &resolved})
}

func (r *MemoryAlertRepository) List(ctx context.Context, tenantID uuid.UUID, filter domain.AlertFilter) ([]*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Alert
	for _, a := range r.alerts {
		if a.TenantID != tenantID {
			continue
		}
		if filter.Resolved != nil && a.Resolved != *filter.Resolved {
			continue
		}
		out = append(out, copyAlert(a))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryAlertRepository) Escalate(ctx context.Context, alert *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.alerts {
		if a.TenantID == alert.TenantID && a.ID == alert.ID && !a.Resolved {
			alert.UpdatedAt = time.Now().UTC()
			a.Type = alert.Type
			a.Severity = alert.Severity
			a.Message = alert.Message
			a.Data = copyAlert(alert).Data
			a.UpdatedAt = alert.UpdatedAt
			return nil
		}
	}
	return ErrAlertNotOpen
}

func (r *MemoryAlertRepository) Resolve(ctx context.Context, tenantID uuid.UUID, alertID string, at time.Time) (*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.alerts {
		if a.TenantID == tenantID && a.ID == alertID {
			if !a.Resolved {
				resolveAt(a, at)
			}
			return copyAlert(a), nil
		}
	}
	return nil, nil
}

func (r *MemoryAlertRepository) ResolveOpen(ctx context.Context, tenantID uuid.UUID, keyPrefix string, at time.Time) ([]*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Alert
	for _, a := range r.alerts {
		if a.TenantID == tenantID && !a.Resolved && strings.HasPrefix(a.Key, keyPrefix) {
			resolveAt(a, at)
			out = append(out, copyAlert(a))
		}
	}
	return out, nil
}

func resolveAt(a *domain.Alert, at time.Time) {
	t := at.UTC()
	a.Resolved = true
	a.ResolvedAt = &t
	a.UpdatedAt = t
}

// =============================================================================
// Snapshots
// =============================================================================

type snapshotKey struct {
	tenant uuid.UUID
	day    time.Time
}

// MemorySnapshotRepository is an in-process SnapshotRepository.
type MemorySnapshotRepository struct {
	mu        sync.Mutex
	snapshots map[snapshotKey]*domain.UsageSnapshot
}

// NewMemorySnapshotRepository creates an empty snapshot repository.
func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{snapshots: make(map[snapshotKey]*domain.UsageSnapshot)}
}

func (r *MemorySnapshotRepository) Apply(ctx context.Context, deltas []domain.SnapshotDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range deltas {
		start, end := domain.SnapshotDay(d.Day)
		k := snapshotKey{tenant: d.TenantID, day: start}
		s, ok := r.snapshots[k]
		if !ok {
			s = &domain.UsageSnapshot{TenantID: d.TenantID, PeriodStart: start, PeriodEnd: end}
			r.snapshots[k] = s
		}
		if s.Finalized {
			continue
		}
		s.Usage.Merge(d.Usage)
		s.Requests += d.Requests
		s.Errors += d.Errors
		s.ServerErrors += d.ServerErrors
		s.TotalResponseMs += d.TotalResponseMs
	}
	return nil
}

func (r *MemorySnapshotRepository) List(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]domain.UsageSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.UsageSnapshot
	for k, s := range r.snapshots {
		if k.tenant == tenantID && s.PeriodEnd.After(from) && s.PeriodStart.Before(to) {
			out = append(out, *s)
		}
	}
	sortSnapshots(out)
	return out, nil
}

func (r *MemorySnapshotRepository) FinalizeBefore(ctx context.Context, cutoff time.Time) ([]domain.UsageSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.UsageSnapshot
	for _, s := range r.snapshots {
		if !s.Finalized && !s.PeriodEnd.After(cutoff) {
			s.Finalized = true
			out = append(out, *s)
		}
	}
	sortSnapshots(out)
	return out, nil
}

func sortSnapshots(s []domain.UsageSnapshot) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].PeriodStart.Equal(s[j].PeriodStart) {
			return s[i].TenantID.String() < s[j].TenantID.String()
		}
		return s[i].PeriodStart.Before(s[j].PeriodStart)
	})
}

// =============================================================================
// Subscriptions
// =============================================================================

// MemorySubscriptionRepository is an in-process SubscriptionRepository.
type MemorySubscriptionRepository struct {
	mu   sync.Mutex
	subs map[uuid.UUID]domain.Subscription
}

// NewMemorySubscriptionRepository creates an empty subscription repository.
func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{subs: make(map[uuid.UUID]domain.Subscription)}
}

func (r *MemorySubscriptionRepository) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[tenantID]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (r *MemorySubscriptionRepository) Upsert(ctx context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub.UpdatedAt = time.Now().UTC()
	next := *sub
	if prev, ok := r.subs[sub.TenantID]; ok {
		if next.ContactEmail == "" {
			next.ContactEmail = prev.ContactEmail
		}
		if next.StripeCustomerID == "" {
			next.StripeCustomerID = prev.StripeCustomerID
		}
		if next.StripeSubscriptionID == "" {
			next.StripeSubscriptionID = prev.StripeSubscriptionID
		}
	}
	r.subs[sub.TenantID] = next
	return nil
}

func (r *MemorySubscriptionRepository) ListBilled(ctx context.Context) ([]*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Subscription
	for _, sub := range r.subs {
		if sub.StripeSubscriptionID != "" {
			s := sub
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID.String() < out[j].TenantID.String() })
	return out, nil
}
