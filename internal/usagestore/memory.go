package usagestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

// MemoryStore implements Store with a mutex-guarded map. Records are copied
// on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.TenantUsage
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*domain.TenantUsage)}
}

// Seed inserts or replaces a record verbatim. Intended for tests and fixtures.
func (s *MemoryStore) Seed(u domain.TenantUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[u.TenantID] = &u
}

func (s *MemoryStore) Provision(ctx context.Context, tenantID uuid.UUID, plan domain.PlanID, now time.Time) (*domain.TenantUsage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.records[tenantID]; ok {
		return clone(u), nil
	}
	u := domain.NewTenantUsage(tenantID, plan, now)
	s.records[tenantID] = u
	return clone(u), nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID uuid.UUID) (*domain.TenantUsage, error) {
	return s.with(ctx, "Get", tenantID, func(u *domain.TenantUsage) {})
}

func (s *MemoryStore) Increment(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64) (*domain.TenantUsage, error) {
	if err := validateResource("Increment", tenantID, resource); err != nil {
		return nil, err
	}
	if err := validateAmount("Increment", tenantID, amount); err != nil {
		return nil, err
	}
	return s.with(ctx, "Increment", tenantID, func(u *domain.TenantUsage) {
		u.Counters.Add(resource, amount)
	})
}

func (s *MemoryStore) TryConsume(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64, limit domain.Limit) (*domain.TenantUsage, bool, error) {
	if err := validateResource("TryConsume", tenantID, resource); err != nil {
		return nil, false, err
	}
	if err := validateAmount("TryConsume", tenantID, amount); err != nil {
		return nil, false, err
	}
	var admitted bool
	u, err := s.with(ctx, "TryConsume", tenantID, func(u *domain.TenantUsage) {
		if limit.Allows(u.Counters.Get(resource), amount) {
			u.Counters.Add(resource, amount)
			admitted = true
		}
	})
	return u, admitted, err
}

func (s *MemoryStore) Reset(ctx context.Context, tenantID uuid.UUID, now time.Time) (*domain.TenantUsage, error) {
	return s.with(ctx, "Reset", tenantID, func(u *domain.TenantUsage) {
		u.Reset(now)
	})
}

func (s *MemoryStore) RolloverIfDue(ctx context.Context, tenantID uuid.UUID, now time.Time) (*domain.TenantUsage, bool, error) {
	var rolled bool
	u, err := s.with(ctx, "RolloverIfDue", tenantID, func(u *domain.TenantUsage) {
		if u.RolloverDue(now) {
			u.Reset(now)
			rolled = true
		}
	})
	return u, rolled, err
}

func (s *MemoryStore) SetPlan(ctx context.Context, tenantID uuid.UUID, plan domain.PlanID) (*domain.TenantUsage, error) {
	return s.with(ctx, "SetPlan", tenantID, func(u *domain.TenantUsage) {
		u.PlanID = plan
	})
}

func (s *MemoryStore) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	return s.list(ctx, func(*domain.TenantUsage) bool { return true })
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return s.list(ctx, func(u *domain.TenantUsage) bool { return u.RolloverDue(now) })
}

// with runs fn on the tenant's record under the lock and returns a copy of
// the result.
func (s *MemoryStore) with(ctx context.Context, op string, tenantID uuid.UUID, fn func(*domain.TenantUsage)) (*domain.TenantUsage, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Op: op, TenantID: tenantID, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.records[tenantID]
	if !ok {
		return nil, &StoreError{Op: op, TenantID: tenantID, Err: ErrTenantNotFound}
	}
	fn(u)
	return clone(u), nil
}

func (s *MemoryStore) list(ctx context.Context, keep func(*domain.TenantUsage) bool) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(s.records))
	for id, u := range s.records {
		if keep(u) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func clone(u *domain.TenantUsage) *domain.TenantUsage {
	c := *u
	return &c
}
