// Package usagestore owns the per-tenant usage counters.
//
// This package defines a Store interface with implementations for:
// - MemoryStore: mutex-guarded map for tests and local development
// - PostgresStore: tenant_usage table via pgx
// - RedisStore: one hash per tenant, mutated by server-side Lua scripts
//
// Every mutation is a single atomic store operation. Callers never
// read-modify-write counters, so concurrent requests for the same tenant
// cannot lose updates or overshoot a limit through TryConsume.
package usagestore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Store defines the operations on tenant usage records.
//
// All methods return ErrTenantNotFound (wrapped in a *StoreError) when the
// tenant has not been provisioned, except Provision itself.
type Store interface {
	// Provision creates a zeroed record on plan for the window containing
	// now. An existing record is returned unchanged.
	Provision(ctx context.Context, tenantID uuid.UUID, plan domain.PlanID, now time.Time) (*domain.TenantUsage, error)

	// Get returns the tenant's current record.
	Get(ctx context.Context, tenantID uuid.UUID) (*domain.TenantUsage, error)

	// Increment atomically adds amount to the resource counter.
	Increment(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64) (*domain.TenantUsage, error)

	// TryConsume atomically adds amount only if the result stays within
	// limit. It returns the record after the attempt and whether the units
	// were admitted.
	TryConsume(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64, limit domain.Limit) (*domain.TenantUsage, bool, error)

	// Reset zeroes all counters and moves the window to the one containing
	// now. Repeating it at the same instant yields the same record.
	Reset(ctx context.Context, tenantID uuid.UUID, now time.Time) (*domain.TenantUsage, error)

	// RolloverIfDue performs Reset only when now >= periodEnd. The check
	// and the reset are one atomic step, so concurrent schedulers cannot
	// reset a tenant twice.
	RolloverIfDue(ctx context.Context, tenantID uuid.UUID, now time.Time) (*domain.TenantUsage, bool, error)

	// SetPlan changes the tenant's plan without touching counters.
	SetPlan(ctx context.Context, tenantID uuid.UUID, plan domain.PlanID) (*domain.TenantUsage, error)

	// ListTenants returns every provisioned tenant.
	ListTenants(ctx context.Context) ([]uuid.UUID, error)

	// ListDue returns tenants whose window has elapsed at now.
	ListDue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	// ProviderMemory identifies the in-process store.
	ProviderMemory = "memory"

	// ProviderPostgres identifies the Postgres-backed store.
	ProviderPostgres = "postgres"

	// ProviderRedis identifies the Redis-backed store.
	ProviderRedis = "redis"
)

// validateAmount rejects non-positive increments so counters never go
// negative.
func validateAmount(op string, tenantID uuid.UUID, amount int64) error {
	if amount < 1 {
		return &StoreError{Op: op, TenantID: tenantID, Err: ErrInvalidAmount}
	}
	return nil
}

func validateResource(op string, tenantID uuid.UUID, resource domain.Resource) error {
	if !resource.Valid() {
		return &StoreError{Op: op, TenantID: tenantID, Err: ErrUnknownResource}
	}
	return nil
}
