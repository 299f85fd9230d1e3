package usagestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

// PostgresStore implements Store on the tenant_usage table. Each mutation
// is a single UPDATE so row-level locking serializes concurrent writers.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const usageColumns = `tenant_id, plan_id, period_start, period_end,
	api_calls, work_orders, users, storage_mb, last_reset`

// counterColumn maps a resource onto its column. Only whitelisted names are
// ever interpolated into SQL.
func counterColumn(r domain.Resource) (string, bool) {
	switch r {
	case domain.ResourceAPICalls:
		return "api_calls", true
	case domain.ResourceWorkOrders:
		return "work_orders", true
	case domain.ResourceUsers:
		return "users", true
	case domain.ResourceStorageMB:
		return "storage_mb", true
	}
	return "", false
}

func scanUsage(row pgx.Row) (*domain.TenantUsage, error) {
	var u domain.TenantUsage
	var plan string
	err := row.Scan(
		&u.TenantID,
		&plan,
		&u.PeriodStart,
		&u.PeriodEnd,
		&u.Counters.APICalls,
		&u.Counters.WorkOrders,
		&u.Counters.Users,
		&u.Counters.StorageMB,
		&u.LastReset,
	)
	if err != nil {
		return nil, err
	}
	u.PlanID = domain.PlanID(plan)
	u.PeriodStart = u.PeriodStart.UTC()
	u.PeriodEnd = u.PeriodEnd.UTC()
	u.LastReset = u.LastReset.UTC()
	return &u, nil
}

func (s *PostgresStore) wrap(op string, tenantID uuid.UUID, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrTenantNotFound
	}
	return &StoreError{Op: op, TenantID: tenantID, Err: err}
}

func (s *PostgresStore) Provision(ctx context.Context, tenantID uuid.UUID, plan domain.PlanID, now time.Time) (*domain.TenantUsage, error) {
	fresh := domain.NewTenantUsage(tenantID, plan, now)
	query := `
		INSERT INTO tenant_usage (tenant_id, plan_id, period_start, period_end, last_reset)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, tenantID, string(plan), fresh.PeriodStart, fresh.PeriodEnd, fresh.LastReset); err != nil {
		return nil, s.wrap("Provision", tenantID, err)
	}
	return s.Get(ctx, tenantID)
}

func (s *PostgresStore) Get(ctx context.Context, tenantID uuid.UUID) (*domain.TenantUsage, error) {
	query := `SELECT ` + usageColumns + ` FROM tenant_usage WHERE tenant_id = $1`
	u, err := scanUsage(s.pool.QueryRow(ctx, query, tenantID))
	if err != nil {
		return nil, s.wrap("Get", tenantID, err)
	}
	return u, nil
}

func (s *PostgresStore) Increment(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64) (*domain.TenantUsage, error) {
	col, ok := counterColumn(resource)
	if !ok {
		return nil, &StoreError{Op: "Increment", TenantID: tenantID, Err: ErrUnknownResource}
	}
	if err := validateAmount("Increment", tenantID, amount); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		UPDATE tenant_usage SET %[1]s = %[1]s + $2, updated_at = NOW()
		WHERE tenant_id = $1
		RETURNING %[2]s`, col, usageColumns)

	u, err := scanUsage(s.pool.QueryRow(ctx, query, tenantID, amount))
	if err != nil {
		return nil, s.wrap("Increment", tenantID, err)
	}
	return u, nil
}

func (s *PostgresStore) TryConsume(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64, limit domain.Limit) (*domain.TenantUsage, bool, error) {
	max, bounded := limit.Max()
	if !bounded && !limit.IsZero() {
		u, err := s.Increment(ctx, tenantID, resource, amount)
		return u, err == nil, err
	}

	col, ok := counterColumn(resource)
	if !ok {
		return nil, false, &StoreError{Op: "TryConsume", TenantID: tenantID, Err: ErrUnknownResource}
	}
	if err := validateAmount("TryConsume", tenantID, amount); err != nil {
		return nil, false, err
	}

	query := fmt.Sprintf(`
		UPDATE tenant_usage SET %[1]s = %[1]s + $2, updated_at = NOW()
		WHERE tenant_id = $1 AND %[1]s + $2 <= $3
		RETURNING %[2]s`, col, usageColumns)

	u, err := scanUsage(s.pool.QueryRow(ctx, query, tenantID, amount, max))
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, s.wrap("TryConsume", tenantID, err)
	}

	// No row updated: either the tenant is missing or the ceiling held.
	u, err = s.Get(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	return u, false, nil
}

func (s *PostgresStore) Reset(ctx context.Context, tenantID uuid.UUID, now time.Time) (*domain.TenantUsage, error) {
	u, _, err := s.reset(ctx, "Reset", tenantID, now, false)
	return u, err
}

func (s *PostgresStore) RolloverIfDue(ctx context.Context, tenantID uuid.UUID, now time.Time) (*domain.TenantUsage, bool, error) {
	return s.reset(ctx, "RolloverIfDue", tenantID, now, true)
}

func (s *PostgresStore) reset(ctx context.Context, op string, tenantID uuid.UUID, now time.Time, onlyIfDue bool) (*domain.TenantUsage, bool, error) {
	start, end := domain.UsageWindow(now)
	query := `
		UPDATE tenant_usage
		SET api_calls = 0, work_orders = 0, users = 0, storage_mb = 0,
		    period_start = $2, period_end = $3, last_reset = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND (NOT $5 OR period_end <= $4)
		RETURNING ` + usageColumns

	u, err := scanUsage(s.pool.QueryRow(ctx, query, tenantID, start, end, now.UTC(), onlyIfDue))
	if err == nil {
		return u, true, nil
	}
	if !onlyIfDue || !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, s.wrap(op, tenantID, err)
	}

	u, err = s.Get(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	return u, false, nil
}

func (s *PostgresStore) SetPlan(ctx context.Context, tenantID uuid.UUID, plan domain.PlanID) (*domain.TenantUsage, error) {
	query := `
		UPDATE tenant_usage SET plan_id = $2, updated_at = NOW()
		WHERE tenant_id = $1
		RETURNING ` + usageColumns

	u, err := scanUsage(s.pool.QueryRow(ctx, query, tenantID, string(plan)))
	if err != nil {
		return nil, s.wrap("SetPlan", tenantID, err)
	}
	return u, nil
}

func (s *PostgresStore) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	return s.listIDs(ctx, "ListTenants", `SELECT tenant_id FROM tenant_usage ORDER BY tenant_id`)
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return s.listIDs(ctx, "ListDue", `SELECT tenant_id FROM tenant_usage WHERE period_end <= $1 ORDER BY tenant_id`, now.UTC())
}

func (s *PostgresStore) listIDs(ctx context.Context, op, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: op, Err: err}
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, &StoreError{Op: op, Err: err}
	}
	return ids, nil
}
