package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

// SnapshotRepository defines the interface for daily usage snapshots.
type SnapshotRepository interface {
	// Apply adds each delta to its tenant-day snapshot in one transaction.
	// Deltas targeting finalized snapshots are dropped.
	Apply(ctx context.Context, deltas []domain.SnapshotDelta) error

	// List returns snapshots whose day overlaps [from, to), oldest first.
	List(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]domain.UsageSnapshot, error)

	// FinalizeBefore marks every open snapshot that ended at or before
	// cutoff as finalized and returns them.
	FinalizeBefore(ctx context.Context, cutoff time.Time) ([]domain.UsageSnapshot, error)
}

type snapshotRepo struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepo{pool: pool}
}

const snapshotColumns = `tenant_id, period_start, period_end, api_calls, work_orders, users, storage_mb,
	requests, errors, server_errors, total_response_ms, finalized`

func scanSnapshot(row pgx.Row) (domain.UsageSnapshot, error) {
	var s domain.UsageSnapshot
	err := row.Scan(
		&s.TenantID,
		&s.PeriodStart,
		&s.PeriodEnd,
		&s.Usage.APICalls,
		&s.Usage.WorkOrders,
		&s.Usage.Users,
		&s.Usage.StorageMB,
		&s.Requests,
		&s.Errors,
		&s.ServerErrors,
		&s.TotalResponseMs,
		&s.Finalized,
	)
	s.PeriodStart = s.PeriodStart.UTC()
	s.PeriodEnd = s.PeriodEnd.UTC()
	return s, err
}

func collectSnapshots(rows pgx.Rows) ([]domain.UsageSnapshot, error) {
	defer rows.Close()
	var out []domain.UsageSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Apply upserts every delta inside a single transaction.
func (r *snapshotRepo) Apply(ctx context.Context, deltas []domain.SnapshotDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO usage_snapshots (tenant_id, period_start, period_end, api_calls, work_orders, users, storage_mb,
			requests, errors, server_errors, total_response_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, period_start) DO UPDATE SET
			api_calls = usage_snapshots.api_calls + EXCLUDED.api_calls,
			work_orders = usage_snapshots.work_orders + EXCLUDED.work_orders,
			users = usage_snapshots.users + EXCLUDED.users,
			storage_mb = usage_snapshots.storage_mb + EXCLUDED.storage_mb,
			requests = usage_snapshots.requests + EXCLUDED.requests,
			errors = usage_snapshots.errors + EXCLUDED.errors,
			server_errors = usage_snapshots.server_errors + EXCLUDED.server_errors,
			total_response_ms = usage_snapshots.total_response_ms + EXCLUDED.total_response_ms,
			updated_at = NOW()
		WHERE NOT usage_snapshots.finalized`

	batch := &pgx.Batch{}
	for _, d := range deltas {
		start, end := domain.SnapshotDay(d.Day)
		batch.Queue(query,
			d.TenantID,
			start,
			end,
			d.Usage.APICalls,
			d.Usage.WorkOrders,
			d.Usage.Users,
			d.Usage.StorageMB,
			d.Requests,
			d.Errors,
			d.ServerErrors,
			d.TotalResponseMs,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to apply snapshot deltas: %w", err)
	}

	return tx.Commit(ctx)
}

// List returns snapshots for tenantID overlapping [from, to).
func (r *snapshotRepo) List(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]domain.UsageSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM usage_snapshots
		WHERE tenant_id = $1 AND period_end > $2 AND period_start < $3
		ORDER BY period_start`

	rows, err := r.pool.Query(ctx, query, tenantID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return collectSnapshots(rows)
}

// FinalizeBefore closes every snapshot whose day has ended by cutoff.
func (r *snapshotRepo) FinalizeBefore(ctx context.Context, cutoff time.Time) ([]domain.UsageSnapshot, error) {
	query := `
		UPDATE usage_snapshots SET finalized = TRUE, updated_at = NOW()
		WHERE NOT finalized AND period_end <= $1
		RETURNING ` + snapshotColumns

	rows, err := r.pool.Query(ctx, query, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	return collectSnapshots(rows)
}
