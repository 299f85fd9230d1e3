// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/sqlc-dev/pqtype"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

// ErrOpenAlertExists is returned by Create when an unresolved alert with
// the same tenant and key already exists.
var ErrOpenAlertExists = errors.New("open alert already exists for key")

// ErrAlertNotOpen is returned by Escalate when the alert was resolved or
// never existed.
var ErrAlertNotOpen = errors.New("alert is not open")

// AlertRepository defines the interface for usage alert operations.
// Alerts are never deleted; resolution flips the resolved flag.
type AlertRepository interface {
	Create(ctx context.Context, alert *domain.Alert) error
	GetOpen(ctx context.Context, tenantID uuid.UUID, key string) (*domain.Alert, error)
	ListOpen(ctx context.Context, tenantID uuid.UUID) ([]*domain.Alert, error)
	List(ctx context.Context, tenantID uuid.UUID, filter domain.AlertFilter) ([]*domain.Alert, error)

	// Escalate rewrites an open alert's type, severity, message and data.
	Escalate(ctx context.Context, alert *domain.Alert) error

	// Resolve marks one alert resolved. Returns nil, nil if the alert does
	// not exist for the tenant.
	Resolve(ctx context.Context, tenantID uuid.UUID, alertID string, at time.Time) (*domain.Alert, error)

	// ResolveOpen resolves every open alert whose key starts with keyPrefix.
	ResolveOpen(ctx context.Context, tenantID uuid.UUID, keyPrefix string, at time.Time) ([]*domain.Alert, error)
}

type alertRepo struct {
	pool *pgxpool.Pool
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(pool *pgxpool.Pool) AlertRepository {
	return &alertRepo{pool: pool}
}

const alertColumns = `id, tenant_id, alert_key, type, severity, message, data, resolved, resolved_at, created_at, updated_at`

func newAlertID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

func encodeAlertData(data map[string]any) (pqtype.NullRawMessage, error) {
	if len(data) == 0 {
		return pqtype.NullRawMessage{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("failed to marshal alert data: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var (
		a        domain.Alert
		typ, sev string
		data     pqtype.NullRawMessage
	)
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.Key,
		&typ,
		&sev,
		&a.Message,
		&data,
		&a.Resolved,
		&a.ResolvedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Type = domain.AlertType(typ)
	a.Severity = domain.Severity(sev)
	if data.Valid {
		if err := json.Unmarshal(data.RawMessage, &a.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert data: %w", err)
		}
	}
	return &a, nil
}

func collectAlerts(rows pgx.Rows) ([]*domain.Alert, error) {
	defer rows.Close()
	var out []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create inserts a new alert, assigning a ULID when ID is empty.
func (r *alertRepo) Create(ctx context.Context, alert *domain.Alert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	alert.UpdatedAt = alert.CreatedAt
	if alert.ID == "" {
		alert.ID = newAlertID(alert.CreatedAt)
	}

	data, err := encodeAlertData(alert.Data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO usage_alerts (id, tenant_id, alert_key, type, severity, message, data, resolved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9)`

	_, err = r.pool.Exec(ctx, query,
		alert.ID,
		alert.TenantID,
		alert.Key,
		string(alert.Type),
		string(alert.Severity),
		alert.Message,
		data,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrOpenAlertExists
	}
	return err
}

// GetOpen returns the unresolved alert for (tenant, key), or nil.
func (r *alertRepo) GetOpen(ctx context.Context, tenantID uuid.UUID, key string) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM usage_alerts
		WHERE tenant_id = $1 AND alert_key = $2 AND NOT resolved`

	a, err := scanAlert(r.pool.QueryRow(ctx, query, tenantID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// ListOpen returns every unresolved alert for a tenant, newest first.
func (r *alertRepo) ListOpen(ctx context.Context, tenantID uuid.UUID) ([]*domain.Alert, error) {
	resolved := false
	return r.List(ctx, tenantID, domain.AlertFilter{Resolved: &resolved})
}

// List returns a tenant's alerts, newest first.
func (r *alertRepo) List(ctx context.Context, tenantID uuid.UUID, filter domain.AlertFilter) ([]*domain.Alert, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + alertColumns + ` FROM usage_alerts WHERE tenant_id = $1`)
	args := []any{tenantID}

	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		fmt.Fprintf(&sb, ` AND resolved = $%d`, len(args))
	}
	sb.WriteString(` ORDER BY created_at DESC, id DESC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

// Escalate updates an open alert in place.
func (r *alertRepo) Escalate(ctx context.Context, alert *domain.Alert) error {
	alert.UpdatedAt = time.Now().UTC()
	data, err := encodeAlertData(alert.Data)
	if err != nil {
		return err
	}

	query := `
		UPDATE usage_alerts
		SET type = $3, severity = $4, message = $5, data = $6, updated_at = $7
		WHERE tenant_id = $1 AND id = $2 AND NOT resolved`

	tag, err := r.pool.Exec(ctx, query,
		alert.TenantID,
		alert.ID,
		string(alert.Type),
		string(alert.Severity),
		alert.Message,
		data,
		alert.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotOpen
	}
	return nil
}

// Resolve marks a single alert resolved. Already-resolved alerts are
// returned unchanged.
func (r *alertRepo) Resolve(ctx context.Context, tenantID uuid.UUID, alertID string, at time.Time) (*domain.Alert, error) {
	query := `
		UPDATE usage_alerts
		SET resolved = TRUE,
		    resolved_at = COALESCE(resolved_at, $3),
		    updated_at = CASE WHEN resolved THEN updated_at ELSE $3 END
		WHERE tenant_id = $1 AND id = $2
		RETURNING ` + alertColumns

	a, err := scanAlert(r.pool.QueryRow(ctx, query, tenantID, alertID, at.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// ResolveOpen resolves all open alerts under keyPrefix and returns them.
func (r *alertRepo) ResolveOpen(ctx context.Context, tenantID uuid.UUID, keyPrefix string, at time.Time) ([]*domain.Alert, error) {
	query := `
		UPDATE usage_alerts
		SET resolved = TRUE, resolved_at = $3, updated_at = $3
		WHERE tenant_id = $1 AND NOT resolved AND alert_key LIKE $2
		RETURNING ` + alertColumns

	rows, err := r.pool.Query(ctx, query, tenantID, escapeLike(keyPrefix)+"%", at.UTC())
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
