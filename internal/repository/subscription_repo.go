package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

// SubscriptionRepository defines the interface for the tenant billing
// mirror. Records are written by the billing sync and read by reporting.
type SubscriptionRepository interface {
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error)
	Upsert(ctx context.Context, sub *domain.Subscription) error
	ListBilled(ctx context.Context) ([]*domain.Subscription, error)
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository creates a new subscription repository.
func NewSubscriptionRepository(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `tenant_id, plan_id, status, contact_email, stripe_customer_id, stripe_subscription_id, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub                     domain.Subscription
		plan, status            string
		email, customer, stripe sql.NullString
	)
	err := row.Scan(&sub.TenantID, &plan, &status, &email, &customer, &stripe, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.PlanID = domain.PlanID(plan)
	sub.Status = domain.SubscriptionStatus(status)
	sub.ContactEmail = email.String
	sub.StripeCustomerID = customer.String
	sub.StripeSubscriptionID = stripe.String
	return &sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// GetByTenant returns the tenant's subscription, or nil if none is on file.
func (r *subscriptionRepo) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM tenant_subscriptions WHERE tenant_id = $1`
	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

// Upsert inserts or replaces the tenant's subscription.
func (r *subscriptionRepo) Upsert(ctx context.Context, sub *domain.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO tenant_subscriptions (tenant_id, plan_id, status, contact_email, stripe_customer_id, stripe_subscription_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			contact_email = COALESCE(EXCLUDED.contact_email, tenant_subscriptions.contact_email),
			stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, tenant_subscriptions.stripe_customer_id),
			stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, tenant_subscriptions.stripe_subscription_id),
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		sub.TenantID,
		string(sub.PlanID),
		string(sub.Status),
		nullString(sub.ContactEmail),
		nullString(sub.StripeCustomerID),
		nullString(sub.StripeSubscriptionID),
		sub.UpdatedAt,
	)
	return err
}

// ListBilled returns subscriptions linked to a payment-provider subscription.
func (r *subscriptionRepo) ListBilled(ctx context.Context) ([]*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM tenant_subscriptions
		WHERE stripe_subscription_id IS NOT NULL ORDER BY tenant_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
