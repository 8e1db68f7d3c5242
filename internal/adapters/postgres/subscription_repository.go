package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/internal/domain/ports"
)

// SubscriptionRepository implements ports.SubscriptionRepository using pgx
type SubscriptionRepository struct {
	db ports.DBPort
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db ports.DBPort) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, user_id, plan_id, payment_method_id, status,
	current_period_start, current_period_end, trial_end, canceled_at,
	created_at, updated_at`

// Create creates a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, user_id, plan_id, payment_method_id, status,
			current_period_start, current_period_end, trial_end, canceled_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := executor(r.db, tx).Exec(ctx, query,
		sub.ID, sub.UserID, sub.PlanID, sub.PaymentMethodID, string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEnd, sub.CanceledAt,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription by its ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	row := executor(r.db, db).QueryRow(ctx, query, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound.WithDetail("subscription_id", id)
		}
		return nil, fmt.Errorf("get subscription by id: %w", err)
	}
	return sub, nil
}

// Update updates subscription fields
func (r *SubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, sub *domain.Subscription) error {
	query := `
		UPDATE subscriptions
		SET status = $2, current_period_start = $3, current_period_end = $4,
			trial_end = $5, canceled_at = $6, payment_method_id = $7, updated_at = $8
		WHERE id = $1
	`
	_, err := executor(r.db, tx).Exec(ctx, query,
		sub.ID, string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.TrialEnd, sub.CanceledAt, sub.PaymentMethodID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

// ListByUser lists all subscriptions for a user, most recent first
func (r *SubscriptionRepository) ListByUser(ctx context.Context, db ports.DBTX, userID string) ([]*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := executor(r.db, db).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by user: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ListDueForRenewal lists live subscriptions whose current period has lapsed
func (r *SubscriptionRepository) ListDueForRenewal(ctx context.Context, db ports.DBTX, asOf time.Time, limit int32) ([]*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status IN ('ACTIVE', 'PAST_DUE') AND current_period_end <= $1
		ORDER BY current_period_end
		LIMIT $2`
	rows, err := executor(r.db, db).Query(ctx, query, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions due for renewal: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]*domain.Subscription, error) {
	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var status string
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.PaymentMethodID, &status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialEnd, &sub.CanceledAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = domain.SubscriptionStatus(status)
	return &sub, nil
}
