package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/internal/domain/ports"
)

// PlanRepository implements ports.PlanRepository using pgx
type PlanRepository struct {
	db ports.DBPort
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db ports.DBPort) *PlanRepository {
	return &PlanRepository{db: db}
}

// GetByID retrieves a plan by its ID
func (r *PlanRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Plan, error) {
	query := `
		SELECT id, name, price, billing_interval, trial_period_days, status,
			created_at, updated_at
		FROM subscription_plans
		WHERE id = $1
	`
	row := executor(r.db, db).QueryRow(ctx, query, id)

	var plan domain.Plan
	var status string
	err := row.Scan(
		&plan.ID, &plan.Name, &plan.Price, &plan.BillingInterval,
		&plan.TrialPeriodDays, &status, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlanNotFound.WithDetail("plan_id", id)
		}
		return nil, fmt.Errorf("get plan by id: %w", err)
	}
	plan.Status = domain.PlanStatus(status)
	return &plan, nil
}
