package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/internal/domain/ports"
)

// PaymentMethodRepository implements ports.PaymentMethodRepository using pgx
type PaymentMethodRepository struct {
	db ports.DBPort
}

// NewPaymentMethodRepository creates a new payment method repository
func NewPaymentMethodRepository(db ports.DBPort) *PaymentMethodRepository {
	return &PaymentMethodRepository{db: db}
}

const paymentMethodColumns = `id, user_id, customer_uid, billing_key, card_type,
	card_last4, is_default, created_at`

// Create stores a new payment method
func (r *PaymentMethodRepository) Create(ctx context.Context, tx ports.DBTX, pm *domain.PaymentMethod) error {
	query := `
		INSERT INTO payment_methods (id, user_id, customer_uid, billing_key,
			card_type, card_last4, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := executor(r.db, tx).Exec(ctx, query,
		pm.ID, pm.UserID, pm.CustomerUID, pm.BillingKey,
		pm.CardType, pm.CardLast4, pm.IsDefault, pm.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create payment method: %w", err)
	}
	return nil
}

// GetByID retrieves a payment method by its ID
func (r *PaymentMethodRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods WHERE id = $1`
	row := executor(r.db, db).QueryRow(ctx, query, id)

	pm, err := scanPaymentMethod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentMethodNotFound.WithDetail("payment_method_id", id)
		}
		return nil, fmt.Errorf("get payment method by id: %w", err)
	}
	return pm, nil
}

// ListByUser lists a user's payment methods, default first
func (r *PaymentMethodRepository) ListByUser(ctx context.Context, db ports.DBTX, userID string) ([]*domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + `
		FROM payment_methods WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC`
	rows, err := executor(r.db, db).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods by user: %w", err)
	}
	defer rows.Close()

	var methods []*domain.PaymentMethod
	for rows.Next() {
		pm, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment method: %w", err)
		}
		methods = append(methods, pm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment methods: %w", err)
	}
	return methods, nil
}

// ClearDefaultForUser unsets the default flag on all of the user's methods
func (r *PaymentMethodRepository) ClearDefaultForUser(ctx context.Context, tx ports.DBTX, userID string) error {
	query := `UPDATE payment_methods SET is_default = FALSE WHERE user_id = $1 AND is_default`
	_, err := executor(r.db, tx).Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("clear default payment method: %w", err)
	}
	return nil
}

func scanPaymentMethod(row pgx.Row) (*domain.PaymentMethod, error) {
	var pm domain.PaymentMethod
	err := row.Scan(
		&pm.ID, &pm.UserID, &pm.CustomerUID, &pm.BillingKey,
		&pm.CardType, &pm.CardLast4, &pm.IsDefault, &pm.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pm, nil
}
