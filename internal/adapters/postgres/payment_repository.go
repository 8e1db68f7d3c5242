package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/internal/domain/ports"
)

// PaymentRepository implements ports.PaymentRepository using pgx
type PaymentRepository struct {
	db ports.DBPort
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db ports.DBPort) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, order_id, gateway_payment_id, amount, method, status, paid_at`

// Create records a settled gateway charge against an order
func (r *PaymentRepository) Create(ctx context.Context, tx ports.DBTX, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, gateway_payment_id, amount, method, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := executor(r.db, tx).Exec(ctx, query,
		payment.ID, payment.OrderID, payment.GatewayPaymentID,
		payment.Amount, payment.Method, string(payment.Status), payment.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// GetByGatewayPaymentID retrieves a payment by the gateway's payment ID
func (r *PaymentRepository) GetByGatewayPaymentID(ctx context.Context, db ports.DBTX, gatewayPaymentID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_payment_id = $1`
	row := executor(r.db, db).QueryRow(ctx, query, gatewayPaymentID)

	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound.WithDetail("gateway_payment_id", gatewayPaymentID)
		}
		return nil, fmt.Errorf("get payment by gateway id: %w", err)
	}
	return payment, nil
}

// GetByOrderID retrieves the payment settled against an order
func (r *PaymentRepository) GetByOrderID(ctx context.Context, db ports.DBTX, orderID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`
	row := executor(r.db, db).QueryRow(ctx, query, orderID)

	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound.WithDetail("order_id", orderID)
		}
		return nil, fmt.Errorf("get payment by order id: %w", err)
	}
	return payment, nil
}

// Update updates the payment status
func (r *PaymentRepository) Update(ctx context.Context, tx ports.DBTX, payment *domain.Payment) error {
	query := `UPDATE payments SET status = $2 WHERE id = $1`
	_, err := executor(r.db, tx).Exec(ctx, query, payment.ID, string(payment.Status))
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var payment domain.Payment
	var status string
	err := row.Scan(
		&payment.ID, &payment.OrderID, &payment.GatewayPaymentID,
		&payment.Amount, &payment.Method, &status, &payment.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	payment.Status = domain.PaymentStatus(status)
	return &payment, nil
}

// RefundRepository implements ports.RefundRepository using pgx
type RefundRepository struct {
	db ports.DBPort
}

// NewRefundRepository creates a new refund repository
func NewRefundRepository(db ports.DBPort) *RefundRepository {
	return &RefundRepository{db: db}
}

// Create records a gateway-confirmed cancellation against an order payment
func (r *RefundRepository) Create(ctx context.Context, tx ports.DBTX, refund *domain.Refund) error {
	query := `
		INSERT INTO refunds (id, payment_id, amount, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := executor(r.db, tx).Exec(ctx, query,
		refund.ID, refund.PaymentID, refund.Amount, refund.Reason,
		string(refund.Status), refund.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}
