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

// InvoiceRepository implements ports.InvoiceRepository using pgx
type InvoiceRepository struct {
	db ports.DBPort
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db ports.DBPort) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `id, subscription_id, amount, status, due_date, paid_at,
	attempt_count, gateway_payment_id, error_message, created_at, updated_at`

// Create creates a new invoice
func (r *InvoiceRepository) Create(ctx context.Context, tx ports.DBTX, invoice *domain.Invoice) error {
	query := `
		INSERT INTO subscription_invoices (id, subscription_id, amount, status,
			due_date, paid_at, attempt_count, gateway_payment_id, error_message,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := executor(r.db, tx).Exec(ctx, query,
		invoice.ID, invoice.SubscriptionID, invoice.Amount, string(invoice.Status),
		invoice.DueDate, invoice.PaidAt, invoice.AttemptCount,
		invoice.GatewayPaymentID, invoice.ErrorMessage,
		invoice.CreatedAt, invoice.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

// GetByID retrieves an invoice by its ID
func (r *InvoiceRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM subscription_invoices WHERE id = $1`
	row := executor(r.db, db).QueryRow(ctx, query, id)

	invoice, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInvoiceNotFound.WithDetail("invoice_id", id)
		}
		return nil, fmt.Errorf("get invoice by id: %w", err)
	}
	return invoice, nil
}

// Update updates invoice fields
func (r *InvoiceRepository) Update(ctx context.Context, tx ports.DBTX, invoice *domain.Invoice) error {
	query := `
		UPDATE subscription_invoices
		SET status = $2, paid_at = $3, attempt_count = $4,
			gateway_payment_id = $5, error_message = $6, updated_at = $7
		WHERE id = $1
	`
	_, err := executor(r.db, tx).Exec(ctx, query,
		invoice.ID, string(invoice.Status), invoice.PaidAt, invoice.AttemptCount,
		invoice.GatewayPaymentID, invoice.ErrorMessage, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	return nil
}

// ListBySubscription lists all invoices for a subscription, oldest first
func (r *InvoiceRepository) ListBySubscription(ctx context.Context, db ports.DBTX, subscriptionID string) ([]*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM subscription_invoices WHERE subscription_id = $1 ORDER BY created_at`
	rows, err := executor(r.db, db).Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list invoices by subscription: %w", err)
	}
	defer rows.Close()

	return collectInvoices(rows)
}

// ListPendingDue lists PENDING invoices whose due date has passed
func (r *InvoiceRepository) ListPendingDue(ctx context.Context, db ports.DBTX, asOf time.Time, limit int32) ([]*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM subscription_invoices
		WHERE status = 'PENDING' AND due_date <= $1
		ORDER BY due_date
		LIMIT $2`
	rows, err := executor(r.db, db).Query(ctx, query, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending invoices due: %w", err)
	}
	defer rows.Close()

	return collectInvoices(rows)
}

func collectInvoices(rows pgx.Rows) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return invoices, nil
}

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var invoice domain.Invoice
	var status string
	err := row.Scan(
		&invoice.ID, &invoice.SubscriptionID, &invoice.Amount, &status,
		&invoice.DueDate, &invoice.PaidAt, &invoice.AttemptCount,
		&invoice.GatewayPaymentID, &invoice.ErrorMessage,
		&invoice.CreatedAt, &invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	invoice.Status = domain.InvoiceStatus(status)
	return &invoice, nil
}

// InvoiceRefundRepository implements ports.InvoiceRefundRepository using pgx
type InvoiceRefundRepository struct {
	db ports.DBPort
}

// NewInvoiceRefundRepository creates a new invoice refund repository
func NewInvoiceRefundRepository(db ports.DBPort) *InvoiceRefundRepository {
	return &InvoiceRefundRepository{db: db}
}

// Create records a gateway-confirmed refund against a paid invoice
func (r *InvoiceRefundRepository) Create(ctx context.Context, tx ports.DBTX, refund *domain.InvoiceRefund) error {
	query := `
		INSERT INTO subscription_refunds (id, invoice_id, amount, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := executor(r.db, tx).Exec(ctx, query,
		refund.ID, refund.InvoiceID, refund.Amount, refund.Reason,
		string(refund.Status), refund.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create invoice refund: %w", err)
	}
	return nil
}
