package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the invoice state
type InvoiceStatus string

const (
	InvoiceStatusPending  InvoiceStatus = "PENDING"
	InvoiceStatusPaid     InvoiceStatus = "PAID"
	InvoiceStatusFailed   InvoiceStatus = "FAILED"
	InvoiceStatusCanceled InvoiceStatus = "CANCELED"
	InvoiceStatusRefunded InvoiceStatus = "REFUNDED"
)

// Invoice records one billing-cycle obligation for a subscription,
// independent of the gateway's own charge object. Amount never decreases
// after creation; only status and refund linkage change.
type Invoice struct {
	DueDate          time.Time       `json:"due_date"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	PaidAt           *time.Time      `json:"paid_at"`
	Amount           decimal.Decimal `json:"amount"`
	ID               string          `json:"id"`
	SubscriptionID   string          `json:"subscription_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	ErrorMessage     string          `json:"error_message"`
	Status           InvoiceStatus   `json:"status"`
	AttemptCount     int             `json:"attempt_count"`
}

// IsTerminal returns true once the invoice can no longer change status,
// except for refund linkage on PAID invoices
func (i *Invoice) IsTerminal() bool {
	return i.Status == InvoiceStatusCanceled || i.Status == InvoiceStatusRefunded
}

// MarkPaid records a successful charge against this invoice
func (i *Invoice) MarkPaid(gatewayPaymentID string, at time.Time) {
	i.Status = InvoiceStatusPaid
	i.GatewayPaymentID = gatewayPaymentID
	i.PaidAt = &at
	i.AttemptCount++
	i.ErrorMessage = ""
}

// MarkFailed records a failed charge attempt. FAILED is not terminal: a
// later retry charges the same invoice again.
func (i *Invoice) MarkFailed(errMsg string) {
	i.Status = InvoiceStatusFailed
	i.AttemptCount++
	i.ErrorMessage = errMsg
}

// MarkCanceled force-transitions the invoice when its subscription is canceled
func (i *Invoice) MarkCanceled(reason string) {
	i.Status = InvoiceStatusCanceled
	i.ErrorMessage = reason
}

// InvoiceRefundStatus represents the refund state for an invoice refund
type InvoiceRefundStatus string

const (
	InvoiceRefundStatusCompleted InvoiceRefundStatus = "COMPLETED"
)

// InvoiceRefund records a gateway-confirmed refund against a paid invoice
type InvoiceRefund struct {
	CreatedAt time.Time           `json:"created_at"`
	Amount    decimal.Decimal     `json:"amount"`
	ID        string              `json:"id"`
	InvoiceID string              `json:"invoice_id"`
	Reason    string              `json:"reason"`
	Status    InvoiceRefundStatus `json:"status"`
}
