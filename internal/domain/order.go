package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the checkout order state
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// Order is the one-time checkout path, separate from subscriptions.
// The order id is a merchant-supplied string and the primary key.
type Order struct {
	OrderedAt   time.Time       `json:"ordered_at"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	Status      OrderStatus     `json:"status"`
}

// PaymentStatus represents the payment state for an order payment
type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "PAID"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// Payment records a gateway charge settled against an order. One order has
// at most one payment; a payment can have many refunds.
type Payment struct {
	PaidAt           *time.Time      `json:"paid_at"`
	Amount           decimal.Decimal `json:"amount"`
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	Method           string          `json:"method"`
	Status           PaymentStatus   `json:"status"`
}

// ApplyRefund classifies the payment after a confirmed gateway cancellation:
// refunds covering the full original amount mark it REFUNDED, anything less
// PARTIALLY_REFUNDED.
func (p *Payment) ApplyRefund(refunded decimal.Decimal) {
	if refunded.GreaterThanOrEqual(p.Amount) {
		p.Status = PaymentStatusRefunded
	} else {
		p.Status = PaymentStatusPartiallyRefunded
	}
}

// RefundStatus represents the refund state for an order-path refund
type RefundStatus string

const (
	RefundStatusCompleted RefundStatus = "COMPLETED"
)

// Refund records a gateway-confirmed cancellation against an order payment
type Refund struct {
	CreatedAt time.Time       `json:"created_at"`
	Amount    decimal.Decimal `json:"amount"`
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	Reason    string          `json:"reason"`
	Status    RefundStatus    `json:"status"`
}
