package ports

import (
	"context"
	"time"

	"github.com/kevin07696/billing-service/internal/domain"
)

// UserRepository exposes the minimal user lookup the billing layer needs.
// Users are owned by another service; only existence matters here.
type UserRepository interface {
	ExistsByID(ctx context.Context, db DBTX, userID string) (bool, error)
}

// PlanRepository defines the interface for plan persistence
type PlanRepository interface {
	GetByID(ctx context.Context, db DBTX, id string) (*domain.Plan, error)
}

// PaymentMethodRepository defines the interface for payment method persistence
type PaymentMethodRepository interface {
	Create(ctx context.Context, tx DBTX, pm *domain.PaymentMethod) error
	GetByID(ctx context.Context, db DBTX, id string) (*domain.PaymentMethod, error)
	ListByUser(ctx context.Context, db DBTX, userID string) ([]*domain.PaymentMethod, error)
	// ClearDefaultForUser unsets the default flag on all of the user's
	// payment methods. The orchestrator uses it to keep at most one default.
	ClearDefaultForUser(ctx context.Context, tx DBTX, userID string) error
}

// SubscriptionRepository defines the interface for subscription persistence
type SubscriptionRepository interface {
	Create(ctx context.Context, tx DBTX, sub *domain.Subscription) error
	GetByID(ctx context.Context, db DBTX, id string) (*domain.Subscription, error)
	Update(ctx context.Context, tx DBTX, sub *domain.Subscription) error
	ListByUser(ctx context.Context, db DBTX, userID string) ([]*domain.Subscription, error)
	// ListDueForRenewal lists live subscriptions whose current period has
	// lapsed as of the given time.
	ListDueForRenewal(ctx context.Context, db DBTX, asOf time.Time, limit int32) ([]*domain.Subscription, error)
}

// InvoiceRepository defines the interface for subscription invoice persistence
type InvoiceRepository interface {
	Create(ctx context.Context, tx DBTX, invoice *domain.Invoice) error
	GetByID(ctx context.Context, db DBTX, id string) (*domain.Invoice, error)
	Update(ctx context.Context, tx DBTX, invoice *domain.Invoice) error
	ListBySubscription(ctx context.Context, db DBTX, subscriptionID string) ([]*domain.Invoice, error)
	// ListPendingDue lists PENDING invoices whose due date has passed.
	ListPendingDue(ctx context.Context, db DBTX, asOf time.Time, limit int32) ([]*domain.Invoice, error)
}

// InvoiceRefundRepository defines the interface for invoice refund persistence
type InvoiceRefundRepository interface {
	Create(ctx context.Context, tx DBTX, refund *domain.InvoiceRefund) error
}

// OrderRepository defines the interface for checkout order persistence
type OrderRepository interface {
	GetByID(ctx context.Context, db DBTX, orderID string) (*domain.Order, error)
	Update(ctx context.Context, tx DBTX, order *domain.Order) error
}

// PaymentRepository defines the interface for order payment persistence
type PaymentRepository interface {
	Create(ctx context.Context, tx DBTX, payment *domain.Payment) error
	GetByGatewayPaymentID(ctx context.Context, db DBTX, gatewayPaymentID string) (*domain.Payment, error)
	GetByOrderID(ctx context.Context, db DBTX, orderID string) (*domain.Payment, error)
	Update(ctx context.Context, tx DBTX, payment *domain.Payment) error
}

// RefundRepository defines the interface for order-path refund persistence
type RefundRepository interface {
	Create(ctx context.Context, tx DBTX, refund *domain.Refund) error
}
