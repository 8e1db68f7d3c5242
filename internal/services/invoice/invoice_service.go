package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/billing-service/internal/adapters/portone"
	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/internal/domain/ports"
	"github.com/kevin07696/billing-service/pkg/observability"
	"github.com/kevin07696/billing-service/pkg/resilience"
	"github.com/kevin07696/billing-service/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// Service drives the invoice lifecycle: creating one invoice per billing
// cycle, charging it against the stored billing key, and recording the
// outcome on both the invoice and its subscription.
type Service struct {
	db          ports.DBPort
	subRepo     ports.SubscriptionRepository
	planRepo    ports.PlanRepository
	invoiceRepo ports.InvoiceRepository
	pmRepo      ports.PaymentMethodRepository
	gateway     ports.BillingGateway
	logger      ports.Logger
	// locks serializes mutations per subscription. The same instance is
	// shared with the subscription service so a charge in flight and a
	// cancel on one subscription never interleave.
	locks *resilience.KeyedMutex
}

// NewService creates a new invoice service
func NewService(
	db ports.DBPort,
	subRepo ports.SubscriptionRepository,
	planRepo ports.PlanRepository,
	invoiceRepo ports.InvoiceRepository,
	pmRepo ports.PaymentMethodRepository,
	gateway ports.BillingGateway,
	locks *resilience.KeyedMutex,
	logger ports.Logger,
) *Service {
	return &Service{
		db:          db,
		subRepo:     subRepo,
		planRepo:    planRepo,
		invoiceRepo: invoiceRepo,
		pmRepo:      pmRepo,
		gateway:     gateway,
		logger:      logger,
		locks:       locks,
	}
}

// CreateInvoice creates a PENDING invoice for the subscription's current
// billing period. Only ACTIVE and PAST_DUE subscriptions can be invoiced.
func (s *Service) CreateInvoice(ctx context.Context, subscriptionID string) (*domain.Invoice, error) {
	s.locks.Lock(subscriptionID)
	defer s.locks.Unlock(subscriptionID)

	sub, err := s.subRepo.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}

	if !sub.CanBeInvoiced() {
		return nil, domain.ErrSubscriptionInvalidState.
			WithDetail("subscription_id", subscriptionID).
			WithDetail("status", string(sub.Status))
	}

	plan, err := s.planRepo.GetByID(ctx, nil, sub.PlanID)
	if err != nil {
		return nil, err
	}

	now := timeutil.Now()
	invoice := &domain.Invoice{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		Amount:         plan.Price,
		Status:         domain.InvoiceStatusPending,
		DueDate:        sub.CurrentPeriodEnd,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.invoiceRepo.Create(ctx, tx, invoice)
	})
	if err != nil {
		s.logger.Error("create invoice failed",
			ports.String("subscription_id", subscriptionID),
			ports.Err(err))
		return nil, err
	}

	s.logger.Info("invoice created",
		ports.String("invoice_id", invoice.ID),
		ports.String("subscription_id", sub.ID),
		ports.String("amount", invoice.Amount.String()),
		ports.String("due_date", invoice.DueDate.Format(time.RFC3339)))

	return invoice, nil
}

// ProcessInvoicePayment charges a PENDING invoice against the subscription's
// stored billing key. Returns true when the charge settled. A non-PENDING
// invoice is a no-op returning false. Gateway outcomes are recorded locally:
// success marks the invoice PAID, advances the billing period and sets the
// subscription ACTIVE; a declined or failed charge marks the invoice FAILED
// and the subscription PAST_DUE. The gateway call happens outside the
// database transaction that records its outcome, but the whole sequence
// holds the subscription's lock so it cannot interleave with a cancel.
func (s *Service) ProcessInvoicePayment(ctx context.Context, invoiceID string) (bool, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, nil, invoiceID)
	if err != nil {
		return false, err
	}

	// The whole read-charge-commit sequence holds the subscription's lock:
	// a cancel that committed while the charge was in flight would otherwise
	// be overwritten when the charge records its outcome. The invoice is
	// re-read under the lock since a cancel may have landed first.
	s.locks.Lock(invoice.SubscriptionID)
	defer s.locks.Unlock(invoice.SubscriptionID)

	invoice, err = s.invoiceRepo.GetByID(ctx, nil, invoiceID)
	if err != nil {
		return false, err
	}

	if invoice.Status != domain.InvoiceStatusPending {
		s.logger.Debug("skipping non-pending invoice",
			ports.String("invoice_id", invoiceID),
			ports.String("status", string(invoice.Status)))
		observability.RecordInvoiceCharge("skipped", 0)
		return false, nil
	}
	started := timeutil.Now()

	sub, err := s.subRepo.GetByID(ctx, nil, invoice.SubscriptionID)
	if err != nil {
		return false, err
	}

	plan, err := s.planRepo.GetByID(ctx, nil, sub.PlanID)
	if err != nil {
		return false, err
	}

	if sub.PaymentMethodID == nil {
		return false, s.recordFailure(ctx, invoice, sub, "no payment method on subscription")
	}

	pm, err := s.pmRepo.GetByID(ctx, nil, *sub.PaymentMethodID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return false, s.recordFailure(ctx, invoice, sub, "payment method no longer exists")
		}
		return false, err
	}

	token, err := s.gateway.GetAccessToken(ctx)
	if err != nil {
		return false, s.recordFailure(ctx, invoice, sub, fmt.Sprintf("gateway auth failed: %v", err))
	}

	// merchantUid keyed to the invoice so a replayed charge is a gateway-side
	// duplicate, not a double bill
	req := map[string]interface{}{
		"merchantUid": fmt.Sprintf("invoice_%s", invoice.ID),
		"orderName":   plan.Name,
		"currency":    "KRW",
		"amount": map[string]interface{}{
			"total": invoice.Amount.InexactFloat64(),
		},
	}

	result, err := s.gateway.ExecuteBilling(ctx, pm.CustomerUID, req, token)
	if err != nil {
		return false, s.recordFailure(ctx, invoice, sub, fmt.Sprintf("billing execution failed: %v", err))
	}

	gatewayPaymentID := portone.ChargePaymentID(result)
	if gatewayPaymentID == "" {
		return false, s.recordFailure(ctx, invoice, sub, "gateway returned no payment id")
	}

	now := timeutil.Now()
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		invoice.MarkPaid(gatewayPaymentID, now)
		if err := s.invoiceRepo.Update(ctx, tx, invoice); err != nil {
			return fmt.Errorf("mark invoice paid: %w", err)
		}

		sub.AdvancePeriod(plan.BillingInterval)
		sub.Status = domain.SubscriptionStatusActive
		sub.UpdatedAt = now
		if err := s.subRepo.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("advance subscription period: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("recording settled charge failed",
			ports.String("invoice_id", invoice.ID),
			ports.String("gateway_payment_id", gatewayPaymentID),
			ports.Err(err))
		return false, err
	}

	s.logger.Info("invoice paid",
		ports.String("invoice_id", invoice.ID),
		ports.String("subscription_id", sub.ID),
		ports.String("gateway_payment_id", gatewayPaymentID))
	observability.RecordInvoiceCharge("paid", timeutil.Now().Sub(started))

	return true, nil
}

// recordFailure marks the invoice FAILED and its subscription PAST_DUE in one
// transaction. The charge can be retried later against the same invoice.
func (s *Service) recordFailure(ctx context.Context, invoice *domain.Invoice, sub *domain.Subscription, reason string) error {
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		invoice.MarkFailed(reason)
		if err := s.invoiceRepo.Update(ctx, tx, invoice); err != nil {
			return fmt.Errorf("mark invoice failed: %w", err)
		}

		sub.Status = domain.SubscriptionStatusPastDue
		sub.UpdatedAt = timeutil.Now()
		if err := s.subRepo.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("mark subscription past due: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Warn("invoice payment failed",
		ports.String("invoice_id", invoice.ID),
		ports.String("subscription_id", sub.ID),
		ports.String("reason", reason),
		ports.Int("attempt_count", invoice.AttemptCount))
	observability.RecordInvoiceCharge("failed", 0)

	return nil
}

// CancelOpenInvoices cancels every invoice of the subscription that is not
// already CANCELED or REFUNDED. PAID invoices are canceled too; this is
// subscription bookkeeping, not a refund, and settled money is untouched.
// Runs inside the caller's transaction.
func (s *Service) CancelOpenInvoices(ctx context.Context, tx ports.DBTX, subscriptionID, reason string) error {
	invoices, err := s.invoiceRepo.ListBySubscription(ctx, tx, subscriptionID)
	if err != nil {
		return err
	}

	for _, invoice := range invoices {
		if invoice.IsTerminal() {
			continue
		}
		invoice.MarkCanceled(reason)
		if err := s.invoiceRepo.Update(ctx, tx, invoice); err != nil {
			return fmt.Errorf("cancel invoice %s: %w", invoice.ID, err)
		}
	}
	return nil
}

// RecordExternalPayment records a charge that already settled on the gateway
// side, such as the payment bundled with billing-key issuance, as a PAID
// invoice on the user's most recent live subscription. Returns a nil invoice
// without error when the user has no live subscription to attach it to.
func (s *Service) RecordExternalPayment(ctx context.Context, userID, gatewayPaymentID string, amount decimal.Decimal) (*domain.Invoice, error) {
	subs, err := s.subRepo.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	var target *domain.Subscription
	for _, sub := range subs {
		if sub.IsLive() {
			target = sub
			break
		}
	}
	if target == nil {
		s.logger.Info("external payment has no live subscription to attach to",
			ports.String("user_id", userID),
			ports.String("gateway_payment_id", gatewayPaymentID))
		return nil, nil
	}

	s.locks.Lock(target.ID)
	defer s.locks.Unlock(target.ID)

	// Re-read under the lock; a concurrent cancel may have ended the
	// subscription after it was picked.
	target, err = s.subRepo.GetByID(ctx, nil, target.ID)
	if err != nil {
		return nil, err
	}
	if !target.IsLive() {
		s.logger.Info("external payment subscription no longer live",
			ports.String("user_id", userID),
			ports.String("subscription_id", target.ID),
			ports.String("gateway_payment_id", gatewayPaymentID))
		return nil, nil
	}

	now := timeutil.Now()
	invoice := &domain.Invoice{
		ID:               uuid.New().String(),
		SubscriptionID:   target.ID,
		Amount:           amount,
		Status:           domain.InvoiceStatusPaid,
		DueDate:          now,
		PaidAt:           &now,
		AttemptCount:     1,
		GatewayPaymentID: gatewayPaymentID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.invoiceRepo.Create(ctx, tx, invoice)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("external payment recorded",
		ports.String("invoice_id", invoice.ID),
		ports.String("subscription_id", target.ID),
		ports.String("gateway_payment_id", gatewayPaymentID))

	return invoice, nil
}
