package refund

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/billing-service/internal/adapters/portone"
	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/internal/domain/ports"
	"github.com/kevin07696/billing-service/pkg/observability"
	"github.com/kevin07696/billing-service/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// Service coordinates refunds: gateway-side cancellation first, local
// bookkeeping only after the gateway confirms. An invoice refund transitions
// the invoice to REFUNDED; an order-path refund classifies the payment as
// fully or partially refunded by the amount the gateway reports.
type Service struct {
	db                ports.DBPort
	invoiceRepo       ports.InvoiceRepository
	invoiceRefundRepo ports.InvoiceRefundRepository
	orderRepo         ports.OrderRepository
	paymentRepo       ports.PaymentRepository
	refundRepo        ports.RefundRepository
	gateway           ports.BillingGateway
	logger            ports.Logger
}

// NewService creates a new refund service
func NewService(
	db ports.DBPort,
	invoiceRepo ports.InvoiceRepository,
	invoiceRefundRepo ports.InvoiceRefundRepository,
	orderRepo ports.OrderRepository,
	paymentRepo ports.PaymentRepository,
	refundRepo ports.RefundRepository,
	gateway ports.BillingGateway,
	logger ports.Logger,
) *Service {
	return &Service{
		db:                db,
		invoiceRepo:       invoiceRepo,
		invoiceRefundRepo: invoiceRefundRepo,
		orderRepo:         orderRepo,
		paymentRepo:       paymentRepo,
		refundRepo:        refundRepo,
		gateway:           gateway,
		logger:            logger,
	}
}

// RefundInvoice refunds a PAID subscription invoice through the gateway and
// records the refund locally. The invoice must carry the gateway payment id
// of its settled charge; anything else is an invalid-state error.
func (s *Service) RefundInvoice(ctx context.Context, invoiceID string, amount decimal.Decimal, reason string) (*domain.InvoiceRefund, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, nil, invoiceID)
	if err != nil {
		return nil, err
	}

	if invoice.Status != domain.InvoiceStatusPaid {
		return nil, domain.ErrInvoiceInvalidState.
			WithDetail("invoice_id", invoiceID).
			WithDetail("status", string(invoice.Status))
	}
	if invoice.GatewayPaymentID == "" {
		return nil, domain.ErrInvoiceInvalidState.
			WithDetail("invoice_id", invoiceID).
			WithDetail("reason", "no gateway payment id on invoice")
	}

	token, err := s.gateway.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway auth: %w", err)
	}

	if _, err := s.gateway.CancelPayment(ctx, invoice.GatewayPaymentID, token, reason); err != nil {
		s.logger.Error("gateway refund failed",
			ports.String("invoice_id", invoiceID),
			ports.String("gateway_payment_id", invoice.GatewayPaymentID),
			ports.Err(err))
		return nil, fmt.Errorf("cancel payment %s: %w", invoice.GatewayPaymentID, err)
	}

	refund := &domain.InvoiceRefund{
		ID:        uuid.New().String(),
		InvoiceID: invoice.ID,
		Amount:    amount,
		Reason:    reason,
		Status:    domain.InvoiceRefundStatusCompleted,
		CreatedAt: timeutil.Now(),
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.invoiceRefundRepo.Create(ctx, tx, refund); err != nil {
			return fmt.Errorf("create refund record: %w", err)
		}
		invoice.Status = domain.InvoiceStatusRefunded
		if err := s.invoiceRepo.Update(ctx, tx, invoice); err != nil {
			return fmt.Errorf("mark invoice refunded: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("recording confirmed refund failed",
			ports.String("invoice_id", invoiceID),
			ports.Err(err))
		return nil, err
	}

	s.logger.Info("invoice refunded",
		ports.String("invoice_id", invoiceID),
		ports.String("refund_id", refund.ID),
		ports.String("amount", amount.String()))
	observability.RecordRefund("invoice", amount.GreaterThanOrEqual(invoice.Amount))

	return refund, nil
}

// CancelPayment refunds an order-path payment. The payment detail lookup
// resolves the canonical gateway id in case the caller passed a merchant
// reference; a failed lookup falls back to canceling by the caller's id.
// The refunded amount comes from the cancellation envelope; when the gateway
// reports no amount the refund is treated as full.
func (s *Service) CancelPayment(ctx context.Context, paymentID, reason string) (*domain.Refund, error) {
	token, err := s.gateway.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway auth: %w", err)
	}

	cancelID := paymentID
	if details, err := s.gateway.GetPaymentDetails(ctx, paymentID, token); err == nil {
		cancelID = portone.CanonicalPaymentID(details, paymentID)
	} else {
		s.logger.Warn("payment detail lookup failed, canceling by caller id",
			ports.String("payment_id", paymentID),
			ports.Err(err))
	}

	cancelResult, err := s.gateway.CancelPayment(ctx, cancelID, token, reason)
	if err != nil {
		return nil, fmt.Errorf("cancel payment %s: %w", cancelID, err)
	}

	payment, err := s.paymentRepo.GetByGatewayPaymentID(ctx, nil, cancelID)
	if err != nil && domain.IsNotFoundError(err) && cancelID != paymentID {
		payment, err = s.paymentRepo.GetByGatewayPaymentID(ctx, nil, paymentID)
	}
	if err != nil {
		return nil, err
	}

	refunded, ok := portone.ExtractRefundAmount(cancelResult)
	if !ok {
		refunded = payment.Amount
	}

	refund := &domain.Refund{
		ID:        uuid.New().String(),
		PaymentID: payment.ID,
		Amount:    refunded,
		Reason:    reason,
		Status:    domain.RefundStatusCompleted,
		CreatedAt: timeutil.Now(),
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		payment.ApplyRefund(refunded)
		if err := s.paymentRepo.Update(ctx, tx, payment); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		if err := s.refundRepo.Create(ctx, tx, refund); err != nil {
			return fmt.Errorf("create refund record: %w", err)
		}

		if payment.Status == domain.PaymentStatusRefunded {
			order, err := s.orderRepo.GetByID(ctx, tx, payment.OrderID)
			if err != nil {
				if domain.IsNotFoundError(err) {
					return nil
				}
				return err
			}
			order.Status = domain.OrderStatusCancelled
			if err := s.orderRepo.Update(ctx, tx, order); err != nil {
				return fmt.Errorf("update order: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("recording confirmed refund failed",
			ports.String("payment_id", payment.ID),
			ports.Err(err))
		return nil, err
	}

	s.logger.Info("payment refunded",
		ports.String("payment_id", payment.ID),
		ports.String("refund_id", refund.ID),
		ports.String("amount", refunded.String()),
		ports.String("payment_status", string(payment.Status)))
	observability.RecordRefund("order", payment.Status == domain.PaymentStatusRefunded)

	return refund, nil
}
