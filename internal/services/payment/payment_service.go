package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/billing-service/internal/adapters/portone"
	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/internal/domain/ports"
	"github.com/kevin07696/billing-service/pkg/timeutil"
)

// Service verifies one-time checkout payments against the gateway's record.
type Service struct {
	db          ports.DBPort
	orderRepo   ports.OrderRepository
	paymentRepo ports.PaymentRepository
	gateway     ports.BillingGateway
	logger      ports.Logger
}

// NewService creates a new payment verification service
func NewService(
	db ports.DBPort,
	orderRepo ports.OrderRepository,
	paymentRepo ports.PaymentRepository,
	gateway ports.BillingGateway,
	logger ports.Logger,
) *Service {
	return &Service{
		db:          db,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		gateway:     gateway,
		logger:      logger,
	}
}

// VerifyPayment checks a gateway payment against its local order and, when
// everything lines up, records the payment and completes the order. The
// contract is binary: any failure, from gateway auth to an amount mismatch
// to a write error, verifies as false and is logged with its cause.
func (s *Service) VerifyPayment(ctx context.Context, paymentID string) bool {
	token, err := s.gateway.GetAccessToken(ctx)
	if err != nil {
		s.logger.Error("payment verification failed at gateway auth",
			ports.String("payment_id", paymentID),
			ports.Err(err))
		return false
	}

	details, err := s.gateway.GetPaymentDetails(ctx, paymentID, token)
	if err != nil {
		s.logger.Error("payment verification failed at detail lookup",
			ports.String("payment_id", paymentID),
			ports.Err(err))
		return false
	}

	if !portone.IsPaidStatus(details) {
		s.logger.Warn("payment not in paid status",
			ports.String("payment_id", paymentID))
		return false
	}

	orderID := portone.ResolveOrderID(details)
	if orderID == portone.UnknownOrderID {
		s.logger.Warn("payment carries no resolvable order id",
			ports.String("payment_id", paymentID))
		return false
	}

	order, err := s.orderRepo.GetByID(ctx, nil, orderID)
	if err != nil {
		s.logger.Warn("order lookup failed during verification",
			ports.String("payment_id", paymentID),
			ports.String("order_id", orderID),
			ports.Err(err))
		return false
	}

	paidAmount := portone.PaidAmount(details)
	if !paidAmount.Equal(order.TotalAmount) {
		s.logger.Warn("paid amount does not match order total",
			ports.String("payment_id", paymentID),
			ports.String("order_id", orderID),
			ports.String("paid_amount", paidAmount.String()),
			ports.String("order_total", order.TotalAmount.String()))
		return false
	}

	now := timeutil.Now()
	method, _ := details["method"].(string)
	record := &domain.Payment{
		ID:               uuid.New().String(),
		OrderID:          order.OrderID,
		GatewayPaymentID: portone.CanonicalPaymentID(details, paymentID),
		Amount:           paidAmount,
		Method:           method,
		Status:           domain.PaymentStatusPaid,
		PaidAt:           &now,
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.paymentRepo.Create(ctx, tx, record); err != nil {
			return err
		}
		order.Status = domain.OrderStatusCompleted
		return s.orderRepo.Update(ctx, tx, order)
	})
	if err != nil {
		s.logger.Error("recording verified payment failed",
			ports.String("payment_id", paymentID),
			ports.String("order_id", orderID),
			ports.Err(err))
		return false
	}

	s.logger.Info("payment verified",
		ports.String("payment_id", paymentID),
		ports.String("order_id", orderID),
		ports.String("amount", paidAmount.String()))

	return true
}
