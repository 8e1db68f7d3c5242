package webhook

import (
	"context"
	"fmt"

	"github.com/kevin07696/billing-service/internal/domain/ports"
)

// PaymentVerifier is the slice of the payment service the processor needs
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, paymentID string) bool
}

// Processor routes verified gateway events. Paid transactions are
// re-verified against the gateway before any local state changes; event
// types without a handler are acknowledged and only logged, since the
// gateway retries unacknowledged deliveries indefinitely.
type Processor struct {
	payments PaymentVerifier
	logger   ports.Logger
}

// NewProcessor creates an event processor
func NewProcessor(payments PaymentVerifier, logger ports.Logger) *Processor {
	return &Processor{payments: payments, logger: logger}
}

// ProcessEvent dispatches one webhook event by type
func (p *Processor) ProcessEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case "Transaction.Paid":
		if event.PaymentID == "" {
			return fmt.Errorf("paid event carries no payment id")
		}
		if !p.payments.VerifyPayment(ctx, event.PaymentID) {
			return fmt.Errorf("payment %s did not verify", event.PaymentID)
		}
		return nil
	case "Transaction.Cancelled", "Transaction.PartialCancelled":
		// Cancellations initiated through this service are already recorded
		// by the refund flow; gateway-initiated ones are logged for follow-up.
		p.logger.Info("gateway cancellation event received",
			ports.String("event_type", event.Type),
			ports.String("payment_id", event.PaymentID))
		return nil
	default:
		p.logger.Info("unhandled webhook event type",
			ports.String("event_type", event.Type),
			ports.String("payment_id", event.PaymentID))
		return nil
	}
}
