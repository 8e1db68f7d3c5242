package billing

import (
	"context"
	"time"

	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/internal/domain/ports"
	"github.com/kevin07696/billing-service/pkg/observability"
	"github.com/kevin07696/billing-service/pkg/timeutil"
	"github.com/robfig/cron/v3"
)

const defaultBatchSize = 100

// InvoiceEngine is the slice of the invoice service the runner drives
type InvoiceEngine interface {
	CreateInvoice(ctx context.Context, subscriptionID string) (*domain.Invoice, error)
	ProcessInvoicePayment(ctx context.Context, invoiceID string) (bool, error)
}

// Runner is the billing tick: on each cron firing it creates invoices for
// subscriptions whose period has lapsed and charges pending invoices that
// are due. Each entity is handled independently; one failure never stops
// the batch.
type Runner struct {
	cron        *cron.Cron
	engine      InvoiceEngine
	subRepo     ports.SubscriptionRepository
	invoiceRepo ports.InvoiceRepository
	logger      ports.Logger
	batchSize   int32
	tickTimeout time.Duration
}

// NewRunner creates a billing runner
func NewRunner(
	engine InvoiceEngine,
	subRepo ports.SubscriptionRepository,
	invoiceRepo ports.InvoiceRepository,
	logger ports.Logger,
) *Runner {
	return &Runner{
		cron:        cron.New(),
		engine:      engine,
		subRepo:     subRepo,
		invoiceRepo: invoiceRepo,
		logger:      logger,
		batchSize:   defaultBatchSize,
		tickTimeout: 10 * time.Minute,
	}
}

// Start schedules RunOnce on the given cron expression and begins ticking
func (r *Runner) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.tickTimeout)
		defer cancel()
		r.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("billing runner started", ports.String("schedule", schedule))
	return nil
}

// Stop halts the cron scheduler and waits for a running tick to finish
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("billing runner stopped")
}

// RunOnce executes one billing tick. Exposed for operational re-runs and
// direct invocation without the scheduler.
func (r *Runner) RunOnce(ctx context.Context) {
	started := timeutil.Now()
	created := r.createLapsedInvoices(ctx)
	charged, failed := r.chargeDueInvoices(ctx)
	observability.RecordBillingRun(timeutil.Now().Sub(started))

	r.logger.Info("billing tick complete",
		ports.Int("invoices_created", created),
		ports.Int("invoices_charged", charged),
		ports.Int("charges_failed", failed))
}

// createLapsedInvoices invoices every live subscription whose period has
// ended and does not yet carry an invoice for that period end.
func (r *Runner) createLapsedInvoices(ctx context.Context) int {
	subs, err := r.subRepo.ListDueForRenewal(ctx, nil, timeutil.Now(), r.batchSize)
	if err != nil {
		r.logger.Error("listing subscriptions due for renewal failed", ports.Err(err))
		return 0
	}

	created := 0
	for _, sub := range subs {
		invoiced, err := r.hasInvoiceForPeriod(ctx, sub)
		if err != nil {
			r.logger.Error("checking existing invoices failed",
				ports.String("subscription_id", sub.ID),
				ports.Err(err))
			continue
		}
		if invoiced {
			continue
		}

		if _, err := r.engine.CreateInvoice(ctx, sub.ID); err != nil {
			r.logger.Error("creating renewal invoice failed",
				ports.String("subscription_id", sub.ID),
				ports.Err(err))
			continue
		}
		created++
	}
	return created
}

// hasInvoiceForPeriod reports whether the subscription already has an
// invoice due at its current period end, so a retrying tick does not
// double-invoice the same period.
func (r *Runner) hasInvoiceForPeriod(ctx context.Context, sub *domain.Subscription) (bool, error) {
	invoices, err := r.invoiceRepo.ListBySubscription(ctx, nil, sub.ID)
	if err != nil {
		return false, err
	}
	for _, invoice := range invoices {
		if invoice.Status == domain.InvoiceStatusCanceled {
			continue
		}
		if invoice.DueDate.Equal(sub.CurrentPeriodEnd) {
			return true, nil
		}
	}
	return false, nil
}

// chargeDueInvoices charges pending invoices whose due date has passed
func (r *Runner) chargeDueInvoices(ctx context.Context) (charged, failed int) {
	invoices, err := r.invoiceRepo.ListPendingDue(ctx, nil, timeutil.Now(), r.batchSize)
	if err != nil {
		r.logger.Error("listing due invoices failed", ports.Err(err))
		return 0, 0
	}

	for _, invoice := range invoices {
		ok, err := r.engine.ProcessInvoicePayment(ctx, invoice.ID)
		if err != nil {
			r.logger.Error("processing invoice payment failed",
				ports.String("invoice_id", invoice.ID),
				ports.Err(err))
			failed++
			continue
		}
		if ok {
			charged++
		} else {
			failed++
		}
	}
	return charged, failed
}
