package subscription

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
	"golang.org/x/sync/errgroup"
)

const (
	// billingKeyLookupAttempts bounds the lookup retry loop. Key propagation
	// on the gateway side can lag issuance by a few seconds.
	billingKeyLookupAttempts = 3
	billingKeyLookupDelay    = 2 * time.Second

	scheduleCreationTimeout = 30 * time.Second
)

// ScheduleOutcome reports the result of the detached schedule-creation task
// started by CreateSubscription.
type ScheduleOutcome struct {
	SubscriptionID    string
	SchedulePaymentID string
	Err               error
}

// Service orchestrates the subscription lifecycle: creation with trial
// handling, gateway charge scheduling, cancellation with schedule cleanup,
// and payment method registration.
type Service struct {
	db          ports.DBPort
	userRepo    ports.UserRepository
	planRepo    ports.PlanRepository
	pmRepo      ports.PaymentMethodRepository
	subRepo     ports.SubscriptionRepository
	invoiceRepo ports.InvoiceRepository
	invoices    InvoiceCanceler
	gateway     ports.BillingGateway
	logger      ports.Logger
	// locks serializes mutations per subscription. The same instance is
	// shared with the invoice service so a renewal charge and a cancel on
	// one subscription never interleave.
	locks *resilience.KeyedMutex
}

// InvoiceCanceler is the slice of the invoice service the orchestrator needs
// for the cancellation cascade.
type InvoiceCanceler interface {
	CancelOpenInvoices(ctx context.Context, tx ports.DBTX, subscriptionID, reason string) error
}

// NewService creates a new subscription service
func NewService(
	db ports.DBPort,
	userRepo ports.UserRepository,
	planRepo ports.PlanRepository,
	pmRepo ports.PaymentMethodRepository,
	subRepo ports.SubscriptionRepository,
	invoiceRepo ports.InvoiceRepository,
	invoices InvoiceCanceler,
	gateway ports.BillingGateway,
	locks *resilience.KeyedMutex,
	logger ports.Logger,
) *Service {
	return &Service{
		db:          db,
		userRepo:    userRepo,
		planRepo:    planRepo,
		pmRepo:      pmRepo,
		subRepo:     subRepo,
		invoiceRepo: invoiceRepo,
		invoices:    invoices,
		gateway:     gateway,
		logger:      logger,
		locks:       locks,
	}
}

// CreateSubscription creates a subscription for a user on a plan. Plans with
// a trial period start TRIALING with no charge; plans without one start
// ACTIVE, and when a payment method is attached the on-session checkout
// charge is recorded as the period's PAID invoice. Gateway charge scheduling
// runs as a detached task whose result arrives on the returned channel; a
// scheduling failure never fails the creation itself.
func (s *Service) CreateSubscription(ctx context.Context, userID, planID string, paymentMethodID *string) (*domain.Subscription, <-chan ScheduleOutcome, error) {
	exists, err := s.userRepo.ExistsByID(ctx, nil, userID)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, domain.ErrUserNotFound.WithDetail("user_id", userID)
	}

	plan, err := s.planRepo.GetByID(ctx, nil, planID)
	if err != nil {
		return nil, nil, err
	}
	if !plan.IsActive() {
		return nil, nil, domain.ErrPlanInactive.WithDetail("plan_id", planID)
	}

	var pm *domain.PaymentMethod
	if paymentMethodID != nil {
		pm, err = s.pmRepo.GetByID(ctx, nil, *paymentMethodID)
		if err != nil {
			return nil, nil, err
		}
		if !pm.BelongsTo(userID) {
			return nil, nil, domain.ErrOwnershipDenied.
				WithDetail("payment_method_id", *paymentMethodID).
				WithDetail("user_id", userID)
		}
	}

	now := timeutil.Now()
	sub := &domain.Subscription{
		ID:                 uuid.New().String(),
		UserID:             userID,
		PlanID:             planID,
		PaymentMethodID:    paymentMethodID,
		Status:             domain.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   domain.NextPeriodEnd(now, plan.BillingInterval),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if plan.HasTrial() {
		trialEnd := now.AddDate(0, 0, plan.TrialPeriodDays)
		sub.Status = domain.SubscriptionStatusTrialing
		sub.TrialEnd = &trialEnd
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.subRepo.Create(ctx, tx, sub); err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}

		// Non-trial subscriptions were charged on-session at checkout; book
		// that charge as this period's invoice.
		if !plan.HasTrial() && pm != nil {
			initial := &domain.Invoice{
				ID:               uuid.New().String(),
				SubscriptionID:   sub.ID,
				Amount:           plan.Price,
				Status:           domain.InvoiceStatusPaid,
				DueDate:          now,
				PaidAt:           &now,
				AttemptCount:     1,
				GatewayPaymentID: fmt.Sprintf("initial_payment_%s", sub.ID),
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := s.invoiceRepo.Create(ctx, tx, initial); err != nil {
				return fmt.Errorf("record initial invoice: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("create subscription failed",
			ports.String("user_id", userID),
			ports.String("plan_id", planID),
			ports.Err(err))
		return nil, nil, err
	}

	s.logger.Info("subscription created",
		ports.String("subscription_id", sub.ID),
		ports.String("user_id", userID),
		ports.String("plan_id", planID),
		ports.String("status", string(sub.Status)))
	observability.RecordSubscriptionCreated(string(sub.Status))

	outcome := make(chan ScheduleOutcome, 1)
	if pm == nil {
		close(outcome)
		return sub, outcome, nil
	}

	// Detached from the request context: the schedule must be registered
	// even if the caller goes away, and its failure must not fail creation.
	go func() {
		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scheduleCreationTimeout)
		defer cancel()

		schedulePaymentID, err := s.createScheduledCharge(taskCtx, sub, plan, pm)
		if err != nil {
			s.logger.Error("scheduled charge creation failed",
				ports.String("subscription_id", sub.ID),
				ports.String("customer_uid", pm.CustomerUID),
				ports.Err(err))
		} else {
			s.logger.Info("scheduled charge created",
				ports.String("subscription_id", sub.ID),
				ports.String("schedule_payment_id", schedulePaymentID))
		}

		observability.RecordScheduleOutcome(err)
		outcome <- ScheduleOutcome{
			SubscriptionID:    sub.ID,
			SchedulePaymentID: schedulePaymentID,
			Err:               err,
		}
		close(outcome)
	}()

	return sub, outcome, nil
}

// createScheduledCharge registers the next recurring charge with the gateway.
// The locally cached billing key is used when present; otherwise it is looked
// up from the gateway with a bounded retry, since propagation after issuance
// can lag.
func (s *Service) createScheduledCharge(ctx context.Context, sub *domain.Subscription, plan *domain.Plan, pm *domain.PaymentMethod) (string, error) {
	token, err := s.gateway.GetAccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("gateway auth: %w", err)
	}

	billingKey, err := s.resolveBillingKey(ctx, pm, token)
	if err != nil {
		return "", err
	}

	schedulePaymentID := fmt.Sprintf("schedule_%s_%d", sub.ID, timeutil.Now().UnixMilli())
	req := map[string]interface{}{
		"payment": map[string]interface{}{
			"billingKey": billingKey,
			"orderName":  plan.Name,
			"customer": map[string]interface{}{
				"id": pm.CustomerUID,
			},
			"amount": map[string]interface{}{
				"total": plan.Price.InexactFloat64(),
			},
			"currency": "KRW",
			"customData": map[string]interface{}{
				"subscriptionId": sub.ID,
			},
		},
		"timeToPay": sub.NextChargeAt().Format(time.RFC3339),
	}

	if _, err := s.gateway.CreateSchedule(ctx, schedulePaymentID, req, token); err != nil {
		return "", fmt.Errorf("create schedule: %w", err)
	}
	return schedulePaymentID, nil
}

// resolveBillingKey returns the cached billing key or looks it up from the
// gateway, retrying only lookup misses. Exhausting the retry budget is a
// terminal error naming the customer.
func (s *Service) resolveBillingKey(ctx context.Context, pm *domain.PaymentMethod, token string) (string, error) {
	if pm.HasBillingKey() {
		return *pm.BillingKey, nil
	}

	policy := &resilience.RetryPolicy{
		MaxAttempts: billingKeyLookupAttempts,
		Backoff:     &resilience.FixedBackoff{Delay: billingKeyLookupDelay},
		ShouldRetry: portone.IsNotFoundError,
	}

	var billingKey string
	err := policy.Do(ctx, func(ctx context.Context) error {
		info, err := s.gateway.GetBillingKey(ctx, pm.CustomerUID, token)
		if err != nil {
			return err
		}
		billingKey = portone.BillingKeyFromInfo(info)
		if billingKey == "" {
			return &portone.GatewayError{Status: 404, Message: "billing key missing from lookup response"}
		}
		return nil
	})
	if err != nil {
		if portone.IsNotFoundError(err) {
			return "", domain.WrapError(
				domain.ErrorCodeBillingKeyUnresolved,
				fmt.Sprintf("no billing key found for customer %s", pm.CustomerUID),
				err,
			)
		}
		return "", fmt.Errorf("billing key lookup for customer %s: %w", pm.CustomerUID, err)
	}
	return billingKey, nil
}

// CancelSubscription cancels a user's subscription: gateway charge schedules
// are deleted best-effort, the subscription transitions to CANCELED, and
// every invoice that is not already CANCELED or REFUNDED is canceled with it.
// Canceling an already-canceled subscription is an invalid-state error.
func (s *Service) CancelSubscription(ctx context.Context, userID, subscriptionID string) error {
	s.locks.Lock(subscriptionID)
	defer s.locks.Unlock(subscriptionID)

	sub, err := s.subRepo.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return err
	}
	if !sub.BelongsTo(userID) {
		return domain.ErrOwnershipDenied.
			WithDetail("subscription_id", subscriptionID).
			WithDetail("user_id", userID)
	}
	if sub.IsCanceled() {
		return domain.ErrSubscriptionInvalidState.
			WithDetail("subscription_id", subscriptionID).
			WithDetail("status", string(sub.Status))
	}

	// Schedule cleanup before the local transition. Failures are logged and
	// swallowed: a stray gateway schedule is recoverable, a subscription
	// stuck un-cancelable is not.
	s.deleteSchedules(ctx, sub)

	now := timeutil.Now()
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub.Cancel(now)
		sub.UpdatedAt = now
		if err := s.subRepo.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if err := s.invoices.CancelOpenInvoices(ctx, tx, sub.ID, "subscription canceled"); err != nil {
			return fmt.Errorf("cancel open invoices: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("cancel subscription failed",
			ports.String("subscription_id", subscriptionID),
			ports.Err(err))
		return err
	}

	s.logger.Info("subscription canceled",
		ports.String("subscription_id", subscriptionID),
		ports.String("user_id", userID))
	observability.RecordSubscriptionCanceled()

	return nil
}

// deleteSchedules removes the customer's gateway charge schedules belonging
// to the subscription. Schedules without a subscription tag are deleted too:
// a charge we cannot attribute must not fire after cancellation. Deletions
// fan out concurrently and partial failure only logs.
func (s *Service) deleteSchedules(ctx context.Context, sub *domain.Subscription) {
	if sub.PaymentMethodID == nil {
		return
	}
	pm, err := s.pmRepo.GetByID(ctx, nil, *sub.PaymentMethodID)
	if err != nil {
		s.logger.Warn("schedule cleanup skipped, payment method unavailable",
			ports.String("subscription_id", sub.ID),
			ports.Err(err))
		return
	}

	token, err := s.gateway.GetAccessToken(ctx)
	if err != nil {
		s.logger.Warn("schedule cleanup skipped, gateway auth failed",
			ports.String("subscription_id", sub.ID),
			ports.Err(err))
		return
	}

	result, err := s.gateway.GetSchedules(ctx, pm.CustomerUID, token)
	if err != nil {
		s.logger.Warn("schedule cleanup skipped, schedule listing failed",
			ports.String("subscription_id", sub.ID),
			ports.String("customer_uid", pm.CustomerUID),
			ports.Err(err))
		return
	}

	scheduleIDs := schedulesToDelete(result, sub.ID)
	if len(scheduleIDs) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, scheduleID := range scheduleIDs {
		scheduleID := scheduleID
		g.Go(func() error {
			if _, err := s.gateway.DeleteSchedule(gctx, pm.CustomerUID, scheduleID, token); err != nil {
				return fmt.Errorf("delete schedule %s: %w", scheduleID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("schedule cleanup partially failed",
			ports.String("subscription_id", sub.ID),
			ports.Int("schedule_count", len(scheduleIDs)),
			ports.Err(err))
	}
}

// schedulesToDelete picks the schedule ids to remove for a subscription:
// those tagged with its id, plus untagged ones.
func schedulesToDelete(result map[string]interface{}, subscriptionID string) []string {
	items, ok := result["items"].([]interface{})
	if !ok {
		if items, ok = result["schedules"].([]interface{}); !ok {
			return nil
		}
	}

	var ids []string
	for _, item := range items {
		schedule, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := schedule["id"].(string)
		if id == "" {
			continue
		}
		if tag, tagged := scheduleSubscriptionTag(schedule); !tagged || tag == subscriptionID {
			ids = append(ids, id)
		}
	}
	return ids
}

func scheduleSubscriptionTag(schedule map[string]interface{}) (string, bool) {
	payment, ok := schedule["payment"].(map[string]interface{})
	if !ok {
		return "", false
	}
	customData, ok := payment["customData"].(map[string]interface{})
	if !ok {
		return "", false
	}
	tag, ok := customData["subscriptionId"].(string)
	if !ok || tag == "" {
		return "", false
	}
	return tag, true
}

// GetSubscription returns a subscription after an ownership check
func (s *Service) GetSubscription(ctx context.Context, userID, subscriptionID string) (*domain.Subscription, error) {
	sub, err := s.subRepo.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.BelongsTo(userID) {
		return nil, domain.ErrOwnershipDenied.
			WithDetail("subscription_id", subscriptionID).
			WithDetail("user_id", userID)
	}
	return sub, nil
}

// ListSubscriptions returns all of a user's subscriptions, newest first
func (s *Service) ListSubscriptions(ctx context.Context, userID string) ([]*domain.Subscription, error) {
	return s.subRepo.ListByUser(ctx, nil, userID)
}

// RegisterPaymentMethodRequest carries the inputs for billing key issuance
type RegisterPaymentMethodRequest struct {
	UserID    string
	CardType  string
	CardLast4 string
	// IssueRequest is the gateway-shaped issuance payload (card number,
	// expiry, identity fields). It is passed through untouched and never
	// persisted.
	IssueRequest map[string]interface{}
	SetDefault   bool
}

// RegisterPaymentMethod issues a billing key with the gateway and stores the
// resulting payment method. When SetDefault is requested the user's previous
// default is cleared in the same transaction, so at most one default exists.
func (s *Service) RegisterPaymentMethod(ctx context.Context, req RegisterPaymentMethodRequest) (*domain.PaymentMethod, error) {
	exists, err := s.userRepo.ExistsByID(ctx, nil, req.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrUserNotFound.WithDetail("user_id", req.UserID)
	}

	token, err := s.gateway.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway auth: %w", err)
	}

	customerUID := fmt.Sprintf("cust_%s_%d", req.UserID, timeutil.Now().UnixMilli())
	issueReq := map[string]interface{}{}
	for k, v := range req.IssueRequest {
		issueReq[k] = v
	}
	issueReq["customer"] = map[string]interface{}{"id": customerUID}

	info, err := s.gateway.IssueBillingKey(ctx, issueReq, token)
	if err != nil {
		return nil, fmt.Errorf("issue billing key: %w", err)
	}

	billingKey := portone.BillingKeyFromInfo(info)
	if billingKey == "" {
		return nil, domain.NewDomainError(
			domain.ErrorCodeBillingKeyUnresolved,
			"gateway issued no billing key",
		).WithDetail("customer_uid", customerUID)
	}

	pm := &domain.PaymentMethod{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		CustomerUID: customerUID,
		BillingKey:  &billingKey,
		CardType:    req.CardType,
		CardLast4:   req.CardLast4,
		IsDefault:   req.SetDefault,
		CreatedAt:   timeutil.Now(),
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if req.SetDefault {
			if err := s.pmRepo.ClearDefaultForUser(ctx, tx, req.UserID); err != nil {
				return fmt.Errorf("clear previous default: %w", err)
			}
		}
		if err := s.pmRepo.Create(ctx, tx, pm); err != nil {
			return fmt.Errorf("create payment method: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("register payment method failed",
			ports.String("user_id", req.UserID),
			ports.Err(err))
		return nil, err
	}

	s.logger.Info("payment method registered",
		ports.String("payment_method_id", pm.ID),
		ports.String("user_id", req.UserID),
		ports.Bool("default", pm.IsDefault))

	return pm, nil
}
