package invoice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/internal/domain/ports"
	"github.com/kevin07696/billing-service/internal/services/subscription"
	"github.com/kevin07696/billing-service/pkg/resilience"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, fields ...ports.Field)  {}
func (nopLogger) Error(msg string, fields ...ports.Field) {}
func (nopLogger) Warn(msg string, fields ...ports.Field)  {}
func (nopLogger) Debug(msg string, fields ...ports.Field) {}

// MockDBPort mocks the database port
type MockDBPort struct {
	mock.Mock
}

func (m *MockDBPort) GetDB() *pgxpool.Pool {
	return nil
}

func (m *MockDBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	// Execute the function with nil transaction for testing
	return fn(ctx, nil)
}

// MockSubscriptionRepository mocks the subscription repository
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *domain.Subscription) error {
	args := m.Called(ctx, tx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Subscription, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, sub *domain.Subscription) error {
	args := m.Called(ctx, tx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) ListByUser(ctx context.Context, db ports.DBTX, userID string) ([]*domain.Subscription, error) {
	args := m.Called(ctx, db, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) ListDueForRenewal(ctx context.Context, db ports.DBTX, asOf time.Time, limit int32) ([]*domain.Subscription, error) {
	args := m.Called(ctx, db, asOf, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Subscription), args.Error(1)
}

// MockPlanRepository mocks the plan repository
type MockPlanRepository struct {
	mock.Mock
}

func (m *MockPlanRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Plan, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Plan), args.Error(1)
}

// MockInvoiceRepository mocks the invoice repository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) Create(ctx context.Context, tx ports.DBTX, invoice *domain.Invoice) error {
	args := m.Called(ctx, tx, invoice)
	return args.Error(0)
}

func (m *MockInvoiceRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Invoice, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) Update(ctx context.Context, tx ports.DBTX, invoice *domain.Invoice) error {
	args := m.Called(ctx, tx, invoice)
	return args.Error(0)
}

func (m *MockInvoiceRepository) ListBySubscription(ctx context.Context, db ports.DBTX, subscriptionID string) ([]*domain.Invoice, error) {
	args := m.Called(ctx, db, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) ListPendingDue(ctx context.Context, db ports.DBTX, asOf time.Time, limit int32) ([]*domain.Invoice, error) {
	args := m.Called(ctx, db, asOf, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Invoice), args.Error(1)
}

// MockPaymentMethodRepository mocks the payment method repository
type MockPaymentMethodRepository struct {
	mock.Mock
}

func (m *MockPaymentMethodRepository) Create(ctx context.Context, tx ports.DBTX, pm *domain.PaymentMethod) error {
	args := m.Called(ctx, tx, pm)
	return args.Error(0)
}

func (m *MockPaymentMethodRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.PaymentMethod, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentMethod), args.Error(1)
}

func (m *MockPaymentMethodRepository) ListByUser(ctx context.Context, db ports.DBTX, userID string) ([]*domain.PaymentMethod, error) {
	args := m.Called(ctx, db, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PaymentMethod), args.Error(1)
}

func (m *MockPaymentMethodRepository) ClearDefaultForUser(ctx context.Context, tx ports.DBTX, userID string) error {
	args := m.Called(ctx, tx, userID)
	return args.Error(0)
}

// MockBillingGateway mocks the billing gateway
type MockBillingGateway struct {
	mock.Mock
}

func (m *MockBillingGateway) GetAccessToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBillingGateway) GetPaymentDetails(ctx context.Context, paymentID, accessToken string) (map[string]interface{}, error) {
	args := m.Called(ctx, paymentID, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockBillingGateway) IssueBillingKey(ctx context.Context, req map[string]interface{}, accessToken string) (map[string]interface{}, error) {
	args := m.Called(ctx, req, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockBillingGateway) GetBillingKey(ctx context.Context, customerUID, accessToken string) (map[string]interface{}, error) {
	args := m.Called(ctx, customerUID, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockBillingGateway) ExecuteBilling(ctx context.Context, customerUID string, req map[string]interface{}, accessToken string) (map[string]interface{}, error) {
	args := m.Called(ctx, customerUID, req, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockBillingGateway) CancelPayment(ctx context.Context, paymentID, accessToken, reason string) (map[string]interface{}, error) {
	args := m.Called(ctx, paymentID, accessToken, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockBillingGateway) CreateSchedule(ctx context.Context, paymentID string, req map[string]interface{}, accessToken string) (map[string]interface{}, error) {
	args := m.Called(ctx, paymentID, req, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockBillingGateway) GetSchedules(ctx context.Context, customerUID, accessToken string) (map[string]interface{}, error) {
	args := m.Called(ctx, customerUID, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockBillingGateway) GetSchedule(ctx context.Context, customerUID, scheduleID, accessToken string) (map[string]interface{}, error) {
	args := m.Called(ctx, customerUID, scheduleID, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockBillingGateway) DeleteSchedule(ctx context.Context, customerUID, scheduleID, accessToken string) (map[string]interface{}, error) {
	args := m.Called(ctx, customerUID, scheduleID, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

type invoiceFixture struct {
	db          *MockDBPort
	subRepo     *MockSubscriptionRepository
	planRepo    *MockPlanRepository
	invoiceRepo *MockInvoiceRepository
	pmRepo      *MockPaymentMethodRepository
	gateway     *MockBillingGateway
	locks       *resilience.KeyedMutex
	service     *Service
}

func newInvoiceFixture() *invoiceFixture {
	f := &invoiceFixture{
		db:          new(MockDBPort),
		subRepo:     new(MockSubscriptionRepository),
		planRepo:    new(MockPlanRepository),
		invoiceRepo: new(MockInvoiceRepository),
		pmRepo:      new(MockPaymentMethodRepository),
		gateway:     new(MockBillingGateway),
		locks:       resilience.NewKeyedMutex(),
	}
	f.service = NewService(f.db, f.subRepo, f.planRepo, f.invoiceRepo, f.pmRepo, f.gateway, f.locks, nopLogger{})
	return f
}

func activeSubscription() *domain.Subscription {
	pmID := "pm-1"
	return &domain.Subscription{
		ID:                 "sub-1",
		UserID:             "user-1",
		PlanID:             "plan-1",
		PaymentMethodID:    &pmID,
		Status:             domain.SubscriptionStatusActive,
		CurrentPeriodStart: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func monthlyPlan() *domain.Plan {
	return &domain.Plan{
		ID:              "plan-1",
		Name:            "Pro Monthly",
		Price:           decimal.NewFromInt(9900),
		BillingInterval: domain.IntervalMonthly,
		Status:          domain.PlanStatusActive,
	}
}

func TestCreateInvoice_Success(t *testing.T) {
	f := newInvoiceFixture()
	sub := activeSubscription()

	f.subRepo.On("GetByID", mock.Anything, nil, "sub-1").Return(sub, nil)
	f.planRepo.On("GetByID", mock.Anything, nil, "plan-1").Return(monthlyPlan(), nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	f.invoiceRepo.On("Create", mock.Anything, mock.Anything, mock.MatchedBy(func(inv *domain.Invoice) bool {
		return inv.SubscriptionID == "sub-1" &&
			inv.Status == domain.InvoiceStatusPending &&
			inv.Amount.Equal(decimal.NewFromInt(9900)) &&
			inv.DueDate.Equal(sub.CurrentPeriodEnd)
	})).Return(nil)

	invoice, err := f.service.CreateInvoice(context.Background(), "sub-1")

	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPending, invoice.Status)
	f.invoiceRepo.AssertExpectations(t)
}

func TestCreateInvoice_TrialingSubscriptionRejected(t *testing.T) {
	f := newInvoiceFixture()
	sub := activeSubscription()
	sub.Status = domain.SubscriptionStatusTrialing

	f.subRepo.On("GetByID", mock.Anything, nil, "sub-1").Return(sub, nil)

	_, err := f.service.CreateInvoice(context.Background(), "sub-1")

	assert.True(t, domain.IsInvalidStateError(err))
	f.invoiceRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateInvoice_CanceledSubscriptionRejected(t *testing.T) {
	f := newInvoiceFixture()
	sub := activeSubscription()
	sub.Status = domain.SubscriptionStatusCanceled

	f.subRepo.On("GetByID", mock.Anything, nil, "sub-1").Return(sub, nil)

	_, err := f.service.CreateInvoice(context.Background(), "sub-1")

	assert.True(t, domain.IsInvalidStateError(err))
}

func TestProcessInvoicePayment_SuccessAdvancesPeriod(t *testing.T) {
	f := newInvoiceFixture()
	sub := activeSubscription()
	sub.Status = domain.SubscriptionStatusPastDue
	periodEndBefore := sub.CurrentPeriodEnd

	invoice := &domain.Invoice{
		ID:             "inv-1",
		SubscriptionID: "sub-1",
		Amount:         decimal.NewFromInt(9900),
		Status:         domain.InvoiceStatusPending,
	}
	pm := &domain.PaymentMethod{ID: "pm-1", UserID: "user-1", CustomerUID: "cust_1"}

	f.invoiceRepo.On("GetByID", mock.Anything, nil, "inv-1").Return(invoice, nil)
	f.subRepo.On("GetByID", mock.Anything, nil, "sub-1").Return(sub, nil)
	f.planRepo.On("GetByID", mock.Anything, nil, "plan-1").Return(monthlyPlan(), nil)
	f.pmRepo.On("GetByID", mock.Anything, nil, "pm-1").Return(pm, nil)
	f.gateway.On("GetAccessToken", mock.Anything).Return("tok", nil)
	f.gateway.On("ExecuteBilling", mock.Anything, "cust_1", mock.MatchedBy(func(req map[string]interface{}) bool {
		// the merchant reference is keyed to the invoice for idempotency
		return req["merchantUid"] == "invoice_inv-1"
	}), "tok").Return(map[string]interface{}{"paymentId": "pay_77"}, nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	f.invoiceRepo.On("Update", mock.Anything, mock.Anything, invoice).Return(nil)
	f.subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	ok, err := f.service.ProcessInvoicePayment(context.Background(), "inv-1")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.InvoiceStatusPaid, invoice.Status)
	assert.Equal(t, "pay_77", invoice.GatewayPaymentID)
	assert.Equal(t, 1, invoice.AttemptCount)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, periodEndBefore, sub.CurrentPeriodStart)
	assert.Equal(t, periodEndBefore.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
}

func TestProcessInvoicePayment_GatewayDeclineMarksFailed(t *testing.T) {
	f := newInvoiceFixture()
	sub := activeSubscription()
	invoice := &domain.Invoice{
		ID:             "inv-1",
		SubscriptionID: "sub-1",
		Amount:         decimal.NewFromInt(9900),
		Status:         domain.InvoiceStatusPending,
	}
	pm := &domain.PaymentMethod{ID: "pm-1", CustomerUID: "cust_1"}

	f.invoiceRepo.On("GetByID", mock.Anything, nil, "inv-1").Return(invoice, nil)
	f.subRepo.On("GetByID", mock.Anything, nil, "sub-1").Return(sub, nil)
	f.planRepo.On("GetByID", mock.Anything, nil, "plan-1").Return(monthlyPlan(), nil)
	f.pmRepo.On("GetByID", mock.Anything, nil, "pm-1").Return(pm, nil)
	f.gateway.On("GetAccessToken", mock.Anything).Return("tok", nil)
	f.gateway.On("ExecuteBilling", mock.Anything, "cust_1", mock.Anything, "tok").
		Return(nil, errors.New("card declined"))
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	f.invoiceRepo.On("Update", mock.Anything, mock.Anything, invoice).Return(nil)
	f.subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	ok, err := f.service.ProcessInvoicePayment(context.Background(), "inv-1")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.InvoiceStatusFailed, invoice.Status)
	assert.Equal(t, 1, invoice.AttemptCount)
	assert.Contains(t, invoice.ErrorMessage, "card declined")
	assert.Equal(t, domain.SubscriptionStatusPastDue, sub.Status)
}

func TestProcessInvoicePayment_MissingPaymentIDTreatedAsFailure(t *testing.T) {
	f := newInvoiceFixture()
	sub := activeSubscription()
	invoice := &domain.Invoice{
		ID:             "inv-1",
		SubscriptionID: "sub-1",
		Amount:         decimal.NewFromInt(9900),
		Status:         domain.InvoiceStatusPending,
	}
	pm := &domain.PaymentMethod{ID: "pm-1", CustomerUID: "cust_1"}

	f.invoiceRepo.On("GetByID", mock.Anything, nil, "inv-1").Return(invoice, nil)
	f.subRepo.On("GetByID", mock.Anything, nil, "sub-1").Return(sub, nil)
	f.planRepo.On("GetByID", mock.Anything, nil, "plan-1").Return(monthlyPlan(), nil)
	f.pmRepo.On("GetByID", mock.Anything, nil, "pm-1").Return(pm, nil)
	f.gateway.On("GetAccessToken", mock.Anything).Return("tok", nil)
	f.gateway.On("ExecuteBilling", mock.Anything, "cust_1", mock.Anything, "tok").
		Return(map[string]interface{}{"status": "READY"}, nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	f.invoiceRepo.On("Update", mock.Anything, mock.Anything, invoice).Return(nil)
	f.subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	ok, err := f.service.ProcessInvoicePayment(context.Background(), "inv-1")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.InvoiceStatusFailed, invoice.Status)
}

func TestProcessInvoicePayment_NonPendingSkipped(t *testing.T) {
	f := newInvoiceFixture()
	invoice := &domain.Invoice{ID: "inv-1", Status: domain.InvoiceStatusPaid}

	f.invoiceRepo.On("GetByID", mock.Anything, nil, "inv-1").Return(invoice, nil)

	ok, err := f.service.ProcessInvoicePayment(context.Background(), "inv-1")

	require.NoError(t, err)
	assert.False(t, ok)
	f.gateway.AssertNotCalled(t, "ExecuteBilling", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessInvoicePayment_NoPaymentMethodMarksFailed(t *testing.T) {
	f := newInvoiceFixture()
	sub := activeSubscription()
	sub.PaymentMethodID = nil
	invoice := &domain.Invoice{
		ID:             "inv-1",
		SubscriptionID: "sub-1",
		Status:         domain.InvoiceStatusPending,
	}

	f.invoiceRepo.On("GetByID", mock.Anything, nil, "inv-1").Return(invoice, nil)
	f.subRepo.On("GetByID", mock.Anything, nil, "sub-1").Return(sub, nil)
	f.planRepo.On("GetByID", mock.Anything, nil, "plan-1").Return(monthlyPlan(), nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	f.invoiceRepo.On("Update", mock.Anything, mock.Anything, invoice).Return(nil)
	f.subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	ok, err := f.service.ProcessInvoicePayment(context.Background(), "inv-1")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.InvoiceStatusFailed, invoice.Status)
	assert.Equal(t, domain.SubscriptionStatusPastDue, sub.Status)
	f.gateway.AssertNotCalled(t, "GetAccessToken", mock.Anything)
}

func TestCancelOpenInvoices_CancelsEverythingNonTerminal(t *testing.T) {
	f := newInvoiceFixture()
	invoices := []*domain.Invoice{
		{ID: "inv-pending", Status: domain.InvoiceStatusPending},
		{ID: "inv-failed", Status: domain.InvoiceStatusFailed},
		{ID: "inv-paid", Status: domain.InvoiceStatusPaid},
		{ID: "inv-canceled", Status: domain.InvoiceStatusCanceled},
		{ID: "inv-refunded", Status: domain.InvoiceStatusRefunded},
	}

	f.invoiceRepo.On("ListBySubscription", mock.Anything, mock.Anything, "sub-1").Return(invoices, nil)
	f.invoiceRepo.On("Update", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.service.CancelOpenInvoices(context.Background(), nil, "sub-1", "subscription canceled")

	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusCanceled, invoices[0].Status)
	assert.Equal(t, domain.InvoiceStatusCanceled, invoices[1].Status)
	// settled history is canceled for bookkeeping too; money is untouched
	assert.Equal(t, domain.InvoiceStatusCanceled, invoices[2].Status)
	assert.Equal(t, domain.InvoiceStatusRefunded, invoices[4].Status)
	f.invoiceRepo.AssertNumberOfCalls(t, "Update", 3)
}

func TestRecordExternalPayment_AttachesToMostRecentLiveSubscription(t *testing.T) {
	f := newInvoiceFixture()
	canceled := &domain.Subscription{ID: "sub-old", Status: domain.SubscriptionStatusCanceled}
	live := &domain.Subscription{ID: "sub-live", Status: domain.SubscriptionStatusTrialing}

	f.subRepo.On("ListByUser", mock.Anything, nil, "user-1").
		Return([]*domain.Subscription{canceled, live}, nil)
	f.subRepo.On("GetByID", mock.Anything, nil, "sub-live").Return(live, nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	f.invoiceRepo.On("Create", mock.Anything, mock.Anything, mock.MatchedBy(func(inv *domain.Invoice) bool {
		return inv.SubscriptionID == "sub-live" &&
			inv.Status == domain.InvoiceStatusPaid &&
			inv.GatewayPaymentID == "pay_ext"
	})).Return(nil)

	invoice, err := f.service.RecordExternalPayment(context.Background(), "user-1", "pay_ext", decimal.NewFromInt(5000))

	require.NoError(t, err)
	require.NotNil(t, invoice)
	assert.Equal(t, "sub-live", invoice.SubscriptionID)
}

func TestRecordExternalPayment_NoLiveSubscription(t *testing.T) {
	f := newInvoiceFixture()
	f.subRepo.On("ListByUser", mock.Anything, nil, "user-1").
		Return([]*domain.Subscription{{ID: "sub-old", Status: domain.SubscriptionStatusEnded}}, nil)

	invoice, err := f.service.RecordExternalPayment(context.Background(), "user-1", "pay_ext", decimal.NewFromInt(5000))

	require.NoError(t, err)
	assert.Nil(t, invoice)
	f.invoiceRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordExternalPayment_SubscriptionCanceledUnderLock(t *testing.T) {
	f := newInvoiceFixture()
	picked := &domain.Subscription{ID: "sub-1", Status: domain.SubscriptionStatusActive}
	reread := &domain.Subscription{ID: "sub-1", Status: domain.SubscriptionStatusCanceled}

	f.subRepo.On("ListByUser", mock.Anything, nil, "user-1").
		Return([]*domain.Subscription{picked}, nil)
	// by the time the subscription's lock is held a cancel has ended it
	f.subRepo.On("GetByID", mock.Anything, nil, "sub-1").Return(reread, nil)

	invoice, err := f.service.RecordExternalPayment(context.Background(), "user-1", "pay_ext", decimal.NewFromInt(5000))

	require.NoError(t, err)
	assert.Nil(t, invoice)
	f.invoiceRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessInvoicePayment_CanceledBeforeLockAcquiredSkips(t *testing.T) {
	f := newInvoiceFixture()
	pending := &domain.Invoice{ID: "inv-1", SubscriptionID: "sub-1", Status: domain.InvoiceStatusPending}
	canceled := &domain.Invoice{ID: "inv-1", SubscriptionID: "sub-1", Status: domain.InvoiceStatusCanceled}

	// the first read resolves the subscription to lock on; by the re-read a
	// cancel has already voided the invoice
	f.invoiceRepo.On("GetByID", mock.Anything, nil, "inv-1").Return(pending, nil).Once()
	f.invoiceRepo.On("GetByID", mock.Anything, nil, "inv-1").Return(canceled, nil).Once()

	ok, err := f.service.ProcessInvoicePayment(context.Background(), "inv-1")

	require.NoError(t, err)
	assert.False(t, ok)
	f.gateway.AssertNotCalled(t, "GetAccessToken", mock.Anything)
	f.invoiceRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessInvoicePayment_CancelDuringChargeLandsAfterCommit(t *testing.T) {
	f := newInvoiceFixture()
	sub := activeSubscription()
	invoice := &domain.Invoice{
		ID:             "inv-1",
		SubscriptionID: "sub-1",
		Amount:         decimal.NewFromInt(9900),
		Status:         domain.InvoiceStatusPending,
	}
	pm := &domain.PaymentMethod{ID: "pm-1", UserID: "user-1", CustomerUID: "cust_1"}
	subs := subscription.NewService(f.db, nil, f.planRepo, f.pmRepo, f.subRepo, f.invoiceRepo, f.service, f.gateway, f.locks, nopLogger{})

	f.invoiceRepo.On("GetByID", mock.Anything, nil, "inv-1").Return(invoice, nil)
	f.subRepo.On("GetByID", mock.Anything, nil, "sub-1").Return(sub, nil)
	f.planRepo.On("GetByID", mock.Anything, nil, "plan-1").Return(monthlyPlan(), nil)
	f.pmRepo.On("GetByID", mock.Anything, nil, "pm-1").Return(pm, nil)
	f.gateway.On("GetAccessToken", mock.Anything).Return("tok", nil)
	f.gateway.On("GetSchedules", mock.Anything, "cust_1", "tok").
		Return(map[string]interface{}{"items": []interface{}{}}, nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	f.invoiceRepo.On("Update", mock.Anything, mock.Anything, invoice).Return(nil)
	f.invoiceRepo.On("ListBySubscription", mock.Anything, mock.Anything, "sub-1").
		Return([]*domain.Invoice{invoice}, nil)
	f.subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	var wg sync.WaitGroup
	var cancelErr error
	f.gateway.On("ExecuteBilling", mock.Anything, "cust_1", mock.Anything, "tok").
		Run(func(args mock.Arguments) {
			// a cancel arriving while the charge is in flight must wait for
			// the charge's commit before it can transition the subscription
			wg.Add(1)
			go func() {
				defer wg.Done()
				cancelErr = subs.CancelSubscription(context.Background(), "user-1", "sub-1")
			}()
			time.Sleep(20 * time.Millisecond)
		}).
		Return(map[string]interface{}{"paymentId": "pay_77"}, nil)

	ok, err := f.service.ProcessInvoicePayment(context.Background(), "inv-1")
	wg.Wait()

	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, cancelErr)
	assert.Equal(t, domain.SubscriptionStatusCanceled, sub.Status)
	require.NotNil(t, sub.CanceledAt)
	assert.Equal(t, domain.InvoiceStatusCanceled, invoice.Status)
}
