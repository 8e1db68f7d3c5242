package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/internal/domain/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
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

// MockOrderRepository mocks the order repository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) GetByID(ctx context.Context, db ports.DBTX, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, db, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) Update(ctx context.Context, tx ports.DBTX, order *domain.Order) error {
	args := m.Called(ctx, tx, order)
	return args.Error(0)
}

// MockPaymentRepository mocks the payment repository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, tx ports.DBTX, payment *domain.Payment) error {
	args := m.Called(ctx, tx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByGatewayPaymentID(ctx context.Context, db ports.DBTX, gatewayPaymentID string) (*domain.Payment, error) {
	args := m.Called(ctx, db, gatewayPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetByOrderID(ctx context.Context, db ports.DBTX, orderID string) (*domain.Payment, error) {
	args := m.Called(ctx, db, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) Update(ctx context.Context, tx ports.DBTX, payment *domain.Payment) error {
	args := m.Called(ctx, tx, payment)
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

type paymentFixture struct {
	db          *MockDBPort
	orderRepo   *MockOrderRepository
	paymentRepo *MockPaymentRepository
	gateway     *MockBillingGateway
	service     *Service
}

func newPaymentFixture() *paymentFixture {
	f := &paymentFixture{
		db:          new(MockDBPort),
		orderRepo:   new(MockOrderRepository),
		paymentRepo: new(MockPaymentRepository),
		gateway:     new(MockBillingGateway),
	}
	f.service = NewService(f.db, f.orderRepo, f.paymentRepo, f.gateway, nopLogger{})
	return f
}

func paidDetails(orderID string, total float64) map[string]interface{} {
	return map[string]interface{}{
		"id":          "pay_1",
		"status":      "PAID",
		"merchantUid": orderID,
		"method":      "card",
		"amount":      map[string]interface{}{"total": total},
	}
}

func TestVerifyPayment_Success(t *testing.T) {
	f := newPaymentFixture()
	order := &domain.Order{
		OrderID:     "order-1",
		Status:      domain.OrderStatusPendingPayment,
		TotalAmount: decimal.NewFromInt(50000),
	}

	f.gateway.On("GetAccessToken", mock.Anything).Return("tok", nil)
	f.gateway.On("GetPaymentDetails", mock.Anything, "pay_1", "tok").
		Return(paidDetails("order-1", 50000), nil)
	f.orderRepo.On("GetByID", mock.Anything, nil, "order-1").Return(order, nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	f.paymentRepo.On("Create", mock.Anything, mock.Anything, mock.MatchedBy(func(p *domain.Payment) bool {
		return p.OrderID == "order-1" &&
			p.GatewayPaymentID == "pay_1" &&
			p.Method == "card" &&
			p.Status == domain.PaymentStatusPaid &&
			p.Amount.Equal(decimal.NewFromInt(50000))
	})).Return(nil)
	f.orderRepo.On("Update", mock.Anything, mock.Anything, order).Return(nil)

	ok := f.service.VerifyPayment(context.Background(), "pay_1")

	assert.True(t, ok)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	f.paymentRepo.AssertExpectations(t)
}

func TestVerifyPayment_UnpaidStatus(t *testing.T) {
	f := newPaymentFixture()

	f.gateway.On("GetAccessToken", mock.Anything).Return("tok", nil)
	f.gateway.On("GetPaymentDetails", mock.Anything, "pay_1", "tok").
		Return(map[string]interface{}{"id": "pay_1", "status": "READY"}, nil)

	ok := f.service.VerifyPayment(context.Background(), "pay_1")

	assert.False(t, ok)
	f.orderRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyPayment_AmountMismatch(t *testing.T) {
	f := newPaymentFixture()
	order := &domain.Order{
		OrderID:     "order-1",
		Status:      domain.OrderStatusPendingPayment,
		TotalAmount: decimal.NewFromInt(50000),
	}

	f.gateway.On("GetAccessToken", mock.Anything).Return("tok", nil)
	f.gateway.On("GetPaymentDetails", mock.Anything, "pay_1", "tok").
		Return(paidDetails("order-1", 49000), nil)
	f.orderRepo.On("GetByID", mock.Anything, nil, "order-1").Return(order, nil)

	ok := f.service.VerifyPayment(context.Background(), "pay_1")

	assert.False(t, ok)
	assert.Equal(t, domain.OrderStatusPendingPayment, order.Status)
	f.paymentRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyPayment_NoResolvableOrder(t *testing.T) {
	f := newPaymentFixture()

	f.gateway.On("GetAccessToken", mock.Anything).Return("tok", nil)
	// no merchant reference anywhere, not even the gateway id
	f.gateway.On("GetPaymentDetails", mock.Anything, "pay_1", "tok").
		Return(map[string]interface{}{"status": "PAID"}, nil)

	ok := f.service.VerifyPayment(context.Background(), "pay_1")

	assert.False(t, ok)
	f.orderRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyPayment_OrderLookupFails(t *testing.T) {
	f := newPaymentFixture()

	f.gateway.On("GetAccessToken", mock.Anything).Return("tok", nil)
	f.gateway.On("GetPaymentDetails", mock.Anything, "pay_1", "tok").
		Return(paidDetails("order-x", 1000), nil)
	f.orderRepo.On("GetByID", mock.Anything, nil, "order-x").
		Return(nil, domain.ErrOrderNotFound)

	ok := f.service.VerifyPayment(context.Background(), "pay_1")

	assert.False(t, ok)
}

func TestVerifyPayment_GatewayAuthFails(t *testing.T) {
	f := newPaymentFixture()

	f.gateway.On("GetAccessToken", mock.Anything).Return("", errors.New("login failed"))

	ok := f.service.VerifyPayment(context.Background(), "pay_1")

	assert.False(t, ok)
	f.gateway.AssertNotCalled(t, "GetPaymentDetails", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyPayment_WriteFailureVerifiesFalse(t *testing.T) {
	f := newPaymentFixture()
	order := &domain.Order{
		OrderID:     "order-1",
		Status:      domain.OrderStatusPendingPayment,
		TotalAmount: decimal.NewFromInt(50000),
	}

	f.gateway.On("GetAccessToken", mock.Anything).Return("tok", nil)
	f.gateway.On("GetPaymentDetails", mock.Anything, "pay_1", "tok").
		Return(paidDetails("order-1", 50000), nil)
	f.orderRepo.On("GetByID", mock.Anything, nil, "order-1").Return(order, nil)
	f.db.On("WithTransaction", mock.Anything, mock.Anything).Return(errors.New("connection lost"))

	ok := f.service.VerifyPayment(context.Background(), "pay_1")

	assert.False(t, ok)
}
