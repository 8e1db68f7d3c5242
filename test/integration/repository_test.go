package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/billing-service/internal/adapters/database"
	"github.com/kevin07696/billing-service/internal/adapters/postgres"
	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/test/integration/testdb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubscriptionRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	pool := testdb.SetupTestDB(t)
	defer testdb.TeardownTestDB(t, pool)

	dbPort := database.NewPostgreSQLAdapterFromPool(pool, zap.NewNop())
	subRepo := postgres.NewSubscriptionRepository(dbPort)
	invoiceRepo := postgres.NewInvoiceRepository(dbPort)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `INSERT INTO users (id) VALUES ('user-1')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO subscription_plans (id, name, price, billing_interval, status)
		VALUES ('plan-1', 'Pro Monthly', 9900, 'monthly', 'ACTIVE')`)
	require.NoError(t, err)

	t.Run("CreateAndGet", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		sub := &domain.Subscription{
			ID:                 uuid.New().String(),
			UserID:             "user-1",
			PlanID:             "plan-1",
			Status:             domain.SubscriptionStatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now.AddDate(0, 1, 0),
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		err := subRepo.Create(ctx, nil, sub)
		require.NoError(t, err)

		retrieved, err := subRepo.GetByID(ctx, nil, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, retrieved.ID)
		assert.Equal(t, sub.UserID, retrieved.UserID)
		assert.Equal(t, domain.SubscriptionStatusActive, retrieved.Status)
		assert.WithinDuration(t, sub.CurrentPeriodEnd, retrieved.CurrentPeriodEnd, time.Second)
	})

	t.Run("GetByID_NotFound", func(t *testing.T) {
		_, err := subRepo.GetByID(ctx, nil, uuid.New().String())
		assert.True(t, domain.IsNotFoundError(err))
	})

	t.Run("ListDueForRenewal", func(t *testing.T) {
		now := time.Now().UTC()
		lapsed := &domain.Subscription{
			ID:                 uuid.New().String(),
			UserID:             "user-1",
			PlanID:             "plan-1",
			Status:             domain.SubscriptionStatusActive,
			CurrentPeriodStart: now.AddDate(0, -1, 0),
			CurrentPeriodEnd:   now.Add(-time.Hour),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		current := &domain.Subscription{
			ID:                 uuid.New().String(),
			UserID:             "user-1",
			PlanID:             "plan-1",
			Status:             domain.SubscriptionStatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now.AddDate(0, 1, 0),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		require.NoError(t, subRepo.Create(ctx, nil, lapsed))
		require.NoError(t, subRepo.Create(ctx, nil, current))

		due, err := subRepo.ListDueForRenewal(ctx, nil, now, 100)
		require.NoError(t, err)

		ids := make([]string, 0, len(due))
		for _, s := range due {
			ids = append(ids, s.ID)
		}
		assert.Contains(t, ids, lapsed.ID)
		assert.NotContains(t, ids, current.ID)
	})

	t.Run("InvoiceLifecycle", func(t *testing.T) {
		now := time.Now().UTC()
		sub := &domain.Subscription{
			ID:                 uuid.New().String(),
			UserID:             "user-1",
			PlanID:             "plan-1",
			Status:             domain.SubscriptionStatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now.AddDate(0, 1, 0),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		require.NoError(t, subRepo.Create(ctx, nil, sub))

		invoice := &domain.Invoice{
			ID:             uuid.New().String(),
			SubscriptionID: sub.ID,
			Amount:         decimal.NewFromInt(9900),
			Status:         domain.InvoiceStatusPending,
			DueDate:        now.Add(-time.Minute),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		require.NoError(t, invoiceRepo.Create(ctx, nil, invoice))

		due, err := invoiceRepo.ListPendingDue(ctx, nil, now, 100)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, invoice.ID, due[0].ID)
		assert.True(t, due[0].Amount.Equal(decimal.NewFromInt(9900)))

		paidAt := now
		invoice.MarkPaid("pay_1", paidAt)
		require.NoError(t, invoiceRepo.Update(ctx, nil, invoice))

		due, err = invoiceRepo.ListPendingDue(ctx, nil, now, 100)
		require.NoError(t, err)
		assert.Empty(t, due)

		retrieved, err := invoiceRepo.GetByID(ctx, nil, invoice.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.InvoiceStatusPaid, retrieved.Status)
		assert.Equal(t, "pay_1", retrieved.GatewayPaymentID)
	})
}

func TestPaymentMethodRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	pool := testdb.SetupTestDB(t)
	defer testdb.TeardownTestDB(t, pool)

	dbPort := database.NewPostgreSQLAdapterFromPool(pool, zap.NewNop())
	pmRepo := postgres.NewPaymentMethodRepository(dbPort)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `INSERT INTO users (id) VALUES ('user-1')`)
	require.NoError(t, err)

	key := "key-1"
	first := &domain.PaymentMethod{
		ID:          uuid.New().String(),
		UserID:      "user-1",
		CustomerUID: "cust_1_a",
		BillingKey:  &key,
		CardType:    "credit",
		CardLast4:   "4242",
		IsDefault:   true,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, pmRepo.Create(ctx, nil, first))

	// registering a new default clears the previous one first
	require.NoError(t, pmRepo.ClearDefaultForUser(ctx, nil, "user-1"))
	second := &domain.PaymentMethod{
		ID:          uuid.New().String(),
		UserID:      "user-1",
		CustomerUID: "cust_1_b",
		IsDefault:   true,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, pmRepo.Create(ctx, nil, second))

	methods, err := pmRepo.ListByUser(ctx, nil, "user-1")
	require.NoError(t, err)
	require.Len(t, methods, 2)

	// default ordering puts the current default first
	assert.Equal(t, second.ID, methods[0].ID)
	assert.True(t, methods[0].IsDefault)
	assert.False(t, methods[1].IsDefault)
}
