package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kevin07696/billing-service/internal/adapters/database"
	"github.com/kevin07696/billing-service/internal/adapters/portone"
	"github.com/kevin07696/billing-service/internal/adapters/postgres"
	"github.com/kevin07696/billing-service/internal/adapters/secrets"
	"github.com/kevin07696/billing-service/internal/billing"
	"github.com/kevin07696/billing-service/internal/config"
	"github.com/kevin07696/billing-service/internal/domain/ports"
	"github.com/kevin07696/billing-service/internal/handlers/api"
	"github.com/kevin07696/billing-service/internal/handlers/webhook"
	invoiceService "github.com/kevin07696/billing-service/internal/services/invoice"
	paymentService "github.com/kevin07696/billing-service/internal/services/payment"
	refundService "github.com/kevin07696/billing-service/internal/services/refund"
	subscriptionService "github.com/kevin07696/billing-service/internal/services/subscription"
	"github.com/kevin07696/billing-service/pkg/observability"
	"github.com/kevin07696/billing-service/pkg/resilience"
	"github.com/kevin07696/billing-service/pkg/security"
)

func main() {
	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	zapLogger := initLogger(cfg.Logger)
	defer zapLogger.Sync()

	logger := security.NewZapLogger(zapLogger)

	zapLogger.Info("starting billing service",
		zap.String("version", "0.1.0"),
		zap.Bool("development", cfg.Logger.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	dbCfg := &database.PostgreSQLConfig{
		DatabaseURL: cfg.Database.ConnectionString(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
	}
	db, err := database.NewPostgreSQLAdapter(ctx, dbCfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Secrets
	secretManager, err := initSecretManager(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to initialize secret manager", zap.Error(err))
	}

	apiSecret, err := secretManager.GetSecret(ctx, cfg.Gateway.APISecretPath)
	if err != nil {
		zapLogger.Fatal("failed to load gateway API secret", zap.Error(err))
	}
	webhookSecret, err := secretManager.GetSecret(ctx, cfg.Webhook.SecretPath)
	if err != nil {
		zapLogger.Fatal("failed to load webhook secret", zap.Error(err))
	}

	// Gateway client
	gateway := portone.NewClient(
		portone.Config{
			BaseURL:   cfg.Gateway.BaseURL,
			APISecret: apiSecret.Value,
		},
		&http.Client{Timeout: time.Duration(cfg.Gateway.Timeout) * time.Second},
		logger,
	)

	// Repositories
	userRepo := postgres.NewUserRepository(db)
	planRepo := postgres.NewPlanRepository(db)
	pmRepo := postgres.NewPaymentMethodRepository(db)
	subRepo := postgres.NewSubscriptionRepository(db)
	invoiceRepo := postgres.NewInvoiceRepository(db)
	invoiceRefundRepo := postgres.NewInvoiceRefundRepository(db)
	orderRepo := postgres.NewOrderRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	refundRepo := postgres.NewRefundRepository(db)

	// Services. The invoice and subscription services share one keyed mutex
	// so charges and cancels on the same subscription are serialized.
	subLocks := resilience.NewKeyedMutex()
	invoices := invoiceService.NewService(db, subRepo, planRepo, invoiceRepo, pmRepo, gateway, subLocks, logger)
	subscriptions := subscriptionService.NewService(db, userRepo, planRepo, pmRepo, subRepo, invoiceRepo, invoices, gateway, subLocks, logger)
	refunds := refundService.NewService(db, invoiceRepo, invoiceRefundRepo, orderRepo, paymentRepo, refundRepo, gateway, logger)
	payments := paymentService.NewService(db, orderRepo, paymentRepo, gateway, logger)

	// Webhook endpoint
	verifier := webhook.NewVerifier(webhookSecret.Value)
	processor := webhook.NewProcessor(payments, logger)
	webhookHandler := webhook.NewHandler(verifier, processor, logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Mount("/webhooks", webhookHandler.Routes())

	apiHandler := api.NewHandler(subscriptions, invoices, refunds, logger)
	router.Mount("/v1", apiHandler.Routes())

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// Metrics
	metricsServer := observability.NewMetricsServer(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		zapLogger,
	)
	metricsServer.Start()

	// Billing runner
	runner := billing.NewRunner(invoices, subRepo, invoiceRepo, logger)
	if cfg.Billing.Enabled {
		if err := runner.Start(cfg.Billing.Schedule); err != nil {
			zapLogger.Fatal("failed to start billing runner", zap.Error(err))
		}
	}

	go func() {
		zapLogger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zapLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.Billing.Enabled {
		runner.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("metrics server shutdown failed", zap.Error(err))
	}

	zapLogger.Info("shutdown complete")
}

func initLogger(cfg config.LoggerConfig) *zap.Logger {
	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func initSecretManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.SecretManagerAdapter, error) {
	switch cfg.Secrets.Backend {
	case "aws":
		return secrets.NewAWSSecretsManagerAdapter(ctx,
			secrets.DefaultAWSSecretsManagerConfig(cfg.Secrets.AWSRegion), logger)
	default:
		return secrets.NewEnvSecretManager(logger), nil
	}
}
