package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/account-service/internal/api/http"
	"github.com/spec-kit/account-service/internal/api/http/handlers"
	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/billing"
	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/observability"
	"github.com/spec-kit/account-service/internal/persistence"
	"github.com/spec-kit/account-service/internal/repository"
	"github.com/spec-kit/account-service/internal/service"
	"github.com/spec-kit/account-service/internal/validation"
	"github.com/spec-kit/account-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := persistence.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open record store", zap.Error(err))
	}
	defer backend.Close()

	metrics := observability.NewMetrics()
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	validator := validation.New()
	tokenRepo := repository.NewTokenRepository(backend.Store, cfg.Auth.TokenTTL(), time.Now)
	accountRepo := repository.NewAccountRepository(repository.AccountDependencies{
		Store:     backend.Store,
		Tokens:    tokenRepo,
		Validator: validator,
		Hasher:    hasher,
	})

	dispatcher := events.NewInMemoryDispatcher()
	notificationService := service.NewNotificationService(dispatcher, service.NewLogMailer(logger), logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService, logger)

	accountService := service.NewAccountService(service.AccountDependencies{
		Store:        backend.Store,
		Accounts:     accountRepo,
		Tokens:       tokenRepo,
		Hasher:       hasher,
		Validator:    validator,
		TokenManager: auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		Billing:      billing.NewLogCanceler(logger),
		Dispatcher:   dispatcher,
		Metrics:      metrics,
		Logger:       logger,
	})
	authMiddleware := auth.NewAuthMiddleware(accountService.TokenManager(), accountRepo)

	go worker.StartSweepWorker(ctx, backend.Sweeper, cfg.Store.SweepInterval(), logger)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, cfg.Store.Backend, backend.Store),
		Accounts:       handlers.NewAccountsHandler(accountService),
		Auth:           handlers.NewAuthHandler(accountService),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
