package cli

import (
	"context"
	"fmt"
	"time"

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

func wireApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	backend, err := persistence.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	validator := validation.New()
	tokens := repository.NewTokenRepository(backend.Store, cfg.Auth.TokenTTL(), time.Now)
	accounts := repository.NewAccountRepository(repository.AccountDependencies{
		Store:     backend.Store,
		Tokens:    tokens,
		Validator: validator,
		Hasher:    hasher,
	})

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, service.NewLogMailer(logger), logger, cfg.Notification), logger)

	return &app{
		accounts: service.NewAccountService(service.AccountDependencies{
			Store:        backend.Store,
			Accounts:     accounts,
			Tokens:       tokens,
			Hasher:       hasher,
			Validator:    validator,
			TokenManager: auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
			Billing:      billing.NewLogCanceler(logger),
			Dispatcher:   dispatcher,
			Logger:       logger,
		}),
		sweeper: backend.Sweeper,
		logger:  logger,
		close: func() {
			backend.Close()
			_ = logger.Sync()
		},
		now: time.Now,
	}, nil
}
