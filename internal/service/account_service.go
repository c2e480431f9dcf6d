package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/billing"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/observability"
	"github.com/spec-kit/account-service/internal/repository"
	"github.com/spec-kit/account-service/internal/store"
	"github.com/spec-kit/account-service/internal/validation"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

const passwordRejected = "The password provided was not accepted."

// AccountService coordinates the account lifecycle: setup, activation,
// password reset, email change, login and deletion. Every flow that spans
// more than one record is submitted as a single store transaction.
type AccountService struct {
	store      store.Store
	accounts   repository.AccountRepository
	tokens     repository.TokenRepository
	hasher     repository.PasswordHasher
	validator  *validation.Validator
	tokenMgr   *auth.TokenManager
	billing    billing.Canceler
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// AccountDependencies encapsulates collaborators of the account service.
type AccountDependencies struct {
	Store        store.Store
	Accounts     repository.AccountRepository
	Tokens       repository.TokenRepository
	Hasher       repository.PasswordHasher
	Validator    *validation.Validator
	TokenManager *auth.TokenManager
	Billing      billing.Canceler
	Dispatcher   events.Dispatcher
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	Clock        func() time.Time
}

// NewAccountService builds the service.
func NewAccountService(deps AccountDependencies) *AccountService {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	v := deps.Validator
	if v == nil {
		v = validation.New()
	}
	canceler := deps.Billing
	if canceler == nil {
		canceler = billing.NewLogCanceler(logger)
	}
	return &AccountService{
		store:      deps.Store,
		accounts:   deps.Accounts,
		tokens:     deps.Tokens,
		hasher:     deps.Hasher,
		validator:  v,
		tokenMgr:   deps.TokenManager,
		billing:    canceler,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        clock,
	}
}

// TokenManager exposes the access token manager for middleware wiring.
func (s *AccountService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// SetupAccount creates an account in setup status together with its setup
// token and announces it for the activation email.
func (s *AccountService) SetupAccount(ctx context.Context, input repository.CreateAccountInput) (*domain.Account, *domain.Token, error) {
	account, token, err := s.accounts.Create(ctx, input)
	s.recordTransaction(err)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("account created", zap.String("account_id", account.ID))
	s.publish(ctx, events.EventAccountCreated, account, token)
	return account, token, nil
}

// ActivateAccount consumes a setup token and sets the first password. The
// account becomes active in the same transaction that deletes the token.
func (s *AccountService) ActivateAccount(ctx context.Context, tokenID, password string) (*domain.Account, error) {
	if err := s.validator.Validate(validation.AccountSchema, validation.Input{
		"token":    tokenID,
		"password": password,
	}, "token", "password"); err != nil {
		return nil, err
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	account, err := s.consume(ctx, domain.TokenKindSetup, tokenID, func(tx *store.Tx, token *domain.Token, now time.Time) error {
		s.accounts.AddActivate(tx, token.AccountID, hash, now)
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account activated", zap.String("account_id", account.ID))
	return account, nil
}

// RequestPasswordReset mints a password reset token for the account owning
// email.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) (*domain.Account, *domain.Token, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}

	tx := store.NewTx()
	s.accounts.CheckExists(tx, account.ID)
	token, err := s.tokens.AddMint(tx, repository.MintRequest{
		Kind:      domain.TokenKindPasswordReset,
		AccountID: account.ID,
	}, s.now())
	if err != nil {
		return nil, nil, err
	}
	if err := s.transact(ctx, tx, repository.Outcomes{
		repository.TagAccount: repository.AccountNotFound(account.ID),
	}); err != nil {
		return nil, nil, err
	}

	s.logger.Info("password reset requested", zap.String("account_id", account.ID))
	s.publish(ctx, events.EventPasswordResetRequested, account, token)
	return account, token, nil
}

// ConsumePasswordReset consumes a password reset token and replaces the
// password atomically.
func (s *AccountService) ConsumePasswordReset(ctx context.Context, tokenID, password string) (*domain.Account, error) {
	if err := s.validator.Validate(validation.AccountSchema, validation.Input{
		"token":    tokenID,
		"password": password,
	}, "token", "password"); err != nil {
		return nil, err
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	account, err := s.consume(ctx, domain.TokenKindPasswordReset, tokenID, func(tx *store.Tx, token *domain.Token, now time.Time) error {
		s.accounts.AddSetPassword(tx, token.AccountID, hash, now)
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info("password reset", zap.String("account_id", account.ID))
	return account, nil
}

// RequestEmailChange mints an email change token moving the account to
// newEmail. The address must not be indexed by any account, including this
// one.
func (s *AccountService) RequestEmailChange(ctx context.Context, accountID, newEmail string) (*domain.Account, *domain.Token, error) {
	newEmail = repository.NormalizeEmail(newEmail)
	if err := s.validator.Validate(validation.AccountSchema, validation.Input{
		"id":    accountID,
		"email": newEmail,
	}, "id", "email"); err != nil {
		return nil, nil, err
	}

	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}

	tx := store.NewTx()
	s.accounts.CheckExists(tx, account.ID)
	s.accounts.CheckEmailFree(tx, newEmail)
	token, err := s.tokens.AddMint(tx, repository.MintRequest{
		Kind:      domain.TokenKindEmailChange,
		AccountID: account.ID,
		OldEmail:  account.Email,
		NewEmail:  newEmail,
	}, s.now())
	if err != nil {
		return nil, nil, err
	}
	if err := s.transact(ctx, tx, repository.Outcomes{
		repository.TagAccount: repository.AccountNotFound(account.ID),
		repository.TagEmail:   emailTaken(),
	}); err != nil {
		return nil, nil, err
	}

	s.logger.Info("email change requested", zap.String("account_id", account.ID))
	s.publish(ctx, events.EventEmailChangeRequested, account, token)
	return account, token, nil
}

// ConsumeEmailChange consumes an email change token. Tokens minted for the
// current address are confirmations and take the ConfirmInitialEmail path;
// all others swap the email index entries and the account email atomically.
func (s *AccountService) ConsumeEmailChange(ctx context.Context, tokenID string) (*domain.Account, error) {
	if err := s.validator.Validate(validation.AccountSchema, validation.Input{"token": tokenID}, "token"); err != nil {
		return nil, err
	}

	token, err := s.tokens.Get(ctx, domain.TokenKindEmailChange, tokenID)
	if err != nil {
		s.recordConsumption(domain.TokenKindEmailChange, err)
		return nil, err
	}
	if token.IsSelfVerification() {
		return s.confirmInitialEmail(ctx, token)
	}

	changed := apperrors.NewConflict("The email address of this account changed since the request was made.", nil)
	account, err := s.consumeToken(ctx, token, func(tx *store.Tx, token *domain.Token, now time.Time) error {
		return s.accounts.AddEmailSwap(tx, token.AccountID, token.OldEmail, token.NewEmail, now)
	}, repository.Outcomes{
		repository.TagAccount:  changed,
		repository.TagOldEmail: changed,
		repository.TagEmail:    emailTaken(),
	})
	if errors.Is(err, changed) {
		// A deleted account also fails the email guard.
		if _, getErr := s.accounts.Get(ctx, token.AccountID); getErr != nil {
			return nil, getErr
		}
		return nil, changed
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("email changed", zap.String("account_id", account.ID))
	return account, nil
}

// RequestEmailVerification mints an email change token for the current
// address so its owner can confirm it.
func (s *AccountService) RequestEmailVerification(ctx context.Context, accountID string) (*domain.Account, *domain.Token, error) {
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}

	tx := store.NewTx()
	s.accounts.CheckExists(tx, account.ID)
	token, err := s.tokens.AddMint(tx, repository.MintRequest{
		Kind:      domain.TokenKindEmailChange,
		AccountID: account.ID,
		OldEmail:  account.Email,
		NewEmail:  account.Email,
	}, s.now())
	if err != nil {
		return nil, nil, err
	}
	if err := s.transact(ctx, tx, repository.Outcomes{
		repository.TagAccount: repository.AccountNotFound(account.ID),
	}); err != nil {
		return nil, nil, err
	}

	s.publish(ctx, events.EventEmailVerificationRequested, account, token)
	return account, token, nil
}

// ConfirmInitialEmail consumes a confirmation token for the current address
// and marks it validated. The email index is untouched.
func (s *AccountService) ConfirmInitialEmail(ctx context.Context, tokenID string) (*domain.Account, error) {
	if err := s.validator.Validate(validation.AccountSchema, validation.Input{"token": tokenID}, "token"); err != nil {
		return nil, err
	}

	token, err := s.tokens.Get(ctx, domain.TokenKindEmailChange, tokenID)
	if err != nil {
		s.recordConsumption(domain.TokenKindEmailChange, err)
		return nil, err
	}
	if !token.IsSelfVerification() {
		return nil, repository.InvalidToken(domain.TokenKindEmailChange)
	}
	return s.confirmInitialEmail(ctx, token)
}

func (s *AccountService) confirmInitialEmail(ctx context.Context, token *domain.Token) (*domain.Account, error) {
	account, err := s.consumeToken(ctx, token, func(tx *store.Tx, token *domain.Token, now time.Time) error {
		s.accounts.AddConfirmEmail(tx, token.AccountID, now)
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info("email confirmed", zap.String("account_id", account.ID))
	return account, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *AccountService) ChangePassword(ctx context.Context, id, current, newPassword string) (*domain.Account, error) {
	if err := s.validator.Validate(validation.AccountSchema, validation.Input{
		"id":          id,
		"password":    current,
		"newPassword": newPassword,
	}, "id", "password", "newPassword"); err != nil {
		return nil, err
	}

	ok, err := s.accounts.VerifyPassword(ctx, id, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewValidationError(passwordRejected, []apperrors.FieldError{
			{Field: "password", Message: passwordRejected},
		})
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return nil, err
	}
	err = s.accounts.SetPassword(ctx, id, hash)
	s.recordTransaction(err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("password changed", zap.String("account_id", id))
	return s.accounts.Get(ctx, id)
}

// Login verifies credentials of an active account and issues an access
// token.
func (s *AccountService) Login(ctx context.Context, email, password string) (*domain.Account, string, time.Time, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if !account.IsActive() {
		return nil, "", time.Time{}, apperrors.NewAccountInactive("Please activate your account before you login.")
	}

	ok, err := s.accounts.VerifyPassword(ctx, account.ID, password)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if !ok {
		return nil, "", time.Time{}, apperrors.NewDomainError(apperrors.CodeUnauthorized, passwordRejected, http.StatusUnauthorized,
			map[string]any{"errors": []apperrors.FieldError{{Field: "password", Message: passwordRejected}}})
	}

	token, exp, err := s.tokenMgr.GenerateToken(account)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return account, token, exp, nil
}

// GetAccount returns the account with id.
func (s *AccountService) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.accounts.Get(ctx, id)
}

// UpdateAccount applies the updatable fields of patch.
func (s *AccountService) UpdateAccount(ctx context.Context, id string, patch map[string]any) (*domain.Account, error) {
	account, err := s.accounts.Update(ctx, id, patch)
	s.recordTransaction(err)
	return account, err
}

// DeleteAccount cancels the billing subscription, then removes the account
// and its email index entry. A failed cancellation keeps the account.
func (s *AccountService) DeleteAccount(ctx context.Context, id string) error {
	account, err := s.accounts.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.billing.CancelSubscription(ctx, account); err != nil {
		s.logger.Warn("subscription cancellation failed", zap.String("account_id", id), zap.Error(err))
		return apperrors.MapError(err)
	}

	err = s.accounts.Delete(ctx, id)
	s.recordTransaction(err)
	if err != nil {
		return err
	}
	s.logger.Info("account deleted", zap.String("account_id", id))
	return nil
}

// consumeOps appends the mutation that accompanies a token consumption.
type consumeOps func(tx *store.Tx, token *domain.Token, now time.Time) error

func (s *AccountService) consume(ctx context.Context, kind domain.TokenKind, tokenID string, ops consumeOps, outcomes repository.Outcomes) (*domain.Account, error) {
	token, err := s.tokens.Get(ctx, kind, tokenID)
	if err != nil {
		s.recordConsumption(kind, err)
		return nil, err
	}
	return s.consumeToken(ctx, token, ops, outcomes)
}

// consumeToken submits the token delete, guarded by Live(now), together with
// ops. The token op always goes first. A missing account is reported as
// NotFound unless outcomes says otherwise.
func (s *AccountService) consumeToken(ctx context.Context, token *domain.Token, ops consumeOps, outcomes repository.Outcomes) (*domain.Account, error) {
	now := s.now()
	tx := store.NewTx()
	s.tokens.AddConsume(tx, token, now)
	if err := ops(tx, token, now); err != nil {
		return nil, err
	}

	mapped := repository.Outcomes{repository.TagAccount: repository.AccountNotFound(token.AccountID)}
	for tag, outcome := range outcomes {
		mapped[tag] = outcome
	}
	err := s.tokens.ResolveConsume(ctx, token, now, s.store.Transact(ctx, tx), mapped)
	s.recordTransaction(err)
	s.recordConsumption(token.Kind, err)
	if err != nil {
		return nil, err
	}
	return s.accounts.Get(ctx, token.AccountID)
}

func (s *AccountService) transact(ctx context.Context, tx *store.Tx, outcomes repository.Outcomes) error {
	err := repository.TranslateTx(s.store.Transact(ctx, tx), outcomes)
	s.recordTransaction(err)
	return err
}

func (s *AccountService) hash(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}
	return hash, nil
}

// publish hands a minted token to the notification layer. Delivery problems
// are logged and never fail the operation that minted the token.
func (s *AccountService) publish(ctx context.Context, eventType events.EventType, account *domain.Account, token *domain.Token) {
	if s.dispatcher == nil {
		return
	}
	err := s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		AccountID: account.ID,
		Timestamp: s.now().UTC(),
		Payload:   &events.TokenIssuedPayload{Account: account, Token: token},
	})
	if err != nil {
		s.logger.Warn("event delivery failed",
			zap.String("event_type", string(eventType)),
			zap.String("account_id", account.ID),
			zap.Error(err))
	}
}

func (s *AccountService) recordTransaction(err error) {
	s.metrics.RecordTransaction(outcome(err, "committed"))
}

func (s *AccountService) recordConsumption(kind domain.TokenKind, err error) {
	s.metrics.RecordTokenConsumption(string(kind), outcome(err, "consumed"))
}

func outcome(err error, success string) string {
	if err == nil {
		return success
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return apperrors.CodeInternal
}

func emailTaken() error {
	return apperrors.NewConflict("An account with this email address already exists.", []apperrors.FieldError{
		{Field: "email", Message: "An account with this email address already exists."},
	})
}
