package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/billing"
	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/observability"
	"github.com/spec-kit/account-service/internal/repository"
	"github.com/spec-kit/account-service/internal/store/redisstore"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []Email
}

func (m *recordingMailer) SendEmail(_ context.Context, email Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return nil
}

func (m *recordingMailer) last() Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type failingCanceler struct{}

func (failingCanceler) CancelSubscription(context.Context, *domain.Account) error {
	return errors.New("billing provider down")
}

type harness struct {
	svc      *AccountService
	accounts repository.AccountRepository
	mr       *miniredis.Miniredis
	clock    *fakeClock
	mailer   *recordingMailer
	metrics  *observability.Metrics
}

type harnessOption func(*AccountDependencies)

func withCanceler(c billing.Canceler) harnessOption {
	return func(d *AccountDependencies) { d.Billing = c }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := redisstore.New(client, redisstore.Options{ReclaimGrace: time.Hour, MaxRetries: 64})
	t.Cleanup(func() { _ = st.Close() })

	// miniredis reclaims keys against the wall clock, so the fake clock
	// starts from it.
	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Millisecond)}
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	tokens := repository.NewTokenRepository(st, 0, clock.Now)
	accounts := repository.NewAccountRepository(repository.AccountDependencies{
		Store:  st,
		Tokens: tokens,
		Hasher: hasher,
		Clock:  clock.Now,
	})

	dispatcher := events.NewInMemoryDispatcher()
	mailer := &recordingMailer{}
	NewNotificationService(dispatcher, mailer, zap.NewNop(), config.NotificationConfig{
		EmailFrom: "noreply@baseline.test",
		BaseURL:   "https://baseline.test/",
	}).RegisterHandlers()

	metrics := observability.NewMetrics()
	deps := AccountDependencies{
		Store:        st,
		Accounts:     accounts,
		Tokens:       tokens,
		Hasher:       hasher,
		TokenManager: auth.NewTokenManager("test-secret", 15),
		Dispatcher:   dispatcher,
		Metrics:      metrics,
		Logger:       zap.NewNop(),
		Clock:        clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &harness{
		svc:      NewAccountService(deps),
		accounts: accounts,
		mr:       mr,
		clock:    clock,
		mailer:   mailer,
		metrics:  metrics,
	}
}

func (h *harness) setup(t *testing.T, email string) (*domain.Account, *domain.Token) {
	t.Helper()
	account, token, err := h.svc.SetupAccount(context.Background(), repository.CreateAccountInput{
		Email:    email,
		FullName: "Ada Lovelace",
		Scope:    []domain.Scope{domain.ScopeUser},
	})
	require.NoError(t, err)
	return account, token
}

func (h *harness) active(t *testing.T, email, password string) *domain.Account {
	t.Helper()
	_, token := h.setup(t, email)
	account, err := h.svc.ActivateAccount(context.Background(), token.ID, password)
	require.NoError(t, err)
	return account
}

func (h *harness) keysWithPrefix(prefix string) []string {
	var out []string
	for _, k := range h.mr.Keys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, code), "expected %s, got %v", code, err)
}

func TestSetupAndActivate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	account, token := h.setup(t, "A@X.com ")
	assert.Equal(t, "a@x.com", account.Email)
	assert.Equal(t, domain.AccountStatusSetup, account.Status)
	assert.False(t, account.HasPassword)
	assert.NotEmpty(t, token.ID)
	assert.Equal(t, domain.TokenKindSetup, token.Kind)

	email := h.mailer.last()
	assert.Equal(t, "a@x.com", email.To)
	assert.Equal(t, "noreply@baseline.test", email.From)
	assert.Equal(t, "activateAccount.txt", email.TemplateID)
	assert.Equal(t, "https://baseline.test/account/activate/"+token.ID, email.Props["activateUrl"])
	assert.Equal(t, "Hi Ada,", email.Props["greeting"])

	activated, err := h.svc.ActivateAccount(ctx, token.ID, "longenough1")
	require.NoError(t, err)
	assert.Equal(t, account.ID, activated.ID)
	assert.Equal(t, domain.AccountStatusActive, activated.Status)
	assert.True(t, activated.HasPassword)
	assert.True(t, activated.ValidatedEmail)

	ok, err := h.accounts.VerifyPassword(ctx, account.ID, "longenough1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, h.keysWithPrefix("SETUPACCOUNT#"))

	loggedIn, accessToken, _, err := h.svc.Login(ctx, "a@x.com", "longenough1")
	require.NoError(t, err)
	assert.Equal(t, account.ID, loggedIn.ID)
	claims, err := h.svc.TokenManager().ParseToken(accessToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.AccountID)
}

func TestActivateValidatesInput(t *testing.T) {
	h := newHarness(t)
	_, token := h.setup(t, "a@x.com")

	_, err := h.svc.ActivateAccount(context.Background(), token.ID, "short")
	assertCode(t, err, apperrors.CodeValidationFailed)
	assert.Equal(t, []apperrors.FieldError{
		{Field: "password", Message: "Your password should be at least 7 characters long."},
	}, apperrors.FieldErrors(err))

	_, err = h.svc.ActivateAccount(context.Background(), "", "longenough1")
	assertCode(t, err, apperrors.CodeValidationFailed)
}

func TestActivateUnknownToken(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ActivateAccount(context.Background(), "0190b7d6-0000-7000-8000-000000000000", "longenough1")
	assertCode(t, err, apperrors.CodeInvalidToken)
}

func TestTokenIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, token := h.setup(t, "a@x.com")

	_, err := h.svc.ActivateAccount(ctx, token.ID, "longenough1")
	require.NoError(t, err)

	_, err = h.svc.ActivateAccount(ctx, token.ID, "different-password")
	assertCode(t, err, apperrors.CodeInvalidToken)

	ok, err := h.accounts.VerifyPassword(ctx, token.AccountID, "longenough1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentActivationHasOneWinner(t *testing.T) {
	h := newHarness(t)
	_, token := h.setup(t, "a@x.com")

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		failures []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ActivateAccount(context.Background(), token.ID, "longenough1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	for _, err := range failures {
		assertCode(t, err, apperrors.CodeInvalidToken)
	}
}

func TestExpiredTokenIsRejectedAndDiscarded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, token := h.setup(t, "a@x.com")

	h.clock.Advance(repository.DefaultTokenTTL)

	_, err := h.svc.ActivateAccount(ctx, token.ID, "longenough1")
	assertCode(t, err, apperrors.CodeExpiredToken)

	account, err := h.svc.GetAccount(ctx, token.AccountID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusSetup, account.Status)
	assert.False(t, account.HasPassword)
	assert.Empty(t, h.keysWithPrefix("SETUPACCOUNT#"))

	_, err = h.svc.ActivateAccount(ctx, token.ID, "longenough1")
	assertCode(t, err, apperrors.CodeInvalidToken)
}

func TestActivateDeletedAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account, token := h.setup(t, "a@x.com")
	require.NoError(t, h.svc.DeleteAccount(ctx, account.ID))

	_, err := h.svc.ActivateAccount(ctx, token.ID, "longenough1")
	assertCode(t, err, apperrors.CodeNotFound)
	assert.Len(t, h.keysWithPrefix("SETUPACCOUNT#"), 1)
}

func TestEmailUniqueness(t *testing.T) {
	h := newHarness(t)
	h.setup(t, "a@x.com")

	_, _, err := h.svc.SetupAccount(context.Background(), repository.CreateAccountInput{
		Email:    "A@x.com",
		FullName: "Other",
		Scope:    []domain.Scope{domain.ScopeUser},
	})
	assertCode(t, err, apperrors.CodeConflict)
	assert.Equal(t, []apperrors.FieldError{
		{Field: "email", Message: "An account with this email address already exists."},
	}, apperrors.FieldErrors(err))
	assert.Len(t, h.keysWithPrefix("ACCOUNT#"), 1)
	assert.Len(t, h.keysWithPrefix("SETUPACCOUNT#"), 1)
}

func TestConcurrentSetupWithSameEmail(t *testing.T) {
	h := newHarness(t)

	const workers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := h.svc.SetupAccount(context.Background(), repository.CreateAccountInput{
				Email:    "same@x.com",
				FullName: "Racer",
				Scope:    []domain.Scope{domain.ScopeUser},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperrors.HasCode(err, apperrors.CodeConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)
}

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.active(t, "a@x.com", "longenough1")

	owner, token, err := h.svc.RequestPasswordReset(ctx, "A@X.COM")
	require.NoError(t, err)
	assert.Equal(t, account.ID, owner.ID)
	assert.Equal(t, domain.TokenKindPasswordReset, token.Kind)
	assert.Equal(t, "https://baseline.test/account/password/reset/"+token.ID, h.mailer.last().Props["resetUrl"])

	_, err = h.svc.ConsumePasswordReset(ctx, token.ID, "brand-new-pass")
	require.NoError(t, err)

	_, _, _, err = h.svc.Login(ctx, "a@x.com", "brand-new-pass")
	require.NoError(t, err)
	_, _, _, err = h.svc.Login(ctx, "a@x.com", "longenough1")
	assertCode(t, err, apperrors.CodeUnauthorized)

	_, err = h.svc.ConsumePasswordReset(ctx, token.ID, "another-pass")
	assertCode(t, err, apperrors.CodeInvalidToken)
}

func TestPasswordResetTokenExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.active(t, "a@x.com", "longenough1")

	_, token, err := h.svc.RequestPasswordReset(ctx, "a@x.com")
	require.NoError(t, err)
	h.clock.Advance(repository.DefaultTokenTTL + time.Minute)

	_, err = h.svc.ConsumePasswordReset(ctx, token.ID, "brand-new-pass")
	assertCode(t, err, apperrors.CodeExpiredToken)

	_, _, _, err = h.svc.Login(ctx, "a@x.com", "longenough1")
	require.NoError(t, err)
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.svc.RequestPasswordReset(context.Background(), "nobody@x.com")
	assertCode(t, err, apperrors.CodeNotFound)
	assert.Empty(t, h.keysWithPrefix("CHANGEPASSWORDREQUEST#"))
}

func TestEmailChangeFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.active(t, "old@x.com", "longenough1")
	before := h.mailer.count()

	_, token, err := h.svc.RequestEmailChange(ctx, account.ID, "New@X.com")
	require.NoError(t, err)
	assert.Equal(t, "old@x.com", token.OldEmail)
	assert.Equal(t, "new@x.com", token.NewEmail)

	require.Equal(t, before+2, h.mailer.count())
	notice := h.mailer.last()
	assert.Equal(t, "old@x.com", notice.To)
	assert.Equal(t, "emailChangePreviousAddress.txt", notice.TemplateID)
	assert.Equal(t, "new@x.com", notice.Props["newEmail"])

	changed, err := h.svc.ConsumeEmailChange(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", changed.Email)
	assert.True(t, changed.ValidatedEmail)

	_, err = h.accounts.GetByEmail(ctx, "old@x.com")
	assertCode(t, err, apperrors.CodeNotFound)
	byNew, err := h.accounts.GetByEmail(ctx, "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byNew.ID)

	h.setup(t, "old@x.com")
}

func TestRequestEmailChangeToTakenEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.active(t, "a@x.com", "longenough1")
	h.setup(t, "taken@x.com")

	_, _, err := h.svc.RequestEmailChange(ctx, account.ID, "taken@x.com")
	assertCode(t, err, apperrors.CodeConflict)
	assert.Empty(t, h.keysWithPrefix("CHANGEEMAILREQUEST#"))

	_, _, err = h.svc.RequestEmailChange(ctx, account.ID, "a@x.com")
	assertCode(t, err, apperrors.CodeConflict)
}

func TestRequestEmailChangeUnknownAccount(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.svc.RequestEmailChange(context.Background(), "missing", "new@x.com")
	assertCode(t, err, apperrors.CodeNotFound)
}

func TestEmailChangeLosesRaceForAddress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.active(t, "first@x.com", "longenough1")
	second := h.active(t, "second@x.com", "longenough1")

	_, firstToken, err := h.svc.RequestEmailChange(ctx, first.ID, "wanted@x.com")
	require.NoError(t, err)
	_, secondToken, err := h.svc.RequestEmailChange(ctx, second.ID, "wanted@x.com")
	require.NoError(t, err)

	_, err = h.svc.ConsumeEmailChange(ctx, firstToken.ID)
	require.NoError(t, err)

	_, err = h.svc.ConsumeEmailChange(ctx, secondToken.ID)
	assertCode(t, err, apperrors.CodeConflict)

	unchanged, err := h.svc.GetAccount(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "second@x.com", unchanged.Email)
}

func TestEmailChangeAfterAddressMoved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.active(t, "a@x.com", "longenough1")

	_, stale, err := h.svc.RequestEmailChange(ctx, account.ID, "b@x.com")
	require.NoError(t, err)
	_, fresh, err := h.svc.RequestEmailChange(ctx, account.ID, "c@x.com")
	require.NoError(t, err)

	_, err = h.svc.ConsumeEmailChange(ctx, fresh.ID)
	require.NoError(t, err)

	_, err = h.svc.ConsumeEmailChange(ctx, stale.ID)
	assertCode(t, err, apperrors.CodeConflict)

	current, err := h.svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "c@x.com", current.Email)
}

func TestStaleEmailChangeLeavesReclaimedAddressAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.active(t, "a@x.com", "longenough1")

	_, stale, err := h.svc.RequestEmailChange(ctx, first.ID, "b@x.com")
	require.NoError(t, err)
	_, fresh, err := h.svc.RequestEmailChange(ctx, first.ID, "c@x.com")
	require.NoError(t, err)
	_, err = h.svc.ConsumeEmailChange(ctx, fresh.ID)
	require.NoError(t, err)

	second, _ := h.setup(t, "a@x.com")

	_, err = h.svc.ConsumeEmailChange(ctx, stale.ID)
	assertCode(t, err, apperrors.CodeConflict)
	assert.Equal(t, "The email address of this account changed since the request was made.", err.Error())

	owner, err := h.accounts.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, second.ID, owner.ID)

	current, err := h.accounts.GetByEmail(ctx, "c@x.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)
	assert.Equal(t, "c@x.com", current.Email)

	_, err = h.accounts.GetByEmail(ctx, "b@x.com")
	assertCode(t, err, apperrors.CodeNotFound)

	_, _, err = h.svc.SetupAccount(ctx, repository.CreateAccountInput{
		Email:    "a@x.com",
		FullName: "Someone Else",
		Scope:    []domain.Scope{domain.ScopeUser},
	})
	assertCode(t, err, apperrors.CodeConflict)
}

func TestEmailChangeForDeletedAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.active(t, "a@x.com", "longenough1")

	_, token, err := h.svc.RequestEmailChange(ctx, account.ID, "b@x.com")
	require.NoError(t, err)
	require.NoError(t, h.svc.DeleteAccount(ctx, account.ID))

	_, err = h.svc.ConsumeEmailChange(ctx, token.ID)
	assertCode(t, err, apperrors.CodeNotFound)
	_, err = h.accounts.GetByEmail(ctx, "b@x.com")
	assertCode(t, err, apperrors.CodeNotFound)
}

func TestEmailVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account, _ := h.setup(t, "a@x.com")
	assert.False(t, account.ValidatedEmail)

	_, token, err := h.svc.RequestEmailVerification(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, token.IsSelfVerification())
	assert.Equal(t, "a@x.com", h.mailer.last().To)

	confirmed, err := h.svc.ConfirmInitialEmail(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, confirmed.ValidatedEmail)
	assert.Equal(t, "a@x.com", confirmed.Email)
	assert.Equal(t, domain.AccountStatusSetup, confirmed.Status)

	_, err = h.svc.ConfirmInitialEmail(ctx, token.ID)
	assertCode(t, err, apperrors.CodeInvalidToken)
}

func TestConsumeEmailChangeDelegatesSelfVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account, _ := h.setup(t, "a@x.com")

	_, token, err := h.svc.RequestEmailVerification(ctx, account.ID)
	require.NoError(t, err)

	confirmed, err := h.svc.ConsumeEmailChange(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, confirmed.ValidatedEmail)

	byEmail, err := h.accounts.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byEmail.ID)
}

func TestConfirmInitialEmailRejectsChangeTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.active(t, "a@x.com", "longenough1")

	_, token, err := h.svc.RequestEmailChange(ctx, account.ID, "b@x.com")
	require.NoError(t, err)

	_, err = h.svc.ConfirmInitialEmail(ctx, token.ID)
	assertCode(t, err, apperrors.CodeInvalidToken)
	assert.Len(t, h.keysWithPrefix("CHANGEEMAILREQUEST#"), 1)
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.active(t, "a@x.com", "longenough1")

	_, err := h.svc.ChangePassword(ctx, account.ID, "wrong-password", "brand-new-pass")
	assertCode(t, err, apperrors.CodeValidationFailed)
	assert.Equal(t, "password", apperrors.FieldErrors(err)[0].Field)

	_, err = h.svc.ChangePassword(ctx, account.ID, "longenough1", "short")
	assertCode(t, err, apperrors.CodeValidationFailed)
	assert.Equal(t, "newPassword", apperrors.FieldErrors(err)[0].Field)

	_, err = h.svc.ChangePassword(ctx, account.ID, "longenough1", "brand-new-pass")
	require.NoError(t, err)
	_, _, _, err = h.svc.Login(ctx, "a@x.com", "brand-new-pass")
	require.NoError(t, err)
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setup(t, "pending@x.com")
	h.active(t, "a@x.com", "longenough1")

	_, _, _, err := h.svc.Login(ctx, "nobody@x.com", "longenough1")
	assertCode(t, err, apperrors.CodeNotFound)

	_, _, _, err = h.svc.Login(ctx, "pending@x.com", "longenough1")
	assertCode(t, err, apperrors.CodeAccountInactive)

	_, _, _, err = h.svc.Login(ctx, "a@x.com", "not-the-password")
	assertCode(t, err, apperrors.CodeUnauthorized)
	assert.Equal(t, "password", apperrors.FieldErrors(err)[0].Field)
}

func TestUpdateKeepsID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account, _ := h.setup(t, "a@x.com")

	updated, err := h.svc.UpdateAccount(ctx, account.ID, map[string]any{
		"id":       "other",
		"fullName": "Grace Hopper",
		"email":    "ignored@x.com",
		"billing": map[string]any{
			"customer": map[string]any{"id": "cus_1", "secret": "drop-me"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, account.ID, updated.ID)
	assert.Equal(t, "Grace Hopper", updated.FullName)
	assert.Equal(t, "a@x.com", updated.Email)
	assert.Equal(t, map[string]any{"id": "cus_1"}, updated.Billing.Customer)

	_, err = h.svc.GetAccount(ctx, "other")
	assertCode(t, err, apperrors.CodeNotFound)

	_, err = h.svc.UpdateAccount(ctx, "missing", map[string]any{"fullName": "X"})
	assertCode(t, err, apperrors.CodeNotFound)
}

func TestDeleteAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.active(t, "a@x.com", "longenough1")

	require.NoError(t, h.svc.DeleteAccount(ctx, account.ID))
	_, err := h.svc.GetAccount(ctx, account.ID)
	assertCode(t, err, apperrors.CodeNotFound)
	assert.Empty(t, h.keysWithPrefix("EMAIL#"))

	h.setup(t, "a@x.com")
}

func TestDeleteUnknownAccountHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	h.setup(t, "a@x.com")
	keys := h.mr.Keys()

	err := h.svc.DeleteAccount(context.Background(), "0190b7d6-0000-7000-8000-000000000000")
	assertCode(t, err, apperrors.CodeNotFound)
	assert.Equal(t, keys, h.mr.Keys())
}

func TestDeleteKeepsAccountWhenCancellationFails(t *testing.T) {
	h := newHarness(t, withCanceler(failingCanceler{}))
	ctx := context.Background()
	account, _ := h.setup(t, "a@x.com")

	err := h.svc.DeleteAccount(ctx, account.ID)
	assertCode(t, err, apperrors.CodeInternal)

	_, err = h.svc.GetAccount(ctx, account.ID)
	require.NoError(t, err)
}

func TestStoreUnavailableIsTransient(t *testing.T) {
	h := newHarness(t)
	h.mr.Close()

	_, err := h.svc.GetAccount(context.Background(), "0190b7d6-0000-7000-8000-000000000000")
	assertCode(t, err, apperrors.CodeTransient)

	_, _, err = h.svc.SetupAccount(context.Background(), repository.CreateAccountInput{
		Email:    "a@x.com",
		FullName: "A",
		Scope:    []domain.Scope{domain.ScopeUser},
	})
	assertCode(t, err, apperrors.CodeTransient)
}
