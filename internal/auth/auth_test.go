package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/account-service/internal/domain"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("longenough1")
	require.NoError(t, err)
	assert.NotEqual(t, "longenough1", hash)
	assert.True(t, h.Compare(hash, "longenough1"))
	assert.False(t, h.Compare(hash, "wrong-password"))
	assert.False(t, h.Compare("not-a-hash", "longenough1"))
}

func TestBcryptHasherFallsBackToDefaultCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(99).cost)
}

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	account := &domain.Account{ID: "acc-1", Scope: []domain.Scope{domain.ScopeUser, domain.ScopeAdmin}}

	token, expiresAt, err := tm.GenerateToken(account)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expiresAt, 5*time.Second)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims.AccountID)
	assert.Equal(t, "acc-1", claims.Subject)
	assert.Equal(t, account.Scope, claims.Scope)
}

func TestTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	account := &domain.Account{ID: "acc-1"}

	token, _, err := NewTokenManager("other", 5).GenerateToken(account)
	require.NoError(t, err)
	_, err = NewTokenManager("secret", 5).ParseToken(token)
	require.Error(t, err)

	expired := NewTokenManager("secret", 5)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err = expired.GenerateToken(account)
	require.NoError(t, err)
	_, err = expired.ParseToken(token)
	require.Error(t, err)
}

type fakeLoader map[string]*domain.Account

func (f fakeLoader) Get(_ context.Context, id string) (*domain.Account, error) {
	if account, ok := f[id]; ok {
		return account, nil
	}
	return nil, apperrors.NewNotFound("missing")
}

func newTestApp(tm *TokenManager, loader AccountLoader, guards ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.SendStatus(fe.Code)
			}
			return c.Status(apperrors.ToDomainError(err).HTTPStatus).SendString(apperrors.ToDomainError(err).Code)
		},
	})
	handlers := append([]fiber.Handler{NewAuthMiddleware(tm, loader).Handle}, guards...)
	handlers = append(handlers, func(c *fiber.Ctx) error {
		principal, _ := PrincipalFromContext(c)
		return c.SendString(principal.Account.ID)
	})
	app.Get("/accounts/:id", handlers...)
	return app
}

func bearer(t *testing.T, tm *TokenManager, account *domain.Account) string {
	t.Helper()
	token, _, err := tm.GenerateToken(account)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAuthMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	active := &domain.Account{ID: "acc-1", Status: domain.AccountStatusActive, Scope: []domain.Scope{domain.ScopeUser}}
	pending := &domain.Account{ID: "acc-2", Status: domain.AccountStatusSetup}
	admin := &domain.Account{ID: "acc-3", Status: domain.AccountStatusActive, Scope: []domain.Scope{domain.ScopeAdmin}}
	loader := fakeLoader{"acc-1": active, "acc-2": pending, "acc-3": admin}
	app := newTestApp(tm, loader, RequireSelfOrAdmin("id"))

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"missing header", "/accounts/acc-1", "", http.StatusUnauthorized},
		{"malformed header", "/accounts/acc-1", "Token abc", http.StatusUnauthorized},
		{"garbage token", "/accounts/acc-1", "Bearer abc", http.StatusUnauthorized},
		{"unknown account", "/accounts/acc-9", bearer(t, tm, &domain.Account{ID: "acc-9"}), http.StatusUnauthorized},
		{"inactive account", "/accounts/acc-2", bearer(t, tm, pending), http.StatusForbidden},
		{"own account", "/accounts/acc-1", bearer(t, tm, active), http.StatusOK},
		{"other account", "/accounts/acc-3", bearer(t, tm, active), http.StatusForbidden},
		{"admin on other account", "/accounts/acc-1", bearer(t, tm, admin), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRequireScope(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	user := &domain.Account{ID: "acc-1", Status: domain.AccountStatusActive, Scope: []domain.Scope{domain.ScopeUser}}
	admin := &domain.Account{ID: "acc-3", Status: domain.AccountStatusActive, Scope: []domain.Scope{domain.ScopeAdmin}}
	app := newTestApp(tm, fakeLoader{"acc-1": user, "acc-3": admin}, RequireScope(domain.ScopeAdmin))

	req := httptest.NewRequest(http.MethodGet, "/accounts/acc-1", nil)
	req.Header.Set("Authorization", bearer(t, tm, user))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/accounts/acc-1", nil)
	req.Header.Set("Authorization", bearer(t, tm, admin))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
