package dto

import (
	"time"

	"github.com/spec-kit/account-service/internal/domain"
)

// SetupAccountRequest payload for new accounts.
type SetupAccountRequest struct {
	Email    string         `json:"email"`
	FullName string         `json:"fullName"`
	Billing  map[string]any `json:"billing,omitempty"`
}

// ActivateAccountRequest payload for consuming a setup token.
type ActivateAccountRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordResetRequest payload for initiating reset.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirmRequest payload for confirming reset.
type PasswordResetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// PasswordChangeRequest payload for authenticated password changes.
type PasswordChangeRequest struct {
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

// EmailChangeRequest payload for requesting a new address.
type EmailChangeRequest struct {
	Email string `json:"email"`
}

// EmailConfirmRequest payload for consuming an email change token.
type EmailConfirmRequest struct {
	Token string `json:"token"`
}

// BillingResponse mirrors the stored billing objects.
type BillingResponse struct {
	Customer     map[string]any `json:"customer"`
	Subscription map[string]any `json:"subscription"`
}

// AccountResponse is the public view of an account. It never carries the
// password hash.
type AccountResponse struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	FullName       string          `json:"fullName"`
	Scope          []domain.Scope  `json:"scope"`
	Status         string          `json:"status"`
	ValidatedEmail bool            `json:"validatedEmail"`
	Billing        BillingResponse `json:"billing"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// NewAccountResponse maps a domain account.
func NewAccountResponse(a *domain.Account) AccountResponse {
	scope := a.Scope
	if scope == nil {
		scope = []domain.Scope{}
	}
	return AccountResponse{
		ID:             a.ID,
		Email:          a.Email,
		FullName:       a.FullName,
		Scope:          scope,
		Status:         string(a.Status),
		ValidatedEmail: a.ValidatedEmail,
		Billing: BillingResponse{
			Customer:     a.Billing.Customer,
			Subscription: a.Billing.Subscription,
		},
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
