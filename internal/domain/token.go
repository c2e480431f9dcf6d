package domain

import "time"

// TokenKind differentiates the one-time tokens gating lifecycle transitions.
type TokenKind string

const (
	TokenKindSetup         TokenKind = "setup"
	TokenKindPasswordReset TokenKind = "password_reset"
	TokenKindEmailChange   TokenKind = "email_change"
)

// Token is a single-use, time-bounded credential bound to an account.
// OldEmail and NewEmail are only set for email change tokens.
type Token struct {
	ID        string
	Kind      TokenKind
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
	OldEmail  string
	NewEmail  string
}

// ExpiredAt reports whether the token can no longer be consumed at now.
func (t *Token) ExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// IsSelfVerification reports whether an email change token confirms the
// current address instead of moving to a new one.
func (t *Token) IsSelfVerification() bool {
	return t.Kind == TokenKindEmailChange && t.OldEmail == t.NewEmail
}
