package repository

import (
	"strings"

	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/store"
)

// Condition tags shared by every transaction built from repository ops.
const (
	TagAccount  store.Tag = "account"
	TagEmail    store.Tag = "email"
	TagOldEmail store.Tag = "old_email"
	TagToken    store.Tag = "token"
)

const (
	accountPrefix     = "ACCOUNT#"
	emailPrefix       = "EMAIL#"
	setupPrefix       = "SETUPACCOUNT#"
	passwordPrefix    = "CHANGEPASSWORDREQUEST#"
	emailChangePrefix = "CHANGEEMAILREQUEST#"
)

// AccountKey addresses an account record.
func AccountKey(id string) store.Key {
	return store.Key(accountPrefix + id)
}

// EmailKey addresses the email index record for a normalized address.
func EmailKey(email string) store.Key {
	return store.Key(emailPrefix + email)
}

// TokenKey addresses a token record of the given kind.
func TokenKey(kind domain.TokenKind, id string) store.Key {
	switch kind {
	case domain.TokenKindSetup:
		return store.Key(setupPrefix + id)
	case domain.TokenKindPasswordReset:
		return store.Key(passwordPrefix + id)
	case domain.TokenKindEmailChange:
		return store.Key(emailChangePrefix + id)
	}
	return ""
}

// NormalizeEmail lower-cases and trims an address before it is indexed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
