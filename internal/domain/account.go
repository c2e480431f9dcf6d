package domain

import "time"

// AccountStatus represents lifecycle states for an account.
type AccountStatus string

const (
	AccountStatusSetup  AccountStatus = "setup"
	AccountStatusActive AccountStatus = "active"
)

// Scope is a role tag granted to an account.
type Scope string

const (
	ScopeUser  Scope = "user"
	ScopeAdmin Scope = "admin"
)

// Billing carries the opaque billing provider objects attached to an account.
type Billing struct {
	Customer     map[string]any
	Subscription map[string]any
}

// Account is the identity record. The password hash never leaves the
// repository; HasPassword reports whether one is set.
type Account struct {
	ID             string
	Email          string
	FullName       string
	HasPassword    bool
	Scope          []Scope
	Status         AccountStatus
	ValidatedEmail bool
	Billing        Billing
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsActive reports whether the account completed setup.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// HasScope reports whether the account holds the given scope.
func (a *Account) HasScope(scope Scope) bool {
	for _, s := range a.Scope {
		if s == scope {
			return true
		}
	}
	return false
}
