package events

import (
	"time"

	"github.com/spec-kit/account-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventAccountCreated             EventType = "account.created"
	EventPasswordResetRequested     EventType = "password_reset.requested"
	EventEmailChangeRequested       EventType = "email_change.requested"
	EventEmailVerificationRequested EventType = "email_verification.requested"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	AccountID string      `json:"account_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TokenIssuedPayload carries a freshly minted token and the account it was
// minted for. It is the payload of every event type.
type TokenIssuedPayload struct {
	Account *domain.Account `json:"account"`
	Token   *domain.Token   `json:"token"`
}
