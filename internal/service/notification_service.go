package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/events"
)

// Email is a templated message handed to a Mailer.
type Email struct {
	From       string
	To         string
	Subject    string
	TemplateID string
	Props      map[string]string
}

// Mailer delivers templated emails.
type Mailer interface {
	SendEmail(ctx context.Context, email Email) error
}

// LogMailer writes emails to the log instead of delivering them.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer returns a mailer backed by logger.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendEmail logs the email.
func (m *LogMailer) SendEmail(_ context.Context, email Email) error {
	m.logger.Info("sendEmail",
		zap.String("from", email.From),
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
		zap.String("template", email.TemplateID),
		zap.Any("props", email.Props))
	return nil
}

// NotificationService turns lifecycle events into emails.
type NotificationService struct {
	dispatcher events.Dispatcher
	mailer     Mailer
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, mailer Mailer, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		mailer:     mailer,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to the token events and returns their types.
func (n *NotificationService) RegisterHandlers() []events.EventType {
	if n.dispatcher == nil {
		return nil
	}
	handlers := []struct {
		eventType events.EventType
		handle    events.EventHandler
	}{
		{events.EventAccountCreated, n.handleAccountCreated},
		{events.EventPasswordResetRequested, n.handlePasswordResetRequested},
		{events.EventEmailChangeRequested, n.handleEmailChangeRequested},
		{events.EventEmailVerificationRequested, n.handleEmailChangeRequested},
	}

	subscribed := make([]events.EventType, 0, len(handlers))
	for _, h := range handlers {
		n.dispatcher.Subscribe(h.eventType, h.handle)
		subscribed = append(subscribed, h.eventType)
	}
	return subscribed
}

func (n *NotificationService) handleAccountCreated(ctx context.Context, event events.Event) error {
	payload, err := tokenPayload(event)
	if err != nil {
		return err
	}
	n.logger.Info("AccountCreated", zap.String("account_id", event.AccountID))
	return n.send(ctx, Email{
		To:         payload.Account.Email,
		Subject:    "Welcome to Baseline",
		TemplateID: "activateAccount.txt",
		Props: map[string]string{
			"greeting":    greeting(payload.Account.FullName),
			"activateUrl": n.link("/account/activate/", payload.Token.ID),
		},
	})
}

func (n *NotificationService) handlePasswordResetRequested(ctx context.Context, event events.Event) error {
	payload, err := tokenPayload(event)
	if err != nil {
		return err
	}
	n.logger.Info("PasswordResetRequested", zap.String("account_id", event.AccountID))
	return n.send(ctx, Email{
		To:         payload.Account.Email,
		Subject:    "Reset your Baseline password",
		TemplateID: "passwordReset.txt",
		Props: map[string]string{
			"greeting": greeting(payload.Account.FullName),
			"resetUrl": n.link("/account/password/reset/", payload.Token.ID),
		},
	})
}

// handleEmailChangeRequested sends the confirmation link to the new address
// and, when the address actually changes, a notice to the old one.
func (n *NotificationService) handleEmailChangeRequested(ctx context.Context, event events.Event) error {
	payload, err := tokenPayload(event)
	if err != nil {
		return err
	}
	n.logger.Info("EmailChangeRequested",
		zap.String("account_id", event.AccountID),
		zap.Bool("self_verification", payload.Token.IsSelfVerification()))

	name := greeting(payload.Account.FullName)
	confirm := Email{
		To:         payload.Token.NewEmail,
		Subject:    "Confirm your new email address for Baseline",
		TemplateID: "emailChange.txt",
		Props: map[string]string{
			"greeting": name,
			"resetUrl": n.link("/account/email/confirm/", payload.Token.ID),
		},
	}
	if payload.Token.IsSelfVerification() {
		confirm.Subject = "Confirm your email address for Baseline"
		return n.send(ctx, confirm)
	}
	if err := n.send(ctx, confirm); err != nil {
		return err
	}
	return n.send(ctx, Email{
		To:         payload.Token.OldEmail,
		Subject:    "You requested to change your Baseline email",
		TemplateID: "emailChangePreviousAddress.txt",
		Props: map[string]string{
			"greeting": name,
			"newEmail": payload.Token.NewEmail,
		},
	})
}

func (n *NotificationService) send(ctx context.Context, email Email) error {
	if n.mailer == nil || strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return nil
	}
	email.From = n.cfg.EmailFrom
	if err := n.mailer.SendEmail(ctx, email); err != nil {
		n.logger.Warn("sendEmail failed",
			zap.String("template", email.TemplateID),
			zap.Error(err))
		return err
	}
	return nil
}

func (n *NotificationService) link(path, token string) string {
	return strings.TrimRight(n.cfg.BaseURL, "/") + path + token
}

func tokenPayload(event events.Event) (*events.TokenIssuedPayload, error) {
	payload, ok := event.Payload.(*events.TokenIssuedPayload)
	if !ok || payload == nil || payload.Account == nil || payload.Token == nil {
		return nil, fmt.Errorf("event %s: %w", event.Type, errMalformedPayload)
	}
	return payload, nil
}

var errMalformedPayload = errors.New("malformed payload")

// greeting addresses the account holder by first name.
func greeting(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return "Hi there,"
	}
	return "Hi " + fields[0] + ","
}
