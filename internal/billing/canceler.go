package billing

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/domain"
)

// Canceler cancels the billing subscription owned by an account.
type Canceler interface {
	CancelSubscription(ctx context.Context, account *domain.Account) error
}

// LogCanceler records cancellations without calling a billing provider.
type LogCanceler struct {
	logger *zap.Logger
}

// NewLogCanceler creates the canceler.
func NewLogCanceler(logger *zap.Logger) *LogCanceler {
	return &LogCanceler{logger: logger}
}

// CancelSubscription logs the subscription that would be canceled.
func (c *LogCanceler) CancelSubscription(_ context.Context, account *domain.Account) error {
	subscriptionID, _ := account.Billing.Subscription["id"].(string)
	if subscriptionID == "" {
		c.logger.Debug("no subscription to cancel", zap.String("account_id", account.ID))
		return nil
	}
	c.logger.Info("subscription canceled",
		zap.String("account_id", account.ID),
		zap.String("subscription_id", subscriptionID))
	return nil
}
