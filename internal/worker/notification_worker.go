package worker

import (
	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/service"
)

// StartNotificationWorker subscribes the notification service to the token
// events it turns into emails.
func StartNotificationWorker(notificationService *service.NotificationService, logger *zap.Logger) {
	if notificationService == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	subscribed := notificationService.RegisterHandlers()

	names := make([]string, 0, len(subscribed))
	for _, eventType := range subscribed {
		names = append(names, string(eventType))
	}
	logger.Info("notification worker started", zap.Strings("events", names))
}
