package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/store"
)

// StartSweepWorker periodically reclaims records past their expiry grace on
// backends without native expiry. It returns when ctx is done. A nil sweeper
// or a non-positive interval disables it.
func StartSweepWorker(ctx context.Context, sweeper store.Sweeper, interval time.Duration, logger *zap.Logger) {
	if sweeper == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			SweepOnce(ctx, sweeper, now, logger)
		}
	}
}

// SweepOnce runs a single sweep and logs its result.
func SweepOnce(ctx context.Context, sweeper store.Sweeper, now time.Time, logger *zap.Logger) int64 {
	removed, err := sweeper.Sweep(ctx, now)
	if err != nil {
		logger.Warn("sweep failed", zap.Error(err))
		return 0
	}
	if removed > 0 {
		logger.Info("expired records reclaimed", zap.Int64("removed", removed))
	}
	return removed
}
