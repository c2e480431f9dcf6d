package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/service"
)

type countingSweeper struct {
	calls atomic.Int64
	err   error
}

func (s *countingSweeper) Sweep(context.Context, time.Time) (int64, error) {
	s.calls.Add(1)
	return 3, s.err
}

func TestSweepOnce(t *testing.T) {
	sweeper := &countingSweeper{}
	assert.Equal(t, int64(3), SweepOnce(context.Background(), sweeper, time.Now(), zap.NewNop()))

	sweeper.err = errors.New("db down")
	assert.Equal(t, int64(0), SweepOnce(context.Background(), sweeper, time.Now(), zap.NewNop()))
}

func TestSweepWorkerStopsWithContext(t *testing.T) {
	sweeper := &countingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartSweepWorker(ctx, sweeper, 5*time.Millisecond, zap.NewNop())
		close(done)
	}()

	assert.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep worker did not stop")
	}
}

func TestSweepWorkerDisabled(t *testing.T) {
	StartSweepWorker(context.Background(), nil, time.Millisecond, zap.NewNop())
	StartSweepWorker(context.Background(), &countingSweeper{}, 0, zap.NewNop())
}

func TestStartNotificationWorkerRegistersHandlers(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	StartNotificationWorker(nil, nil)
	StartNotificationWorker(service.NewNotificationService(dispatcher, nil, zap.NewNop(), config.NotificationConfig{}), nil)

	err := dispatcher.Publish(context.Background(), events.Event{Type: events.EventAccountCreated})
	assert.Error(t, err)
}
