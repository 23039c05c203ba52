package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/luissimon96/migration-validator/pkg/config"
	"github.com/luissimon96/migration-validator/pkg/models"
)

func testPool() *WorkerPool {
	cfg := config.DefaultSchedulerConfig()
	cfg.CancelGrace = time.Hour // watchdog must not fire during tests
	return &WorkerPool{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		active: make(map[string]*activeSession),
	}
}

func TestPoolRegisterAndCancelSession(t *testing.T) {
	pool := testPool()

	ctx, cancel := context.WithCancel(context.Background())
	sess := &models.Session{ID: "session-1", Status: models.StatusProcessing}
	pool.registerSession(sess, cancel)

	assert.True(t, pool.CancelSession("session-1", models.StatusCancelled))
	assert.Error(t, ctx.Err(), "cancel must propagate to the session context")

	assert.False(t, pool.CancelSession("unknown", models.StatusCancelled))
}

func TestPoolUnregisterSession(t *testing.T) {
	pool := testPool()

	_, cancel := context.WithCancel(context.Background())
	sess := &models.Session{ID: "session-1"}
	pool.registerSession(sess, cancel)
	assert.True(t, pool.CancelSession("session-1", models.StatusCancelled))

	pool.unregisterSession("session-1")
	assert.False(t, pool.CancelSession("session-1", models.StatusCancelled))
}

func TestPoolStopTwiceDoesNotPanic(t *testing.T) {
	pool := testPool()
	pool.Stop()
	assert.NotPanics(t, pool.Stop)
}

func TestWorkerPollIntervalJitterBounds(t *testing.T) {
	pool := testPool()
	pool.cfg.PollInterval = time.Second
	pool.cfg.PollIntervalJitter = 200 * time.Millisecond
	w := NewWorker("w", pool)

	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestWorkerHealthTracking(t *testing.T) {
	w := NewWorker("w-1", testPool())
	assert.Equal(t, string(WorkerStatusIdle), w.Health().Status)

	w.setStatus(WorkerStatusWorking, "s-9")
	h := w.Health()
	assert.Equal(t, string(WorkerStatusWorking), h.Status)
	assert.Equal(t, "s-9", h.CurrentSessionID)
}
