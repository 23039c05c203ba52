package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes sessions.
type Worker struct {
	id       string
	pool     *WorkerPool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu                sync.RWMutex
	status            WorkerStatus
	currentSessionID  string
	sessionsProcessed int
}

// NewWorker creates a queue worker owned by the pool.
func NewWorker(id string, pool *WorkerPool) *Worker {
	return &Worker{
		id:     id,
		pool:   pool,
		stopCh: make(chan struct{}),
		status: WorkerStatusIdle,
	}
}

// Start begins the polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker and waits for it to finish its current session.
// Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the worker's health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            string(w.status),
		CurrentSessionID:  w.currentSessionID,
		SessionsProcessed: w.sessionsProcessed,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoSessionsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing session", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a session, and runs it through
// the pipeline. Exactly one worker moves a session from queued to
// processing: the claim is an atomic row lock.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	active, err := w.pool.sessions.CountByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return err
	}
	if active >= w.pool.cfg.MaxConcurrentSessions {
		return ErrAtCapacity
	}

	sess, err := w.pool.sessions.ClaimNextQueued(ctx, w.id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNoSessionsAvailable
	}

	log := slog.With("session_id", sess.ID, "worker_id", w.id)
	log.Info("Session claimed", "request_id", sess.RequestID, "scope", sess.Scope)

	// The claim already performed the queued → processing write; announce
	// it to subscribers.
	w.pool.manager.Log(ctx, sess.ID, models.LogInfo, "processing started", map[string]any{
		"worker_id": w.id,
	})

	w.setStatus(WorkerStatusWorking, sess.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	sessionCtx, cancelSession := context.WithTimeout(ctx, w.pool.cfg.SessionDeadline)
	defer cancelSession()

	w.pool.registerSession(sess, cancelSession)
	defer w.pool.unregisterSession(sess.ID)

	// Deadline watchdog: if the executor wedges past the deadline plus the
	// grace window, the session is force-marked timed out.
	watchdog := time.AfterFunc(w.pool.cfg.SessionDeadline+w.pool.cfg.CancelGrace, func() {
		w.pool.forceTerminal(sess, models.StatusTimedOut)
	})
	defer watchdog.Stop()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(sessionCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, sess.ID)

	result := w.pool.executor.Execute(sessionCtx, sess)

	// Synthesize a safe result when the executor returned nil or left the
	// status unset after a context-driven stop.
	if result == nil {
		result = &ExecutionResult{}
	}
	if result.Status == "" {
		switch {
		case errors.Is(sessionCtx.Err(), context.DeadlineExceeded):
			result = &ExecutionResult{Status: models.StatusTimedOut, Error: sessionCtx.Err()}
		case errors.Is(sessionCtx.Err(), context.Canceled):
			result = &ExecutionResult{Status: models.StatusCancelled, Error: sessionCtx.Err()}
		default:
			result = &ExecutionResult{Status: models.StatusFailed, Error: errors.New("executor returned no status")}
		}
	}

	cancelHeartbeat()

	// Terminal transition uses a fresh context: the session context may
	// already be cancelled.
	errMsg := ""
	if result.Error != nil {
		errMsg = result.Error.Error()
	}
	termCtx, cancelTerm := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelTerm()
	if err := w.pool.manager.Transition(termCtx, sess, result.Status, errMsg); err != nil {
		log.Error("Failed to record terminal status", "status", result.Status, "error", err)
		return err
	}
	w.pool.manager.Forget(sess.ID)

	w.mu.Lock()
	w.sessionsProcessed++
	w.mu.Unlock()

	log.Info("Session processing complete", "status", result.Status)
	return nil
}

// runHeartbeat refreshes last_heartbeat_at for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(w.pool.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.pool.sessions.Heartbeat(ctx, sessionID); err != nil {
				slog.Warn("Heartbeat update failed", "session_id", sessionID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter so workers spread
// their claims.
func (w *Worker) pollInterval() time.Duration {
	base := w.pool.cfg.PollInterval
	jitter := w.pool.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentSessionID = sessionID
}
