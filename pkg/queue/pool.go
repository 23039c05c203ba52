package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/luissimon96/migration-validator/pkg/config"
	"github.com/luissimon96/migration-validator/pkg/metrics"
	"github.com/luissimon96/migration-validator/pkg/models"
	"github.com/luissimon96/migration-validator/pkg/services"
	"github.com/luissimon96/migration-validator/pkg/session"
)

// WorkerPool manages the fixed-size pool of queue workers.
type WorkerPool struct {
	nodeID   string
	cfg      *config.SchedulerConfig
	sessions *services.SessionService
	manager  *session.Manager
	executor SessionExecutor

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Active session registry: session_id → cancellation handle.
	mu      sync.RWMutex
	active  map[string]*activeSession
	started bool
}

// activeSession tracks a processing session owned by this pool.
type activeSession struct {
	sess   *models.Session
	cancel context.CancelFunc
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(nodeID string, cfg *config.SchedulerConfig, sessions *services.SessionService, manager *session.Manager, executor SessionExecutor) *WorkerPool {
	return &WorkerPool{
		nodeID:   nodeID,
		cfg:      cfg,
		sessions: sessions,
		manager:  manager,
		executor: executor,
		workers:  make([]*Worker, 0, cfg.WorkerCount),
		stopCh:   make(chan struct{}),
		active:   make(map[string]*activeSession),
	}
}

// Start recovers interrupted sessions, then spawns the workers and the
// orphan-detection loop. Safe to call once; duplicates are ignored.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "node_id", p.nodeID)
		return nil
	}
	p.started = true

	// Crash recovery: sessions left in processing by a dead replica are
	// failed; queued sessions are picked up by the poll loop as usual.
	recovered, err := p.sessions.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	if recovered > 0 {
		slog.Info("Recovered interrupted sessions", "count", recovered)
	}

	slog.Info("Starting worker pool", "node_id", p.nodeID, "worker_count", p.cfg.WorkerCount)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("%s-worker-%d", p.nodeID, i), p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()
	return nil
}

// Stop signals all workers and waits for them to finish their current
// sessions.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")
	for _, worker := range p.workers {
		worker.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("Worker pool stopped")
}

// registerSession stores the cancellation handle for a processing session.
func (p *WorkerPool) registerSession(sess *models.Session, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[sess.ID] = &activeSession{sess: sess, cancel: cancel}
	metrics.SetActiveWorkers(len(p.active))
}

// unregisterSession removes the handle when processing ends.
func (p *WorkerPool) unregisterSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, sessionID)
	metrics.SetActiveWorkers(len(p.active))
}

// CancelSession signals the owning worker and arms the grace-window
// watchdog: if the worker has not reached a terminal state within the
// grace period it is considered wedged and the session is force-marked
// with the given cause. Returns false when the session is not active on
// this replica.
func (p *WorkerPool) CancelSession(sessionID string, cause models.Status) bool {
	p.mu.RLock()
	entry, ok := p.active[sessionID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	entry.cancel()

	time.AfterFunc(p.cfg.CancelGrace, func() {
		p.forceTerminal(entry.sess, cause)
	})
	return true
}

// forceTerminal marks a wedged session terminal. The transition is
// idempotent, so a worker that finished normally in the meantime makes
// this a no-op.
func (p *WorkerPool) forceTerminal(sess *models.Session, cause models.Status) {
	p.mu.RLock()
	_, stillActive := p.active[sess.ID]
	p.mu.RUnlock()
	if !stillActive {
		return
	}

	slog.Warn("Worker did not acknowledge cancellation within grace window, forcing terminal state",
		"session_id", sess.ID, "cause", cause)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.manager.Transition(ctx, sess, cause, "grace window expired"); err != nil {
		slog.Error("Failed to force terminal state", "session_id", sess.ID, "error", err)
	}
	p.unregisterSession(sess.ID)
}

// runOrphanDetection periodically fails processing sessions whose
// heartbeat went stale (their worker died without a terminal transition).
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.OrphanScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scanOrphans(ctx)
		}
	}
}

func (p *WorkerPool) scanOrphans(ctx context.Context) {
	orphans, err := p.sessions.FindOrphaned(ctx, p.cfg.OrphanThreshold)
	if err != nil {
		slog.Error("Orphan scan failed", "error", err)
		return
	}
	for _, sess := range orphans {
		// Skip sessions this replica is actively processing.
		p.mu.RLock()
		_, owned := p.active[sess.ID]
		p.mu.RUnlock()
		if owned {
			continue
		}
		slog.Warn("Recovering orphaned session", "session_id", sess.ID)
		if err := p.manager.Transition(ctx, sess, models.StatusFailed, "orphaned: worker heartbeat lost"); err != nil {
			slog.Error("Failed to fail orphaned session", "session_id", sess.ID, "error", err)
		}
	}
}

// Health returns the pool's health snapshot.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	queueDepth, errQ := p.sessions.CountByStatus(ctx, models.StatusQueued)
	activeSessions, errA := p.sessions.CountByStatus(ctx, models.StatusProcessing)

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		workerStats[i] = worker.Health()
		if workerStats[i].Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	return &PoolHealth{
		IsHealthy:      errQ == nil && errA == nil && len(p.workers) > 0,
		ActiveWorkers:  activeWorkers,
		TotalWorkers:   len(p.workers),
		QueueDepth:     queueDepth,
		ActiveSessions: activeSessions,
		MaxConcurrent:  p.cfg.MaxConcurrentSessions,
		AdmissionOpen:  queueDepth < p.cfg.RefuseDepthFactor*p.cfg.WorkerCount,
		WorkerStats:    workerStats,
	}
}
