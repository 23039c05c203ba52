package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/luissimon96/migration-validator/pkg/config"
	"github.com/luissimon96/migration-validator/pkg/metrics"
	"github.com/luissimon96/migration-validator/pkg/models"
	"github.com/luissimon96/migration-validator/pkg/services"
	"github.com/luissimon96/migration-validator/pkg/session"
)

// Scheduler performs admission control: it creates sessions, enforces the
// global and per-tenant caps, and applies queue-depth backpressure with
// hysteresis (refuse above refuse_depth_factor × pool, resume below
// resume_depth_factor × pool).
type Scheduler struct {
	cfg      *config.SchedulerConfig
	sessions *services.SessionService
	manager  *session.Manager

	// admissionClosed is set when the queue depth crosses the refuse
	// threshold and cleared when it drops below the resume threshold.
	admissionClosed atomic.Bool
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg *config.SchedulerConfig, sessions *services.SessionService, manager *session.Manager) *Scheduler {
	return &Scheduler{cfg: cfg, sessions: sessions, manager: manager}
}

// Admit validates caps, creates the session in pending, and promotes it to
// queued. Returns ErrOverloaded when admission is refused; the session is
// not created in that case.
func (s *Scheduler) Admit(ctx context.Context, sess *models.Session) error {
	depth, err := s.sessions.CountByStatus(ctx, models.StatusQueued)
	if err != nil {
		return fmt.Errorf("checking queue depth: %w", err)
	}
	metrics.SetQueueDepth(depth)

	if !s.admissionAllowed(depth) {
		return ErrOverloaded
	}

	active, err := s.sessions.CountByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("checking active sessions: %w", err)
	}
	if active+depth >= s.cfg.MaxConcurrentSessions+s.cfg.RefuseDepthFactor*s.cfg.WorkerCount {
		return ErrOverloaded
	}

	if sess.Tenant != "" && s.cfg.MaxPerTenant > 0 {
		tenantActive, err := s.sessions.CountActiveForTenant(ctx, sess.Tenant)
		if err != nil {
			return fmt.Errorf("checking tenant sessions: %w", err)
		}
		if tenantActive >= s.cfg.MaxPerTenant {
			return ErrOverloaded
		}
	}

	sess.Status = models.StatusPending
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return err
	}

	if err := s.manager.Transition(ctx, sess, models.StatusQueued, ""); err != nil {
		return fmt.Errorf("enqueueing session: %w", err)
	}
	slog.Info("Session admitted",
		"request_id", sess.RequestID, "scope", sess.Scope, "band", sess.Band)
	return nil
}

// admissionAllowed applies the hysteresis thresholds to the observed
// queue depth.
func (s *Scheduler) admissionAllowed(depth int) bool {
	refuseAt := s.cfg.RefuseDepthFactor * s.cfg.WorkerCount
	resumeAt := s.cfg.ResumeDepthFactor * s.cfg.WorkerCount

	if depth >= refuseAt {
		if s.admissionClosed.CompareAndSwap(false, true) {
			slog.Warn("Queue backpressure engaged", "depth", depth, "refuse_at", refuseAt)
		}
		return false
	}
	if s.admissionClosed.Load() {
		if depth >= resumeAt {
			return false
		}
		if s.admissionClosed.CompareAndSwap(true, false) {
			slog.Info("Queue backpressure released", "depth", depth, "resume_at", resumeAt)
		}
	}
	return true
}

// Cancel requests cooperative cancellation of a session. Queued sessions
// transition directly; processing sessions are signalled through the pool.
func (s *Scheduler) Cancel(ctx context.Context, sess *models.Session, pool *WorkerPool) error {
	switch sess.Status {
	case models.StatusQueued, models.StatusPending:
		return s.manager.Transition(ctx, sess, models.StatusCancelled, "cancelled by client")
	case models.StatusProcessing:
		if pool != nil && pool.CancelSession(sess.ID, models.StatusCancelled) {
			return nil
		}
		// Not running on this replica; fall back to a direct transition
		// that the owning worker will observe as a CAS conflict.
		return s.manager.Transition(ctx, sess, models.StatusCancelled, "cancelled by client")
	default:
		return services.ErrNotCancellable
	}
}
