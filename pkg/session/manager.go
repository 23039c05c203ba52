package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/luissimon96/migration-validator/pkg/metrics"
	"github.com/luissimon96/migration-validator/pkg/models"
	"github.com/luissimon96/migration-validator/pkg/services"
)

// Publisher delivers progress events to subscribers. Implemented by the
// events broker; nil disables streaming.
type Publisher interface {
	PublishStatus(sessionID string, status models.Status)
	PublishLog(entry models.LogEntry)
}

// Manager serializes state transitions per session and keeps persistence
// write-through: every transition is flushed to the store before the event
// is acknowledged, and the log entry + progress event are emitted under the
// same critical section so subscribers observe them in order.
type Manager struct {
	sessions  *services.SessionService
	logs      *services.LogService
	publisher Publisher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a session manager. publisher may be nil.
func NewManager(sessions *services.SessionService, logs *services.LogService, publisher Publisher) *Manager {
	return &Manager{
		sessions:  sessions,
		logs:      logs,
		publisher: publisher,
		locks:     make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the per-session mutex, creating it on first use.
func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// Forget drops the per-session lock once the session is terminal.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, sessionID)
}

// Transition moves the session to the new status. It is idempotent on the
// receiving side (re-applying the current status is a no-op), enforces the
// legal-transition table and terminal monotonicity, and retries once on an
// optimistic-concurrency conflict after re-reading.
func (m *Manager) Transition(ctx context.Context, sess *models.Session, to models.Status, errorMessage string) error {
	lock := m.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if sess.Status == to {
			return nil
		}
		if sess.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is terminal", services.ErrIllegalState, sess.Status)
		}
		if !CanTransition(sess.Status, to) {
			return fmt.Errorf("%w: %s -> %s", services.ErrIllegalState, sess.Status, to)
		}

		err := m.sessions.UpdateStatusCAS(ctx, sess.ID, sess.Version, to, errorMessage)
		if err == nil {
			sess.Status = to
			sess.Version++
			sess.UpdatedAt = time.Now()
			if errorMessage != "" {
				sess.Error = errorMessage
			}
			m.emitTransition(ctx, sess, to, errorMessage)
			if to.IsTerminal() {
				metrics.SessionFinished(string(to))
			}
			return nil
		}
		if !errors.Is(err, services.ErrStaleVersion) {
			return err
		}

		// Lost the optimistic race: re-read and re-evaluate.
		fresh, getErr := m.sessions.GetByRequestID(ctx, sess.RequestID)
		if getErr != nil {
			return getErr
		}
		sess.Status = fresh.Status
		sess.Version = fresh.Version
	}
	return services.ErrStaleVersion
}

// emitTransition writes the status log entry and publishes the progress
// event. Ordering with respect to other appends is guaranteed by the
// per-session lock held by the caller.
func (m *Manager) emitTransition(ctx context.Context, sess *models.Session, to models.Status, errorMessage string) {
	entry := models.LogEntry{
		SessionID: sess.ID,
		Timestamp: time.Now(),
		Level:     models.LogInfo,
		Message:   "session status changed",
		Payload:   map[string]any{"status": string(to)},
	}
	if errorMessage != "" {
		entry.Level = models.LogError
		entry.Payload["error"] = errorMessage
	}
	if id, err := m.logs.Append(ctx, &entry); err != nil {
		slog.Warn("Failed to persist status log entry",
			"session_id", sess.ID, "error", err)
	} else {
		entry.ID = id
	}
	if m.publisher != nil {
		m.publisher.PublishStatus(sess.ID, to)
		m.publisher.PublishLog(entry)
	}
}

// Log appends a session log entry, persists it asynchronously-safe (the
// write happens before publish), and streams it to subscribers.
func (m *Manager) Log(ctx context.Context, sessionID string, level models.LogLevel, message string, payload map[string]any) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	entry := models.LogEntry{
		SessionID: sessionID,
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Payload:   payload,
	}
	if id, err := m.logs.Append(ctx, &entry); err != nil {
		slog.Warn("Failed to persist log entry",
			"session_id", sessionID, "error", err)
	} else {
		entry.ID = id
	}
	if m.publisher != nil {
		m.publisher.PublishLog(entry)
	}
}
