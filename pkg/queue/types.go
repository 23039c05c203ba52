// Package queue implements admission control, the DB-backed FIFO queue
// with priority bands, and the worker pool that drives sessions through
// the validation pipeline.
package queue

import (
	"context"
	"errors"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// Sentinel errors used by the worker poll loop.
var (
	ErrNoSessionsAvailable = errors.New("no sessions available")
	ErrAtCapacity          = errors.New("at max concurrent sessions")
	// ErrOverloaded is returned by admission when the queue refuses new
	// sessions.
	ErrOverloaded = errors.New("overloaded")
)

// ExecutionResult is what a session executor returns to the worker.
type ExecutionResult struct {
	Status models.Status
	Error  error
}

// SessionExecutor runs the validation pipeline for one claimed session.
// Implementations must honor ctx cancellation and deadlines cooperatively.
type SessionExecutor interface {
	Execute(ctx context.Context, sess *models.Session) *ExecutionResult
}

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CurrentSessionID  string `json:"current_session_id,omitempty"`
	SessionsProcessed int    `json:"sessions_processed"`
}

// PoolHealth is the pool's health snapshot for the health endpoint.
type PoolHealth struct {
	IsHealthy      bool           `json:"is_healthy"`
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	QueueDepth     int            `json:"queue_depth"`
	ActiveSessions int            `json:"active_sessions"`
	MaxConcurrent  int            `json:"max_concurrent"`
	AdmissionOpen  bool           `json:"admission_open"`
	WorkerStats    []WorkerHealth `json:"workers,omitempty"`
}
