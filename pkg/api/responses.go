package api

import (
	"github.com/luissimon96/migration-validator/pkg/database"
	"github.com/luissimon96/migration-validator/pkg/models"
	"github.com/luissimon96/migration-validator/pkg/queue"
)

// AcceptedResponse acknowledges an async submission.
type AcceptedResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// StatusResponse reports a session's progress.
type StatusResponse struct {
	RequestID       string  `json:"request_id"`
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	ResultAvailable bool    `json:"result_available"`
	Error           string  `json:"error,omitempty"`
}

// progressFor maps a status onto a coarse progress fraction.
func progressFor(status models.Status) float64 {
	switch status {
	case models.StatusPending:
		return 0.0
	case models.StatusQueued:
		return 0.1
	case models.StatusProcessing:
		return 0.5
	default:
		return 1.0
	}
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Subsystems HealthSubsystems       `json:"subsystems"`
	Pool       *queue.PoolHealth      `json:"worker_pool,omitempty"`
	Database   *database.HealthStatus `json:"-"`
}

// HealthSubsystems summarizes dependency health.
type HealthSubsystems struct {
	Database     string `json:"database"`
	WorkerPool   string `json:"worker_pool"`
	Cache        string `json:"cache"`
	ActiveTopics int    `json:"progress_topics"`
	Providers    int    `json:"llm_providers"`
}

// TechnologiesResponse enumerates the supported catalogs.
type TechnologiesResponse struct {
	Technologies []TechnologyEntry `json:"technologies"`
	Scopes       []string          `json:"scopes"`
}

// TechnologyEntry is one catalog row.
type TechnologyEntry struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Languages  []string `json:"languages,omitempty"`
	Frameworks []string `json:"frameworks,omitempty"`
}
