// Package models contains the domain types shared across the validation engine.
package models

import (
	"time"
)

// Status is the session lifecycle state.
type Status string

// Session statuses. Terminal statuses are monotonic: once reached, a session
// never transitions again.
const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusTimedOut   Status = "timed_out"
)

// IsTerminal reports whether the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Scope selects which validation axes a session exercises.
type Scope string

// Validation scopes.
const (
	ScopeUI            Scope = "ui"
	ScopeBackendLogic  Scope = "backend_logic"
	ScopeDataStructure Scope = "data_structure"
	ScopeAPI           Scope = "api"
	ScopeBusinessRules Scope = "business_rules"
	ScopeBehavioral    Scope = "behavioral"
	ScopeFull          Scope = "full"
)

// Valid reports whether the scope is a known value.
func (s Scope) Valid() bool {
	switch s {
	case ScopeUI, ScopeBackendLogic, ScopeDataStructure, ScopeAPI,
		ScopeBusinessRules, ScopeBehavioral, ScopeFull:
		return true
	}
	return false
}

// RequiresBehavioral reports whether the scope needs URLs and scenarios.
func (s Scope) RequiresBehavioral() bool {
	return s == ScopeBehavioral || s == ScopeFull
}

// PriorityBand orders sessions in the queue. Interactive drains strictly
// before batch.
type PriorityBand string

// Priority bands.
const (
	BandInteractive PriorityBand = "interactive"
	BandBatch       PriorityBand = "batch"
)

// TechnologyContext identifies one side's technology.
type TechnologyContext struct {
	Name      string            `json:"name" db:"name"`
	Version   string            `json:"version,omitempty" db:"version"`
	Framework map[string]string `json:"framework,omitempty"`
}

// Session is the aggregate root for one validation run. The worker that owns
// the session is its sole mutator until a terminal state is reached.
type Session struct {
	ID          string       `json:"-" db:"id"`
	RequestID   string       `json:"request_id" db:"request_id"`
	Tenant      string       `json:"tenant,omitempty" db:"tenant"`
	Status      Status       `json:"status" db:"status"`
	Band        PriorityBand `json:"priority_band" db:"priority_band"`
	SourceTech  TechnologyContext `json:"source_technology"`
	TargetTech  TechnologyContext `json:"target_technology"`
	Scope       Scope             `json:"scope" db:"scope"`
	Source      *InputBundle      `json:"source_bundle,omitempty"`
	Target      *InputBundle      `json:"target_bundle,omitempty"`
	Behavioral  *BehavioralConfig `json:"behavioral,omitempty"`
	Error       string            `json:"error,omitempty" db:"error_message"`
	Version     int               `json:"-" db:"version"`
	WorkerID    string            `json:"-" db:"worker_id"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedBy   string            `json:"deleted_by,omitempty" db:"deleted_by"`
	HeartbeatAt *time.Time        `json:"-" db:"last_heartbeat_at"`
}

// ArtifactKind distinguishes input bundle entries.
type ArtifactKind string

// Artifact kinds.
const (
	ArtifactCode       ArtifactKind = "code"
	ArtifactScreenshot ArtifactKind = "screenshot"
)

// Artifact is one file in an input bundle.
type Artifact struct {
	Kind        ArtifactKind `json:"kind"`
	Path        string       `json:"path"`
	Language    string       `json:"language,omitempty"`
	ContentHash string       `json:"content_hash"`
	Content     []byte       `json:"-"`
	SizeBytes   int64        `json:"size_bytes"`
}

// InputBundle holds the artifacts for one side of the migration.
type InputBundle struct {
	Artifacts []Artifact `json:"artifacts,omitempty"`
	URL       string     `json:"url,omitempty"`
}

// TotalBytes sums the artifact sizes.
func (b *InputBundle) TotalBytes() int64 {
	var total int64
	for _, a := range b.Artifacts {
		total += a.SizeBytes
	}
	return total
}

// Scenario describes one behavioral probe sequence.
type Scenario struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Credentials are used by the behavioral prober to log into the probed
// application. They are held in memory only: never persisted, never logged.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Redacted returns a loggable placeholder.
func (c *Credentials) Redacted() string {
	if c == nil {
		return ""
	}
	return "[REDACTED]"
}

// BehavioralConfig holds scenario descriptors and URLs for behavioral probing.
type BehavioralConfig struct {
	SourceURL   string        `json:"source_url"`
	TargetURL   string        `json:"target_url"`
	Scenarios   []Scenario    `json:"scenarios"`
	Credentials *Credentials  `json:"-"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// LogLevel is the severity of a session log entry.
type LogLevel string

// Log levels.
const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one append-only session log record.
type LogEntry struct {
	ID        int64          `json:"id" db:"id"`
	SessionID string         `json:"session_id" db:"session_id"`
	Timestamp time.Time      `json:"ts" db:"ts"`
	Level     LogLevel       `json:"level" db:"level"`
	Message   string         `json:"message" db:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
}
