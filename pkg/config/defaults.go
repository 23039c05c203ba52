package config

import "time"

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	JWTSecret    string `yaml:"-"`
	AuthRequired bool   `yaml:"auth_required"`
	// RateLimitPerMinute bounds requests per client on mutating endpoints.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// SchedulerConfig controls admission, queueing, and the worker pool.
type SchedulerConfig struct {
	// WorkerCount is the number of worker goroutines in this process.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentSessions is the global cap of sessions in processing.
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`

	// MaxPerTenant caps concurrent non-terminal sessions per tenant.
	MaxPerTenant int `yaml:"max_per_tenant"`

	// Backpressure: admission refuses above RefuseDepthFactor×pool and
	// resumes below ResumeDepthFactor×pool.
	RefuseDepthFactor int `yaml:"refuse_depth_factor"`
	ResumeDepthFactor int `yaml:"resume_depth_factor"`

	// PollInterval is the base interval for checking queued sessions;
	// jitter spreads workers apart.
	PollInterval       time.Duration `yaml:"poll_interval"`
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// SessionDeadline is the hard per-session processing deadline.
	SessionDeadline time.Duration `yaml:"session_deadline"`

	// CancelGrace is how long a worker gets to acknowledge cancellation
	// before the session is force-marked terminal.
	CancelGrace time.Duration `yaml:"cancel_grace"`

	// HeartbeatInterval drives last_heartbeat_at updates while processing.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanScanInterval / OrphanThreshold drive detection of sessions
	// whose worker died without reaching a terminal state.
	OrphanScanInterval time.Duration `yaml:"orphan_scan_interval"`
	OrphanThreshold    time.Duration `yaml:"orphan_threshold"`

	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// LimitsConfig bounds input bundles.
type LimitsConfig struct {
	MaxBundleBytes int64 `yaml:"max_bundle_bytes"`
	MaxFileBytes   int64 `yaml:"max_file_bytes"`
	MaxFileCount   int   `yaml:"max_file_count"`
	// AnalysisParallelism bounds concurrent analyzer invocations per side.
	AnalysisParallelism int `yaml:"analysis_parallelism"`
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	// RedisURL enables the Redis backend; empty selects in-memory.
	RedisURL    string        `yaml:"-"`
	LLMTTL      time.Duration `yaml:"llm_ttl"`
	AnalysisTTL time.Duration `yaml:"analysis_ttl"`
}

// BudgetConfig caps per-session LLM spend.
type BudgetConfig struct {
	MaxTokensPerSession int     `yaml:"max_tokens_per_session"`
	MaxCostPerSession   float64 `yaml:"max_cost_per_session"`
}

// BehavioralConfig tunes the behavioral stage.
type BehavioralConfig struct {
	// ScenarioTimeout is the default per-scenario deadline.
	ScenarioTimeout time.Duration `yaml:"scenario_timeout"`
	// ScenarioMinimum is the least deadline-remaining required to start a
	// scenario; below it the stage refuses further scenarios.
	ScenarioMinimum time.Duration `yaml:"scenario_minimum"`
	Headless        bool          `yaml:"headless"`
}

// RetentionConfig controls soft-delete cleanup of old sessions.
type RetentionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RetentionDays int           `yaml:"retention_days"`
	ScanInterval  time.Duration `yaml:"scan_interval"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:               "0.0.0.0",
		Port:               8080,
		RateLimitPerMinute: 120,
	}
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		WorkerCount:             32,
		MaxConcurrentSessions:   32,
		MaxPerTenant:            8,
		RefuseDepthFactor:       4,
		ResumeDepthFactor:       2,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		SessionDeadline:         30 * time.Minute,
		CancelGrace:             30 * time.Second,
		HeartbeatInterval:       30 * time.Second,
		OrphanScanInterval:      5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Minute,
	}
}

// DefaultLimitsConfig returns the built-in input ceilings.
func DefaultLimitsConfig() *LimitsConfig {
	return &LimitsConfig{
		MaxBundleBytes:      100 << 20,
		MaxFileBytes:        10 << 20,
		MaxFileCount:        50,
		AnalysisParallelism: 4,
	}
}

// DefaultCacheConfig returns the built-in cache TTLs.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		LLMTTL:      30 * 24 * time.Hour,
		AnalysisTTL: 7 * 24 * time.Hour,
	}
}

// DefaultBudgetConfig returns the built-in per-session budget.
func DefaultBudgetConfig() *BudgetConfig {
	return &BudgetConfig{
		MaxTokensPerSession: 500_000,
		MaxCostPerSession:   25.0,
	}
}

// DefaultBehavioralConfig returns the built-in behavioral settings.
func DefaultBehavioralConfig() *BehavioralConfig {
	return &BehavioralConfig{
		ScenarioTimeout: 2 * time.Minute,
		ScenarioMinimum: 15 * time.Second,
		Headless:        true,
	}
}

// DefaultRetentionConfig returns the built-in retention settings.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		Enabled:       true,
		RetentionDays: 90,
		ScanInterval:  12 * time.Hour,
	}
}
