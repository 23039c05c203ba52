// Package metrics exposes the validator's Prometheus collectors. All
// collectors are registered on a package registry with an explicit Init;
// recording before Init is a no-op so unit tests need no setup.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry

	sessionsTotal *prometheus.CounterVec
	llmCalls      *prometheus.CounterVec
	llmErrors     *prometheus.CounterVec
	llmCacheHits  prometheus.Counter
	queueDepth    prometheus.Gauge
	activeWorkers prometheus.Gauge
	stageDuration *prometheus.HistogramVec
)

// Init registers all collectors. Safe to call once per process.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()

	sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validator_sessions_total",
		Help: "Sessions reaching a terminal status, by status.",
	}, []string{"status"})
	llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validator_llm_calls_total",
		Help: "LLM completions issued, by provider.",
	}, []string{"provider"})
	llmErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validator_llm_errors_total",
		Help: "LLM call failures, by provider.",
	}, []string{"provider"})
	llmCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "validator_llm_cache_hits_total",
		Help: "LLM responses served from cache.",
	})
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_queue_depth",
		Help: "Sessions waiting in the queue.",
	})
	activeWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_active_workers",
		Help: "Workers currently processing a session.",
	})
	stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "validator_stage_duration_seconds",
		Help:    "Pipeline stage execution time.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage"})

	registry.MustRegister(sessionsTotal, llmCalls, llmErrors, llmCacheHits,
		queueDepth, activeWorkers, stageDuration)
}

// Shutdown drops the registry; primarily for tests.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
}

// Handler returns the /metrics HTTP handler, or a 503 handler before Init.
func Handler() http.Handler {
	mu.RLock()
	defer mu.RUnlock()
	if registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics not initialized", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func initialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// SessionFinished counts a terminal session.
func SessionFinished(status string) {
	if initialized() {
		sessionsTotal.WithLabelValues(status).Inc()
	}
}

// LLMCall counts an issued completion.
func LLMCall(provider string) {
	if initialized() {
		llmCalls.WithLabelValues(provider).Inc()
	}
}

// LLMError counts a failed completion attempt.
func LLMError(provider string) {
	if initialized() {
		llmErrors.WithLabelValues(provider).Inc()
	}
}

// LLMCacheHit counts a response served from cache.
func LLMCacheHit() {
	if initialized() {
		llmCacheHits.Inc()
	}
}

// SetQueueDepth records the current queue depth.
func SetQueueDepth(n int) {
	if initialized() {
		queueDepth.Set(float64(n))
	}
}

// SetActiveWorkers records the number of busy workers.
func SetActiveWorkers(n int) {
	if initialized() {
		activeWorkers.Set(float64(n))
	}
}

// ObserveStageDuration records a stage execution time.
func ObserveStageDuration(stage string, seconds float64) {
	if initialized() {
		stageDuration.WithLabelValues(stage).Observe(seconds)
	}
}
