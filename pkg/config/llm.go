package config

import (
	"fmt"
	"sync"
	"time"
)

// ProviderType selects the adapter implementation.
type ProviderType string

// Provider types.
const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderMock      ProviderType = "mock"
)

// ProviderConfig defines one LLM provider. Providers are tried in the order
// they appear in llm-providers.yaml.
type ProviderConfig struct {
	// Name identifies the provider in logs and failover decisions.
	Name string `yaml:"name" validate:"required"`

	// Type selects the adapter (required).
	Type ProviderType `yaml:"type" validate:"required"`

	// Model served by this provider (required).
	Model string `yaml:"model" validate:"required"`

	// APIKeyEnv is the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// RequestsPerMinute / TokensPerMinute size the provider's token
	// buckets. TokensPerMinute of 0 disables the token bucket.
	RequestsPerMinute int `yaml:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute,omitempty"`

	// CostPerKiloToken estimates spend for budget accounting.
	CostPerKiloToken float64 `yaml:"cost_per_kilo_token,omitempty"`
}

// RetryConfig tunes dispatcher retries. All constants are configuration,
// not code.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures int           `yaml:"consecutive_failures"`
	FailureWindow       time.Duration `yaml:"failure_window"`
	OpenDuration        time.Duration `yaml:"open_duration"`
}

// LLMConfig groups dispatcher settings.
type LLMConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
	Retry     RetryConfig      `yaml:"retry"`
	Breaker   BreakerConfig    `yaml:"breaker"`
	// ReformatRetries bounds JSON-shape reformat attempts before a request
	// fails as response-unparseable.
	ReformatRetries int `yaml:"reformat_retries"`
	// DefaultMaxTokens applies when a request does not set MaxTokens.
	DefaultMaxTokens int `yaml:"default_max_tokens"`
}

// DefaultLLMConfig returns the built-in dispatcher tuning.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     4 * time.Second,
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			FailureWindow:       60 * time.Second,
			OpenDuration:        30 * time.Second,
		},
		ReformatRetries:  2,
		DefaultMaxTokens: 4096,
	}
}

// ProviderRegistry stores provider configurations with thread-safe access,
// preserving configuration order for failover.
type ProviderRegistry struct {
	mu       sync.RWMutex
	ordered  []ProviderConfig
	byName   map[string]*ProviderConfig
}

// NewProviderRegistry builds a registry from the ordered provider list.
func NewProviderRegistry(providers []ProviderConfig) *ProviderRegistry {
	ordered := make([]ProviderConfig, len(providers))
	copy(ordered, providers)
	byName := make(map[string]*ProviderConfig, len(ordered))
	for i := range ordered {
		byName[ordered[i].Name] = &ordered[i]
	}
	return &ProviderRegistry{ordered: ordered, byName: byName}
}

// Get retrieves a provider configuration by name.
func (r *ProviderRegistry) Get(name string) (*ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// Ordered returns the providers in configured failover order.
func (r *ProviderRegistry) Ordered() []ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderConfig, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered providers.
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}
