package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validatorYAML represents the validator.yaml file structure.
type validatorYAML struct {
	Server       *ServerConfig     `yaml:"server"`
	Scheduler    *SchedulerConfig  `yaml:"scheduler"`
	Limits       *LimitsConfig     `yaml:"limits"`
	Cache        *CacheConfig      `yaml:"cache"`
	Budget       *BudgetConfig     `yaml:"budget"`
	Behavioral   *BehavioralConfig `yaml:"behavioral"`
	Retention    *RetentionConfig  `yaml:"retention"`
	Technologies []Technology      `yaml:"technologies"`
}

// providersYAML represents the llm-providers.yaml file structure. The list
// order is the failover order.
type providersYAML struct {
	LLM *LLMConfig `yaml:"llm"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load validator.yaml and llm-providers.yaml from configDir
//  2. Expand environment variables in the YAML content
//  3. Overlay environment-variable overrides
//  4. Apply defaults for anything unset
//  5. Validate the result
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := &Config{
		configDir:  configDir,
		Server:     DefaultServerConfig(),
		Scheduler:  DefaultSchedulerConfig(),
		Limits:     DefaultLimitsConfig(),
		Cache:      DefaultCacheConfig(),
		Budget:     DefaultBudgetConfig(),
		Behavioral: DefaultBehavioralConfig(),
		Retention:  DefaultRetentionConfig(),
		LLM:        DefaultLLMConfig(),
	}

	if err := loadYAML(filepath.Join(configDir, "validator.yaml"), &validatorOverlay{cfg}); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(configDir, "llm-providers.yaml"), &providersOverlay{cfg}); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	cfg.Registry = NewProviderRegistry(cfg.LLM.Providers)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized",
		"providers", stats.Providers,
		"technologies", stats.Technologies,
		"workers", stats.Workers)
	return cfg, nil
}

// overlay decodes a YAML document on top of an existing Config.
type overlay interface {
	decode(data []byte) error
}

type validatorOverlay struct{ cfg *Config }

func (o *validatorOverlay) decode(data []byte) error {
	// Decode onto the current sections so keys a section omits keep
	// their defaults.
	doc := validatorYAML{
		Server:     o.cfg.Server,
		Scheduler:  o.cfg.Scheduler,
		Limits:     o.cfg.Limits,
		Cache:      o.cfg.Cache,
		Budget:     o.cfg.Budget,
		Behavioral: o.cfg.Behavioral,
		Retention:  o.cfg.Retention,
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Server != nil {
		o.cfg.Server = doc.Server
	}
	if doc.Scheduler != nil {
		o.cfg.Scheduler = doc.Scheduler
	}
	if doc.Limits != nil {
		o.cfg.Limits = doc.Limits
	}
	if doc.Cache != nil {
		o.cfg.Cache = doc.Cache
	}
	if doc.Budget != nil {
		o.cfg.Budget = doc.Budget
	}
	if doc.Behavioral != nil {
		o.cfg.Behavioral = doc.Behavioral
	}
	if doc.Retention != nil {
		o.cfg.Retention = doc.Retention
	}
	if len(doc.Technologies) > 0 {
		o.cfg.Technologies = doc.Technologies
	}
	return nil
}

type providersOverlay struct{ cfg *Config }

func (o *providersOverlay) decode(data []byte) error {
	var doc providersYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.LLM == nil {
		return nil
	}
	defaults := DefaultLLMConfig()
	if doc.LLM.Retry.MaxAttempts == 0 {
		doc.LLM.Retry = defaults.Retry
	}
	if doc.LLM.Breaker.ConsecutiveFailures == 0 {
		doc.LLM.Breaker = defaults.Breaker
	}
	if doc.LLM.ReformatRetries == 0 {
		doc.LLM.ReformatRetries = defaults.ReformatRetries
	}
	if doc.LLM.DefaultMaxTokens == 0 {
		doc.LLM.DefaultMaxTokens = defaults.DefaultMaxTokens
	}
	o.cfg.LLM = doc.LLM
	return nil
}

// loadYAML reads a file, expands env vars, and decodes it. A missing file
// is not an error: defaults and env overrides still apply.
func loadYAML(path string, o overlay) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("Config file not found, using defaults", "path", path)
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := o.decode(ExpandEnv(data)); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides maps the documented environment variables onto the
// configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("JWT_SECRET_KEY"); v != "" {
		cfg.Server.JWTSecret = v
		cfg.Server.AuthRequired = true
	}
	if v := os.Getenv("MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Limits.MaxFileBytes = n
		}
	}
	if v := os.Getenv("ASYNC_CONCURRENCY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.MaxConcurrentSessions = n
		}
	}
	if v := os.Getenv("SESSION_DEADLINE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.SessionDeadline = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
}

// validate checks the assembled configuration.
func validate(cfg *Config) error {
	v := validator.New()
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		if err := v.Struct(p); err != nil {
			return fmt.Errorf("%w: provider %q: %v", ErrInvalidConfig, p.Name, err)
		}
		if p.RequestsPerMinute <= 0 {
			p.RequestsPerMinute = 60
		}
	}
	seen := make(map[string]bool, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate provider name %q", ErrInvalidConfig, p.Name)
		}
		seen[p.Name] = true
	}
	if cfg.Scheduler.WorkerCount <= 0 {
		return fmt.Errorf("%w: scheduler worker_count must be positive", ErrInvalidConfig)
	}
	if cfg.Scheduler.RefuseDepthFactor <= cfg.Scheduler.ResumeDepthFactor {
		return fmt.Errorf("%w: refuse_depth_factor must exceed resume_depth_factor", ErrInvalidConfig)
	}
	if cfg.Limits.MaxFileBytes > cfg.Limits.MaxBundleBytes {
		return fmt.Errorf("%w: max_file_bytes exceeds max_bundle_bytes", ErrInvalidConfig)
	}
	return nil
}
