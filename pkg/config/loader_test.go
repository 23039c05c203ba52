package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestInitializeDefaultsOnly(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Scheduler.WorkerCount)
	assert.Equal(t, 8, cfg.Scheduler.MaxPerTenant)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.SessionDeadline)
	assert.Equal(t, int64(100<<20), cfg.Limits.MaxBundleBytes)
	assert.Equal(t, int64(10<<20), cfg.Limits.MaxFileBytes)
	assert.Equal(t, 50, cfg.Limits.MaxFileCount)
	assert.Equal(t, 3, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.LLM.Retry.InitialBackoff)
	assert.Equal(t, 5, cfg.LLM.Breaker.ConsecutiveFailures)
}

func TestInitializeYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "validator.yaml", `
scheduler:
  worker_count: 4
  max_concurrent_sessions: 4
  max_per_tenant: 2
  refuse_depth_factor: 4
  resume_depth_factor: 2
  session_deadline: 5m
technologies:
  - name: python-flask
    kind: backend
    languages: [python]
  - name: java-spring
    kind: backend
    languages: [java]
`)
	writeFile(t, dir, "llm-providers.yaml", `
llm:
  providers:
    - name: primary
      type: anthropic
      model: claude-sonnet-4-5
      api_key_env: LLM_ANTHROPIC_API_KEY
      requests_per_minute: 50
    - name: secondary
      type: openai
      model: gpt-4o
      api_key_env: LLM_OPENAI_API_KEY
      requests_per_minute: 60
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Scheduler.WorkerCount)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.SessionDeadline)
	require.Len(t, cfg.LLM.Providers, 2)
	assert.Equal(t, "primary", cfg.LLM.Providers[0].Name)
	assert.Equal(t, "secondary", cfg.LLM.Providers[1].Name)
	// Retry defaults survive a providers file that does not set them.
	assert.Equal(t, 3, cfg.LLM.Retry.MaxAttempts)
	assert.Len(t, cfg.Technologies, 2)
}

func TestInitializeEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_DEADLINE_SECONDS", "120")
	t.Setenv("MAX_FILE_SIZE", "1048576")
	t.Setenv("JWT_SECRET_KEY", "secret")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Scheduler.SessionDeadline)
	assert.Equal(t, int64(1<<20), cfg.Limits.MaxFileBytes)
	assert.True(t, cfg.Server.AuthRequired)
}

func TestInitializeRejectsInvalidProvider(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "llm-providers.yaml", `
llm:
  providers:
    - name: broken
      type: anthropic
`)
	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExpandEnvInYAML(t *testing.T) {
	t.Setenv("TEST_MODEL_NAME", "claude-sonnet-4-5")
	dir := t.TempDir()
	writeFile(t, dir, "llm-providers.yaml", `
llm:
  providers:
    - name: primary
      type: anthropic
      model: ${TEST_MODEL_NAME}
      requests_per_minute: 10
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, cfg.LLM.Providers, 1)
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.Providers[0].Model)
}

func TestProviderRegistryOrder(t *testing.T) {
	reg := NewProviderRegistry([]ProviderConfig{
		{Name: "a", Type: ProviderAnthropic, Model: "m1"},
		{Name: "b", Type: ProviderOpenAI, Model: "m2"},
	})

	ordered := reg.Ordered()
	require.Len(t, ordered, 2)
	assert.Equal(t, "a", ordered[0].Name)
	assert.Equal(t, "b", ordered[1].Name)

	p, err := reg.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "m2", p.Model)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
