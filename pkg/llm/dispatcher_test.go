package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luissimon96/migration-validator/pkg/cache"
	"github.com/luissimon96/migration-validator/pkg/config"
	"github.com/luissimon96/migration-validator/pkg/llm/providers"
	"github.com/luissimon96/migration-validator/pkg/models"
)

func testLLMConfig(names ...string) *config.LLMConfig {
	cfg := config.DefaultLLMConfig()
	for _, n := range names {
		cfg.Providers = append(cfg.Providers, config.ProviderConfig{
			Name:              n,
			Type:              config.ProviderMock,
			Model:             "mock-model",
			RequestsPerMinute: 6000,
			CostPerKiloToken:  0.01,
		})
	}
	// Keep retries fast in tests.
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 2 * time.Millisecond
	return cfg
}

func newTestDispatcher(t *testing.T, cfg *config.LLMConfig, budget *BudgetTracker, store *cache.Store) (*Dispatcher, []*providers.Mock) {
	t.Helper()
	mocks := make([]*providers.Mock, len(cfg.Providers))
	provs := make([]Provider, len(cfg.Providers))
	for i, pc := range cfg.Providers {
		m := providers.NewMock(pc.Name, pc.Model)
		mocks[i] = m
		provs[i] = m
	}
	return NewDispatcherWithProviders(cfg, provs, store, budget), mocks
}

func TestAskReturnsFirstProviderAnswer(t *testing.T) {
	d, mocks := newTestDispatcher(t, testLLMConfig("primary", "secondary"), nil, nil)
	mocks[0].Script(providers.MockResponse{Content: "answer", Tokens: 42})

	resp, err := d.Ask(context.Background(), models.LLMRequest{Prompt: "q", Band: models.TempLow})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)
	assert.Equal(t, "primary", resp.Provider)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.InDelta(t, 0.00042, resp.EstimatedCost, 1e-9)
	assert.Zero(t, mocks[1].Calls())
}

func TestFailoverOnRecoverableError(t *testing.T) {
	d, mocks := newTestDispatcher(t, testLLMConfig("primary", "secondary"), nil, nil)
	mocks[0].Script(providers.MockResponse{Err: &ProviderError{Provider: "primary", StatusCode: 503, Err: assert.AnError}})
	mocks[1].Script(providers.MockResponse{Content: "from secondary", Tokens: 5})

	resp, err := d.Ask(context.Background(), models.LLMRequest{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "secondary", resp.Provider)
	// Primary exhausted its retries before failover.
	assert.Equal(t, 3, mocks[0].Calls())
}

func TestNonRecoverableFailsImmediately(t *testing.T) {
	d, mocks := newTestDispatcher(t, testLLMConfig("primary", "secondary"), nil, nil)
	mocks[0].Script(providers.MockResponse{Err: &ProviderError{Provider: "primary", StatusCode: 401, Err: assert.AnError}})

	_, err := d.Ask(context.Background(), models.LLMRequest{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, 1, mocks[0].Calls())
	assert.Zero(t, mocks[1].Calls(), "auth failures must not fail over")
}

func TestAllProvidersDownSignalsUnavailable(t *testing.T) {
	d, mocks := newTestDispatcher(t, testLLMConfig("primary", "secondary"), nil, nil)
	boom := providers.MockResponse{Err: &ProviderError{Provider: "p", StatusCode: 500, Err: assert.AnError}}
	mocks[0].Script(boom)
	mocks[1].Script(boom)

	_, err := d.Ask(context.Background(), models.LLMRequest{Prompt: "q"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := testLLMConfig("primary", "secondary")
	cfg.Retry.MaxAttempts = 1
	d, mocks := newTestDispatcher(t, cfg, nil, nil)
	boom := providers.MockResponse{Err: &ProviderError{Provider: "primary", StatusCode: 500, Err: assert.AnError}}
	mocks[0].Script(boom)
	mocks[1].Script(providers.MockResponse{Content: "ok", Tokens: 1})

	// Five failures open the primary's breaker.
	for i := 0; i < 5; i++ {
		_, err := d.Ask(context.Background(), models.LLMRequest{Prompt: "q", Band: models.TempHigh})
		require.NoError(t, err, "secondary should have answered")
	}
	primaryCalls := mocks[0].Calls()
	assert.Equal(t, 5, primaryCalls)

	// With the breaker open, the primary is not consulted at all.
	_, err := d.Ask(context.Background(), models.LLMRequest{Prompt: "q2", Band: models.TempHigh})
	require.NoError(t, err)
	assert.Equal(t, primaryCalls, mocks[0].Calls())
}

func TestModelPinningFiltersProviders(t *testing.T) {
	cfg := testLLMConfig("primary", "secondary")
	cfg.Providers[1].Model = "other-model"
	d, mocks := newTestDispatcher(t, cfg, nil, nil)
	mocks[1].Script(providers.MockResponse{Content: "pinned", Tokens: 1})

	resp, err := d.Ask(context.Background(), models.LLMRequest{Prompt: "q", Model: "other-model"})
	require.NoError(t, err)
	assert.Equal(t, "secondary", resp.Provider)
	assert.Zero(t, mocks[0].Calls())

	_, err = d.Ask(context.Background(), models.LLMRequest{Prompt: "q", Model: "unknown-model"})
	assert.ErrorIs(t, err, ErrModelNotHosted)
}

func TestLowBandUsesCache(t *testing.T) {
	store := cache.NewStore(cache.NewMemoryBackend(), cache.Options{})
	d, mocks := newTestDispatcher(t, testLLMConfig("primary"), nil, store)
	mocks[0].Script(providers.MockResponse{Content: "cached answer", Tokens: 7})

	req := models.LLMRequest{Prompt: "stable question", Band: models.TempLow}
	first, err := d.Ask(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := d.Ask(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "cached answer", second.Content)
	assert.Equal(t, 1, mocks[0].Calls())
}

func TestHighBandSkipsCache(t *testing.T) {
	store := cache.NewStore(cache.NewMemoryBackend(), cache.Options{})
	d, mocks := newTestDispatcher(t, testLLMConfig("primary"), nil, store)
	mocks[0].Script(providers.MockResponse{Content: "creative", Tokens: 7})

	req := models.LLMRequest{Prompt: "same", Band: models.TempHigh}
	_, err := d.Ask(context.Background(), req)
	require.NoError(t, err)
	_, err = d.Ask(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, mocks[0].Calls())
}

func TestBudgetExhaustedFailsSubsequentCalls(t *testing.T) {
	budget := NewBudgetTracker(config.BudgetConfig{MaxTokensPerSession: 100})
	d, mocks := newTestDispatcher(t, testLLMConfig("primary"), budget, nil)
	mocks[0].Script(providers.MockResponse{Content: "big", Tokens: 100})

	req := models.LLMRequest{SessionID: "s1", Prompt: "q", Band: models.TempHigh}
	_, err := d.Ask(context.Background(), req)
	require.NoError(t, err)

	_, err = d.Ask(context.Background(), req)
	assert.ErrorIs(t, err, ErrBudgetExhausted)

	// Budgets are per session.
	other := models.LLMRequest{SessionID: "s2", Prompt: "q", Band: models.TempHigh}
	_, err = d.Ask(context.Background(), other)
	assert.NoError(t, err)
}

func TestBudgetCountersMonotonic(t *testing.T) {
	budget := NewBudgetTracker(config.BudgetConfig{MaxTokensPerSession: 1000})
	budget.Add("s", 10, 0.1)
	budget.Add("s", 20, 0.2)
	tokens, cost := budget.Totals("s")
	assert.Equal(t, 30, tokens)
	assert.InDelta(t, 0.3, cost, 1e-9)
}

func TestSingleFlightDeduplicatesIdenticalCalls(t *testing.T) {
	d, mocks := newTestDispatcher(t, testLLMConfig("primary"), nil, nil)
	release := make(chan struct{})
	blocking := providers.NewBlockingMock("primary", "mock-model", release)
	d.states[0].provider = blocking
	_ = mocks

	req := models.LLMRequest{Prompt: "identical", Band: models.TempLow}
	const concurrency = 8
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := d.Ask(context.Background(), req)
			assert.NoError(t, err)
			assert.Equal(t, "blocked answer", resp.Content)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, blocking.Calls(), "identical in-flight requests must share one completion")
}

func TestWantJSONReformat(t *testing.T) {
	d, mocks := newTestDispatcher(t, testLLMConfig("primary"), nil, nil)
	mocks[0].Script(
		providers.MockResponse{Content: "Sure! Here is your data: not json", Tokens: 5},
		providers.MockResponse{Content: `{"pairs":[]}`, Tokens: 5},
	)

	resp, err := d.Ask(context.Background(), models.LLMRequest{Prompt: "q", WantJSON: true, Band: models.TempHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pairs":[]}`, resp.Content)
	assert.Equal(t, 2, mocks[0].Calls())
}

func TestWantJSONGivesUpAfterRetries(t *testing.T) {
	cfg := testLLMConfig("primary")
	cfg.ReformatRetries = 2
	d, mocks := newTestDispatcher(t, cfg, nil, nil)
	mocks[0].Script(providers.MockResponse{Content: "still not json", Tokens: 5})

	_, err := d.Ask(context.Background(), models.LLMRequest{Prompt: "q", WantJSON: true, Band: models.TempHigh})
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestExtractJSONStripsFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("{\"a\":1}"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("```\n{\"a\":1}\n```"))
}

func TestDeadlineExceededDuringRateWait(t *testing.T) {
	cfg := testLLMConfig("primary")
	cfg.Providers[0].RequestsPerMinute = 1
	d, mocks := newTestDispatcher(t, cfg, nil, nil)
	mocks[0].Script(providers.MockResponse{Content: "ok", Tokens: 1})

	// First call drains the bucket.
	_, err := d.Ask(context.Background(), models.LLMRequest{Prompt: "a", Band: models.TempHigh})
	require.NoError(t, err)

	// Second call cannot acquire a token before its deadline.
	_, err = d.Ask(context.Background(), models.LLMRequest{
		Prompt:   "b",
		Band:     models.TempHigh,
		Deadline: time.Now().Add(50 * time.Millisecond),
	})
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
}
