// Package llm contains the dispatcher that schedules LLM calls across an
// ordered list of providers with caching, rate limiting, retries, circuit
// breaking, and per-session budget accounting.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/luissimon96/migration-validator/pkg/cache"
	"github.com/luissimon96/migration-validator/pkg/config"
	"github.com/luissimon96/migration-validator/pkg/fingerprint"
	"github.com/luissimon96/migration-validator/pkg/llm/providers"
	"github.com/luissimon96/migration-validator/pkg/metrics"
	"github.com/luissimon96/migration-validator/pkg/models"
)

// Dispatcher routes LLM requests to providers. One instance is shared by
// the whole process.
type Dispatcher struct {
	cfg       *config.LLMConfig
	states    []*providerState
	store     *cache.Store
	budget    *BudgetTracker
	flight    singleflight.Group
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

// NewDispatcher builds a dispatcher from configuration. The cache store may
// be nil to disable response caching.
func NewDispatcher(cfg *config.LLMConfig, store *cache.Store, budget *BudgetTracker) (*Dispatcher, error) {
	if len(cfg.Providers) == 0 {
		return nil, config.ErrNoProviders
	}
	built, err := buildProviders(cfg.Providers)
	if err != nil {
		return nil, err
	}
	return newDispatcher(cfg, built, store, budget), nil
}

// NewDispatcherWithProviders wires pre-built providers; used by tests and
// by callers that construct adapters themselves.
func NewDispatcherWithProviders(cfg *config.LLMConfig, provs []Provider, store *cache.Store, budget *BudgetTracker) *Dispatcher {
	return newDispatcher(cfg, provs, store, budget)
}

func newDispatcher(cfg *config.LLMConfig, provs []Provider, store *cache.Store, budget *BudgetTracker) *Dispatcher {
	states := make([]*providerState, len(provs))
	for i, p := range provs {
		pc := cfg.Providers[i]
		state := &providerState{
			cfg:      pc,
			provider: p,
			breaker:  newBreaker(pc.Name, cfg.Breaker),
			requests: &bucket{limiter: rate.NewLimiter(rate.Limit(float64(pc.RequestsPerMinute)/60.0), max(1, pc.RequestsPerMinute/6))},
		}
		if pc.TokensPerMinute > 0 {
			state.tokens = &bucket{limiter: rate.NewLimiter(rate.Limit(float64(pc.TokensPerMinute)/60.0), pc.TokensPerMinute)}
		}
		states[i] = state
	}
	return &Dispatcher{
		cfg:    cfg,
		states: states,
		store:  store,
		budget: budget,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
		randFloat: rand.Float64,
	}
}

// Ask dispatches a request and returns the completion. Identical in-flight
// requests converge on one provider call; low-temperature requests consult
// the response cache first.
func (d *Dispatcher) Ask(ctx context.Context, req models.LLMRequest) (*models.LLMResponse, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = d.cfg.DefaultMaxTokens
	}
	if req.Band == "" {
		req.Band = models.TempLow
	}
	if d.budget != nil && req.SessionID != "" && d.budget.Exhausted(req.SessionID) {
		return nil, ErrBudgetExhausted
	}

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	fp := fingerprint.LLM(req.Model, req.SystemPrompt, req.Prompt, req.Context, string(req.Band))

	cacheable := req.Band == models.TempLow && d.store != nil
	if cacheable {
		if data, err := d.store.Get(ctx, cache.NamespaceLLM, fp); err == nil {
			var resp models.LLMResponse
			if jsonErr := json.Unmarshal(data, &resp); jsonErr == nil {
				resp.CacheHit = true
				resp.Latency = 0
				metrics.LLMCacheHit()
				return &resp, nil
			}
		}
	}

	// Single-flight keyed by fingerprint: within a stage, identical calls
	// are issued at most once.
	value, err, _ := d.flight.Do(fp.String(), func() (any, error) {
		return d.dispatch(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	resp := value.(*models.LLMResponse)

	if d.budget != nil && req.SessionID != "" {
		tokens, cost := d.budget.Add(req.SessionID, resp.TokensUsed, resp.EstimatedCost)
		slog.Debug("LLM budget updated",
			"session_id", req.SessionID, "total_tokens", tokens, "total_cost", cost)
	}

	if cacheable {
		if data, jsonErr := json.Marshal(resp); jsonErr == nil {
			d.store.Put(ctx, cache.NamespaceLLM, fp, data)
		}
	}
	return resp, nil
}

// dispatch walks the provider order, honoring breakers, buckets, and
// retries, and optionally enforces a JSON response shape.
func (d *Dispatcher) dispatch(ctx context.Context, req models.LLMRequest) (*models.LLMResponse, error) {
	resp, err := d.tryProviders(ctx, req)
	if err != nil {
		return nil, err
	}
	if !req.WantJSON || json.Valid([]byte(ExtractJSON(resp.Content))) {
		return resp, nil
	}

	// The model produced malformed structured output: ask it to reformat a
	// bounded number of times before giving up.
	for attempt := 0; attempt < d.cfg.ReformatRetries; attempt++ {
		reformat := req
		reformat.Prompt = fmt.Sprintf(
			"Reformat the following as strict JSON with no surrounding prose:\n\n%s", resp.Content)
		resp, err = d.tryProviders(ctx, reformat)
		if err != nil {
			return nil, err
		}
		if json.Valid([]byte(ExtractJSON(resp.Content))) {
			return resp, nil
		}
	}
	return nil, fmt.Errorf("%w: after %d reformat retries", ErrUnparseable, d.cfg.ReformatRetries)
}

func (d *Dispatcher) tryProviders(ctx context.Context, req models.LLMRequest) (*models.LLMResponse, error) {
	candidates := d.candidates(req.Model)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrModelNotHosted, req.Model)
	}

	var lastErr error
	for _, state := range candidates {
		if state.breaker.open() {
			continue
		}
		resp, err := d.tryProvider(ctx, state, req)
		if err == nil {
			if lastErr != nil {
				slog.Info("provider-failover",
					"provider", state.cfg.Name, "after_error", lastErr)
			}
			return resp, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrDeadlineExceeded) {
			return nil, ErrDeadlineExceeded
		}
		if !Recoverable(err) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
	}
	return nil, ErrProviderUnavailable
}

// candidates filters the ordered provider list by the pinned model, if any.
func (d *Dispatcher) candidates(model string) []*providerState {
	if model == "" {
		return d.states
	}
	var out []*providerState
	for _, s := range d.states {
		if s.provider.Model() == model {
			out = append(out, s)
		}
	}
	return out
}

// tryProvider waits on the provider's buckets and runs the completion under
// its breaker with retry/backoff.
func (d *Dispatcher) tryProvider(ctx context.Context, state *providerState, req models.LLMRequest) (*models.LLMResponse, error) {
	if err := state.requests.wait(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrDeadlineExceeded, err)
	}
	if state.tokens != nil {
		if err := state.tokens.wait(ctx, estimateTokens(req.Prompt)+req.MaxTokens); err != nil {
			return nil, fmt.Errorf("%w: token rate wait: %v", ErrDeadlineExceeded, err)
		}
	}

	creq := providers.CompletionRequest{
		SystemPrompt: req.SystemPrompt,
		Prompt:       req.Prompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Band.Temperature(),
	}

	backoff := d.cfg.Retry.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= d.cfg.Retry.MaxAttempts; attempt++ {
		result, skipped, err := state.breaker.execute(func() (any, error) {
			return state.provider.Complete(ctx, creq)
		})
		if err == nil {
			cr := result.(*providers.CompletionResult)
			metrics.LLMCall(state.cfg.Name)
			return &models.LLMResponse{
				Content:       cr.Content,
				TokensUsed:    cr.TokensUsed,
				EstimatedCost: estimateCost(cr.TokensUsed, state.cfg.CostPerKiloToken),
				Latency:       cr.Latency,
				Provider:      state.cfg.Name,
				CacheHit:      false,
			}, nil
		}
		if skipped {
			return nil, fmt.Errorf("%w: breaker refused %s", errTransient, state.cfg.Name)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !Recoverable(err) {
			return nil, err
		}
		lastErr = err
		metrics.LLMError(state.cfg.Name)
		if attempt == d.cfg.Retry.MaxAttempts {
			break
		}

		// Exponential backoff with full jitter, capped.
		wait := time.Duration(d.randFloat() * float64(backoff))
		if err := d.sleep(ctx, wait); err != nil {
			return nil, err
		}
		backoff *= 2
		if backoff > d.cfg.Retry.MaxBackoff {
			backoff = d.cfg.Retry.MaxBackoff
		}
	}
	return nil, lastErr
}

// ExtractJSON trims optional markdown fences around a JSON body.
func ExtractJSON(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
