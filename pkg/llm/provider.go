package llm

import (
	"context"
	"fmt"

	"github.com/luissimon96/migration-validator/pkg/config"
	"github.com/luissimon96/migration-validator/pkg/llm/providers"
)

// Provider is one configured LLM backend. Implementations live in the
// providers subpackage; the dispatcher owns failover, rate limiting, and
// breaker state around them.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResult, error)
}

// buildProviders instantiates adapters for the configured provider list in
// failover order.
func buildProviders(cfgs []config.ProviderConfig) ([]Provider, error) {
	built := make([]Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		var (
			p   Provider
			err error
		)
		switch pc.Type {
		case config.ProviderAnthropic:
			p, err = providers.NewAnthropic(pc.Name, pc.Model, pc.APIKeyEnv, pc.BaseURL)
		case config.ProviderOpenAI:
			p, err = providers.NewOpenAI(pc.Name, pc.Model, pc.APIKeyEnv, pc.BaseURL)
		case config.ProviderMock:
			p = providers.NewMock(pc.Name, pc.Model)
		default:
			err = fmt.Errorf("unknown provider type %q", pc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("building provider %q: %w", pc.Name, err)
		}
		built = append(built, p)
	}
	return built, nil
}

// providerState carries the dispatcher's per-provider machinery.
type providerState struct {
	cfg      config.ProviderConfig
	provider Provider
	breaker  *breaker
	requests *bucket
	tokens   *bucket // nil when the provider does not enforce tokens/minute
}

// bucket is a token bucket with a deadline-aware wait.
type bucket struct {
	limiter limiterIface
}

// limiterIface abstracts *rate.Limiter for tests.
type limiterIface interface {
	WaitN(ctx context.Context, n int) error
}

func (b *bucket) wait(ctx context.Context, n int) error {
	if b == nil {
		return nil
	}
	return b.limiter.WaitN(ctx, n)
}

// estimateTokens approximates the token count of a prompt for
// tokens-per-minute accounting before the provider reports real usage.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// estimateCost converts token usage to an estimated cost.
func estimateCost(tokens int, costPerKiloToken float64) float64 {
	return float64(tokens) / 1000.0 * costPerKiloToken
}
