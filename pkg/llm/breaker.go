package llm

import (
	"errors"
	"log/slog"

	"github.com/sony/gobreaker"

	"github.com/luissimon96/migration-validator/pkg/config"
)

// breaker wraps a gobreaker.CircuitBreaker with the dispatcher's policy:
// N consecutive failures within the window open the breaker; after the open
// duration a single half-open probe is allowed.
type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(name string, cfg config.BreakerConfig) *breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.FailureWindow,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.ConsecutiveFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("Provider breaker state change",
				"provider", name, "from", from.String(), "to", to.String())
		},
	}
	return &breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// open reports whether the breaker currently refuses requests.
func (b *breaker) open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// execute runs fn under the breaker. skipped is true when the breaker
// refused without invoking fn (open, or half-open probe already taken).
func (b *breaker) execute(fn func() (any, error)) (result any, skipped bool, err error) {
	result, err = b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, true, err
	}
	return result, false, err
}
