package llm

import (
	"errors"
	"fmt"
	"net"
)

// Sentinel errors signalled by the dispatcher. The string values double as
// the stable error codes of the API taxonomy.
var (
	ErrProviderUnavailable = errors.New("provider-unavailable")
	ErrDeadlineExceeded    = errors.New("deadline-exceeded")
	ErrBudgetExhausted     = errors.New("budget-exhausted")
	ErrUnparseable         = errors.New("response-unparseable")
	ErrModelNotHosted      = errors.New("no provider hosts the pinned model")
)

// ProviderError wraps a provider failure with enough detail to decide
// whether a retry or failover is worthwhile.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Recoverable reports whether the failure may succeed on retry or on
// another provider: timeouts, network errors, 5xx, and 429. Authentication
// failures and other 4xx are permanent.
func Recoverable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch {
		case pe.StatusCode == 429:
			return true
		case pe.StatusCode >= 500:
			return true
		case pe.StatusCode >= 400:
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, errTransient) {
		return true
	}
	// Unclassified errors are treated as recoverable so a flaky provider
	// does not permanently fail a session that a failover would save.
	return !errors.Is(err, errPermanent)
}

// Markers for adapters that cannot surface an HTTP status.
var (
	errTransient = errors.New("transient provider failure")
	errPermanent = errors.New("permanent provider failure")
)
