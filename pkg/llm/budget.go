package llm

import (
	"sync"

	"github.com/luissimon96/migration-validator/pkg/config"
)

// BudgetTracker accumulates per-session token and cost counters. Counters
// are monotonic: they only grow, and are released when the session ends.
type BudgetTracker struct {
	mu       sync.Mutex
	cfg      config.BudgetConfig
	sessions map[string]*budgetCounters
}

type budgetCounters struct {
	tokens int
	cost   float64
}

// NewBudgetTracker builds a tracker with the configured ceilings.
func NewBudgetTracker(cfg config.BudgetConfig) *BudgetTracker {
	return &BudgetTracker{
		cfg:      cfg,
		sessions: make(map[string]*budgetCounters),
	}
}

// Add records usage for a session and returns the updated totals.
func (t *BudgetTracker) Add(sessionID string, tokens int, cost float64) (totalTokens int, totalCost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.counters(sessionID)
	c.tokens += tokens
	c.cost += cost
	return c.tokens, c.cost
}

// Exhausted reports whether the session has reached either ceiling.
func (t *BudgetTracker) Exhausted(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.counters(sessionID)
	if t.cfg.MaxTokensPerSession > 0 && c.tokens >= t.cfg.MaxTokensPerSession {
		return true
	}
	if t.cfg.MaxCostPerSession > 0 && c.cost >= t.cfg.MaxCostPerSession {
		return true
	}
	return false
}

// Totals returns the session's current usage.
func (t *BudgetTracker) Totals(sessionID string) (tokens int, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.counters(sessionID)
	return c.tokens, c.cost
}

// Release drops the counters once the session is terminal.
func (t *BudgetTracker) Release(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

func (t *BudgetTracker) counters(sessionID string) *budgetCounters {
	c, ok := t.sessions[sessionID]
	if !ok {
		c = &budgetCounters{}
		t.sessions[sessionID] = c
	}
	return c
}
