// Package behavioral drives the prober against live source and target
// deployments, compares the recorded interaction traces, and scores
// behavioral fidelity.
package behavioral

import (
	"context"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// Prober executes one scenario against a live URL and returns the ordered
// interaction trace. Implementations must auto-close their browser
// sessions when the context ends. Credentials are used in memory only and
// must never appear in the returned trace.
type Prober interface {
	RunScenario(ctx context.Context, url string, scenario models.Scenario, creds *models.Credentials) (*models.Trace, error)
}
