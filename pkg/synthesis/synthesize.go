// Package synthesis merges per-stage results into the session's unified
// verdict under configurable weights.
package synthesis

import (
	"fmt"
	"math"
	"time"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// Default stage weights when both stages ran.
const (
	DefaultStaticWeight     = 0.6
	DefaultBehavioralWeight = 0.4
)

// Weights overrides the stage mix. Zero values select the defaults.
type Weights struct {
	Static     float64 `json:"static"`
	Behavioral float64 `json:"behavioral"`
}

// Synthesize merges the available stage results. At least one stage must
// be present.
func Synthesize(static, behavioral *models.StageResult, scope models.Scope, weights *Weights) (*models.UnifiedResult, error) {
	if static == nil && behavioral == nil {
		return nil, fmt.Errorf("synthesis requires at least one stage result")
	}

	w := normalizeWeights(weights)
	result := &models.UnifiedResult{
		Static:     static,
		Behavioral: behavioral,
		Timestamp:  time.Now(),
	}

	switch {
	case static != nil && behavioral != nil:
		result.Kind = models.ResultHybrid
	case static != nil:
		result.Kind = models.ResultStaticOnly
	default:
		result.Kind = models.ResultBehavioralOnly
	}

	var execution float64
	for _, stage := range []*models.StageResult{static, behavioral} {
		if stage == nil {
			continue
		}
		result.Discrepancies = append(result.Discrepancies, stage.Discrepancies...)
		execution += stage.ExecutionSecs
	}
	result.ExecutionSecs = execution

	score, status, note := project(static, behavioral, w)
	result.FidelityScore = round4(score)
	result.Status = status
	result.ErrorNote = note
	result.Summary = summarize(result, scope)
	return result, nil
}

// project computes the merged score and status, handling stages in error.
func project(static, behavioral *models.StageResult, w Weights) (float64, models.OverallStatus, string) {
	staticErr := static != nil && static.Status == models.ResultError
	behavioralErr := behavioral != nil && behavioral.Status == models.ResultError

	// A stage in error with no salvageable score degrades the overall to
	// rejected, unless the other stage approved; then the result is
	// approved with warnings carrying an error annotation.
	if staticErr || behavioralErr {
		healthy := static
		errored := behavioral
		if staticErr {
			healthy, errored = behavioral, static
		}
		note := fmt.Sprintf("%s stage failed: %s", errored.Kind, errored.ErrorReason)
		if healthy != nil && healthy.Status != models.ResultError && healthy.Status == models.ResultApproved {
			return healthy.FidelityScore, models.ResultWithWarnings, note
		}
		score := 0.0
		if healthy != nil && healthy.Status != models.ResultError {
			score = healthy.FidelityScore
		}
		return score, models.ResultRejected, note
	}

	var score float64
	switch {
	case static != nil && behavioral != nil:
		score = w.Static*static.FidelityScore + w.Behavioral*behavioral.FidelityScore
	case static != nil:
		score = static.FidelityScore
	default:
		score = behavioral.FidelityScore
	}

	criticals := 0
	for _, stage := range []*models.StageResult{static, behavioral} {
		if stage != nil {
			criticals += stage.CriticalCount()
		}
	}

	switch {
	case criticals > 0:
		return score, models.ResultRejected, ""
	case score >= 0.95:
		return score, models.ResultApproved, ""
	default:
		return score, models.ResultWithWarnings, ""
	}
}

func normalizeWeights(w *Weights) Weights {
	if w == nil || (w.Static == 0 && w.Behavioral == 0) {
		return Weights{Static: DefaultStaticWeight, Behavioral: DefaultBehavioralWeight}
	}
	total := w.Static + w.Behavioral
	if total <= 0 {
		return Weights{Static: DefaultStaticWeight, Behavioral: DefaultBehavioralWeight}
	}
	return Weights{Static: w.Static / total, Behavioral: w.Behavioral / total}
}

func summarize(r *models.UnifiedResult, scope models.Scope) string {
	criticals, warnings := 0, 0
	for _, d := range r.Discrepancies {
		switch d.Severity {
		case models.SeverityCritical:
			criticals++
		case models.SeverityWarning:
			warnings++
		}
	}
	return fmt.Sprintf("%s validation (%s scope): %s with fidelity %.4f (%d critical, %d warning, %d total discrepancies)",
		r.Kind, scope, r.Status, r.FidelityScore, criticals, warnings, len(r.Discrepancies))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
