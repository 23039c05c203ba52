package compare

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/luissimon96/migration-validator/pkg/llm"
	"github.com/luissimon96/migration-validator/pkg/models"
)

// Comparator pairs source and target elements and computes the static
// stage result. A nil dispatcher disables the LLM-assisted layers
// (semantic pairing, business-logic comparison).
type Comparator struct {
	dispatcher *llm.Dispatcher
	sessionID  string
	deadline   time.Time
}

// New builds a comparator for one stage run.
func New(dispatcher *llm.Dispatcher, sessionID string, deadline time.Time) *Comparator {
	return &Comparator{dispatcher: dispatcher, sessionID: sessionID, deadline: deadline}
}

// categoryOutcome collects one category's comparison result.
type categoryOutcome struct {
	discrepancies []models.Discrepancy
	elementCount  int
}

// Compare runs the scope's active sub-procedures and assembles the static
// stage result.
func (c *Comparator) Compare(ctx context.Context, source, target *models.Representation, scope models.Scope) (*models.StageResult, error) {
	start := time.Now()

	weights := models.RedistributeWithout(models.CategoryWeights(scope), models.CategoryBehavioral)

	outcomes := make(map[models.Category]categoryOutcome)
	if weights[models.CategoryFunctions] > 0 {
		outcomes[models.CategoryFunctions] = c.compareFunctions(ctx, source.Functions, target.Functions, scope)
	}
	if weights[models.CategoryStructures] > 0 {
		outcomes[models.CategoryStructures] = c.compareStructures(ctx, source.Structures, target.Structures, scope)
	}
	if weights[models.CategoryEndpoints] > 0 {
		outcomes[models.CategoryEndpoints] = c.compareEndpoints(source.Endpoints, target.Endpoints, scope)
	}
	if weights[models.CategoryUI] > 0 {
		outcomes[models.CategoryUI] = c.compareUI(ctx, source.UIElements, target.UIElements, scope)
	}

	result := &models.StageResult{
		Kind:      models.StageStatic,
		SourceRep: source,
		TargetRep: target,
	}

	// Categories empty on both sides are inactive; their weight mass is
	// redistributed so a scope with no extracted endpoints is not scored
	// on endpoints.
	var weightSum, scoreSum float64
	for category, outcome := range outcomes {
		result.Discrepancies = append(result.Discrepancies, outcome.discrepancies...)
		if outcome.elementCount == 0 {
			continue
		}
		w := weights[category]
		weightSum += w
		scoreSum += w * categoryScore(outcome)
	}

	score := 1.0
	if weightSum > 0 {
		score = scoreSum / weightSum
	}
	result.FidelityScore = round4(score)
	result.Status = projectStatus(result.FidelityScore, result.CriticalCount())
	result.Summary = summarize(result)
	result.ExecutionSecs = time.Since(start).Seconds()
	return result, nil
}

// categoryScore implements the partial fidelity formula: one minus the
// weighted discrepancy mass over the paired + unpaired element count,
// floored at one, clipped to [0,1].
func categoryScore(outcome categoryOutcome) float64 {
	var mass float64
	for _, d := range outcome.discrepancies {
		mass += discrepancyMass(d.Severity)
	}
	denom := float64(outcome.elementCount)
	if denom < 1 {
		denom = 1
	}
	score := 1.0 - mass/denom
	return math.Max(0, math.Min(1, score))
}

// projectStatus maps score and criticals to the stage verdict. Any
// critical rejects; otherwise a high score approves and everything else is
// approved with warnings.
func projectStatus(score float64, criticals int) models.OverallStatus {
	switch {
	case criticals > 0:
		return models.ResultRejected
	case score >= 0.95:
		return models.ResultApproved
	default:
		return models.ResultWithWarnings
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func summarize(r *models.StageResult) string {
	criticals, warnings, infos := 0, 0, 0
	for _, d := range r.Discrepancies {
		switch d.Severity {
		case models.SeverityCritical:
			criticals++
		case models.SeverityWarning:
			warnings++
		default:
			infos++
		}
	}
	return fmt.Sprintf("static comparison: fidelity %.4f, %d critical, %d warning, %d info",
		r.FidelityScore, criticals, warnings, infos)
}

// disc builds a discrepancy with severity resolved from the policy table.
func disc(category models.Category, kind models.DiscrepancyKind, scope models.Scope, description, sourceElem, targetElem string) models.Discrepancy {
	return models.Discrepancy{
		Kind:          kind,
		Severity:      severityFor(category, kind, scope),
		Description:   description,
		SourceElement: sourceElem,
		TargetElement: targetElem,
		Confidence:    1.0,
		Component:     componentFor(category),
	}
}

func componentFor(category models.Category) models.Component {
	switch category {
	case models.CategoryFunctions:
		return models.ComponentBackend
	case models.CategoryStructures:
		return models.ComponentData
	case models.CategoryEndpoints:
		return models.ComponentAPI
	case models.CategoryUI:
		return models.ComponentUI
	default:
		return models.ComponentBehavioral
	}
}
