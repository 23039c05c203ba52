package behavioral

import (
	"fmt"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// timingFactor is the slowdown beyond which a timing divergence is
// reported (with no state divergence it stays informational).
const timingFactor = 2.0

// CompareTraces compares the source and target traces of one scenario
// step-by-step. At each step the outcome and resulting state fingerprint
// must match. The score is matched/total with a penalty per critical
// divergence, clipped to [0,1].
func CompareTraces(scenario string, source, target *models.Trace) (models.ScenarioScore, []models.Discrepancy) {
	var discs []models.Discrepancy

	total := len(source.Steps)
	if len(target.Steps) > total {
		total = len(target.Steps)
	}
	score := models.ScenarioScore{Name: scenario, TotalSteps: total}
	if total == 0 {
		score.Score = 1.0
		return score, nil
	}

	matched := 0
	for i := 0; i < total; i++ {
		if i >= len(source.Steps) || i >= len(target.Steps) {
			discs = append(discs, stepDisc(scenario, i, models.SeverityCritical,
				models.DiscStateDivergence,
				fmt.Sprintf("step %d exists on one side only: the flows diverged", i)))
			continue
		}
		s, t := source.Steps[i], target.Steps[i]

		switch {
		case s.Outcome != t.Outcome || s.StateFingerprint != t.StateFingerprint:
			// A validation error present on one side but absent on the
			// other, or a different page state, is a critical divergence.
			if (s.ValidationError == "") != (t.ValidationError == "") {
				discs = append(discs, stepDisc(scenario, i, models.SeverityCritical,
					models.DiscStateDivergence,
					fmt.Sprintf("step %d: validation error on one side only (source=%q, target=%q)",
						i, s.ValidationError, t.ValidationError)))
				continue
			}
			if s.Outcome != t.Outcome {
				discs = append(discs, stepDisc(scenario, i, models.SeverityCritical,
					models.DiscStateDivergence,
					fmt.Sprintf("step %d: outcome %q vs %q", i, s.Outcome, t.Outcome)))
				continue
			}
			// Same outcome class, different message content.
			if s.ValidationError != t.ValidationError {
				discs = append(discs, stepDisc(scenario, i, models.SeverityWarning,
					models.DiscMessageDivergence,
					fmt.Sprintf("step %d: message text differs (source=%q, target=%q)",
						i, s.ValidationError, t.ValidationError)))
				continue
			}
			discs = append(discs, stepDisc(scenario, i, models.SeverityCritical,
				models.DiscStateDivergence,
				fmt.Sprintf("step %d transitions into a different page state", i)))

		default:
			matched++
			if slowdown(s, t) {
				discs = append(discs, stepDisc(scenario, i, models.SeverityInfo,
					models.DiscTimingDivergence,
					fmt.Sprintf("step %d: target took %s vs source %s", i, t.Elapsed, s.Elapsed)))
			}
		}
	}

	criticals := 0
	for _, d := range discs {
		if d.Severity == models.SeverityCritical {
			criticals++
		}
	}

	value := float64(matched)/float64(total) - criticalPenalty*float64(criticals)
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	score.Score = round4(value)
	score.MatchedSteps = matched
	score.CriticalCount = criticals
	return score, discs
}

// slowdown reports a timing divergence beyond the factor in either
// direction.
func slowdown(s, t models.InteractionStep) bool {
	if s.Elapsed <= 0 || t.Elapsed <= 0 {
		return false
	}
	ratio := float64(t.Elapsed) / float64(s.Elapsed)
	return ratio > timingFactor || ratio < 1/timingFactor
}

func stepDisc(scenario string, step int, severity models.Severity, kind models.DiscrepancyKind, description string) models.Discrepancy {
	return models.Discrepancy{
		Kind:          kind,
		Severity:      severity,
		Description:   description,
		SourceElement: fmt.Sprintf("%s#%d", scenario, step),
		TargetElement: fmt.Sprintf("%s#%d", scenario, step),
		Confidence:    1.0,
		Component:     models.ComponentBehavioral,
	}
}
