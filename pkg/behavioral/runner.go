package behavioral

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luissimon96/migration-validator/pkg/models"
	"github.com/luissimon96/migration-validator/pkg/services"
)

// criticalPenalty is subtracted from a scenario's score per critical
// divergence.
const criticalPenalty = 0.2

// Runner executes the behavioral stage for one session.
type Runner struct {
	prober Prober
	// scenarioTimeout is the default per-scenario deadline when the
	// scenario does not carry its own.
	scenarioTimeout time.Duration
	// scenarioMinimum refuses scenarios when less deadline remains.
	scenarioMinimum time.Duration
}

// NewRunner builds a behavioral stage runner.
func NewRunner(prober Prober, scenarioTimeout, scenarioMinimum time.Duration) *Runner {
	if scenarioTimeout <= 0 {
		scenarioTimeout = 2 * time.Minute
	}
	return &Runner{prober: prober, scenarioTimeout: scenarioTimeout, scenarioMinimum: scenarioMinimum}
}

// Probe runs every scenario sequentially (browser sessions are expensive);
// within a scenario the source and target runs execute in parallel. A
// prober failure zeroes that scenario and the stage continues.
func (r *Runner) Probe(ctx context.Context, cfg *models.BehavioralConfig) (*models.StageResult, []services.ScenarioOutcome, error) {
	if cfg == nil || len(cfg.Scenarios) == 0 {
		return nil, nil, fmt.Errorf("behavioral stage requires at least one scenario")
	}
	start := time.Now()

	result := &models.StageResult{Kind: models.StageBehavioral}
	outcomes := make([]services.ScenarioOutcome, 0, len(cfg.Scenarios))

	for _, scenario := range cfg.Scenarios {
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < r.scenarioMinimum {
			// Backpressure: not enough budget left to run another browser
			// scenario; record the refusal and go on to the next one.
			score := models.ScenarioScore{Name: scenario.Name, Error: "skipped: session deadline too close"}
			result.ScenarioScores = append(result.ScenarioScores, score)
			result.Discrepancies = append(result.Discrepancies, scenarioErrorDisc(scenario.Name, "session deadline too close to start scenario"))
			outcomes = append(outcomes, services.ScenarioOutcome{
				ScenarioName: scenario.Name, ExecutionStatus: "skipped",
				Error: "session deadline too close",
			})
			continue
		}

		outcome := r.runScenario(ctx, cfg, scenario)
		outcomes = append(outcomes, outcome.persisted)
		result.ScenarioScores = append(result.ScenarioScores, outcome.score)
		result.Discrepancies = append(result.Discrepancies, outcome.discrepancies...)
	}

	var sum float64
	for _, s := range result.ScenarioScores {
		sum += s.Score
	}
	result.FidelityScore = round4(sum / float64(len(result.ScenarioScores)))
	result.Status = projectStatus(result)
	result.Summary = fmt.Sprintf("behavioral comparison: %d scenarios, fidelity %.4f",
		len(result.ScenarioScores), result.FidelityScore)
	result.ExecutionSecs = time.Since(start).Seconds()
	return result, outcomes, nil
}

// scenarioRun bundles one scenario's results.
type scenarioRun struct {
	score         models.ScenarioScore
	discrepancies []models.Discrepancy
	persisted     services.ScenarioOutcome
}

func (r *Runner) runScenario(ctx context.Context, cfg *models.BehavioralConfig, scenario models.Scenario) scenarioRun {
	timeout := scenario.Timeout
	if timeout <= 0 {
		timeout = cfg.Timeout
	}
	if timeout <= 0 {
		timeout = r.scenarioTimeout
	}
	scenarioCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var sourceTrace, targetTrace *models.Trace

	g, gctx := errgroup.WithContext(scenarioCtx)
	g.Go(func() error {
		var err error
		sourceTrace, err = r.prober.RunScenario(gctx, cfg.SourceURL, scenario, cfg.Credentials)
		return err
	})
	g.Go(func() error {
		var err error
		targetTrace, err = r.prober.RunScenario(gctx, cfg.TargetURL, scenario, cfg.Credentials)
		return err
	})
	err := g.Wait()
	duration := time.Since(start)

	run := scenarioRun{
		persisted: services.ScenarioOutcome{
			ScenarioName: scenario.Name,
			SourceTrace:  sourceTrace,
			TargetTrace:  targetTrace,
			Duration:     duration,
		},
	}

	if err != nil {
		reason := err.Error()
		if scenarioCtx.Err() != nil && ctx.Err() == nil {
			reason = fmt.Sprintf("scenario deadline of %s exceeded", timeout)
			run.discrepancies = append(run.discrepancies, timeoutDisc(scenario.Name, reason))
		} else {
			run.discrepancies = append(run.discrepancies, scenarioErrorDisc(scenario.Name, reason))
		}
		run.score = models.ScenarioScore{Name: scenario.Name, Error: reason}
		run.persisted.ExecutionStatus = "error"
		run.persisted.Error = reason
		return run
	}

	score, discs := CompareTraces(scenario.Name, sourceTrace, targetTrace)
	run.score = score
	run.discrepancies = discs
	run.persisted.ExecutionStatus = "completed"
	run.persisted.Comparison = &score
	return run
}

func projectStatus(result *models.StageResult) models.OverallStatus {
	criticals := result.CriticalCount()
	switch {
	case criticals > 0:
		return models.ResultRejected
	case result.FidelityScore >= 0.95:
		return models.ResultApproved
	default:
		return models.ResultWithWarnings
	}
}

func scenarioErrorDisc(scenario, reason string) models.Discrepancy {
	return models.Discrepancy{
		Kind:          models.DiscScenarioError,
		Severity:      models.SeverityCritical,
		Description:   fmt.Sprintf("scenario %q could not run: %s", scenario, reason),
		SourceElement: scenario,
		Confidence:    1.0,
		Component:     models.ComponentBehavioral,
	}
}

func timeoutDisc(scenario, reason string) models.Discrepancy {
	return models.Discrepancy{
		Kind:          models.DiscScenarioError,
		Severity:      models.SeverityCritical,
		Description:   fmt.Sprintf("scenario %q cancelled: %s", scenario, reason),
		SourceElement: scenario,
		Confidence:    1.0,
		Component:     models.ComponentBehavioral,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
