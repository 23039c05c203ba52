// Package pipeline is the session executor: it drives a claimed session
// through static analysis, semantic comparison, optional behavioral
// probing, and fidelity synthesis, publishing progress along the way.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luissimon96/migration-validator/pkg/analysis"
	"github.com/luissimon96/migration-validator/pkg/behavioral"
	"github.com/luissimon96/migration-validator/pkg/cache"
	"github.com/luissimon96/migration-validator/pkg/compare"
	"github.com/luissimon96/migration-validator/pkg/config"
	"github.com/luissimon96/migration-validator/pkg/llm"
	"github.com/luissimon96/migration-validator/pkg/metrics"
	"github.com/luissimon96/migration-validator/pkg/models"
	"github.com/luissimon96/migration-validator/pkg/queue"
	"github.com/luissimon96/migration-validator/pkg/services"
	"github.com/luissimon96/migration-validator/pkg/session"
	"github.com/luissimon96/migration-validator/pkg/synthesis"
)

// Executor implements queue.SessionExecutor.
type Executor struct {
	dispatcher        *llm.Dispatcher
	store             *cache.Store
	prober            behavioral.Prober
	manager           *session.Manager
	results           *services.ResultService
	behavioralResults *services.BehavioralResultService
	budget            *llm.BudgetTracker
	limits            *config.LimitsConfig
	behavioralCfg     *config.BehavioralConfig
}

// NewExecutor wires the pipeline. prober may be nil when behavioral
// validation is disabled.
func NewExecutor(
	dispatcher *llm.Dispatcher,
	store *cache.Store,
	prober behavioral.Prober,
	manager *session.Manager,
	results *services.ResultService,
	behavioralResults *services.BehavioralResultService,
	budget *llm.BudgetTracker,
	limits *config.LimitsConfig,
	behavioralCfg *config.BehavioralConfig,
) *Executor {
	return &Executor{
		dispatcher:        dispatcher,
		store:             store,
		prober:            prober,
		manager:           manager,
		results:           results,
		behavioralResults: behavioralResults,
		budget:            budget,
		limits:            limits,
		behavioralCfg:     behavioralCfg,
	}
}

// Execute runs the pipeline for one session. Recoverable stage failures
// become stage-level error results; only infrastructure failures (result
// persistence) fail the session.
func (e *Executor) Execute(ctx context.Context, sess *models.Session) *queue.ExecutionResult {
	defer func() {
		if e.budget != nil {
			e.budget.Release(sess.ID)
		}
	}()

	deadline, _ := ctx.Deadline()

	var (
		staticResult     *models.StageResult
		behavioralResult *models.StageResult
	)

	if sess.Scope != models.ScopeBehavioral {
		staticResult = e.runStaticStage(ctx, sess, deadline)
		if aborted := ctxResult(ctx); aborted != nil {
			return aborted
		}
	}

	if sess.Scope.RequiresBehavioral() {
		behavioralResult = e.runBehavioralStage(ctx, sess)
		if aborted := ctxResult(ctx); aborted != nil {
			return aborted
		}
	}

	e.manager.Log(ctx, sess.ID, models.LogInfo, "synthesizing unified result", nil)
	unified, err := synthesis.Synthesize(staticResult, behavioralResult, sess.Scope, nil)
	if err != nil {
		return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
	}

	// Partial results of a cancelled session are discarded: re-check
	// before the final commit.
	if aborted := ctxResult(ctx); aborted != nil {
		return aborted
	}
	if err := e.results.SaveUnifiedResult(context.WithoutCancel(ctx), sess.ID, unified); err != nil {
		return &queue.ExecutionResult{Status: models.StatusFailed, Error: fmt.Errorf("persisting result: %w", err)}
	}

	e.manager.Log(ctx, sess.ID, models.LogInfo, "validation finished", map[string]any{
		"overall_status": string(unified.Status),
		"fidelity_score": unified.FidelityScore,
	})
	return &queue.ExecutionResult{Status: models.StatusCompleted}
}

// runStaticStage analyzes both sides and compares the representations.
// Failures yield a stage result in error status rather than aborting the
// session.
func (e *Executor) runStaticStage(ctx context.Context, sess *models.Session, deadline time.Time) *models.StageResult {
	start := time.Now()
	e.manager.Log(ctx, sess.ID, models.LogInfo, "static stage started", nil)

	registry := analysis.NewRegistry()
	registry.Register("*", analysis.NewLLMCodeAnalyzer(e.dispatcher, sess.ID, deadline))
	visual := analysis.NewLLMVisualAnalyzer(e.dispatcher, sess.ID, deadline)

	parallelism := 4
	if e.limits != nil {
		parallelism = e.limits.AnalysisParallelism
	}
	runner := analysis.NewRunner(registry, visual, e.store, parallelism, e.manager, sess.ID)

	sourceRep, targetRep, err := runner.AnalyzeBoth(ctx, sess.Source, sess.Target, sess.Scope)
	if err != nil {
		return e.stageError(ctx, sess, models.StageStatic, start, err)
	}
	if sourceRep.Partial || targetRep.Partial {
		e.manager.Log(ctx, sess.ID, models.LogWarn, "analysis produced partial representations", nil)
	}

	comparator := compare.New(e.dispatcher, sess.ID, deadline)
	result, err := comparator.Compare(ctx, sourceRep, targetRep, sess.Scope)
	if err != nil {
		return e.stageError(ctx, sess, models.StageStatic, start, err)
	}

	metrics.ObserveStageDuration(string(models.StageStatic), result.ExecutionSecs)
	e.manager.Log(ctx, sess.ID, models.LogInfo, "static stage finished", map[string]any{
		"fidelity_score": result.FidelityScore,
		"discrepancies":  len(result.Discrepancies),
	})
	return result
}

// runBehavioralStage probes both deployments and compares traces.
func (e *Executor) runBehavioralStage(ctx context.Context, sess *models.Session) *models.StageResult {
	start := time.Now()
	e.manager.Log(ctx, sess.ID, models.LogInfo, "behavioral stage started", map[string]any{
		"scenarios": len(sess.Behavioral.Scenarios),
	})

	if e.prober == nil {
		return e.stageError(ctx, sess, models.StageBehavioral, start,
			errors.New("no behavioral prober configured"))
	}

	scenarioTimeout := 2 * time.Minute
	scenarioMinimum := time.Duration(0)
	if e.behavioralCfg != nil {
		scenarioTimeout = e.behavioralCfg.ScenarioTimeout
		scenarioMinimum = e.behavioralCfg.ScenarioMinimum
	}
	runner := behavioral.NewRunner(e.prober, scenarioTimeout, scenarioMinimum)

	result, outcomes, err := runner.Probe(ctx, sess.Behavioral)
	if err != nil {
		return e.stageError(ctx, sess, models.StageBehavioral, start, err)
	}

	if err := e.behavioralResults.SaveOutcomes(context.WithoutCancel(ctx), sess.ID, outcomes); err != nil {
		e.manager.Log(ctx, sess.ID, models.LogWarn, "failed to persist behavioral outcomes", map[string]any{
			"error": err.Error(),
		})
	}

	metrics.ObserveStageDuration(string(models.StageBehavioral), result.ExecutionSecs)
	e.manager.Log(ctx, sess.ID, models.LogInfo, "behavioral stage finished", map[string]any{
		"fidelity_score": result.FidelityScore,
	})
	return result
}

// stageError converts a stage failure into an error-status stage result
// so the session still produces a structurally complete verdict.
func (e *Executor) stageError(ctx context.Context, sess *models.Session, kind models.StageKind, start time.Time, err error) *models.StageResult {
	e.manager.Log(ctx, sess.ID, models.LogError, string(kind)+" stage failed", map[string]any{
		"error": err.Error(),
	})
	return &models.StageResult{
		Kind:          kind,
		Status:        models.ResultError,
		ErrorReason:   err.Error(),
		Summary:       fmt.Sprintf("%s stage failed: %v", kind, err),
		ExecutionSecs: time.Since(start).Seconds(),
	}
}

// ctxResult maps context termination onto the session's terminal status.
func ctxResult(ctx context.Context) *queue.ExecutionResult {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &queue.ExecutionResult{Status: models.StatusTimedOut, Error: ctx.Err()}
	case errors.Is(ctx.Err(), context.Canceled):
		return &queue.ExecutionResult{Status: models.StatusCancelled, Error: ctx.Err()}
	}
	return nil
}
