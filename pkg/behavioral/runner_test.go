package behavioral

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// stubProber returns scripted traces keyed by URL.
type stubProber struct {
	mu     sync.Mutex
	traces map[string]*models.Trace
	errs   map[string]error
	delay  time.Duration
	calls  int
}

func (p *stubProber) RunScenario(ctx context.Context, url string, scenario models.Scenario, _ *models.Credentials) (*models.Trace, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if err := p.errs[url]; err != nil {
		return nil, err
	}
	if trace, ok := p.traces[url]; ok {
		return trace, nil
	}
	return &models.Trace{Scenario: scenario.Name, URL: url}, nil
}

func step(outcome, state string) models.InteractionStep {
	return models.InteractionStep{Kind: "click", Outcome: outcome, StateFingerprint: state, Elapsed: 10 * time.Millisecond}
}

func behavioralCfg(scenarios ...string) *models.BehavioralConfig {
	cfg := &models.BehavioralConfig{SourceURL: "http://src", TargetURL: "http://tgt"}
	for _, name := range scenarios {
		cfg.Scenarios = append(cfg.Scenarios, models.Scenario{Name: name})
	}
	return cfg
}

func TestProbeIdenticalTraces(t *testing.T) {
	trace := &models.Trace{Steps: []models.InteractionStep{step("ok", "a"), step("ok", "b")}}
	prober := &stubProber{traces: map[string]*models.Trace{"http://src": trace, "http://tgt": trace}}

	result, outcomes, err := NewRunner(prober, time.Minute, 0).Probe(context.Background(), behavioralCfg("checkout"))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.FidelityScore, 1e-9)
	assert.Equal(t, models.ResultApproved, result.Status)
	assert.Empty(t, result.Discrepancies)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "completed", outcomes[0].ExecutionStatus)
}

func TestProbeStateDivergence(t *testing.T) {
	src := &models.Trace{Steps: []models.InteractionStep{step("ok", "a"), step("ok", "b")}}
	tgt := &models.Trace{Steps: []models.InteractionStep{step("ok", "a"), step("ok", "OTHER")}}
	prober := &stubProber{traces: map[string]*models.Trace{"http://src": src, "http://tgt": tgt}}

	result, _, err := NewRunner(prober, time.Minute, 0).Probe(context.Background(), behavioralCfg("checkout"))
	require.NoError(t, err)

	// 1 matched of 2 steps, one critical: 0.5 - 0.2 = 0.3.
	assert.InDelta(t, 0.3, result.FidelityScore, 1e-9)
	assert.Equal(t, models.ResultRejected, result.Status)
	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, models.SeverityCritical, result.Discrepancies[0].Severity)
}

func TestProbeProberErrorContinues(t *testing.T) {
	failing := &stubProber{errs: map[string]error{"http://src": errors.New("browser crashed")}}
	result, outcomes, err := NewRunner(failing, time.Minute, 0).Probe(context.Background(), behavioralCfg("login", "search"))
	require.NoError(t, err)

	require.Len(t, result.ScenarioScores, 2, "other scenarios continue after a prober failure")
	for _, s := range result.ScenarioScores {
		assert.Zero(t, s.Score)
		assert.NotEmpty(t, s.Error)
	}
	for _, o := range outcomes {
		assert.Equal(t, "error", o.ExecutionStatus)
	}
	assert.Equal(t, models.ResultRejected, result.Status)
}

func TestProbeScenarioTimeout(t *testing.T) {
	prober := &stubProber{delay: 200 * time.Millisecond}
	cfg := behavioralCfg("slow")
	cfg.Scenarios[0].Timeout = 30 * time.Millisecond

	result, _, err := NewRunner(prober, time.Minute, 0).Probe(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, result.ScenarioScores, 1)
	assert.Zero(t, result.ScenarioScores[0].Score)
	require.NotEmpty(t, result.Discrepancies)
	assert.Equal(t, models.SeverityCritical, result.Discrepancies[0].Severity)
}

func TestProbeRefusesWhenDeadlineTooClose(t *testing.T) {
	prober := &stubProber{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, outcomes, err := NewRunner(prober, time.Minute, 10*time.Second).Probe(ctx, behavioralCfg("a"))
	require.NoError(t, err)
	assert.Zero(t, prober.calls, "no scenario may start below the minimum deadline budget")
	require.Len(t, outcomes, 1)
	assert.Equal(t, "skipped", outcomes[0].ExecutionStatus)
	assert.Equal(t, models.ResultRejected, result.Status)
}

func TestProbeRequiresScenarios(t *testing.T) {
	_, _, err := NewRunner(&stubProber{}, time.Minute, 0).Probe(context.Background(), &models.BehavioralConfig{})
	assert.Error(t, err)
}

func TestCompareTracesValidationPresenceIsCritical(t *testing.T) {
	src := &models.Trace{Steps: []models.InteractionStep{{Outcome: "ok", StateFingerprint: "x", ValidationError: "email required"}}}
	tgt := &models.Trace{Steps: []models.InteractionStep{{Outcome: "ok", StateFingerprint: "y"}}}

	score, discs := CompareTraces("s", src, tgt)
	require.Len(t, discs, 1)
	assert.Equal(t, models.SeverityCritical, discs[0].Severity)
	assert.Zero(t, score.MatchedSteps)
}

func TestCompareTracesMessageTextIsWarning(t *testing.T) {
	src := &models.Trace{Steps: []models.InteractionStep{{Outcome: "ok", StateFingerprint: "x", ValidationError: "Email is required"}}}
	tgt := &models.Trace{Steps: []models.InteractionStep{{Outcome: "ok", StateFingerprint: "y", ValidationError: "Please enter an email"}}}

	_, discs := CompareTraces("s", src, tgt)
	require.Len(t, discs, 1)
	assert.Equal(t, models.SeverityWarning, discs[0].Severity)
	assert.Equal(t, models.DiscMessageDivergence, discs[0].Kind)
}

func TestCompareTracesTimingIsInfo(t *testing.T) {
	src := &models.Trace{Steps: []models.InteractionStep{{Outcome: "ok", StateFingerprint: "x", Elapsed: 10 * time.Millisecond}}}
	tgt := &models.Trace{Steps: []models.InteractionStep{{Outcome: "ok", StateFingerprint: "x", Elapsed: 50 * time.Millisecond}}}

	score, discs := CompareTraces("s", src, tgt)
	require.Len(t, discs, 1)
	assert.Equal(t, models.SeverityInfo, discs[0].Severity)
	assert.Equal(t, models.DiscTimingDivergence, discs[0].Kind)
	assert.InDelta(t, 1.0, score.Score, 1e-9, "timing-only divergence does not cost score")
}

func TestCompareTracesLengthMismatch(t *testing.T) {
	src := &models.Trace{Steps: []models.InteractionStep{step("ok", "a"), step("ok", "b")}}
	tgt := &models.Trace{Steps: []models.InteractionStep{step("ok", "a")}}

	score, discs := CompareTraces("s", src, tgt)
	require.Len(t, discs, 1)
	assert.Equal(t, models.SeverityCritical, discs[0].Severity)
	// 1 matched of 2, one critical: 0.5 - 0.2.
	assert.InDelta(t, 0.3, score.Score, 1e-9)
}
