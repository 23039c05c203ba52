package synthesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luissimon96/migration-validator/pkg/models"
)

func stage(kind models.StageKind, score float64, status models.OverallStatus) *models.StageResult {
	return &models.StageResult{Kind: kind, FidelityScore: score, Status: status, ExecutionSecs: 1}
}

// Hybrid pass: 0.6·0.96 + 0.4·0.92 = 0.944, approved with warnings.
func TestHybridDefaultWeights(t *testing.T) {
	static := stage(models.StageStatic, 0.96, models.ResultApproved)
	behavioral := stage(models.StageBehavioral, 0.92, models.ResultWithWarnings)

	result, err := Synthesize(static, behavioral, models.ScopeFull, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ResultHybrid, result.Kind)
	assert.InDelta(t, 0.944, result.FidelityScore, 1e-9)
	assert.Equal(t, models.ResultWithWarnings, result.Status)
}

func TestWeightOverride(t *testing.T) {
	static := stage(models.StageStatic, 1.0, models.ResultApproved)
	behavioral := stage(models.StageBehavioral, 0.5, models.ResultWithWarnings)

	result, err := Synthesize(static, behavioral, models.ScopeFull, &Weights{Static: 0.5, Behavioral: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, result.FidelityScore, 1e-9)
}

func TestWeightsAreNormalized(t *testing.T) {
	static := stage(models.StageStatic, 1.0, models.ResultApproved)
	behavioral := stage(models.StageBehavioral, 0.0, models.ResultRejected)

	result, err := Synthesize(static, behavioral, models.ScopeFull, &Weights{Static: 3, Behavioral: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, result.FidelityScore, 1e-9)
}

func TestStaticOnly(t *testing.T) {
	static := stage(models.StageStatic, 0.97, models.ResultApproved)
	result, err := Synthesize(static, nil, models.ScopeBackendLogic, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ResultStaticOnly, result.Kind)
	assert.InDelta(t, 0.97, result.FidelityScore, 1e-9)
	assert.Equal(t, models.ResultApproved, result.Status)
}

func TestCriticalNeverApproves(t *testing.T) {
	static := stage(models.StageStatic, 0.99, models.ResultApproved)
	static.Discrepancies = []models.Discrepancy{{
		Kind: models.DiscTypeMismatch, Severity: models.SeverityCritical, Description: "d", SourceElement: "x", Confidence: 1,
	}}

	result, err := Synthesize(static, nil, models.ScopeFull, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ResultRejected, result.Status)
	assert.NotEqual(t, models.ResultApproved, result.Status)
}

func TestErroredStageWithApprovedOther(t *testing.T) {
	static := stage(models.StageStatic, 0.98, models.ResultApproved)
	behavioral := stage(models.StageBehavioral, 0, models.ResultError)
	behavioral.ErrorReason = "prober unavailable"

	result, err := Synthesize(static, behavioral, models.ScopeFull, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ResultWithWarnings, result.Status)
	assert.Contains(t, result.ErrorNote, "prober unavailable")
	assert.InDelta(t, 0.98, result.FidelityScore, 1e-9)
}

func TestErroredStageDegradesToRejected(t *testing.T) {
	static := stage(models.StageStatic, 0.85, models.ResultWithWarnings)
	behavioral := stage(models.StageBehavioral, 0, models.ResultError)
	behavioral.ErrorReason = "budget exhausted"

	result, err := Synthesize(static, behavioral, models.ScopeFull, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ResultRejected, result.Status)
	assert.NotEmpty(t, result.ErrorNote)
}

func TestNoStagesIsAnError(t *testing.T) {
	_, err := Synthesize(nil, nil, models.ScopeFull, nil)
	assert.Error(t, err)
}

func TestDiscrepanciesConcatenated(t *testing.T) {
	static := stage(models.StageStatic, 0.9, models.ResultWithWarnings)
	static.Discrepancies = []models.Discrepancy{{Kind: models.DiscUITextChanged, Severity: models.SeverityWarning, Description: "a", SourceElement: "x", Confidence: 1}}
	behavioral := stage(models.StageBehavioral, 0.9, models.ResultWithWarnings)
	behavioral.Discrepancies = []models.Discrepancy{{Kind: models.DiscMessageDivergence, Severity: models.SeverityWarning, Description: "b", SourceElement: "y", Confidence: 1}}

	result, err := Synthesize(static, behavioral, models.ScopeFull, nil)
	require.NoError(t, err)
	require.Len(t, result.Discrepancies, 2)
	assert.Equal(t, models.DiscUITextChanged, result.Discrepancies[0].Kind)
	assert.Equal(t, models.DiscMessageDivergence, result.Discrepancies[1].Kind)
}
