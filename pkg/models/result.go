package models

import "time"

// Severity classifies a discrepancy.
type Severity string

// Discrepancy severities.
const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// DiscrepancyKind identifies the change class of a discrepancy.
type DiscrepancyKind string

// Discrepancy kinds emitted by the comparators.
const (
	DiscMissingElement    DiscrepancyKind = "missing_element"
	DiscAdditionalElement DiscrepancyKind = "additional_element"
	DiscFieldRenamed      DiscrepancyKind = "field_renamed"
	DiscTypeMismatch      DiscrepancyKind = "type_mismatch"
	DiscRequiredTightened DiscrepancyKind = "required_tightened"
	DiscRequiredRelaxed   DiscrepancyKind = "required_relaxed"
	DiscMissingConstraint DiscrepancyKind = "missing_constraint"
	DiscAddedConstraint   DiscrepancyKind = "added_constraint"
	DiscParamMismatch     DiscrepancyKind = "parameter_mismatch"
	DiscReturnMismatch    DiscrepancyKind = "return_type_mismatch"
	DiscLogicDivergence   DiscrepancyKind = "business_logic_divergence"
	DiscPathMismatch      DiscrepancyKind = "path_mismatch"
	DiscMissingMethod     DiscrepancyKind = "missing_http_method"
	DiscExtraMethod       DiscrepancyKind = "extra_http_method"
	DiscHandlerMismatch   DiscrepancyKind = "handler_mismatch"
	DiscUIKindMismatch    DiscrepancyKind = "ui_kind_mismatch"
	DiscUIElementRenamed  DiscrepancyKind = "ui_element_renamed"
	DiscUITextChanged     DiscrepancyKind = "ui_text_changed"
	DiscUIAttrChanged     DiscrepancyKind = "ui_attribute_changed"
	DiscStateDivergence   DiscrepancyKind = "state_divergence"
	DiscMessageDivergence DiscrepancyKind = "message_divergence"
	DiscTimingDivergence  DiscrepancyKind = "timing_divergence"
	DiscScenarioError     DiscrepancyKind = "scenario_error"
	DiscUnparseable       DiscrepancyKind = "unparseable_analysis"
)

// Component tags where a discrepancy was found.
type Component string

// Components.
const (
	ComponentUI         Component = "ui"
	ComponentBackend    Component = "backend"
	ComponentData       Component = "data"
	ComponentAPI        Component = "api"
	ComponentBehavioral Component = "behavioral"
)

// Discrepancy is one detected difference between source and target.
// At least one of SourceElement/TargetElement is set. Confidence defaults
// to 1.0 when the detector does not supply one.
type Discrepancy struct {
	ID             int64           `json:"-" db:"id"`
	Kind           DiscrepancyKind `json:"kind" db:"kind"`
	Severity       Severity        `json:"severity" db:"severity"`
	Description    string          `json:"description" db:"description"`
	SourceElement  string          `json:"source_element,omitempty" db:"source_element"`
	TargetElement  string          `json:"target_element,omitempty" db:"target_element"`
	Confidence     float64         `json:"confidence" db:"confidence"`
	Recommendation string          `json:"recommendation,omitempty" db:"recommendation"`
	Component      Component       `json:"component,omitempty" db:"component"`
	Context        map[string]any  `json:"validation_context,omitempty"`
}

// StageKind identifies a pipeline stage.
type StageKind string

// Stage kinds.
const (
	StageStatic     StageKind = "static"
	StageBehavioral StageKind = "behavioral"
)

// OverallStatus is the verdict of a stage or unified result.
type OverallStatus string

// Result statuses.
const (
	ResultApproved     OverallStatus = "approved"
	ResultWithWarnings OverallStatus = "approved_with_warnings"
	ResultRejected     OverallStatus = "rejected"
	ResultError        OverallStatus = "error"
)

// StageResult is the output of one pipeline stage. A rejected or error
// result carries at least one critical discrepancy or a non-empty
// ErrorReason.
type StageResult struct {
	Kind           StageKind       `json:"stage_kind"`
	Status         OverallStatus   `json:"status"`
	FidelityScore  float64         `json:"fidelity_score"`
	Summary        string          `json:"summary"`
	Discrepancies  []Discrepancy   `json:"discrepancies"`
	SourceRep      *Representation `json:"source_representation,omitempty"`
	TargetRep      *Representation `json:"target_representation,omitempty"`
	ExecutionSecs  float64         `json:"execution_time_seconds"`
	ErrorReason    string          `json:"error_reason,omitempty"`
	ScenarioScores []ScenarioScore `json:"scenario_scores,omitempty"`
}

// CriticalCount returns the number of critical discrepancies.
func (r *StageResult) CriticalCount() int {
	n := 0
	for _, d := range r.Discrepancies {
		if d.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// ScenarioScore is the per-scenario outcome of a behavioral stage.
type ScenarioScore struct {
	Name          string  `json:"name"`
	Score         float64 `json:"score"`
	MatchedSteps  int     `json:"matched_steps"`
	TotalSteps    int     `json:"total_steps"`
	CriticalCount int     `json:"critical_count"`
	Error         string  `json:"error,omitempty"`
}

// ResultKind distinguishes which stages produced a unified result.
type ResultKind string

// Result kinds.
const (
	ResultStaticOnly     ResultKind = "static_only"
	ResultBehavioralOnly ResultKind = "behavioral_only"
	ResultHybrid         ResultKind = "hybrid"
)

// UnifiedResult merges the per-stage results into the session verdict.
type UnifiedResult struct {
	Kind          ResultKind    `json:"result_kind"`
	Status        OverallStatus `json:"overall_status"`
	FidelityScore float64       `json:"fidelity_score"`
	Summary       string        `json:"summary"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	Static        *StageResult  `json:"static,omitempty"`
	Behavioral    *StageResult  `json:"behavioral,omitempty"`
	ExecutionSecs float64       `json:"execution_time_seconds"`
	Timestamp     time.Time     `json:"timestamp"`
	ErrorNote     string        `json:"error_annotation,omitempty"`
}

// InteractionStep is one step of a behavioral trace.
type InteractionStep struct {
	Kind             string        `json:"kind"`
	Selector         string        `json:"selector,omitempty"`
	Input            string        `json:"input,omitempty"`
	Outcome          string        `json:"outcome"`
	StateFingerprint string        `json:"state_fingerprint"`
	ValidationError  string        `json:"validation_error,omitempty"`
	Elapsed          time.Duration `json:"elapsed_ms"`
}

// Trace is the ordered interaction record of one scenario run on one side.
type Trace struct {
	Scenario string            `json:"scenario"`
	URL      string            `json:"url"`
	Steps    []InteractionStep `json:"steps"`
	Error    string            `json:"error,omitempty"`
}
