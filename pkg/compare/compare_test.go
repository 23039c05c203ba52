package compare

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luissimon96/migration-validator/pkg/models"
)

func kinds(discs []models.Discrepancy) []models.DiscrepancyKind {
	out := make([]models.DiscrepancyKind, len(discs))
	for i, d := range discs {
		out[i] = d.Kind
	}
	return out
}

func findKind(discs []models.Discrepancy, kind models.DiscrepancyKind) *models.Discrepancy {
	for i := range discs {
		if discs[i].Kind == kind {
			return &discs[i]
		}
	}
	return nil
}

// Static UI-only rename: a renamed input and a relabelled button yield two
// warnings, an approved-with-warnings verdict, and a 0.5 score.
func TestUIRenameScenario(t *testing.T) {
	source := &models.Representation{UIElements: []models.UIElement{
		{Kind: "input", ID: "user_name", Text: "User Name"},
		{Kind: "button", ID: "submit_btn", Text: "Submit"},
	}}
	target := &models.Representation{UIElements: []models.UIElement{
		{Kind: "input", ID: "userName", Text: "User Name"},
		{Kind: "button", ID: "submit_btn", Text: "Save"},
	}}

	result, err := New(nil, "s", noDeadline()).Compare(context.Background(), source, target, models.ScopeUI)
	require.NoError(t, err)

	require.Len(t, result.Discrepancies, 2, "got %v", kinds(result.Discrepancies))
	renamed := findKind(result.Discrepancies, models.DiscUIElementRenamed)
	require.NotNil(t, renamed)
	assert.Equal(t, models.SeverityWarning, renamed.Severity)

	text := findKind(result.Discrepancies, models.DiscUITextChanged)
	require.NotNil(t, text)
	assert.Equal(t, models.SeverityWarning, text.Severity)

	assert.Equal(t, models.ResultWithWarnings, result.Status)
	assert.InDelta(t, 0.5, result.FidelityScore, 1e-9)
}

// Data-structure type tightening: float → int is critical and zeroes the
// score.
func TestTypeTighteningScenario(t *testing.T) {
	source := &models.Representation{Structures: []models.DataStructure{{
		Name: "Product", Fields: []models.Field{{Name: "price", Type: "float", Required: true}},
	}}}
	target := &models.Representation{Structures: []models.DataStructure{{
		Name: "Product", Fields: []models.Field{{Name: "price", Type: "int", Required: true}},
	}}}

	result, err := New(nil, "s", noDeadline()).Compare(context.Background(), source, target, models.ScopeDataStructure)
	require.NoError(t, err)

	mismatch := findKind(result.Discrepancies, models.DiscTypeMismatch)
	require.NotNil(t, mismatch)
	assert.Equal(t, models.SeverityCritical, mismatch.Severity)
	assert.Equal(t, models.ResultRejected, result.Status)
	assert.InDelta(t, 0.0, result.FidelityScore, 1e-9)
}

// API endpoint method removal is critical and rejects.
func TestMethodRemovalScenario(t *testing.T) {
	source := &models.Representation{Endpoints: []models.APIEndpoint{
		{Path: "/api/products", Methods: []string{"GET", "POST"}, Handler: "h1"},
	}}
	target := &models.Representation{Endpoints: []models.APIEndpoint{
		{Path: "/api/products", Methods: []string{"GET"}, Handler: "h1"},
	}}

	result, err := New(nil, "s", noDeadline()).Compare(context.Background(), source, target, models.ScopeAPI)
	require.NoError(t, err)

	missing := findKind(result.Discrepancies, models.DiscMissingMethod)
	require.NotNil(t, missing)
	assert.Equal(t, models.SeverityCritical, missing.Severity)
	assert.Equal(t, models.ResultRejected, result.Status)
	assert.LessOrEqual(t, result.FidelityScore, 0.5)
}

func TestIdenticalRepresentationsApprove(t *testing.T) {
	rep := &models.Representation{
		Functions: []models.BackendFunction{{Name: "calcTotal", Parameters: []models.Parameter{{Name: "items", Type: "list"}}}},
		Endpoints: []models.APIEndpoint{{Path: "/api/orders", Methods: []string{"GET"}}},
	}
	result, err := New(nil, "s", noDeadline()).Compare(context.Background(), rep, rep, models.ScopeBackendLogic)
	require.NoError(t, err)
	assert.Empty(t, result.Discrepancies)
	assert.Equal(t, models.ResultApproved, result.Status)
	assert.InDelta(t, 1.0, result.FidelityScore, 1e-9)
}

func TestMissingAndAdditionalElements(t *testing.T) {
	source := &models.Representation{Functions: []models.BackendFunction{
		{Name: "createUser"}, {Name: "deleteUser"},
	}}
	target := &models.Representation{Functions: []models.BackendFunction{
		{Name: "create_user"}, {Name: "auditUser"},
	}}

	result, err := New(nil, "s", noDeadline()).Compare(context.Background(), source, target, models.ScopeBackendLogic)
	require.NoError(t, err)

	// create_user pairs by normalized identity; deleteUser is missing,
	// auditUser is additional.
	missing := findKind(result.Discrepancies, models.DiscMissingElement)
	require.NotNil(t, missing)
	assert.Equal(t, "deleteUser", missing.SourceElement)

	additional := findKind(result.Discrepancies, models.DiscAdditionalElement)
	require.NotNil(t, additional)
	assert.Equal(t, "auditUser", additional.TargetElement)
}

func TestIdentityTieBreakEarliestWins(t *testing.T) {
	sourceKeys := []string{"user"}
	targetKeys := []string{"user", "user"}
	p := identityPair(sourceKeys, targetKeys, []string{"user"}, []string{"userA", "userB"})
	require.Len(t, p.pairs, 1)
	assert.Equal(t, 0, p.pairs[0].t, "earliest target in input order wins")
	assert.Equal(t, []int{1}, p.targetOnly)
}

func TestNumericWideningIsWarning(t *testing.T) {
	source := &models.Representation{Structures: []models.DataStructure{{
		Name: "Order", Fields: []models.Field{{Name: "qty", Type: "int", Required: false}},
	}}}
	target := &models.Representation{Structures: []models.DataStructure{{
		Name: "Order", Fields: []models.Field{{Name: "qty", Type: "bigint", Required: false}},
	}}}

	result, err := New(nil, "s", noDeadline()).Compare(context.Background(), source, target, models.ScopeBackendLogic)
	require.NoError(t, err)
	mismatch := findKind(result.Discrepancies, models.DiscTypeMismatch)
	require.NotNil(t, mismatch)
	assert.Equal(t, models.SeverityWarning, mismatch.Severity)
}

func TestRequiredFlagChanges(t *testing.T) {
	source := &models.Representation{Structures: []models.DataStructure{{
		Name: "User", Fields: []models.Field{
			{Name: "email", Type: "string", Required: false},
			{Name: "name", Type: "string", Required: true},
		},
	}}}
	target := &models.Representation{Structures: []models.DataStructure{{
		Name: "User", Fields: []models.Field{
			{Name: "email", Type: "string", Required: true},
			{Name: "name", Type: "string", Required: false},
		},
	}}}

	result, err := New(nil, "s", noDeadline()).Compare(context.Background(), source, target, models.ScopeBackendLogic)
	require.NoError(t, err)

	tightened := findKind(result.Discrepancies, models.DiscRequiredTightened)
	require.NotNil(t, tightened)
	assert.Equal(t, models.SeverityCritical, tightened.Severity)

	relaxed := findKind(result.Discrepancies, models.DiscRequiredRelaxed)
	require.NotNil(t, relaxed)
	assert.Equal(t, models.SeverityWarning, relaxed.Severity)
}

func TestNoCriticalUnderUIScope(t *testing.T) {
	source := &models.Representation{UIElements: []models.UIElement{
		{Kind: "input", ID: "email"},
	}}
	target := &models.Representation{UIElements: []models.UIElement{
		{Kind: "button", ID: "email"},
	}}

	result, err := New(nil, "s", noDeadline()).Compare(context.Background(), source, target, models.ScopeUI)
	require.NoError(t, err)
	for _, d := range result.Discrepancies {
		assert.NotEqual(t, models.SeverityCritical, d.Severity,
			"no change-kind may be critical under the ui scope: %v", d.Kind)
	}
}

func TestUIAttributeSensitivity(t *testing.T) {
	source := &models.Representation{UIElements: []models.UIElement{
		{Kind: "input", ID: "email", Attributes: map[string]string{"required": "true", "placeholder": "Email"}},
	}}
	target := &models.Representation{UIElements: []models.UIElement{
		{Kind: "input", ID: "email", Attributes: map[string]string{"required": "false", "placeholder": "Your email"}},
	}}

	result, err := New(nil, "s", noDeadline()).Compare(context.Background(), source, target, models.ScopeFull)
	require.NoError(t, err)

	var requiredSeverity, placeholderSeverity models.Severity
	for _, d := range result.Discrepancies {
		if d.Kind != models.DiscUIAttrChanged {
			continue
		}
		if containsAttr(d.Description, "required") {
			requiredSeverity = d.Severity
		} else {
			placeholderSeverity = d.Severity
		}
	}
	assert.Equal(t, models.SeverityWarning, requiredSeverity)
	assert.Equal(t, models.SeverityInfo, placeholderSeverity)
}

func containsAttr(desc, attr string) bool {
	return strings.Contains(desc, `"`+attr+`"`)
}

func TestScoreRounding(t *testing.T) {
	assert.Equal(t, 0.3333, round4(1.0/3.0))
	assert.Equal(t, 1.0, round4(0.99999))
}

func noDeadline() time.Time { return time.Time{} }
