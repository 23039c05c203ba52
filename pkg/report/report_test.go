package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luissimon96/migration-validator/pkg/models"
)

func sampleResult() *models.UnifiedResult {
	return &models.UnifiedResult{
		Kind:          models.ResultStaticOnly,
		Status:        models.ResultWithWarnings,
		FidelityScore: 0.875,
		Summary:       "static validation with warnings",
		Timestamp:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Discrepancies: []models.Discrepancy{{
			Kind:        models.DiscUITextChanged,
			Severity:    models.SeverityWarning,
			Description: "button text changed",
			Confidence:  1,
		}},
		Static: &models.StageResult{
			Kind: models.StageStatic, Status: models.ResultWithWarnings,
			FidelityScore: 0.875, ExecutionSecs: 3.2,
		},
	}
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{
		"": FormatJSON, "json": FormatJSON,
		"md": FormatMarkdown, "markdown": FormatMarkdown,
		"html": FormatHTML, "HTML": FormatHTML,
	} {
		got, err := ParseFormat(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

// JSON reports round-trip: parse(render(result)) == result.
func TestJSONRoundTrip(t *testing.T) {
	result := sampleResult()
	data, err := Render("req-1", result, FormatJSON)
	require.NoError(t, err)

	var decoded struct {
		RequestID string                `json:"request_id"`
		Result    *models.UnifiedResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "req-1", decoded.RequestID)
	assert.Equal(t, result.Status, decoded.Result.Status)
	assert.Equal(t, result.FidelityScore, decoded.Result.FidelityScore)
	assert.Equal(t, result.Discrepancies, decoded.Result.Discrepancies)
	assert.True(t, result.Timestamp.Equal(decoded.Result.Timestamp))
}

func TestMarkdownReport(t *testing.T) {
	data, err := Render("req-1", sampleResult(), FormatMarkdown)
	require.NoError(t, err)
	md := string(data)
	assert.Contains(t, md, "# Migration Validation Report")
	assert.Contains(t, md, "req-1")
	assert.Contains(t, md, "87.50%")
	assert.Contains(t, md, "button text changed")
}

func TestHTMLReportEscapes(t *testing.T) {
	result := sampleResult()
	result.Discrepancies[0].Description = `<script>alert("x")</script>`
	data, err := Render("req-1", result, FormatHTML)
	require.NoError(t, err)
	html := string(data)
	assert.NotContains(t, html, "<script>alert")
	assert.Contains(t, html, "&lt;script&gt;")
}
