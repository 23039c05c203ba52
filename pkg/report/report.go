// Package report renders a unified validation result as JSON, Markdown,
// or HTML.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// Format selects the rendering.
type Format string

// Supported formats.
const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

// ParseFormat validates a format query value. Empty defaults to JSON.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(raw) {
	case "", "json":
		return FormatJSON, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", raw)
	}
}

// ContentType returns the HTTP content type for a format.
func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "application/json"
	}
}

// reportData is the template input.
type reportData struct {
	RequestID string
	Result    *models.UnifiedResult
}

// Render produces the report bytes in the requested format.
func Render(requestID string, result *models.UnifiedResult, format Format) ([]byte, error) {
	switch format {
	case FormatMarkdown:
		return renderTemplate(markdownTmpl, requestID, result)
	case FormatHTML:
		var buf bytes.Buffer
		if err := htmlTmpl.Execute(&buf, reportData{RequestID: requestID, Result: result}); err != nil {
			return nil, fmt.Errorf("rendering html report: %w", err)
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(struct {
			RequestID string                `json:"request_id"`
			Result    *models.UnifiedResult `json:"result"`
		}{requestID, result}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("rendering json report: %w", err)
		}
		return data, nil
	}
}

func renderTemplate(tmpl *texttemplate.Template, requestID string, result *models.UnifiedResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, reportData{RequestID: requestID, Result: result}); err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}
	return buf.Bytes(), nil
}

var tmplFuncs = texttemplate.FuncMap{
	"pct": func(v float64) string { return fmt.Sprintf("%.2f%%", v*100) },
}

var markdownTmpl = texttemplate.Must(texttemplate.New("md").Funcs(tmplFuncs).Parse(`# Migration Validation Report

- **Request**: {{.RequestID}}
- **Verdict**: {{.Result.Status}}
- **Fidelity**: {{pct .Result.FidelityScore}}
- **Kind**: {{.Result.Kind}}
- **Generated**: {{.Result.Timestamp.Format "2006-01-02 15:04:05 MST"}}

{{.Result.Summary}}
{{if .Result.ErrorNote}}
> ⚠ {{.Result.ErrorNote}}
{{end}}
{{if .Result.Static}}
## Static stage

- Status: {{.Result.Static.Status}}
- Fidelity: {{pct .Result.Static.FidelityScore}}
- Execution: {{printf "%.1fs" .Result.Static.ExecutionSecs}}
{{end}}{{if .Result.Behavioral}}
## Behavioral stage

- Status: {{.Result.Behavioral.Status}}
- Fidelity: {{pct .Result.Behavioral.FidelityScore}}
{{range .Result.Behavioral.ScenarioScores}}- Scenario {{.Name}}: {{pct .Score}} ({{.MatchedSteps}}/{{.TotalSteps}} steps{{if .Error}}, error: {{.Error}}{{end}})
{{end}}{{end}}
## Discrepancies ({{len .Result.Discrepancies}})

{{if .Result.Discrepancies}}| Severity | Kind | Description |
|---|---|---|
{{range .Result.Discrepancies}}| {{.Severity}} | {{.Kind}} | {{.Description}} |
{{end}}{{else}}None found.
{{end}}`))

var htmlTmpl = template.Must(template.New("html").Funcs(template.FuncMap(tmplFuncs)).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Migration Validation Report {{.RequestID}}</title>
<style>
body { font-family: sans-serif; margin: 2rem auto; max-width: 60rem; color: #222; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; }
.critical { color: #b00020; font-weight: bold; }
.warning { color: #9a6700; }
.info { color: #555; }
.verdict { font-size: 1.2rem; }
</style>
</head>
<body>
<h1>Migration Validation Report</h1>
<p class="verdict">Request <code>{{.RequestID}}</code> — <strong>{{.Result.Status}}</strong> at {{pct .Result.FidelityScore}} fidelity</p>
<p>{{.Result.Summary}}</p>
{{if .Result.ErrorNote}}<p class="warning">{{.Result.ErrorNote}}</p>{{end}}
<h2>Discrepancies ({{len .Result.Discrepancies}})</h2>
{{if .Result.Discrepancies}}
<table>
<tr><th>Severity</th><th>Kind</th><th>Description</th><th>Recommendation</th></tr>
{{range .Result.Discrepancies}}
<tr><td class="{{.Severity}}">{{.Severity}}</td><td>{{.Kind}}</td><td>{{.Description}}</td><td>{{.Recommendation}}</td></tr>
{{end}}
</table>
{{else}}<p>None found.</p>{{end}}
</body>
</html>`))
