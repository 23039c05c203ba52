package analysis

import (
	"context"
	"regexp"
	"strings"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// RegexAnalyzer is the last-resort extractor used when no model output is
// available. It only finds function and endpoint declarations for a few
// common languages; everything it emits is tagged "regex-fallback".
type RegexAnalyzer struct{}

// NewRegexAnalyzer creates the fallback analyzer.
func NewRegexAnalyzer() *RegexAnalyzer {
	return &RegexAnalyzer{}
}

var functionPatterns = map[string]*regexp.Regexp{
	"python":     regexp.MustCompile(`(?m)^\s*def\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`),
	"go":         regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s+)?([A-Za-z_]\w*)\s*\(([^)]*)\)`),
	"java":       regexp.MustCompile(`(?m)(?:public|private|protected)\s+[\w<>\[\]]+\s+([a-zA-Z_]\w*)\s*\(([^)]*)\)`),
	"javascript": regexp.MustCompile(`(?m)function\s+([A-Za-z_$][\w$]*)\s*\(([^)]*)\)`),
	"typescript": regexp.MustCompile(`(?m)function\s+([A-Za-z_$][\w$]*)\s*\(([^)]*)\)`),
	"csharp":     regexp.MustCompile(`(?m)(?:public|private|protected|internal)\s+[\w<>\[\]]+\s+([A-Z]\w*)\s*\(([^)]*)\)`),
}

// routePattern catches decorator/annotation style route declarations
// across frameworks (Flask, Spring, Express-like).
var routePattern = regexp.MustCompile(`(?m)(?:@(?:app\.)?(?:route|(?:Get|Post|Put|Delete|Request)Mapping)|\.(?:get|post|put|delete))\s*\(\s*["']([^"']+)["']`)

// Analyze extracts what the patterns can find. It never fails; an unknown
// language yields an empty representation.
func (r *RegexAnalyzer) Analyze(_ context.Context, file models.Artifact, _ models.Scope) (*models.Representation, error) {
	rep := &models.Representation{}
	content := string(file.Content)

	if pattern, ok := functionPatterns[strings.ToLower(file.Language)]; ok {
		for _, match := range pattern.FindAllStringSubmatch(content, -1) {
			fn := models.BackendFunction{
				Name:           match[1],
				Complexity:     models.ComplexityLow,
				AnalysisMethod: "regex-fallback",
			}
			for _, raw := range strings.Split(match[2], ",") {
				raw = strings.TrimSpace(raw)
				if raw == "" || raw == "self" {
					continue
				}
				fn.Parameters = append(fn.Parameters, parseParameter(raw))
			}
			rep.Functions = append(rep.Functions, fn)
		}
	}

	for _, match := range routePattern.FindAllStringSubmatch(content, -1) {
		rep.Endpoints = append(rep.Endpoints, models.APIEndpoint{
			Path:           match[1],
			Methods:        []string{"GET"},
			AnalysisMethod: "regex-fallback",
		})
	}

	return rep, nil
}

// parseParameter splits "name: type", "type name", or bare "name" forms.
func parseParameter(raw string) models.Parameter {
	if idx := strings.Index(raw, ":"); idx >= 0 {
		return models.Parameter{
			Name: strings.TrimSpace(raw[:idx]),
			Type: strings.TrimSpace(raw[idx+1:]),
		}
	}
	parts := strings.Fields(raw)
	if len(parts) == 2 {
		return models.Parameter{Name: parts[1], Type: parts[0]}
	}
	return models.Parameter{Name: raw}
}
