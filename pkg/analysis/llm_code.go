package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luissimon96/migration-validator/pkg/llm"
	"github.com/luissimon96/migration-validator/pkg/models"
)

const codeAnalysisSystemPrompt = `You are a static analyzer. Extract the program structure from the given source file and answer with strict JSON only, using this shape:
{
  "functions": [{"name": "", "parameters": [{"name": "", "type": ""}], "return_type": "", "http_method": "", "route": "", "logic_summary": "", "complexity": "low|medium|high"}],
  "structures": [{"name": "", "kind": "", "fields": [{"name": "", "type": "", "required": true, "constraints": []}]}],
  "endpoints": [{"path": "", "methods": [""], "handler": ""}],
  "ui_elements": [{"kind": "", "id": "", "text": "", "attributes": {}}]
}
Omit empty lists. Do not invent elements that are not in the file.`

// LLMCodeAnalyzer extracts representations by prompting the dispatcher.
// When the model's output cannot be parsed, it degrades to the regex
// fallback instead of failing the file.
type LLMCodeAnalyzer struct {
	dispatcher *llm.Dispatcher
	fallback   *RegexAnalyzer
	// sessionID scopes budget accounting; set per stage run.
	sessionID string
	deadline  time.Time
}

// NewLLMCodeAnalyzer builds the analyzer for one stage run.
func NewLLMCodeAnalyzer(dispatcher *llm.Dispatcher, sessionID string, deadline time.Time) *LLMCodeAnalyzer {
	return &LLMCodeAnalyzer{
		dispatcher: dispatcher,
		fallback:   NewRegexAnalyzer(),
		sessionID:  sessionID,
		deadline:   deadline,
	}
}

// Analyze extracts the representation of one code file.
func (a *LLMCodeAnalyzer) Analyze(ctx context.Context, file models.Artifact, scope models.Scope) (*models.Representation, error) {
	prompt := fmt.Sprintf("Language: %s\nFile: %s\nValidation scope: %s\n\n%s",
		file.Language, file.Path, scope, string(file.Content))

	resp, err := a.dispatcher.Ask(ctx, models.LLMRequest{
		SessionID:    a.sessionID,
		SystemPrompt: codeAnalysisSystemPrompt,
		Prompt:       prompt,
		Band:         models.TempLow,
		WantJSON:     true,
		Deadline:     a.deadline,
		Context: map[string]string{
			"task":     "code-analysis",
			"language": file.Language,
			"scope":    string(scope),
		},
	})
	if err != nil {
		if errors.Is(err, llm.ErrUnparseable) {
			rep, fbErr := a.fallback.Analyze(ctx, file, scope)
			if fbErr != nil {
				return nil, err
			}
			return rep, nil
		}
		return nil, err
	}

	var rep models.Representation
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &rep); err != nil {
		rep2, fbErr := a.fallback.Analyze(ctx, file, scope)
		if fbErr != nil {
			return nil, fmt.Errorf("parsing analyzer output: %w", err)
		}
		return rep2, nil
	}
	tagAnalysisMethod(&rep, "ast")
	return &rep, nil
}

// tagAnalysisMethod stamps the extraction method on every element for
// downstream debugging.
func tagAnalysisMethod(rep *models.Representation, method string) {
	for i := range rep.Functions {
		rep.Functions[i].AnalysisMethod = method
	}
	for i := range rep.Structures {
		rep.Structures[i].AnalysisMethod = method
	}
	for i := range rep.Endpoints {
		rep.Endpoints[i].AnalysisMethod = method
	}
	for i := range rep.UIElements {
		rep.UIElements[i].AnalysisMethod = method
	}
}
