package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/luissimon96/migration-validator/pkg/llm"
	"github.com/luissimon96/migration-validator/pkg/models"
)

const visualAnalysisSystemPrompt = `You are a UI analyzer. Identify every interactive element visible in the screenshot and answer with strict JSON only:
{"ui_elements": [{"kind": "button|input|label|link|select|form", "id": "", "text": "", "attributes": {}}]}
Use the element's visible label or accessible name as id when no identifier is readable.`

// LLMVisualAnalyzer extracts UI elements from screenshots through a
// vision-capable model behind the dispatcher.
type LLMVisualAnalyzer struct {
	dispatcher *llm.Dispatcher
	sessionID  string
	deadline   time.Time
}

// NewLLMVisualAnalyzer builds the analyzer for one stage run.
func NewLLMVisualAnalyzer(dispatcher *llm.Dispatcher, sessionID string, deadline time.Time) *LLMVisualAnalyzer {
	return &LLMVisualAnalyzer{dispatcher: dispatcher, sessionID: sessionID, deadline: deadline}
}

// AnalyzeImage extracts UI elements from one screenshot.
func (a *LLMVisualAnalyzer) AnalyzeImage(ctx context.Context, image models.Artifact, scope models.Scope) (*models.Representation, error) {
	encoded := base64.StdEncoding.EncodeToString(image.Content)
	prompt := fmt.Sprintf("Screenshot %s (base64 PNG/JPEG):\n%s", image.Path, encoded)

	resp, err := a.dispatcher.Ask(ctx, models.LLMRequest{
		SessionID:    a.sessionID,
		SystemPrompt: visualAnalysisSystemPrompt,
		Prompt:       prompt,
		Band:         models.TempLow,
		WantJSON:     true,
		Deadline:     a.deadline,
		Context: map[string]string{
			"task":  "visual-analysis",
			"scope": string(scope),
		},
	})
	if err != nil {
		return nil, err
	}

	var rep models.Representation
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &rep); err != nil {
		return nil, fmt.Errorf("parsing visual analyzer output: %w", err)
	}
	tagAnalysisMethod(&rep, "vision-model")
	return &rep, nil
}
