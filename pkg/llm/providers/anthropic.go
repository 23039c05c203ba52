package providers

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic adapts the official Anthropic Messages API.
type Anthropic struct {
	name   string
	model  string
	client anthropic.Client
}

// NewAnthropic builds the adapter. The API key is read from the named
// environment variable (default ANTHROPIC_API_KEY).
func NewAnthropic(name, model, apiKeyEnv, baseURL string) (*Anthropic, error) {
	if apiKeyEnv == "" {
		apiKeyEnv = "ANTHROPIC_API_KEY"
	}
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic provider %q: %s is not set", name, apiKeyEnv)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Anthropic{
		name:   name,
		model:  model,
		client: anthropic.NewClient(opts...),
	}, nil
}

// Name returns the configured provider name.
func (a *Anthropic) Name() string { return a.name }

// Model returns the model this provider hosts.
func (a *Anthropic) Model() string { return a.model }

// Complete sends a single-turn message and returns the text completion.
func (a *Anthropic) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	start := time.Now()
	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	var content string
	for _, block := range message.Content {
		content += block.Text
	}

	return &CompletionResult{
		Content:    content,
		TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
		Latency:    time.Since(start),
	}, nil
}
