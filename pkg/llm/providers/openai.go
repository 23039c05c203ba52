package providers

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAI adapts OpenAI-compatible chat-completion endpoints via langchaingo.
type OpenAI struct {
	name  string
	model string
	llm   *openai.LLM
}

// NewOpenAI builds the adapter. The API key is read from the named
// environment variable (default OPENAI_API_KEY).
func NewOpenAI(name, model, apiKeyEnv, baseURL string) (*OpenAI, error) {
	if apiKeyEnv == "" {
		apiKeyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("openai provider %q: %s is not set", name, apiKeyEnv)
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai provider %q: %w", name, err)
	}

	return &OpenAI{name: name, model: model, llm: llm}, nil
}

// Name returns the configured provider name.
func (o *OpenAI) Name() string { return o.name }

// Model returns the model this provider hosts.
func (o *OpenAI) Model() string { return o.model }

// Complete sends a single-turn chat completion.
func (o *OpenAI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	start := time.Now()
	resp, err := o.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(req.MaxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: empty choice list")
	}

	choice := resp.Choices[0]
	tokens := 0
	if v, ok := choice.GenerationInfo["TotalTokens"]; ok {
		if n, ok := v.(int); ok {
			tokens = n
		}
	}
	if tokens == 0 {
		// Fall back to a length-based estimate when the endpoint does not
		// report usage.
		tokens = (len(req.Prompt) + len(choice.Content)) / 4
	}

	return &CompletionResult{
		Content:    choice.Content,
		TokensUsed: tokens,
		Latency:    time.Since(start),
	}, nil
}
