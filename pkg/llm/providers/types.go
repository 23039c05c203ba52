// Package providers contains the concrete LLM provider adapters. Each
// adapter sends a prompt and returns a completion with token accounting;
// failover, retries, and rate limiting live in the dispatcher.
package providers

import "time"

// CompletionRequest is the adapter-level request.
type CompletionRequest struct {
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float64
}

// CompletionResult is the adapter-level response.
type CompletionResult struct {
	Content    string
	TokensUsed int
	Latency    time.Duration
}
