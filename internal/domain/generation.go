package domain

import "context"

// Generator is the single-shot text completion contract implemented by provider adapters.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}

// GenerationRequest is a fully prepared provider call.
// Chat-style adapters use System and Prompt; completion-style adapters send Formatted verbatim.
type GenerationRequest struct {
	System          string
	Prompt          string
	Formatted       string
	MaxOutputTokens int
	Temperature     float64
	TopP            float64
	JSON            bool
}

// GenerationResult carries generated text and token usage.
type GenerationResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}
