package domain

import (
	"context"
	"sync/atomic"
)

type usageKey struct{}

// Usage collects provider consumption for a single job.
// The job puts a pointer into the context; decorators and the gateway add to it concurrently.
type Usage struct {
	embeddingTokens  atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	embeddingCalls   atomic.Int64
	generationCalls  atomic.Int64
}

// UsageSnapshot is a plain copy of Usage, safe to serialize.
type UsageSnapshot struct {
	EmbeddingTokens  int64 `json:"embedding_tokens"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	EmbeddingCalls   int64 `json:"embedding_calls"`
	GenerationCalls  int64 `json:"generation_calls"`
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *Usage) {
	u := &Usage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

// ContextWithUsage attaches an existing collector to ctx.
func ContextWithUsage(ctx context.Context, u *Usage) context.Context {
	return context.WithValue(ctx, usageKey{}, u)
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *Usage {
	u, _ := ctx.Value(usageKey{}).(*Usage)
	return u
}

// AddEmbedding records one embedding call and its tokens.
func (u *Usage) AddEmbedding(tokens int) {
	if u == nil {
		return
	}
	u.embeddingCalls.Add(1)
	u.embeddingTokens.Add(int64(tokens))
}

// AddGeneration records one generation call and its tokens.
func (u *Usage) AddGeneration(promptTokens, completionTokens int) {
	if u == nil {
		return
	}
	u.generationCalls.Add(1)
	u.promptTokens.Add(int64(promptTokens))
	u.completionTokens.Add(int64(completionTokens))
}

// Snapshot returns the current counters.
func (u *Usage) Snapshot() UsageSnapshot {
	if u == nil {
		return UsageSnapshot{}
	}
	return UsageSnapshot{
		EmbeddingTokens:  u.embeddingTokens.Load(),
		PromptTokens:     u.promptTokens.Load(),
		CompletionTokens: u.completionTokens.Load(),
		EmbeddingCalls:   u.embeddingCalls.Load(),
		GenerationCalls:  u.generationCalls.Load(),
	}
}
