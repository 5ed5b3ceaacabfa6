package domain

import (
	"context"
	"fmt"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single provider call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// EmbedEach calls Embed once per text and never aborts on a single failure.
// errs[i] is non-nil when texts[i] failed; its vector is left nil for the caller to substitute.
func EmbedEach(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, []error) {
	res := BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	errs := make([]error, len(texts))

	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		r, err := e.Embed(ctx, text)
		if err != nil {
			errs[i] = fmt.Errorf("embed [%d]: %w", i, err)
			continue
		}
		res.Embeddings[i] = r.Embedding
		res.PromptTokens += r.PromptTokens
		res.TotalTokens += r.TotalTokens
	}
	return res, errs
}

// BatchFallback embeds texts one by one and fails on the first error.
// Safety net for providers without native batching.
func BatchFallback(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	res, errs := EmbedEach(ctx, e, texts)
	for _, err := range errs {
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback %w", err)
		}
	}
	return res, nil
}

// EmbedBatch uses native batching when available and BatchFallback otherwise.
func EmbedBatch(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return BatchFallback(ctx, e, texts)
}

// InstructionEmbedder is a domain decorator that prepends instruction text before embedding.
// Asymmetric embedding models want different prefixes for document chunks and retrieval queries.
type InstructionEmbedder struct {
	inner       Embedder
	instruction string
}

// NewInstructionEmbedder creates a decorator that prepends instruction text.
func NewInstructionEmbedder(inner Embedder, instruction string) *InstructionEmbedder {
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed prepends instruction and delegates to inner embedder.
func (e *InstructionEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	result, err := e.inner.Embed(ctx, e.instruction+text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("instruction embed: %w", err)
	}
	return result, nil
}

// BatchEmbed prepends instruction to each text and delegates to inner BatchEmbedder.
// Falls back to per-text Embed when inner has no batch support.
func (e *InstructionEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = e.instruction + t
	}

	res, err := EmbedBatch(ctx, e.inner, prefixed)
	if err != nil {
		return BatchEmbeddingResult{}, fmt.Errorf("instruction batch embed: %w", err)
	}
	return res, nil
}
