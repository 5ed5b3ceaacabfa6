package domain

import (
	"context"
	"errors"
	"testing"
)

type stubEmbedder struct {
	result EmbeddingResult
	err    error
	got    string
	failOn map[string]bool
}

func (s *stubEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	s.got = text
	if s.failOn[text] {
		return EmbeddingResult{}, errors.New("provider down for " + text)
	}
	return s.result, s.err
}

type stubBatchEmbedder struct {
	stubEmbedder
	batchResult BatchEmbeddingResult
	batchErr    error
	batchTexts  []string
}

func (s *stubBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (BatchEmbeddingResult, error) {
	s.batchTexts = texts
	return s.batchResult, s.batchErr
}

func TestInstructionEmbedder_PrependsInstruction(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	emb := NewInstructionEmbedder(inner, "query: ")

	result, err := emb.Embed(context.Background(), "budget and pricing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.got != "query: budget and pricing" {
		t.Errorf("expected prepended text, got %q", inner.got)
	}
	if len(result.Embedding) != 3 {
		t.Errorf("expected 3-element vector, got %d", len(result.Embedding))
	}
}

func TestInstructionEmbedder_ErrorPropagation(t *testing.T) {
	innerErr := errors.New("provider down")
	emb := NewInstructionEmbedder(&stubEmbedder{err: innerErr}, "passage: ")

	_, err := emb.Embed(context.Background(), "hello")
	if !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped inner error, got %v", err)
	}
}

func TestEmbedEach_ContinuesPastFailures(t *testing.T) {
	inner := &stubEmbedder{
		result: EmbeddingResult{Embedding: []float32{1}, TotalTokens: 2},
		failOn: map[string]bool{"b": true},
	}

	res, errs := EmbedEach(context.Background(), inner, []string{"a", "b", "c"})
	if len(res.Embeddings) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(res.Embeddings))
	}
	if errs[0] != nil || errs[2] != nil {
		t.Errorf("unexpected errors for healthy items: %v", errs)
	}
	if errs[1] == nil {
		t.Error("expected error for failing item")
	}
	if res.Embeddings[1] != nil {
		t.Errorf("failed item must have nil vector, got %v", res.Embeddings[1])
	}
	if res.TotalTokens != 4 {
		t.Errorf("expected TotalTokens=4, got %d", res.TotalTokens)
	}
}

func TestEmbedEach_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, errs := EmbedEach(ctx, &stubEmbedder{}, []string{"a"})
	if !errors.Is(errs[0], context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", errs[0])
	}
}

func TestBatchFallback_Error(t *testing.T) {
	innerErr := errors.New("fail")
	_, err := BatchFallback(context.Background(), &stubEmbedder{err: innerErr}, []string{"a"})
	if !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped inner error, got %v", err)
	}
}

func TestBatchFallback_Empty(t *testing.T) {
	res, err := BatchFallback(context.Background(), &stubEmbedder{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 0 {
		t.Errorf("expected 0 embeddings, got %d", len(res.Embeddings))
	}
}

func TestInstructionEmbedder_BatchEmbed_WithBatchInner(t *testing.T) {
	inner := &stubBatchEmbedder{
		batchResult: BatchEmbeddingResult{Embeddings: [][]float32{{0.1}, {0.2}}, TotalTokens: 20},
	}
	emb := NewInstructionEmbedder(inner, "passage: ")

	res, err := emb.BatchEmbed(context.Background(), []string{"scope", "pricing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	if inner.batchTexts[0] != "passage: scope" || inner.batchTexts[1] != "passage: pricing" {
		t.Errorf("expected prefixed texts, got %v", inner.batchTexts)
	}
}

func TestInstructionEmbedder_BatchEmbed_FallbackToSingle(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{0.5}, TotalTokens: 3}}
	emb := NewInstructionEmbedder(inner, "q: ")

	res, err := emb.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalTokens != 6 {
		t.Errorf("expected TotalTokens=6, got %d", res.TotalTokens)
	}
}

func TestJobError_UnwrapsToSentinel(t *testing.T) {
	inner := &AttemptsError{Attempts: 4, Err: ErrTerminalProvider}
	err := NewJobError("job-1", "pricing", inner)

	if !errors.Is(err, ErrTerminalProvider) {
		t.Fatalf("expected ErrTerminalProvider in chain, got %v", err)
	}
	var je *JobError
	if !errors.As(err, &je) {
		t.Fatal("expected *JobError")
	}
	if je.Attempts != 4 || je.Key != "pricing" || je.JobID != "job-1" {
		t.Errorf("unexpected job error context: %+v", je)
	}
}

func TestUsage_NilSafeAndAccumulates(t *testing.T) {
	var nilUsage *Usage
	nilUsage.AddEmbedding(10)
	if nilUsage.Snapshot() != (UsageSnapshot{}) {
		t.Error("nil usage must snapshot to zero")
	}

	ctx, u := NewContextWithUsage(context.Background())
	UsageFromContext(ctx).AddEmbedding(7)
	UsageFromContext(ctx).AddGeneration(100, 20)

	s := u.Snapshot()
	if s.EmbeddingTokens != 7 || s.PromptTokens != 100 || s.CompletionTokens != 20 {
		t.Errorf("unexpected snapshot: %+v", s)
	}
	if s.EmbeddingCalls != 1 || s.GenerationCalls != 1 {
		t.Errorf("unexpected call counts: %+v", s)
	}
}
