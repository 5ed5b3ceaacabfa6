package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/retry"
)

// DefaultMaxAPIBatchSize — максимальный размер батча для одного API-запроса.
const DefaultMaxAPIBatchSize = 32

// Options tune the decorator. Zero values disable the corresponding behavior.
type Options struct {
	MaxBatchSize  int
	MaxInputChars int
	Retry         retry.Policy
	Limiter       *rate.Limiter
}

// InstrumentedEmbedder wraps Embedder with input normalization, pacing, retries,
// usage accounting and logging.
// Transport metrics (requests, duration, tokens) are recorded in the transport packages.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	provider string
	model    string
	opts     Options
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder with retries and observability.
func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string,
	opts Options, logger *zap.Logger,
) *InstrumentedEmbedder {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxAPIBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		model:    model,
		opts:     opts,
		logger:   logger,
	}
}

// Embed normalizes text, delegates to the inner embedder with retries, and records usage.
func (p *InstrumentedEmbedder) Embed(
	ctx context.Context, text string,
) (domain.EmbeddingResult, error) {
	text = Normalize(text, p.opts.MaxInputChars)
	start := time.Now()

	result, err := retry.Value(ctx, p.policy(), func(ctx context.Context) (domain.EmbeddingResult, error) {
		if err := p.wait(ctx); err != nil {
			return domain.EmbeddingResult{}, err
		}
		return p.inner.Embed(ctx, text)
	})

	duration := time.Since(start)

	if err != nil {
		p.logger.Error("Embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Duration("duration", duration),
			zap.Int("attempts", domain.AttemptsOf(err)),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	domain.UsageFromContext(ctx).AddEmbedding(result.TotalTokens)

	p.logger.Debug("Embedding request completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// BatchEmbed разбивает на sub-batches, делегирует inner.
func (p *InstrumentedEmbedder) BatchEmbed(
	ctx context.Context, texts []string,
) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = Normalize(t, p.opts.MaxInputChars)
	}

	start := time.Now()

	result, err := p.embedChunked(ctx, normalized)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}

	duration := time.Since(start)
	domain.UsageFromContext(ctx).AddEmbedding(result.TotalTokens)

	p.logger.Debug("Batch embedding completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("batch_size", len(texts)),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// embedChunked разбивает тексты на чанки по MaxBatchSize.
func (p *InstrumentedEmbedder) embedChunked(
	ctx context.Context, texts []string,
) (domain.BatchEmbeddingResult, error) {
	var allEmbeddings [][]float32
	var totalPrompt, totalTokens int

	for offset := 0; offset < len(texts); offset += p.opts.MaxBatchSize {
		end := offset + p.opts.MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[offset:end]

		chunkResult, err := retry.Value(ctx, p.policy(), func(ctx context.Context) (domain.BatchEmbeddingResult, error) {
			if err := p.wait(ctx); err != nil {
				return domain.BatchEmbeddingResult{}, err
			}
			return p.embedInner(ctx, chunk)
		})
		if err != nil {
			p.logger.Error("Batch embedding request failed",
				zap.String("provider", p.provider),
				zap.String("model", p.model),
				zap.Int("chunk_offset", offset),
				zap.Int("chunk_size", len(chunk)),
				zap.Int("attempts", domain.AttemptsOf(err)),
				zap.Error(err),
			)
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
		}
		if len(chunkResult.Embeddings) != len(chunk) {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w: got %d vectors for %d texts",
				domain.ErrTerminalProvider, len(chunkResult.Embeddings), len(chunk))
		}

		allEmbeddings = append(allEmbeddings, chunkResult.Embeddings...)
		totalPrompt += chunkResult.PromptTokens
		totalTokens += chunkResult.TotalTokens
	}

	return domain.BatchEmbeddingResult{
		Embeddings:   allEmbeddings,
		PromptTokens: totalPrompt,
		TotalTokens:  totalTokens,
	}, nil
}

func (p *InstrumentedEmbedder) embedInner(
	ctx context.Context, texts []string,
) (domain.BatchEmbeddingResult, error) {
	if be, ok := p.inner.(domain.BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("inner batch embed: %w", err)
		}
		return res, nil
	}
	res, err := domain.BatchFallback(ctx, p.inner, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("inner batch fallback: %w", err)
	}
	return res, nil
}

// HealthCheck delegates to the inner embedder when it supports it.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	_, err := p.inner.Embed(ctx, "health")
	return err
}

func (p *InstrumentedEmbedder) policy() retry.Policy {
	pol := p.opts.Retry
	pol.OnRetry = func(attempt int, delay time.Duration, err error) {
		p.logger.Warn("Embedding request retry",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}
	return pol
}

func (p *InstrumentedEmbedder) wait(ctx context.Context) error {
	if p.opts.Limiter == nil {
		return nil
	}
	if err := p.opts.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}
