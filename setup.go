package tenderlens

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/tenderlens/internal/config"
	"github.com/kailas-cloud/tenderlens/internal/db/memory"
	dbRedis "github.com/kailas-cloud/tenderlens/internal/db/redis"
	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/transport/mock"
	ollamaTransport "github.com/kailas-cloud/tenderlens/internal/transport/ollama"
	openaiTransport "github.com/kailas-cloud/tenderlens/internal/transport/openai"
)

// NewFromConfig builds the providers and the label cache named in cfg and returns an Engine.
// opts are applied after the configuration and override it.
func NewFromConfig(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tenderlens: %w: %w", ErrConfiguration, err)
	}

	embedder, err := buildEmbedder(cfg.Embedding, cfg.Classifier.Categories, logger)
	if err != nil {
		return nil, err
	}
	generator, err := buildGenerator(cfg.Generation, logger)
	if err != nil {
		return nil, err
	}
	cache, err := buildCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	g := cfg.Generation
	r := cfg.Evaluation.RiskTiers
	base := []Option{
		WithLogger(logger),
		WithEmbedder(embedder, cfg.Embedding.Provider, cfg.Embedding.Model),
		WithGenerator(generator, g.Provider, g.Model),
		WithDimensions(cfg.Embedding.Dimensions),
		WithEmbeddingBatch(cfg.Embedding.BatchSize, cfg.Embedding.Concurrency),
		WithMaxInputChars(cfg.Embedding.MaxInputChars),
		WithInstructions(cfg.Embedding.DocumentInstruction, cfg.Embedding.QueryInstruction),
		WithGeneration(g.PromptFormat, g.MaxInputTokens, g.MaxOutputTokens, 0, 0),
		WithSampling(*g.Temperature, g.TopP),
		WithGenerationConcurrency(g.Concurrency),
		WithRateLimits(newLimiter(cfg.Embedding.ProviderConfig), newLimiter(g.ProviderConfig)),
		WithRetry(cfg.Retry.MaxRetries,
			time.Duration(cfg.Retry.InitialDelayMs)*time.Millisecond,
			time.Duration(cfg.Retry.MaxDelayMs)*time.Millisecond),
		WithSegmenter(cfg.Segmenter.Tokenizer, cfg.Segmenter.MaxTokens, cfg.Segmenter.OverlapTokens),
		WithCategories(*cfg.Classifier.Threshold, cfg.Classifier.Categories, cfg.Classifier.RequirementCategories),
		WithTopK(cfg.Retrieval.TopK),
		WithPenalties(cfg.Evaluation.PenaltyPerGap, cfg.Evaluation.PenaltyCap,
			RiskTiers{None: r.None, Low: r.Low, Medium: r.Medium, High: r.High}),
	}
	if cache != nil {
		base = append(base,
			WithLabelCache(cache, time.Duration(cfg.Cache.TTLSec)*time.Second),
			WithLabelCallTimeout(time.Duration(cfg.Cache.CallTimeoutSec)*time.Second),
		)
	}

	return New(append(base, opts...)...)
}

func buildEmbedder(c config.EmbeddingConfig, keywords []string, logger *zap.Logger) (domain.Embedder, error) {
	switch c.Provider {
	case config.ProviderOpenAI:
		e, err := openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:     c.APIKey,
			BaseURL:    c.BaseURL,
			Model:      c.Model,
			Dimensions: c.Dimensions,
			Provider:   c.Provider,
			Timeout:    c.Timeout(),
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("tenderlens: create openai embedder: %w", err)
		}
		return e, nil
	case config.ProviderOllama:
		e, err := ollamaTransport.NewEmbedder(&ollamaTransport.Config{
			BaseURL:  c.BaseURL,
			Model:    c.Model,
			Provider: c.Provider,
			Timeout:  c.Timeout(),
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("tenderlens: create ollama embedder: %w", err)
		}
		return e, nil
	case config.ProviderMock:
		// Keyword vectors make mock classification follow the configured labels.
		return mock.NewEmbedder(c.Dimensions, keywords...), nil
	default:
		return nil, fmt.Errorf("tenderlens: %w: unknown embedding provider %q", ErrConfiguration, c.Provider)
	}
}

func buildGenerator(c config.GenerationConfig, logger *zap.Logger) (domain.Generator, error) {
	switch c.Provider {
	case config.ProviderOpenAI:
		g, err := openaiTransport.NewGenerator(&openaiTransport.Config{
			APIKey:   c.APIKey,
			BaseURL:  c.BaseURL,
			Model:    c.Model,
			Provider: c.Provider,
			Timeout:  c.Timeout(),
			Logger:   logger,
		}, c.Mode)
		if err != nil {
			return nil, fmt.Errorf("tenderlens: create openai generator: %w", err)
		}
		return g, nil
	case config.ProviderOllama:
		g, err := ollamaTransport.NewGenerator(&ollamaTransport.Config{
			BaseURL:  c.BaseURL,
			Model:    c.Model,
			Provider: c.Provider,
			Timeout:  c.Timeout(),
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("tenderlens: create ollama generator: %w", err)
		}
		return g, nil
	case config.ProviderMock:
		return &mock.Generator{}, nil
	default:
		return nil, fmt.Errorf("tenderlens: %w: unknown generation provider %q", ErrConfiguration, c.Provider)
	}
}

// buildCache returns a nil store for the "none" driver.
func buildCache(ctx context.Context, c config.CacheConfig) (CacheStore, error) {
	switch c.Driver {
	case config.CacheNone:
		return nil, nil
	case config.CacheMemory:
		return memory.NewStore(), nil
	case config.CacheRedis:
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    c.Addrs,
			Username: c.Username,
			Password: c.Password,
			DB:       c.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("tenderlens: create redis cache: %w", err)
		}
		if err := s.WaitForReady(ctx, time.Duration(c.ReadinessTimeout)*time.Second); err != nil {
			s.Close()
			return nil, fmt.Errorf("tenderlens: redis cache not ready: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("tenderlens: %w: unknown cache driver %q", ErrConfiguration, c.Driver)
	}
}

func newLimiter(p config.ProviderConfig) *rate.Limiter {
	if p.RequestsPerSecond <= 0 {
		return nil
	}
	burst := p.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(p.RequestsPerSecond), burst)
}
