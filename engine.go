package tenderlens

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/metrics"
	"github.com/kailas-cloud/tenderlens/internal/repository/embcache"
	"github.com/kailas-cloud/tenderlens/internal/segment"
	"github.com/kailas-cloud/tenderlens/internal/usecase/analysis"
	"github.com/kailas-cloud/tenderlens/internal/usecase/classify"
	embeddinguc "github.com/kailas-cloud/tenderlens/internal/usecase/embedding"
	"github.com/kailas-cloud/tenderlens/internal/usecase/evaluation"
	"github.com/kailas-cloud/tenderlens/internal/usecase/extraction"
	"github.com/kailas-cloud/tenderlens/internal/usecase/health"
	"github.com/kailas-cloud/tenderlens/internal/usecase/inference"
	"github.com/kailas-cloud/tenderlens/internal/usecase/job"
)

// Engine is the tenderlens entry point. It is safe for concurrent use; every call runs
// as an isolated job with its own index.
type Engine struct {
	extractor *extraction.Service
	analyzer  *analysis.Service
	evaluator *evaluation.Service
	healthSvc *health.Service
	cache     CacheStore
	closeOnce sync.Once
}

// New creates an Engine. WithEmbedder and WithGenerator are required.
// On error the label cache store, if any, is closed.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, o := range opts {
		o.apply(cfg)
	}

	e, err := wireEngine(cfg)
	if err != nil {
		if cfg.cache != nil {
			cfg.cache.Close()
		}
		return nil, err
	}
	return e, nil
}

func wireEngine(cfg *engineConfig) (*Engine, error) {
	if cfg.embedder == nil {
		return nil, fmt.Errorf("tenderlens: %w: embedder required (use WithEmbedder)", ErrConfiguration)
	}
	if cfg.generator == nil {
		return nil, fmt.Errorf("tenderlens: %w: generator required (use WithGenerator)", ErrConfiguration)
	}
	if cfg.dimensions <= 0 {
		return nil, fmt.Errorf("tenderlens: %w: dimensions must be positive", ErrConfiguration)
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.withMetric {
		metrics.RegisterMetrics(cfg.metricsReg)
	}

	counter, err := segment.NewCounter(cfg.tokenizer)
	if err != nil {
		return nil, fmt.Errorf("tenderlens: %w", err)
	}
	seg, err := segment.New(counter, cfg.maxTokens, cfg.overlapTokens)
	if err != nil {
		return nil, fmt.Errorf("tenderlens: %w", err)
	}

	// Embedder chain: provider -> Instrumented -> (Cached) -> Instruction.
	// Instruction is outermost so cache keys include it.
	base := embeddinguc.NewInstrumentedEmbedder(cfg.embedder, cfg.embedProvider, cfg.embedModel,
		embeddinguc.Options{
			MaxBatchSize:  cfg.batchSize,
			MaxInputChars: cfg.maxInputChars,
			Retry:         cfg.retry,
			Limiter:       cfg.embedLimiter,
		}, logger)

	docEmbedder := withInstruction(base, cfg.docInstruction)
	var queryEmbedder domain.Embedder
	if cfg.queryInstruction != "" {
		queryEmbedder = domain.NewInstructionEmbedder(base, cfg.queryInstruction)
	}
	var labelEmbedder domain.Embedder
	if cfg.cache != nil {
		cached := embcache.New(base, cfg.cache, embcache.Options{
			Model:       cfg.embedProvider + "/" + cfg.embedModel,
			Dimensions:  cfg.dimensions,
			TTL:         cfg.cacheTTL,
			CallTimeout: cfg.cacheCallTimeout,
		}, metrics.LabelCacheTotal, logger)
		labelEmbedder = withInstruction(cached, cfg.docInstruction)
	}

	deps := job.Deps{
		Embedder:      docEmbedder,
		LabelEmbedder: labelEmbedder,
		QueryEmbedder: queryEmbedder,
		Segmenter:     seg,
		Labels:        cfg.categories,
		Classify: classify.Config{
			Dimensions:  cfg.dimensions,
			Threshold:   cfg.threshold,
			BatchSize:   cfg.batchSize,
			Concurrency: cfg.embedConcurrency,
		},
		Logger: logger,
	}

	genCfg := cfg.generation
	genCfg.Provider = cfg.genProvider
	genCfg.Model = cfg.genModel
	gateway, err := inference.NewGateway(cfg.generator, counter, genCfg, cfg.retry, cfg.genLimiter, logger)
	if err != nil {
		return nil, fmt.Errorf("tenderlens: %w", err)
	}

	extractor, err := extraction.New(deps, gateway, extraction.Config{
		TopK:                  cfg.topK,
		Concurrency:           cfg.genConcurrency,
		RequirementCategories: cfg.requirementCategories,
	})
	if err != nil {
		return nil, fmt.Errorf("tenderlens: %w", err)
	}
	analyzer, err := analysis.New(deps, gateway, analysis.Config{
		TopK:        cfg.topK,
		Concurrency: cfg.genConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("tenderlens: %w", err)
	}
	evaluator, err := evaluation.New(deps, gateway, evaluation.Config{
		TopK:        cfg.topK,
		Concurrency: cfg.genConcurrency,
		Penalty:     cfg.penalty,
		RiskTiers:   cfg.riskTiers,
	})
	if err != nil {
		return nil, fmt.Errorf("tenderlens: %w", err)
	}

	checkers := map[string]health.Checker{
		health.ComponentEmbedding:  base,
		health.ComponentGeneration: providerChecker{cfg.generator},
	}
	if cfg.cache != nil {
		checkers[health.ComponentCache] = health.PingChecker{Pinger: cfg.cache}
	}
	healthTimeout := cfg.healthTimeout
	if healthTimeout <= 0 {
		healthTimeout = health.DefaultTimeout
	}

	logger.Info("Engine ready",
		zap.String("embedding_provider", cfg.embedProvider),
		zap.String("embedding_model", cfg.embedModel),
		zap.String("generation_provider", cfg.genProvider),
		zap.String("generation_model", cfg.genModel),
		zap.Int("dimensions", cfg.dimensions),
		zap.Bool("label_cache", cfg.cache != nil),
	)

	return &Engine{
		extractor: extractor,
		analyzer:  analyzer,
		evaluator: evaluator,
		healthSvc: health.New(checkers, healthTimeout, logger),
		cache:     cfg.cache,
	}, nil
}

// ExtractFields pulls title, description, timeline, budget, deadline, requirements,
// evaluation metrics and special instructions out of a solicitation document.
// Fields that could not be extracted are nil and listed in Failed.
func (e *Engine) ExtractFields(ctx context.Context, rawText string) (ExtractedFields, error) {
	return e.extractor.Extract(ctx, rawText)
}

// AnalyzeProposal returns improvement suggestions per aspect. It does not score.
func (e *Engine) AnalyzeProposal(ctx context.Context, rawText string, rfp RFPContext) (SuggestionReport, error) {
	return e.analyzer.Analyze(ctx, rawText, rfp)
}

// EvaluateProposal scores a proposal against weighted criteria. Any terminal failure
// fails the whole evaluation.
func (e *Engine) EvaluateProposal(
	ctx context.Context, rawText string, rfp RFPContext, criteria []Criterion,
) (Evaluation, error) {
	return e.evaluator.Evaluate(ctx, rawText, rfp, criteria)
}

// HealthCheck probes the providers and the label cache.
func (e *Engine) HealthCheck(ctx context.Context) HealthReport {
	return e.healthSvc.Check(ctx)
}

// Close releases the label cache store.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.cache != nil {
			e.cache.Close()
		}
	})
}

func withInstruction(e domain.Embedder, instruction string) domain.Embedder {
	if instruction == "" {
		return e
	}
	return domain.NewInstructionEmbedder(e, instruction)
}

// providerChecker probes a provider that implements domain.HealthChecker; others pass.
type providerChecker struct {
	provider any
}

func (p providerChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := p.provider.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("health check: %w", err)
		}
	}
	return nil
}
