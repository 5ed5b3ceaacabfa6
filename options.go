package tenderlens

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/tenderlens/internal/retry"
	"github.com/kailas-cloud/tenderlens/internal/usecase/classify"
	"github.com/kailas-cloud/tenderlens/internal/usecase/evaluation"
	"github.com/kailas-cloud/tenderlens/internal/usecase/inference"
)

// Option configures the Engine.
type Option interface {
	apply(*engineConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*engineConfig)

func (f optionFunc) apply(c *engineConfig) { f(c) }

type engineConfig struct {
	embedder      Embedder
	embedProvider string
	embedModel    string

	generator   Generator
	genProvider string
	genModel    string

	dimensions       int
	batchSize        int
	embedConcurrency int
	maxInputChars    int
	docInstruction   string
	queryInstruction string
	embedLimiter     *rate.Limiter

	generation     inference.Config
	genConcurrency int
	genLimiter     *rate.Limiter

	retry retry.Policy

	tokenizer     string
	maxTokens     int
	overlapTokens int

	threshold             float64
	categories            []string
	requirementCategories []string
	topK                  int

	penalty   evaluation.Penalty
	riskTiers evaluation.RiskTiers

	cache            CacheStore
	cacheTTL         time.Duration
	cacheCallTimeout time.Duration

	healthTimeout time.Duration

	logger     *zap.Logger
	metricsReg prometheus.Registerer
	withMetric bool
}

func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		embedProvider:    "custom",
		genProvider:      "custom",
		dimensions:       1024,
		batchSize:        32,
		embedConcurrency: 1,
		maxInputChars:    2048,
		generation: inference.Config{
			PromptFormat:    inference.FormatPlain,
			MaxInputTokens:  2048,
			MaxOutputTokens: 512,
			Temperature:     0.3,
			TopP:            0.9,
		},
		genConcurrency:        1,
		retry:                 retry.DefaultPolicy(),
		tokenizer:             "words",
		maxTokens:             256,
		overlapTokens:         32,
		threshold:             classify.DefaultThreshold,
		categories:            DefaultCategories(),
		requirementCategories: DefaultRequirementCategories(),
		topK:                  3,
		penalty:               evaluation.DefaultConfig().Penalty,
		riskTiers:             evaluation.DefaultRiskTiers(),
		cacheCallTimeout:      2 * time.Minute,
	}
}

// WithEmbedder sets the embedding provider. provider and model label logs and cache keys.
// Required.
func WithEmbedder(e Embedder, provider, model string) Option {
	return optionFunc(func(c *engineConfig) {
		c.embedder = e
		if provider != "" {
			c.embedProvider = provider
		}
		c.embedModel = model
	})
}

// WithGenerator sets the text generation provider. Required.
func WithGenerator(g Generator, provider, model string) Option {
	return optionFunc(func(c *engineConfig) {
		c.generator = g
		if provider != "" {
			c.genProvider = provider
		}
		c.genModel = model
	})
}

// WithDimensions sets the vector dimension every embedding is fitted to.
// Defaults to 1024.
func WithDimensions(dim int) Option {
	return optionFunc(func(c *engineConfig) {
		c.dimensions = dim
	})
}

// WithEmbeddingBatch sets the per-request batch size and the number of batches in flight.
// Defaults: 32 texts, 1 batch.
func WithEmbeddingBatch(size, concurrency int) Option {
	return optionFunc(func(c *engineConfig) {
		c.batchSize = size
		c.embedConcurrency = concurrency
	})
}

// WithMaxInputChars cuts texts to n runes before embedding (0 = no limit).
func WithMaxInputChars(n int) Option {
	return optionFunc(func(c *engineConfig) {
		c.maxInputChars = n
	})
}

// WithInstructions prefixes document and query texts before embedding,
// for instruction-tuned embedding models.
func WithInstructions(document, query string) Option {
	return optionFunc(func(c *engineConfig) {
		c.docInstruction = document
		c.queryInstruction = query
	})
}

// WithGeneration sets model limits and sampling defaults. Zero fields keep the defaults.
func WithGeneration(promptFormat string, maxInputTokens, maxOutputTokens int, temperature, topP float64) Option {
	return optionFunc(func(c *engineConfig) {
		if promptFormat != "" {
			c.generation.PromptFormat = promptFormat
		}
		if maxInputTokens > 0 {
			c.generation.MaxInputTokens = maxInputTokens
		}
		if maxOutputTokens > 0 {
			c.generation.MaxOutputTokens = maxOutputTokens
		}
		if temperature > 0 {
			c.generation.Temperature = temperature
		}
		if topP > 0 {
			c.generation.TopP = topP
		}
	})
}

// WithSampling sets the sampling defaults of every generation call.
// Unlike WithGeneration, a zero temperature is applied and selects greedy decoding.
// topP <= 0 keeps the current value.
func WithSampling(temperature, topP float64) Option {
	return optionFunc(func(c *engineConfig) {
		c.generation.Temperature = temperature
		if topP > 0 {
			c.generation.TopP = topP
		}
	})
}

// WithGenerationConcurrency sets how many criteria or aspects are generated at once.
// Default: 1 (sequential).
func WithGenerationConcurrency(n int) Option {
	return optionFunc(func(c *engineConfig) {
		c.genConcurrency = n
	})
}

// WithRateLimits paces provider calls. Nil disables pacing for that provider.
func WithRateLimits(embedding, generation *rate.Limiter) Option {
	return optionFunc(func(c *engineConfig) {
		c.embedLimiter = embedding
		c.genLimiter = generation
	})
}

// WithRetry sets the retry policy for transient provider failures.
// Default: 3 retries starting at one second, doubling, capped at 30 seconds.
func WithRetry(maxRetries int, initialDelay, maxDelay time.Duration) Option {
	return optionFunc(func(c *engineConfig) {
		c.retry.MaxRetries = maxRetries
		c.retry.InitialDelay = initialDelay
		c.retry.MaxDelay = maxDelay
	})
}

// WithSleeper replaces the backoff timer. Intended for tests.
func WithSleeper(s func(ctx context.Context, d time.Duration) error) Option {
	return optionFunc(func(c *engineConfig) {
		c.retry.Sleep = s
	})
}

// WithSegmenter sets the tokenizer ("words" or a tiktoken encoding) and chunk limits.
// Defaults: words, 256 tokens per chunk, 32 tokens overlap.
func WithSegmenter(tokenizer string, maxTokens, overlapTokens int) Option {
	return optionFunc(func(c *engineConfig) {
		if tokenizer != "" {
			c.tokenizer = tokenizer
		}
		c.maxTokens = maxTokens
		c.overlapTokens = overlapTokens
	})
}

// WithCategories sets the chunk labels, the requirement labels and the minimum similarity
// for a label to be assigned. Nil label sets keep the defaults.
func WithCategories(threshold float64, categories, requirementCategories []string) Option {
	return optionFunc(func(c *engineConfig) {
		c.threshold = threshold
		if categories != nil {
			c.categories = categories
		}
		if requirementCategories != nil {
			c.requirementCategories = requirementCategories
		}
	})
}

// WithTopK sets how many chunks are retrieved per query. Default: 3.
func WithTopK(k int) Option {
	return optionFunc(func(c *engineConfig) {
		c.topK = k
	})
}

// WithPenalties sets the compliance gap deduction and the risk tier deductions.
func WithPenalties(perGap, capTotal float64, tiers RiskTiers) Option {
	return optionFunc(func(c *engineConfig) {
		c.penalty = evaluation.Penalty{PerGap: perGap, Cap: capTotal}
		c.riskTiers = tiers
	})
}

// WithLabelCache shares label embeddings across jobs through store.
// ttl <= 0 keeps entries forever. The Engine closes the store on Close.
func WithLabelCache(store CacheStore, ttl time.Duration) Option {
	return optionFunc(func(c *engineConfig) {
		c.cache = store
		c.cacheTTL = ttl
	})
}

// WithLabelCallTimeout bounds a label embedding call shared by concurrent jobs.
// The call ignores the cancellation of any single job. Default: 2m.
func WithLabelCallTimeout(d time.Duration) Option {
	return optionFunc(func(c *engineConfig) {
		c.cacheCallTimeout = d
	})
}

// WithHealthTimeout bounds each component check. Default: 5s.
func WithHealthTimeout(d time.Duration) Option {
	return optionFunc(func(c *engineConfig) {
		c.healthTimeout = d
	})
}

// WithLogger enables structured logging. Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *engineConfig) {
		c.logger = l
	})
}

// WithPrometheus registers engine metrics on the given registerer
// (prometheus.DefaultRegisterer when nil). Only the first registration in a process has an effect.
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *engineConfig) {
		c.metricsReg = reg
		c.withMetric = true
	})
}
