// Package classify assigns texts to the nearest of a fixed label set by embedding similarity.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/domain/chunk"
	"github.com/kailas-cloud/tenderlens/internal/domain/vector"
	"github.com/kailas-cloud/tenderlens/internal/metrics"
)

// DefaultThreshold is the minimum similarity for a category to be assigned.
const DefaultThreshold = 0.3

// Config controls dimension, threshold and batching.
type Config struct {
	Dimensions  int
	Threshold   float64
	BatchSize   int
	Concurrency int
}

// Assignment is the classification of a single text.
type Assignment struct {
	Embedding  []float32
	Category   string
	Confidence float64
}

// Classifier holds label embeddings computed once at construction.
type Classifier struct {
	embedder  domain.Embedder
	labels    []string
	labelVecs [][]float32
	cfg       Config
	logger    *zap.Logger
}

// New embeds labels through labelEmbedder (embedder when nil). A label that fails to
// embed gets a zero vector and can never win.
func New(
	ctx context.Context, embedder, labelEmbedder domain.Embedder,
	labels []string, cfg Config, logger *zap.Logger,
) (*Classifier, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", domain.ErrConfiguration)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", domain.ErrConfiguration)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v outside [0,1]", domain.ErrConfiguration, cfg.Threshold)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if labelEmbedder == nil {
		labelEmbedder = embedder
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Classifier{
		embedder: embedder,
		labels:   append([]string(nil), labels...),
		cfg:      cfg,
		logger:   logger,
	}
	c.labelVecs = make([][]float32, len(labels))
	for i, label := range labels {
		res, err := labelEmbedder.Embed(ctx, label)
		if err != nil {
			metrics.EmbeddingFallbacksTotal.WithLabelValues("label").Inc()
			logger.Warn("Label embedding failed, using zero vector",
				zap.String("label", label), zap.Error(err))
			c.labelVecs[i] = vector.Zero(cfg.Dimensions)
			continue
		}
		c.labelVecs[i] = c.fit(res.Embedding, "label")
	}
	return c, nil
}

// Labels returns the label set.
func (c *Classifier) Labels() []string { return c.labels }

// Dimensions returns the vector dimension every embedding is fitted to.
func (c *Classifier) Dimensions() int { return c.cfg.Dimensions }

// Assign embeds and classifies texts, preserving order. Provider failures never
// fail the call: affected texts get zero vectors. Only cancellation is returned.
func (c *Classifier) Assign(ctx context.Context, texts []string) ([]Assignment, error) {
	out := make([]Assignment, len(texts))
	var pending []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = Assignment{Embedding: vector.Zero(c.cfg.Dimensions)}
			continue
		}
		pending = append(pending, i)
	}

	vecs := make([][]float32, len(texts))
	var mu sync.Mutex
	g := errgroup.Group{}
	g.SetLimit(c.cfg.Concurrency)

	for start := 0; start < len(pending); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(pending))
		idx := pending[start:end]
		g.Go(func() error {
			batch := make([]string, len(idx))
			for k, i := range idx {
				batch[k] = texts[i]
			}
			embs := c.embedBatch(ctx, batch)
			mu.Lock()
			for k, i := range idx {
				vecs[i] = embs[k]
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	for _, i := range pending {
		v := c.fit(vecs[i], "chunk")
		category, confidence := c.nearest(v)
		out[i] = Assignment{Embedding: v, Category: category, Confidence: confidence}
	}
	return out, nil
}

// Classify fills Embedding, Category and Confidence of each chunk.
func (c *Classifier) Classify(ctx context.Context, chunks []chunk.Chunk) error {
	assigned, err := c.Assign(ctx, chunk.Texts(chunks))
	if err != nil {
		return err
	}
	for i := range chunks {
		chunks[i].Embedding = assigned[i].Embedding
		chunks[i].Category = assigned[i].Category
		chunks[i].Confidence = assigned[i].Confidence
	}
	return nil
}

// EmbedQuery embeds a retrieval query. Unlike Assign, failures are returned.
func (c *Classifier) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.EmbedQueryWith(ctx, c.embedder, text)
}

// EmbedQueryWith embeds text through e, for models that want a query-side instruction.
// The vector is fitted to the classifier's dimension.
func (c *Classifier) EmbedQueryWith(ctx context.Context, e domain.Embedder, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrEmptyInput)
	}
	res, err := e.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return c.fit(res.Embedding, "query"), nil
}

// embedBatch returns one vector per text; failed texts get nil.
func (c *Classifier) embedBatch(ctx context.Context, texts []string) [][]float32 {
	res, err := domain.EmbedBatch(ctx, c.embedder, texts)
	if err == nil && len(res.Embeddings) == len(texts) {
		return res.Embeddings
	}
	if err == nil {
		err = fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrTerminalProvider, len(res.Embeddings), len(texts))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return make([][]float32, len(texts))
	}
	c.logger.Warn("Batch embedding failed, embedding items one by one",
		zap.Int("batch_size", len(texts)), zap.Error(err))

	each, errs := domain.EmbedEach(ctx, c.embedder, texts)
	for i, e := range errs {
		if e != nil {
			metrics.EmbeddingFallbacksTotal.WithLabelValues("chunk").Inc()
			c.logger.Warn("Chunk embedding failed, using zero vector", zap.Int("item", i), zap.Error(e))
		}
	}
	return each.Embeddings
}

func (c *Classifier) fit(v []float32, stage string) []float32 {
	if v == nil {
		return vector.Zero(c.cfg.Dimensions)
	}
	out, changed := vector.Fit(v, c.cfg.Dimensions)
	if changed {
		metrics.EmbeddingDimensionMismatchTotal.Inc()
		c.logger.Debug("Embedding dimension normalized",
			zap.String("stage", stage),
			zap.Int("got", len(v)),
			zap.Int("want", c.cfg.Dimensions),
			zap.Error(domain.ErrDimensionMismatch),
		)
	}
	return out
}

// nearest returns the best label and its similarity; the label is empty below threshold.
func (c *Classifier) nearest(v []float32) (string, float64) {
	best, bestSim := -1, -1.0
	for i, lv := range c.labelVecs {
		if sim := vector.Cosine(v, lv); sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best < 0 {
		return "", 0
	}
	confidence := bestSim
	if confidence < 0 {
		confidence = 0
	}
	if bestSim < c.cfg.Threshold || vector.IsZero(c.labelVecs[best]) || vector.IsZero(v) {
		return "", confidence
	}
	return c.labels[best], confidence
}
