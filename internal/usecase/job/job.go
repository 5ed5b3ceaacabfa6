// Package job is the per-invocation runtime shared by extraction, analysis and evaluation:
// one ID, one logger, one usage collector and one transient index.
package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/domain/chunk"
	"github.com/kailas-cloud/tenderlens/internal/index"
	"github.com/kailas-cloud/tenderlens/internal/logger"
	"github.com/kailas-cloud/tenderlens/internal/metrics"
	"github.com/kailas-cloud/tenderlens/internal/segment"
	"github.com/kailas-cloud/tenderlens/internal/usecase/classify"
)

const metaCategory = "category"

// Deps are the shared, stateless collaborators a job draws on.
type Deps struct {
	Embedder      domain.Embedder
	LabelEmbedder domain.Embedder // optional, usually the label cache
	QueryEmbedder domain.Embedder // optional, retrieval queries use Embedder when nil
	Segmenter     *segment.Segmenter
	Labels        []string // chunk categories
	Classify      classify.Config
	Logger        *zap.Logger
}

// Job owns the state of one invocation.
type Job struct {
	id         string
	op         string
	start      time.Time
	deps       Deps
	logger     *zap.Logger
	usage      *domain.Usage
	index      *index.Index

	mu         sync.Mutex
	classifier *classify.Classifier
}

// New starts a job. The returned context carries the job logger and usage collector;
// pass it to every call made on behalf of the job.
func New(ctx context.Context, deps Deps, op string) (*Job, context.Context, error) {
	if deps.Embedder == nil || deps.Segmenter == nil {
		return nil, ctx, fmt.Errorf("%w: job requires an embedder and a segmenter", domain.ErrConfiguration)
	}
	id := uuid.NewString()
	ctx, l := logger.StartJob(ctx, deps.Logger, id, op)
	ctx, usage := domain.NewContextWithUsage(ctx)

	return &Job{
		id:     id,
		op:     op,
		start:  time.Now(),
		deps:   deps,
		logger: l,
		usage:  usage,
		index:  index.New(deps.Classify.Dimensions),
	}, ctx, nil
}

func (j *Job) ID() string                  { return j.id }
func (j *Job) Logger() *zap.Logger         { return j.logger }
func (j *Job) Index() *index.Index         { return j.index }
func (j *Job) Usage() domain.UsageSnapshot { return j.usage.Snapshot() }

// Ingest segments, classifies and indexes text. Blank text fails with ErrEmptyInput
// before any provider call.
func (j *Job) Ingest(ctx context.Context, text string) ([]chunk.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyInput
	}

	chunks := j.deps.Segmenter.Segment(text)
	if len(chunks) == 0 {
		return nil, domain.ErrEmptyInput
	}

	c, err := j.chunkClassifier(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Classify(ctx, chunks); err != nil {
		return nil, err
	}

	docs := make([]index.Document, len(chunks))
	categorized := 0
	for i, ch := range chunks {
		docs[i] = index.Document{
			ID:        ch.ID,
			Content:   ch.Content,
			Embedding: ch.Embedding,
			Metadata:  map[string]string{metaCategory: ch.Category},
		}
		if ch.Categorized() {
			categorized++
		}
	}
	j.index.Add(docs...)

	j.logger.Info("Document ingested",
		zap.Int("chunks", len(chunks)),
		zap.Int("categorized", categorized),
	)
	return chunks, nil
}

// Retrieve embeds query and returns the k most similar indexed chunks.
func (j *Job) Retrieve(ctx context.Context, query string, k int) ([]index.Hit, error) {
	c, err := j.chunkClassifier(ctx)
	if err != nil {
		return nil, err
	}
	qe := j.deps.QueryEmbedder
	if qe == nil {
		qe = j.deps.Embedder
	}
	q, err := c.EmbedQueryWith(ctx, qe, query)
	if err != nil {
		return nil, err
	}
	return j.index.Search(q, k), nil
}

// Classifier builds a classifier over an arbitrary label set with the job's embedders.
func (j *Job) Classifier(ctx context.Context, labels []string) (*classify.Classifier, error) {
	return classify.New(ctx, j.deps.Embedder, j.deps.LabelEmbedder, labels, j.deps.Classify, j.logger)
}

func (j *Job) chunkClassifier(ctx context.Context) (*classify.Classifier, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.classifier != nil {
		return j.classifier, nil
	}
	c, err := j.Classifier(ctx, j.deps.Labels)
	if err != nil {
		return nil, err
	}
	j.classifier = c
	return c, nil
}

// Close releases the index. Always deferred by the operation that started the job,
// so an early exit or a cancelled context never leaves chunks behind.
func (j *Job) Close() {
	n := j.index.Len()
	j.index.Clear()
	j.logger.Debug("Job index released", zap.Int("chunks", n), zap.Int("remaining", j.index.Len()))
}

// Finish records the outcome of the job and returns err unchanged.
func (j *Job) Finish(err error) error {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrEmptyInput), errors.Is(err, domain.ErrInvalidCriteria):
		status = "rejected"
	default:
		status = "error"
	}
	duration := time.Since(j.start)
	metrics.JobsTotal.WithLabelValues(j.op, status).Inc()
	metrics.JobDuration.WithLabelValues(j.op).Observe(duration.Seconds())

	u := j.usage.Snapshot()
	fields := []zap.Field{
		zap.String("status", status),
		zap.Duration("duration", duration),
		zap.Int64("embedding_tokens", u.EmbeddingTokens),
		zap.Int64("prompt_tokens", u.PromptTokens),
		zap.Int64("completion_tokens", u.CompletionTokens),
	}
	if err != nil && status == "error" {
		j.logger.Error("Job failed", append(fields, zap.Error(err))...)
		return err
	}
	j.logger.Info("Job finished", fields...)
	return err
}

// Wrap attaches job context to a terminal error.
func (j *Job) Wrap(key string, err error) error {
	if err == nil {
		return nil
	}
	var je *domain.JobError
	if errors.As(err, &je) {
		return err
	}
	return domain.NewJobError(j.id, key, err)
}

// FormatHits renders retrieved chunks for a prompt, with their category when known.
func FormatHits(hits []index.Hit) string {
	if len(hits) == 0 {
		return "(no relevant sections found)"
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if cat := h.Metadata[metaCategory]; cat != "" {
			fmt.Fprintf(&b, "[Section %d | %s]\n", i+1, cat)
		} else {
			fmt.Fprintf(&b, "[Section %d]\n", i+1)
		}
		b.WriteString(h.Content)
	}
	return b.String()
}
