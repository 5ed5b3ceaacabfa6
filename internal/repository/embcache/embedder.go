package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/tenderlens/internal/db"
	"github.com/kailas-cloud/tenderlens/internal/domain"
)

var cacheKeyPrefix = domain.KeyPrefix + "label_emb:"

// store is the consumer interface for the embedding cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// Options scope cache keys. Vectors from different models or dimensions never share a key.
type Options struct {
	Model      string
	Dimensions int
	TTL        time.Duration
	// CallTimeout bounds a shared provider call. It is detached from every caller's
	// cancellation, so one cancelled job cannot fail the others waiting on the same key.
	// Zero means no bound beyond the inner embedder's own timeouts.
	CallTimeout time.Duration
}

// CachedEmbedder caches embeddings in a key-value store.
// It fronts category-label embedding, where the same few texts are embedded by every job.
type CachedEmbedder struct {
	inner      domain.Embedder
	store      store
	opts       Options
	group      singleflight.Group
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner domain.Embedder,
	s store,
	opts Options,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:      inner,
		store:      s,
		opts:       opts,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Embed returns a cached embedding or calls the inner embedder.
// Cache hit: TotalTokens = 0 (no real tokens consumed).
// Concurrent misses for the same text share one provider call.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := c.cacheKey(text)

	if vec, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return domain.EmbeddingResult{Embedding: vec}, nil
	}

	c.incCache("miss")

	ch := c.group.DoChan(key, func() (any, error) {
		callCtx, cancel := c.detached(ctx)
		defer cancel()

		result, err := c.inner.Embed(callCtx, text)
		if err != nil {
			return domain.EmbeddingResult{}, err
		}
		result.Embedding = c.putToCache(callCtx, key, result.Embedding)
		return result, nil
	})

	select {
	case <-ctx.Done():
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", r.Err)
		}
		result := r.Val.(domain.EmbeddingResult)
		if r.Shared {
			// Токены уже учтены у первого вызывающего.
			result.PromptTokens, result.TotalTokens = 0, 0
		}
		return result, nil
	}
}

func (c *CachedEmbedder) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx := context.WithoutCancel(ctx)
	if c.opts.CallTimeout > 0 {
		return context.WithTimeout(callCtx, c.opts.CallTimeout)
	}
	return callCtx, func() {}
}

// BatchEmbed serves hits from the cache and embeds the misses in one inner batch call.
func (c *CachedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	res := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		keys[i] = c.cacheKey(text)
		if vec, ok := c.getFromCache(ctx, keys[i]); ok {
			c.incCache("hit")
			res.Embeddings[i] = vec
			continue
		}
		c.incCache("miss")
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return res, nil
	}

	inner, err := domain.EmbedBatch(ctx, c.inner, missTexts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embed batch: %w", err)
	}
	if len(inner.Embeddings) != len(missTexts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embed batch: sent %d, got %d: %w",
			len(missTexts), len(inner.Embeddings), domain.ErrTerminalProvider)
	}

	for j, i := range missIdx {
		res.Embeddings[i] = c.putToCache(ctx, keys[i], inner.Embeddings[j])
	}
	res.PromptTokens = inner.PromptTokens
	res.TotalTokens = inner.TotalTokens
	return res, nil
}

func (c *CachedEmbedder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return cacheKeyPrefix + c.opts.Model + ":" + strconv.Itoa(c.opts.Dimensions) + ":" + hex.EncodeToString(h[:])
}

func (c *CachedEmbedder) getFromCache(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil {
		c.logger.Warn("Failed to parse cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if c.opts.Dimensions > 0 && len(vec) != c.opts.Dimensions {
		return nil, false
	}

	return vec, true
}

// putToCache never overwrites: the first writer wins.
// It returns the vector every reader sees: vec when this write won,
// otherwise the value stored by the winner.
func (c *CachedEmbedder) putToCache(ctx context.Context, key string, vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	stored, err := c.store.SetNX(ctx, key, vectorToCacheBytes(vec), c.opts.TTL)
	if err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
		return vec
	}
	if stored {
		return vec
	}
	if winner, ok := c.getFromCache(ctx, key); ok {
		return winner
	}
	return vec
}

func vectorToCacheBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
