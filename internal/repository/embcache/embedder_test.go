package embcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/tenderlens/internal/db"
	"github.com/kailas-cloud/tenderlens/internal/db/memory"
	"github.com/kailas-cloud/tenderlens/internal/domain"
)

func TestEmbed_CacheMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding:    []float32{0.1, 0.2, 0.3},
		PromptTokens: 10,
		TotalTokens:  10,
	}}
	ce, ms := newTestCachedEmbedder(t, inner)
	ctx := context.Background()

	// GET → ErrKeyNotFound (cache miss)
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, db.ErrKeyNotFound
	}

	// SET → OK (cache put)
	var setCalled bool
	ms.setFn = func(_ context.Context, _ string, _ []byte, _ time.Duration) (bool, error) {
		setCalled = true
		return true, nil
	}

	result, err := ce.Embed(ctx, "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", result.Embedding)
	}
	if result.TotalTokens != 10 {
		t.Fatalf("expected TotalTokens=10, got %d", result.TotalTokens)
	}
	if !setCalled {
		t.Fatal("expected SET to be called for cache put")
	}
}

func TestEmbed_CacheHit(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding: []float32{0.1, 0.2, 0.3},
	}}
	ce, ms := newTestCachedEmbedder(t, inner)
	ctx := context.Background()

	cached := vectorToCacheBytes([]float32{0.4, 0.5, 0.6})

	// GET → cached bytes
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return cached, nil
	}

	result, err := ce.Embed(ctx, "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.4 {
		t.Fatalf("expected cached vector, got: %v", result.Embedding)
	}
	if result.TotalTokens != 0 {
		t.Fatalf("expected TotalTokens=0 on cache hit, got %d", result.TotalTokens)
	}
}

func TestEmbed_InnerError(t *testing.T) {
	inner := &mockEmbedder{err: errors.New("provider down")}
	ce, ms := newTestCachedEmbedder(t, inner)
	ctx := context.Background()

	// GET → ErrKeyNotFound (cache miss)
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, db.ErrKeyNotFound
	}

	_, err := ce.Embed(ctx, "test text")
	if err == nil {
		t.Fatal("expected error from inner embedder")
	}
}

func TestEmbed_SingleflightSharesMiss(t *testing.T) {
	release := make(chan struct{})
	inner := &blockingEmbedder{release: release, vec: []float32{0.7, 0.3}}
	ce := New(inner, &mockKVStore{}, Options{Model: "m", Dimensions: 2}, nil, zap.NewNop())

	var wg sync.WaitGroup
	results := make([]domain.EmbeddingResult, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = ce.Embed(context.Background(), "Technical")
		}()
	}
	// Даём горутинам встать в singleflight до ответа провайдера.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := inner.calls.Load(); n < 1 || n > 4 {
		t.Fatalf("unexpected inner call count %d", n)
	}
	for i, r := range results {
		if len(r.Embedding) != 2 || r.Embedding[0] != 0.7 {
			t.Errorf("result %d: unexpected vector %v", i, r.Embedding)
		}
	}
}

func TestEmbed_CancelledCallerDoesNotFailSharedMiss(t *testing.T) {
	release := make(chan struct{})
	inner := &blockingEmbedder{release: release, vec: []float32{0.7, 0.3}}
	ce := New(inner, &mockKVStore{}, Options{Model: "m", Dimensions: 2}, nil, zap.NewNop())

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()

	errA := make(chan error, 1)
	go func() {
		_, err := ce.Embed(ctxA, "Technical")
		errA <- err
	}()
	// Ждём, пока первый вызов дойдёт до провайдера.
	for inner.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	type outcome struct {
		res domain.EmbeddingResult
		err error
	}
	doneB := make(chan outcome, 1)
	go func() {
		res, err := ce.Embed(context.Background(), "Technical")
		doneB <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled caller: err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case b := <-doneB:
		if b.err != nil {
			t.Fatalf("live caller failed: %v", b.err)
		}
		if len(b.res.Embedding) != 2 || b.res.Embedding[0] != 0.7 {
			t.Fatalf("live caller: unexpected vector %v", b.res.Embedding)
		}
	case <-time.After(time.Second):
		t.Fatal("live caller did not return")
	}
}

// racingStore is a memory store where another writer stores its vector
// between this process's cache read and its write.
type racingStore struct {
	*memory.Store
	other []float32
	mu    sync.Mutex
	raced map[string]bool
}

func newRacingStore(other []float32) *racingStore {
	return &racingStore{Store: memory.NewStore(), other: other, raced: make(map[string]bool)}
}

func (s *racingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	first := !s.raced[key]
	s.raced[key] = true
	s.mu.Unlock()
	if first {
		if err := s.Store.Set(ctx, key, vectorToCacheBytes(s.other)); err != nil {
			return nil, err
		}
		return nil, db.ErrKeyNotFound
	}
	return s.Store.Get(ctx, key)
}

func TestEmbed_LostRaceReturnsStoredVector(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 0}, TotalTokens: 3}}
	store := newRacingStore([]float32{0, 1})
	ce := New(inner, store, Options{Model: "m", Dimensions: 2}, nil, zap.NewNop())

	res, err := ce.Embed(context.Background(), "Cost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embedding) != 2 || res.Embedding[0] != 0 || res.Embedding[1] != 1 {
		t.Fatalf("expected the stored winner vector, got %v", res.Embedding)
	}

	// Later readers see the same vector.
	again, err := ce.Embed(context.Background(), "Cost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Embedding[1] != 1 {
		t.Fatalf("cache hit returned %v", again.Embedding)
	}
}

func TestBatchEmbed_LostRaceReturnsStoredVector(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 0}}}
	store := newRacingStore([]float32{0, 1})
	ce := New(inner, store, Options{Model: "m", Dimensions: 2}, nil, zap.NewNop())

	res, err := ce.BatchEmbed(context.Background(), []string{"Cost", "Legal"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range res.Embeddings {
		if len(v) != 2 || v[0] != 0 || v[1] != 1 {
			t.Errorf("embedding %d: expected the stored winner vector, got %v", i, v)
		}
	}
}

func TestEmbed_CallTimeoutBoundsSharedCall(t *testing.T) {
	inner := &blockingEmbedder{release: make(chan struct{}), vec: []float32{1}}
	ce := New(inner, &mockKVStore{}, Options{CallTimeout: 20 * time.Millisecond}, nil, zap.NewNop())

	_, err := ce.Embed(context.Background(), "Risk")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestCacheKey_ScopedByModelAndDimensions(t *testing.T) {
	a := New(&mockEmbedder{}, &mockKVStore{}, Options{Model: "m1", Dimensions: 4}, nil, nil)
	b := New(&mockEmbedder{}, &mockKVStore{}, Options{Model: "m2", Dimensions: 4}, nil, nil)
	c := New(&mockEmbedder{}, &mockKVStore{}, Options{Model: "m1", Dimensions: 8}, nil, nil)

	if a.cacheKey("Cost") == b.cacheKey("Cost") || a.cacheKey("Cost") == c.cacheKey("Cost") {
		t.Fatal("cache keys must differ across models and dimensions")
	}
	if a.cacheKey("Cost") != a.cacheKey("Cost") {
		t.Fatal("cache key must be deterministic")
	}
}

func TestEmbed_WrongDimensionIsMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 0, 0, 0}}}
	ms := &mockKVStore{getFn: func(_ context.Context, _ string) ([]byte, error) {
		return vectorToCacheBytes([]float32{0.5, 0.5}), nil
	}}
	ce := New(inner, ms, Options{Model: "m", Dimensions: 4}, nil, zap.NewNop())

	res, err := ce.Embed(context.Background(), "Cost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embedding) != 4 {
		t.Fatalf("expected fresh 4-dim vector, got %v", res.Embedding)
	}
}

// --- BatchEmbed tests ---

func TestBatchEmbed_AllMisses(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding:    []float32{0.1, 0.2},
		PromptTokens: 5,
		TotalTokens:  5,
	}}
	ce, ms := newTestCachedEmbedder(t, inner)

	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, db.ErrKeyNotFound
	}
	var setCount int
	ms.setFn = func(_ context.Context, _ string, _ []byte, _ time.Duration) (bool, error) {
		setCount++
		return true, nil
	}

	res, err := ce.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	if setCount != 2 {
		t.Errorf("expected 2 cache puts, got %d", setCount)
	}
	if inner.batchCalls != 1 {
		t.Errorf("expected 1 batch call to inner, got %d", inner.batchCalls)
	}
	if res.TotalTokens != 10 {
		t.Errorf("expected TotalTokens=10, got %d", res.TotalTokens)
	}
}

func TestBatchEmbed_AllHits(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	ce, ms := newTestCachedEmbedder(t, inner)

	cached := vectorToCacheBytes([]float32{0.9, 0.8})
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return cached, nil
	}

	res, err := ce.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	// Все из кеша — 0 токенов, 0 вызовов inner
	if res.TotalTokens != 0 {
		t.Errorf("expected TotalTokens=0 on all hits, got %d", res.TotalTokens)
	}
	if inner.batchCalls != 0 {
		t.Errorf("expected 0 batch calls (all cache hits), got %d", inner.batchCalls)
	}
}

func TestBatchEmbed_MixedHitsMisses(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding:    []float32{0.5},
		PromptTokens: 3,
		TotalTokens:  3,
	}}
	ce, ms := newTestCachedEmbedder(t, inner)

	cachedVec := vectorToCacheBytes([]float32{0.9})
	callNum := 0
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		callNum++
		if callNum == 2 { // second text is cached
			return cachedVec, nil
		}
		return nil, db.ErrKeyNotFound
	}
	ms.setFn = func(_ context.Context, _ string, _ []byte, _ time.Duration) (bool, error) { return true, nil }

	res, err := ce.BatchEmbed(context.Background(), []string{"miss1", "hit1", "miss2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(res.Embeddings))
	}
	// hit1 returns cached vec
	if res.Embeddings[1][0] != 0.9 {
		t.Errorf("expected cached vec for index 1, got %v", res.Embeddings[1])
	}
	// misses get inner result
	if res.Embeddings[0][0] != 0.5 || res.Embeddings[2][0] != 0.5 {
		t.Errorf("expected inner vec for misses, got %v, %v", res.Embeddings[0], res.Embeddings[2])
	}
	// Only misses consume tokens
	if res.TotalTokens != 6 {
		t.Errorf("expected TotalTokens=6 (2 misses * 3), got %d", res.TotalTokens)
	}
}

func TestBatchEmbed_InnerError(t *testing.T) {
	inner := &mockEmbedder{
		result:   domain.EmbeddingResult{Embedding: []float32{0.1}},
		batchErr: errors.New("api down"),
	}
	ce, ms := newTestCachedEmbedder(t, inner)

	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, db.ErrKeyNotFound
	}

	_, err := ce.BatchEmbed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error from inner batch embedder")
	}
}

func TestBatchEmbed_Empty(t *testing.T) {
	inner := &mockEmbedder{}
	ce, _ := newTestCachedEmbedder(t, inner)

	res, err := ce.BatchEmbed(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Embeddings != nil {
		t.Errorf("expected nil for empty input")
	}
}
