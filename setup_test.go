package tenderlens

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/time/rate"

	"github.com/kailas-cloud/tenderlens/internal/config"
)

func mockConfig(t *testing.T, cacheDriver string) Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
embedding:
  provider: mock
  dimensions: 32
segmenter:
  max_tokens: 64
  overlap_tokens: 8
retry:
  max_retries: 1
  initial_delay_ms: 1
cache:
  driver: ` + cacheDriver + `
`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func TestNewFromConfig_Mock(t *testing.T) {
	e, err := NewFromConfig(context.Background(), mockConfig(t, "memory"), nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer e.Close()

	ev, err := e.EvaluateProposal(context.Background(), proposal, RFPContext{}, testCriteria)
	if err != nil {
		t.Fatalf("EvaluateProposal: %v", err)
	}
	if ev.OverallScore != 47 {
		t.Errorf("overall = %v, want 47", ev.OverallScore)
	}

	report := e.HealthCheck(context.Background())
	if _, ok := report.Checks["cache"]; !ok {
		t.Error("memory cache is not health checked")
	}
}

func TestNewFromConfig_NoCache(t *testing.T) {
	e, err := NewFromConfig(context.Background(), mockConfig(t, "none"), nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer e.Close()

	report := e.HealthCheck(context.Background())
	if _, ok := report.Checks["cache"]; ok {
		t.Error("cache checked although disabled")
	}
	if report.Status != "ok" {
		t.Errorf("status = %q, want ok", report.Status)
	}
}

func TestNewFromConfig_InvalidConfig(t *testing.T) {
	cfg := mockConfig(t, "memory")
	cfg.Cache.Driver = "memcached"

	_, err := NewFromConfig(context.Background(), cfg, nil)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestBuildEmbedder_OpenAIWithoutKey(t *testing.T) {
	_, err := buildEmbedder(config.EmbeddingConfig{
		ProviderConfig: config.ProviderConfig{Provider: config.ProviderOpenAI, Model: "text-embedding-3-small"},
	}, nil, nil)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestBuildGenerator_UnknownProvider(t *testing.T) {
	_, err := buildGenerator(config.GenerationConfig{
		ProviderConfig: config.ProviderConfig{Provider: "bedrock"},
	}, nil)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestBuildCache(t *testing.T) {
	ctx := context.Background()

	s, err := buildCache(ctx, config.CacheConfig{Driver: config.CacheNone})
	if err != nil || s != nil {
		t.Errorf("none: store = %v, err = %v", s, err)
	}

	s, err = buildCache(ctx, config.CacheConfig{Driver: config.CacheMemory})
	if err != nil || s == nil {
		t.Fatalf("memory: store = %v, err = %v", s, err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("memory ping: %v", err)
	}
	s.Close()
}

func TestNewLimiter(t *testing.T) {
	if l := newLimiter(config.ProviderConfig{}); l != nil {
		t.Error("expected no limiter when requests_per_second is 0")
	}
	l := newLimiter(config.ProviderConfig{RequestsPerSecond: 5})
	if l == nil {
		t.Fatal("expected limiter")
	}
	if l.Limit() != rate.Limit(5) || l.Burst() != 1 {
		t.Errorf("limit = %v burst = %d, want 5/1", l.Limit(), l.Burst())
	}
}
