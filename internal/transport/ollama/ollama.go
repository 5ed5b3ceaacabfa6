// Package ollama adapts a local Ollama server to the embedding and generation contracts.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/metrics"
)

// DefaultBaseURL is where a local Ollama server listens.
const DefaultBaseURL = "http://localhost:11434"

// Config holds the Ollama connection settings.
type Config struct {
	BaseURL  string
	Model    string
	Provider string
	Timeout  time.Duration
	Logger   *zap.Logger
}

func (cfg *Config) llm() (*ollama.LLM, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: ollama model is not set", domain.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Provider == "" {
		cfg.Provider = "ollama"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	opts := []ollama.Option{ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL)}
	if cfg.Timeout > 0 {
		opts = append(opts, ollama.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: init ollama: %v", domain.ErrConfiguration, err)
	}
	return llm, nil
}

// Embedder produces embeddings through Ollama.
type Embedder struct {
	llm      *ollama.LLM
	model    string
	provider string
	baseURL  string
	logger   *zap.Logger
}

// NewEmbedder creates an Ollama embedding provider.
func NewEmbedder(cfg *Config) (*Embedder, error) {
	llm, err := cfg.llm()
	if err != nil {
		return nil, err
	}
	return &Embedder{llm: llm, model: cfg.Model, provider: cfg.Provider, baseURL: cfg.BaseURL, logger: cfg.Logger}, nil
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embeddings[0]}, nil
}

// BatchEmbed implements domain.BatchEmbedder. Ollama reports no token usage for embeddings.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	start := time.Now()
	vectors, err := e.llm.CreateEmbedding(ctx, texts)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, e.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, e.model, "api_error").Inc()
		return domain.BatchEmbeddingResult{}, classify(ctx, "embedding", err)
	}
	if len(vectors) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, e.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, e.model, "count_mismatch").Inc()
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embedding count mismatch: sent %d, got %d: %w",
			len(texts), len(vectors), domain.ErrTerminalProvider)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, e.model).Observe(duration.Seconds())
	return domain.BatchEmbeddingResult{Embeddings: vectors}, nil
}

// HealthCheck pings the server's model listing.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	return ping(ctx, e.baseURL)
}

// Generator produces completions through Ollama's chat endpoint.
type Generator struct {
	llm      *ollama.LLM
	model    string
	provider string
	baseURL  string
	logger   *zap.Logger
}

// NewGenerator creates an Ollama generation provider.
func NewGenerator(cfg *Config) (*Generator, error) {
	llm, err := cfg.llm()
	if err != nil {
		return nil, err
	}
	return &Generator{llm: llm, model: cfg.Model, provider: cfg.Provider, baseURL: cfg.BaseURL, logger: cfg.Logger}, nil
}

// Generate implements domain.Generator.
func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	var content []llms.MessageContent
	if req.System != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxOutputTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxOutputTokens))
	}
	if req.TopP > 0 {
		opts = append(opts, llms.WithTopP(req.TopP))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	start := time.Now()
	resp, err := g.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return domain.GenerationResult{}, classify(ctx, "chat", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return domain.GenerationResult{}, fmt.Errorf("chat response has no choices: %w", domain.ErrTransientProvider)
	}

	choice := resp.Choices[0]
	res := domain.GenerationResult{
		Text:             choice.Content,
		PromptTokens:     intInfo(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
	}
	g.logger.Debug("Generation completed",
		zap.String("provider", g.provider),
		zap.String("model", g.model),
		zap.Int("completion_tokens", res.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// HealthCheck pings the server's model listing.
func (g *Generator) HealthCheck(ctx context.Context) error {
	return ping(ctx, g.baseURL)
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func ping(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return classify(ctx, "ping", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama ping status %d: %w", resp.StatusCode, domain.ErrTransientProvider)
	}
	return nil
}

var transientMarkers = []string{
	"connection refused", "connection reset", "timeout", "deadline exceeded",
	"eof", "too many requests", "rate limit", "unavailable", "overloaded",
	"status code: 5", "status code 5", "500", "502", "503", "504", "429",
}

// classify tags langchaingo errors, which carry no typed status, by message.
func classify(ctx context.Context, kind string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("ollama %s: %v: %w", kind, err, domain.ErrTransientProvider)
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("ollama %s: %v: %w", kind, err, domain.ErrTransientProvider)
		}
	}
	return fmt.Errorf("ollama %s: %v: %w", kind, err, domain.ErrTerminalProvider)
}
