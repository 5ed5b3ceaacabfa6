// Package inference is the single entry point for generative model calls:
// prompt budgeting, formatting, retries, pacing and structured output parsing.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/metrics"
	"github.com/kailas-cloud/tenderlens/internal/retry"
	"github.com/kailas-cloud/tenderlens/internal/segment"
)

// Config holds model limits and sampling defaults.
type Config struct {
	Provider        string
	Model           string
	PromptFormat    string
	MaxInputTokens  int
	MaxOutputTokens int
	Temperature     float64
	TopP            float64
}

// Request is one generation call. A zero MaxOutputTokens and nil sampling fields
// take the gateway defaults; an explicit Temperature of 0 asks for greedy decoding.
type Request struct {
	System          string
	Prompt          string
	MaxOutputTokens int
	Temperature     *float64
	TopP            *float64
	// Fallback is decoded into the output when structured output cannot be parsed.
	// Nil makes unparseable output an ErrMalformedResponse.
	Fallback any
}

// JSONOutcome describes how structured output was obtained.
type JSONOutcome string

const (
	OutcomeParsed   JSONOutcome = "parsed"
	OutcomeRepaired JSONOutcome = "repaired"
	OutcomeFallback JSONOutcome = "fallback"
)

// Gateway wraps a domain.Generator.
type Gateway struct {
	gen     domain.Generator
	counter segment.Counter
	cfg     Config
	markup  int // tokens the prompt format adds around system and user text
	policy  retry.Policy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGateway validates cfg. counter defaults to word counting; limiter may be nil.
func NewGateway(
	gen domain.Generator, counter segment.Counter, cfg Config,
	policy retry.Policy, limiter *rate.Limiter, logger *zap.Logger,
) (*Gateway, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: generator is required", domain.ErrConfiguration)
	}
	if cfg.PromptFormat == "" {
		cfg.PromptFormat = FormatPlain
	}
	if !ValidFormat(cfg.PromptFormat) {
		return nil, fmt.Errorf("%w: unknown prompt format %q", domain.ErrConfiguration, cfg.PromptFormat)
	}
	if cfg.Temperature < 0 || cfg.TopP < 0 {
		return nil, fmt.Errorf("%w: temperature and top_p must be non-negative", domain.ErrConfiguration)
	}
	if counter == nil {
		counter = segment.WordCounter{}
	}
	markup := counter.Count(FormatPrompt(cfg.PromptFormat, "", ""))
	if cfg.MaxOutputTokens <= 0 || cfg.MaxInputTokens <= cfg.MaxOutputTokens+markup {
		return nil, fmt.Errorf("%w: max input tokens (%d) must exceed max output tokens (%d) plus %d prompt markup tokens",
			domain.ErrConfiguration, cfg.MaxInputTokens, cfg.MaxOutputTokens, markup)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		gen:     gen,
		counter: counter,
		cfg:     cfg,
		markup:  markup,
		policy:  policy,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Generate runs one text generation.
func (g *Gateway) Generate(ctx context.Context, req Request) (domain.GenerationResult, error) {
	return g.generate(ctx, req, false)
}

// GenerateJSON runs a generation expecting a JSON object and decodes it into out.
// Unparseable output is replaced by req.Fallback when set; provider errors are always returned.
func (g *Gateway) GenerateJSON(ctx context.Context, req Request, out any) (JSONOutcome, error) {
	res, err := g.generate(ctx, req, true)
	if err != nil {
		return "", err
	}

	repaired, perr := ParseObject(res.Text, out)
	if perr == nil {
		outcome := OutcomeParsed
		if repaired {
			outcome = OutcomeRepaired
			g.logger.Debug("Structured output repaired", zap.String("model", g.cfg.Model))
		}
		metrics.GenerationJSONTotal.WithLabelValues(string(outcome)).Inc()
		return outcome, nil
	}

	if req.Fallback != nil {
		if ferr := decodeFallback(req.Fallback, out); ferr != nil {
			return "", fmt.Errorf("%w: fallback: %v", domain.ErrConfiguration, ferr)
		}
		metrics.GenerationJSONTotal.WithLabelValues(string(OutcomeFallback)).Inc()
		g.logger.Warn("Structured output unparseable, using fallback",
			zap.String("model", g.cfg.Model),
			zap.String("output", preview(res.Text)),
			zap.Error(perr),
		)
		return OutcomeFallback, nil
	}

	metrics.GenerationJSONTotal.WithLabelValues("malformed").Inc()
	return "", fmt.Errorf("%w: %v (output %q)", domain.ErrMalformedResponse, perr, preview(res.Text))
}

func (g *Gateway) generate(ctx context.Context, req Request, jsonMode bool) (domain.GenerationResult, error) {
	maxOut := req.MaxOutputTokens
	if maxOut <= 0 {
		maxOut = g.cfg.MaxOutputTokens
	}
	budget := g.cfg.MaxInputTokens - maxOut - g.markup
	if budget <= 0 {
		return domain.GenerationResult{}, fmt.Errorf("%w: output tokens %d leave no input budget", domain.ErrConfiguration, maxOut)
	}

	system, prompt, truncated := g.fit(req.System, req.Prompt, budget)
	if truncated {
		metrics.GenerationPromptTruncationsTotal.WithLabelValues(g.cfg.Provider, g.cfg.Model).Inc()
		g.logger.Debug("Prompt truncated to input budget",
			zap.Int("budget_tokens", budget),
			zap.Int("original_tokens", g.counter.Count(req.System)+g.counter.Count(req.Prompt)),
		)
	}

	greq := domain.GenerationRequest{
		System:          system,
		Prompt:          prompt,
		Formatted:       FormatPrompt(g.cfg.PromptFormat, system, prompt),
		MaxOutputTokens: maxOut,
		Temperature:     valueOr(req.Temperature, g.cfg.Temperature),
		TopP:            valueOr(req.TopP, g.cfg.TopP),
		JSON:            jsonMode,
	}

	policy := g.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.GenerationRetriesTotal.WithLabelValues(g.cfg.Provider, g.cfg.Model).Inc()
		g.logger.Warn("Generation request retry",
			zap.String("provider", g.cfg.Provider),
			zap.String("model", g.cfg.Model),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}

	start := time.Now()
	res, err := retry.Value(ctx, policy, func(ctx context.Context) (domain.GenerationResult, error) {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return domain.GenerationResult{}, fmt.Errorf("rate limiter: %w", err)
			}
		}
		return g.gen.Generate(ctx, greq)
	})
	duration := time.Since(start)
	metrics.GenerationRequestDuration.WithLabelValues(g.cfg.Provider, g.cfg.Model).Observe(duration.Seconds())

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.cfg.Provider, g.cfg.Model, "error").Inc()
		return domain.GenerationResult{}, fmt.Errorf("generate: %w", err)
	}
	metrics.GenerationRequestsTotal.WithLabelValues(g.cfg.Provider, g.cfg.Model, "ok").Inc()

	if res.PromptTokens == 0 {
		res.PromptTokens = g.counter.Count(system) + g.counter.Count(prompt)
	}
	if res.CompletionTokens == 0 {
		res.CompletionTokens = g.counter.Count(res.Text)
	}
	metrics.GenerationTokensTotal.WithLabelValues(g.cfg.Provider, g.cfg.Model, "prompt").Add(float64(res.PromptTokens))
	metrics.GenerationTokensTotal.WithLabelValues(g.cfg.Provider, g.cfg.Model, "completion").Add(float64(res.CompletionTokens))
	domain.UsageFromContext(ctx).AddGeneration(res.PromptTokens, res.CompletionTokens)

	g.logger.Debug("Generation request completed",
		zap.String("provider", g.cfg.Provider),
		zap.String("model", g.cfg.Model),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", res.PromptTokens),
		zap.Int("completion_tokens", res.CompletionTokens),
	)
	return res, nil
}

// fit cuts the user prompt (then the system prompt) from the tail so both fit budget tokens.
func (g *Gateway) fit(system, prompt string, budget int) (string, string, bool) {
	sys := g.counter.Count(system)
	usr := g.counter.Count(prompt)
	if sys+usr <= budget {
		return system, prompt, false
	}
	if sys >= budget {
		return g.counter.Head(system, budget), "", true
	}
	return system, g.counter.Head(prompt, budget-sys), true
}

func decodeFallback(fallback, out any) error {
	data, err := json.Marshal(fallback)
	if err != nil {
		return err
	}
	reset(out)
	return json.Unmarshal(data, out)
}

// Float64 returns a pointer to v, for the optional sampling fields of Request.
func Float64(v float64) *float64 { return &v }

func valueOr(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
