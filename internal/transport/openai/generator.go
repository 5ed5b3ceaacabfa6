package openai

import (
	"context"
	"fmt"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/tenderlens/internal/domain"
)

// Generation API modes.
const (
	ModeChat       = "chat"
	ModeCompletion = "completion"
)

// Generator is a text generation provider using the OpenAI-compatible API.
// Chat mode sends System and Prompt as messages; completion mode sends the pre-formatted prompt.
// Request metrics are recorded by the inference gateway.
type Generator struct {
	client   *openai.Client
	model    string
	mode     string
	provider string
	logger   *zap.Logger
}

// NewGenerator creates a generator. mode is ModeChat (default) or ModeCompletion.
func NewGenerator(cfg *Config, mode string) (*Generator, error) {
	if mode == "" {
		mode = ModeChat
	}
	if mode != ModeChat && mode != ModeCompletion {
		return nil, fmt.Errorf("%w: unknown generation mode %q", domain.ErrConfiguration, mode)
	}
	client, err := cfg.client()
	if err != nil {
		return nil, err
	}
	return &Generator{client: client, model: cfg.Model, mode: mode, provider: cfg.Provider, logger: cfg.Logger}, nil
}

// Generate implements domain.Generator.
func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	start := time.Now()

	var (
		res domain.GenerationResult
		err error
	)
	if g.mode == ModeCompletion {
		res, err = g.complete(ctx, req)
	} else {
		res, err = g.chat(ctx, req)
	}
	duration := time.Since(start)

	if err != nil {
		return domain.GenerationResult{}, err
	}

	g.logger.Debug("Generation completed",
		zap.String("provider", g.provider),
		zap.String("mode", g.mode),
		zap.Int("prompt_tokens", res.PromptTokens),
		zap.Int("completion_tokens", res.CompletionTokens),
		zap.Duration("duration", duration),
	)
	return res, nil
}

func (g *Generator) chat(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	creq := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: temperature(req.Temperature),
		TopP:        float32(req.TopP),
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := g.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return domain.GenerationResult{}, parseAPIError(ctx, "chat", err)
	}
	if len(resp.Choices) == 0 {
		return domain.GenerationResult{}, fmt.Errorf("chat response has no choices: %w", domain.ErrTransientProvider)
	}
	return domain.GenerationResult{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (g *Generator) complete(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	prompt := req.Formatted
	if prompt == "" {
		prompt = req.Prompt
	}
	resp, err := g.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       g.model,
		Prompt:      prompt,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: temperature(req.Temperature),
		TopP:        float32(req.TopP),
	})
	if err != nil {
		return domain.GenerationResult{}, parseAPIError(ctx, "completion", err)
	}
	if len(resp.Choices) == 0 {
		return domain.GenerationResult{}, fmt.Errorf("completion response has no choices: %w", domain.ErrTransientProvider)
	}
	return domain.GenerationResult{
		Text:             resp.Choices[0].Text,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels.
func (g *Generator) HealthCheck(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return parseAPIError(ctx, "list models", err)
	}
	return nil
}

// temperature maps 0 to the smallest positive float32: go-openai omits a zero value
// and the API then samples at its default of 1.
func temperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
