// Package mock provides deterministic offline providers for local runs and tests.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kailas-cloud/tenderlens/internal/domain"
)

// Embedder returns deterministic vectors. With keywords set, component i is 1 when the
// text contains keywords[i]; otherwise vectors are derived from a hash of the text.
type Embedder struct {
	dim      int
	keywords []string

	// Fail, when set, decides per text whether Embed errors.
	Fail func(text string) error
	// BatchErr, when set, is returned by every BatchEmbed call.
	BatchErr error

	calls      atomic.Int64
	batchCalls atomic.Int64
}

// NewEmbedder creates a mock embedder. dim <= 0 defaults to 1024.
func NewEmbedder(dim int, keywords ...string) *Embedder {
	if dim <= 0 {
		dim = 1024
	}
	if len(keywords) > dim {
		dim = len(keywords)
	}
	lower := make([]string, len(keywords))
	for i, k := range keywords {
		lower[i] = strings.ToLower(k)
	}
	return &Embedder{dim: dim, keywords: lower}
}

func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, err
	}
	if e.Fail != nil {
		if err := e.Fail(text); err != nil {
			return domain.EmbeddingResult{}, err
		}
	}
	tokens := len(strings.Fields(text))
	return domain.EmbeddingResult{Embedding: e.vector(text), PromptTokens: tokens, TotalTokens: tokens}, nil
}

func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	e.batchCalls.Add(1)
	if e.BatchErr != nil {
		return domain.BatchEmbeddingResult{}, e.BatchErr
	}
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
		if e.Fail != nil {
			if err := e.Fail(t); err != nil {
				return domain.BatchEmbeddingResult{}, err
			}
		}
		out.Embeddings[i] = e.vector(t)
		n := len(strings.Fields(t))
		out.PromptTokens += n
		out.TotalTokens += n
	}
	return out, nil
}

func (e *Embedder) HealthCheck(context.Context) error { return nil }

// Calls returns the number of Embed and BatchEmbed calls.
func (e *Embedder) Calls() (single, batch int64) {
	return e.calls.Load(), e.batchCalls.Load()
}

func (e *Embedder) vector(text string) []float32 {
	if len(e.keywords) == 0 {
		return hashVector(text, e.dim)
	}
	v := make([]float32, e.dim)
	lower := strings.ToLower(text)
	for i, k := range e.keywords {
		if strings.Contains(lower, k) {
			v[i] = 1
		}
	}
	return v
}

func hashVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	var sum float64
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
		sum += float64(vec[i]) * float64(vec[i])
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// DefaultReply satisfies every structured prompt the engine issues.
const DefaultReply = `{"score": 50, "comments": ["Deterministic mock output."], "evaluation": "Mock evaluation.",` +
	` "complianceGaps": [], "riskLevel": "low", "suggestions": ["Mock suggestion."], "isComplete": true,` +
	` "value": null, "items": [], "summary": "Mock summary."}`

// Generator answers generation requests through Respond, or with DefaultReply.
type Generator struct {
	Respond func(req domain.GenerationRequest) (string, error)

	mu       sync.Mutex
	requests []domain.GenerationRequest
}

func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.GenerationResult{}, err
	}
	text := DefaultReply
	if g.Respond != nil {
		var err error
		if text, err = g.Respond(req); err != nil {
			return domain.GenerationResult{}, err
		}
	}
	return domain.GenerationResult{
		Text:             text,
		PromptTokens:     len(strings.Fields(req.System)) + len(strings.Fields(req.Prompt)),
		CompletionTokens: len(strings.Fields(text)),
	}, nil
}

func (g *Generator) HealthCheck(context.Context) error { return nil }

// Requests returns a copy of every request received.
func (g *Generator) Requests() []domain.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.GenerationRequest(nil), g.requests...)
}
