package mock

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/tenderlens/internal/domain"
)

func TestEmbedder_Deterministic(t *testing.T) {
	e := NewEmbedder(16)
	a, err := e.Embed(context.Background(), "proposal")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "proposal")
	require.NoError(t, err)
	assert.Equal(t, a.Embedding, b.Embedding)
	assert.Len(t, a.Embedding, 16)

	var sum float64
	for _, x := range a.Embedding {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestEmbedder_Keywords(t *testing.T) {
	e := NewEmbedder(4, "Budget", "team")
	res, err := e.BatchEmbed(context.Background(), []string{"budget plan", "Team and budget", "other"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, res.Embeddings[0])
	assert.Equal(t, []float32{1, 1, 0, 0}, res.Embeddings[1])
	assert.Equal(t, []float32{0, 0, 0, 0}, res.Embeddings[2])

	single, batch := e.Calls()
	assert.Equal(t, int64(0), single)
	assert.Equal(t, int64(1), batch)
}

func TestGenerator_DefaultAndScripted(t *testing.T) {
	g := &Generator{}
	res, err := g.Generate(context.Background(), domain.GenerationRequest{Prompt: "score this"})
	require.NoError(t, err)
	assert.Equal(t, DefaultReply, res.Text)

	g.Respond = func(req domain.GenerationRequest) (string, error) { return "echo " + req.Prompt, nil }
	res, err = g.Generate(context.Background(), domain.GenerationRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo hi", res.Text)
	assert.Len(t, g.Requests(), 2)
}
