package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_OrderAndLimit(t *testing.T) {
	x := New(2)
	x.Add(
		Document{ID: "far", Embedding: []float32{0, 1}},
		Document{ID: "near", Embedding: []float32{1, 0}},
		Document{ID: "mid", Embedding: []float32{1, 1}},
	)

	hits := x.Search([]float32{1, 0}, 2)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].ID)
	assert.Equal(t, "mid", hits[1].ID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	assert.Len(t, x.Search([]float32{1, 0}, 10), 3)
	assert.Empty(t, x.Search([]float32{1, 0}, 0))
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	x := New(3)
	x.Add(
		Document{ID: "first", Embedding: []float32{1, 0, 0}},
		Document{ID: "second", Embedding: []float32{2, 0, 0}},
		Document{ID: "other", Embedding: []float32{0, 0, 1}},
	)

	for i := 0; i < 20; i++ {
		hits := x.Search([]float32{1, 0, 0}, 2)
		require.Len(t, hits, 2)
		assert.Equal(t, "first", hits[0].ID)
		assert.Equal(t, "second", hits[1].ID)
	}
}

func TestAdd_FitsDimension(t *testing.T) {
	x := New(3)
	x.Add(Document{ID: "short", Embedding: []float32{1}}, Document{ID: "long", Embedding: []float32{1, 2, 3, 4}})

	hits := x.Search([]float32{1, 0, 0, 9}, 2)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Len(t, h.Embedding, 3)
	}
	assert.Equal(t, "short", hits[0].ID)
}

func TestClear(t *testing.T) {
	x := New(2)
	x.Add(Document{ID: "a", Embedding: []float32{1, 0}})
	require.Equal(t, 1, x.Len())

	x.Clear()
	assert.Equal(t, 0, x.Len())
	assert.Empty(t, x.Search([]float32{1, 0}, 3))
}

func TestConcurrentAddSearch(t *testing.T) {
	x := New(2)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			x.Add(Document{ID: fmt.Sprintf("d%d", i), Embedding: []float32{float32(i), 1}})
		}(i)
		go func() {
			defer wg.Done()
			_ = x.Search([]float32{1, 1}, 3)
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, x.Len())
}
