// Package index is a per-job in-memory nearest-neighbor index.
//
// Search is a brute-force linear scan. A document produces tens to low
// thousands of chunks and the index is discarded when the job ends, so no
// ANN structure is kept.
package index

import (
	"sort"
	"sync"

	"github.com/kailas-cloud/tenderlens/internal/domain/vector"
)

// Document is one indexed entry.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// Hit is a search result with its cosine similarity.
type Hit struct {
	Document
	Score float64
}

// Index stores documents in insertion order.
type Index struct {
	mu   sync.RWMutex
	dim  int
	docs []Document
}

// New creates an empty index. Vectors are fitted to dim; dim <= 0 disables fitting.
func New(dim int) *Index {
	return &Index{dim: dim}
}

// Add appends documents.
func (x *Index) Add(docs ...Document) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, d := range docs {
		d.Embedding, _ = vector.Fit(d.Embedding, x.dim)
		x.docs = append(x.docs, d)
	}
}

// Search returns up to k documents by descending similarity to q.
// Equal scores keep insertion order.
func (x *Index) Search(q []float32, k int) []Hit {
	if k <= 0 {
		return nil
	}
	q, _ = vector.Fit(q, x.dim)

	x.mu.RLock()
	hits := make([]Hit, len(x.docs))
	for i, d := range x.docs {
		hits[i] = Hit{Document: d, Score: vector.Cosine(q, d.Embedding)}
	}
	x.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// Clear drops every document.
func (x *Index) Clear() {
	x.mu.Lock()
	x.docs = nil
	x.mu.Unlock()
}

// Len returns the number of documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Dim returns the configured dimension.
func (x *Index) Dim() int { return x.dim }
