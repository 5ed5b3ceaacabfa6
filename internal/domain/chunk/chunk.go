// Package chunk defines the retrieval unit produced by the segmenter.
package chunk

import "fmt"

// Chunk is a bounded segment of document text. Category is empty when uncategorized.
type Chunk struct {
	ID         string    `json:"id"`
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	Category   string    `json:"category,omitempty"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"-"`
}

// ID formats the identifier of the i-th chunk of a document.
func ID(i int) string {
	return fmt.Sprintf("chunk-%d", i)
}

// Categorized reports whether the classifier assigned a category.
func (c *Chunk) Categorized() bool { return c.Category != "" }

// Texts returns chunk contents in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i := range chunks {
		out[i] = chunks[i].Content
	}
	return out
}
