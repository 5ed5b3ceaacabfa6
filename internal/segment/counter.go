package segment

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kailas-cloud/tenderlens/internal/domain"
)

// Counter measures and cuts text in tokens.
type Counter interface {
	Count(text string) int
	// Head returns the first n tokens of text.
	Head(text string, n int) string
	// Tail returns the last n tokens of text.
	Tail(text string, n int) string
	// Split cuts text into consecutive pieces of at most n tokens.
	Split(text string, n int) []string
}

var wordRe = regexp.MustCompile(`\S+`)

// WordCounter treats every whitespace-separated run as one token.
// Cuts are made on byte offsets so the original spacing inside a piece is preserved.
type WordCounter struct{}

func (WordCounter) Count(text string) int {
	return len(wordRe.FindAllStringIndex(text, -1))
}

func (WordCounter) Head(text string, n int) string {
	if n <= 0 {
		return ""
	}
	locs := wordRe.FindAllStringIndex(text, -1)
	if n >= len(locs) {
		return text
	}
	return text[:locs[n-1][1]]
}

func (WordCounter) Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	locs := wordRe.FindAllStringIndex(text, -1)
	if n >= len(locs) {
		return text
	}
	return text[locs[len(locs)-n][0]:]
}

func (WordCounter) Split(text string, n int) []string {
	locs := wordRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 || n <= 0 {
		return nil
	}
	var out []string
	for i := 0; i < len(locs); i += n {
		j := i + n
		if j > len(locs) {
			j = len(locs)
		}
		out = append(out, text[locs[i][0]:locs[j-1][1]])
	}
	return out
}

// TiktokenCounter counts BPE tokens with a tiktoken encoding.
type TiktokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base".
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: tiktoken encoding %q: %v", domain.ErrConfiguration, encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) encode(text string) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(text, nil, nil)
}

func (c *TiktokenCounter) decode(tokens []int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Decode(tokens)
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.encode(text))
}

func (c *TiktokenCounter) Head(text string, n int) string {
	if n <= 0 {
		return ""
	}
	tokens := c.encode(text)
	if n >= len(tokens) {
		return text
	}
	return c.decode(tokens[:n])
}

func (c *TiktokenCounter) Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	tokens := c.encode(text)
	if n >= len(tokens) {
		return text
	}
	return c.decode(tokens[len(tokens)-n:])
}

func (c *TiktokenCounter) Split(text string, n int) []string {
	tokens := c.encode(text)
	if len(tokens) == 0 || n <= 0 {
		return nil
	}
	var out []string
	for i := 0; i < len(tokens); i += n {
		j := i + n
		if j > len(tokens) {
			j = len(tokens)
		}
		out = append(out, c.decode(tokens[i:j]))
	}
	return out
}

// NewCounter returns the counter for a configured tokenizer name.
// "" and "words" select WordCounter, anything else is treated as a tiktoken encoding.
func NewCounter(tokenizer string) (Counter, error) {
	switch tokenizer {
	case "", "words":
		return WordCounter{}, nil
	default:
		return NewTiktokenCounter(tokenizer)
	}
}
