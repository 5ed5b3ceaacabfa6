// Package segment splits documents into token-bounded, overlapping chunks.
package segment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/domain/chunk"
)

var (
	paragraphRe = regexp.MustCompile(`\n[ \t]*\n`)
	sentenceRe  = regexp.MustCompile(`[^.!?]+[.!?]+`)
)

// Segmenter cuts text into chunks of at most maxTokens tokens, overlap included.
type Segmenter struct {
	counter Counter
	max     int
	overlap int
}

// New validates limits and returns a Segmenter. overlap must be in [0, maxTokens).
func New(counter Counter, maxTokens, overlapTokens int) (*Segmenter, error) {
	if counter == nil {
		counter = WordCounter{}
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", domain.ErrConfiguration, maxTokens)
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", domain.ErrConfiguration, overlapTokens, maxTokens)
	}
	return &Segmenter{counter: counter, max: maxTokens, overlap: overlapTokens}, nil
}

// Counter returns the token counter used for limits.
func (s *Segmenter) Counter() Counter { return s.counter }

type unit struct {
	text      string
	paragraph bool // first unit of a paragraph
}

// Segment splits text. Whitespace-only input yields no chunks.
func (s *Segmenter) Segment(text string) []chunk.Chunk {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	limit := s.max - s.overlap
	bodies := s.pack(s.units(text, limit), limit)

	chunks := make([]chunk.Chunk, 0, len(bodies))
	prev := ""
	for i, body := range bodies {
		content := body
		if i > 0 && s.overlap > 0 {
			content = s.withOverlap(prev, body)
		}
		chunks = append(chunks, chunk.Chunk{
			ID:         chunk.ID(i),
			Index:      i,
			Content:    content,
			TokenCount: s.counter.Count(content),
		})
		prev = content
	}
	return chunks
}

// units breaks text into pieces no longer than limit: whole paragraphs,
// then sentences, then hard token splits.
func (s *Segmenter) units(text string, limit int) []unit {
	var out []unit
	for _, para := range paragraphRe.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if s.counter.Count(para) <= limit {
			out = append(out, unit{text: para, paragraph: true})
			continue
		}
		first := true
		for _, sent := range sentences(para) {
			for _, piece := range s.fit(sent, limit) {
				out = append(out, unit{text: piece, paragraph: first})
				first = false
			}
		}
	}
	return out
}

func (s *Segmenter) fit(text string, limit int) []string {
	if s.counter.Count(text) <= limit {
		return []string{text}
	}
	var out []string
	for _, piece := range s.counter.Split(text, limit) {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		// Re-encoding a decoded piece can grow it by a token.
		for s.counter.Count(piece) > limit {
			piece = s.counter.Head(piece, limit)
		}
		out = append(out, piece)
	}
	return out
}

func sentences(para string) []string {
	locs := sentenceRe.FindAllStringIndex(para, -1)
	var out []string
	end := 0
	for _, loc := range locs {
		if sent := strings.TrimSpace(para[loc[0]:loc[1]]); sent != "" {
			out = append(out, sent)
		}
		end = loc[1]
	}
	if rest := strings.TrimSpace(para[end:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// pack greedily merges units while the merged body stays within limit.
func (s *Segmenter) pack(units []unit, limit int) []string {
	var (
		bodies []string
		cur    string
	)
	for _, u := range units {
		if cur == "" {
			cur = u.text
			continue
		}
		sep := " "
		if u.paragraph {
			sep = "\n\n"
		}
		candidate := cur + sep + u.text
		if s.counter.Count(candidate) <= limit {
			cur = candidate
			continue
		}
		bodies = append(bodies, cur)
		cur = u.text
	}
	if cur != "" {
		bodies = append(bodies, cur)
	}
	return bodies
}

// withOverlap prefixes body with the tail of prev, shrinking the tail until the result fits.
func (s *Segmenter) withOverlap(prev, body string) string {
	for n := s.overlap; n > 0; n-- {
		prefix := strings.TrimSpace(s.counter.Tail(prev, n))
		if prefix == "" {
			break
		}
		content := prefix + " " + body
		if s.counter.Count(content) <= s.max {
			return content
		}
	}
	return body
}
