// Package rfp holds the solicitation context passed alongside a proposal.
package rfp

import (
	"fmt"
	"strings"
)

// Context describes the RFP a proposal responds to. Every field is optional.
type Context struct {
	Title             string   `json:"title" yaml:"title"`
	ShortDescription  string   `json:"short_description" yaml:"short_description"`
	LongDescription   string   `json:"long_description" yaml:"long_description"`
	Budget            float64  `json:"budget" yaml:"budget"`
	TimelineStart     string   `json:"timeline_start" yaml:"timeline_start"`
	TimelineEnd       string   `json:"timeline_end" yaml:"timeline_end"`
	Requirements      []string `json:"requirements" yaml:"requirements"`
	EvaluationMetrics []string `json:"evaluation_metrics" yaml:"evaluation_metrics"`
}

// Describe renders the context as a prompt block. Empty fields are skipped.
func (c Context) Describe() string {
	var b strings.Builder
	line := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			fmt.Fprintf(&b, "- %s: %s\n", label, value)
		}
	}
	line("Title", c.Title)
	line("Short Description", c.ShortDescription)
	line("Description", c.LongDescription)
	if c.Budget > 0 {
		line("Budget", fmt.Sprintf("$%.2f", c.Budget))
	}
	if c.TimelineStart != "" || c.TimelineEnd != "" {
		line("Timeline", fmt.Sprintf("%s to %s", orUnknown(c.TimelineStart), orUnknown(c.TimelineEnd)))
	}
	for _, r := range c.Requirements {
		line("Requirement", r)
	}
	for _, m := range c.EvaluationMetrics {
		line("Evaluation Metric", m)
	}
	if b.Len() == 0 {
		return "- (no RFP details provided)\n"
	}
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unspecified"
	}
	return s
}
