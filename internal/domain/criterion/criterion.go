// Package criterion defines weighted evaluation criteria and their results.
package criterion

import (
	"fmt"
	"math"
	"strings"

	"github.com/kailas-cloud/tenderlens/internal/domain"
)

// WeightTolerance is the allowed drift of a weight sum from 1.0.
const WeightTolerance = 0.01

// Criterion is one weighted scoring dimension.
type Criterion struct {
	Key            string  `json:"key" yaml:"key"`
	DisplayName    string  `json:"display_name" yaml:"display_name"`
	Weight         float64 `json:"weight" yaml:"weight"`
	RetrievalQuery string  `json:"retrieval_query" yaml:"retrieval_query"`
}

// Name returns DisplayName, or Key when no display name is set.
func (c Criterion) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Key
}

// Query returns the retrieval query, defaulting to the criterion name.
func (c Criterion) Query() string {
	if strings.TrimSpace(c.RetrievalQuery) != "" {
		return c.RetrievalQuery
	}
	return c.Name()
}

// Result is the scored outcome of a single criterion.
type Result struct {
	Key       string   `json:"key"`
	Score     float64  `json:"score"`
	Comments  []string `json:"comments"`
	Narrative string   `json:"narrative"`
}

// Penalties are deductions applied after weighted aggregation.
type Penalties struct {
	ComplianceGaps      []string `json:"compliance_gaps"`
	RiskLevel           string   `json:"risk_level"`
	ComplianceDeduction float64  `json:"compliance_deduction"`
	RiskDeduction       float64  `json:"risk_deduction"`
}

// Evaluation is the aggregate result of scoring a proposal.
type Evaluation struct {
	JobID        string               `json:"job_id"`
	OverallScore float64              `json:"overall_score"`
	WeightedRaw  float64              `json:"weighted_raw"`
	PerCriterion map[string]Result    `json:"per_criterion"`
	ShortSummary string               `json:"short_summary"`
	Penalties    Penalties            `json:"penalties"`
	Usage        domain.UsageSnapshot `json:"usage"`
}

// Validate checks a criteria set: non-empty, unique keys, weights in (0,1]
// summing to 1 within WeightTolerance.
func Validate(criteria []Criterion) error {
	if len(criteria) == 0 {
		return fmt.Errorf("%w: no criteria", domain.ErrInvalidCriteria)
	}
	seen := make(map[string]struct{}, len(criteria))
	var sum float64
	for i, c := range criteria {
		key := strings.TrimSpace(c.Key)
		if key == "" {
			return fmt.Errorf("%w: criterion %d has empty key", domain.ErrInvalidCriteria, i)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate key %q", domain.ErrInvalidCriteria, key)
		}
		seen[key] = struct{}{}
		if math.IsNaN(c.Weight) || c.Weight <= 0 || c.Weight > 1 {
			return fmt.Errorf("%w: weight of %q must be in (0,1], got %v", domain.ErrInvalidCriteria, key, c.Weight)
		}
		sum += c.Weight
	}
	if math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("%w: weights sum to %.4f, want 1.0", domain.ErrInvalidCriteria, sum)
	}
	return nil
}

// Weighted returns Σ score×weight over results keyed by criterion.
// Criteria without a result contribute nothing.
func Weighted(criteria []Criterion, results map[string]Result) float64 {
	var total float64
	for _, c := range criteria {
		if r, ok := results[c.Key]; ok {
			total += r.Score * c.Weight
		}
	}
	return total
}

// ClampScore bounds a score to [0,100].
func ClampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
