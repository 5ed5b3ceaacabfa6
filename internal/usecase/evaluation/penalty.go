package evaluation

import (
	"fmt"
	"math"
	"strings"

	"github.com/kailas-cloud/tenderlens/internal/domain"
)

// Risk levels.
const (
	RiskNone   = "none"
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RiskTiers are the deductions per risk level.
type RiskTiers struct {
	None   float64 `yaml:"none"`
	Low    float64 `yaml:"low"`
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// DefaultRiskTiers returns none 0, low 3, medium 7, high 12.
func DefaultRiskTiers() RiskTiers {
	return RiskTiers{None: 0, Low: 3, Medium: 7, High: 12}
}

// Validate requires non-negative, strictly increasing tiers.
func (r RiskTiers) Validate() error {
	if r.None < 0 || !(r.None < r.Low && r.Low < r.Medium && r.Medium < r.High) {
		return fmt.Errorf("%w: risk tiers must be non-negative and strictly increasing (none %v, low %v, medium %v, high %v)",
			domain.ErrConfiguration, r.None, r.Low, r.Medium, r.High)
	}
	return nil
}

// Deduction returns the deduction for a normalized level.
func (r RiskTiers) Deduction(level string) float64 {
	switch level {
	case RiskLow:
		return r.Low
	case RiskMedium:
		return r.Medium
	case RiskHigh:
		return r.High
	}
	return r.None
}

// Penalty configures compliance gap deductions.
type Penalty struct {
	PerGap float64 `yaml:"per_gap"`
	Cap    float64 `yaml:"cap"`
}

// ComplianceDeduction is min(gaps*PerGap, Cap).
func (p Penalty) ComplianceDeduction(gaps int) float64 {
	return math.Min(float64(gaps)*p.PerGap, p.Cap)
}

// NormalizeRisk maps free-form model output onto a known level.
func NormalizeRisk(level string) (string, error) {
	l := strings.ToLower(strings.TrimSpace(level))
	switch {
	case l == "", l == RiskNone, l == "no risk", l == "n/a":
		return RiskNone, nil
	case strings.Contains(l, "high"), strings.Contains(l, "critical"), strings.Contains(l, "severe"):
		return RiskHigh, nil
	case strings.Contains(l, "medium"), strings.Contains(l, "moderate"):
		return RiskMedium, nil
	case strings.Contains(l, "low"), strings.Contains(l, "minimal"):
		return RiskLow, nil
	}
	return "", fmt.Errorf("%w: unknown risk level %q", domain.ErrMalformedResponse, level)
}
