package criterion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/tenderlens/internal/domain"
)

func threeCriteria() []Criterion {
	return []Criterion{
		{Key: "technical", Weight: 0.5},
		{Key: "cost", Weight: 0.3},
		{Key: "team", Weight: 0.2},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		criteria []Criterion
		wantErr  bool
	}{
		{"valid", threeCriteria(), false},
		{"within tolerance", []Criterion{{Key: "a", Weight: 0.5}, {Key: "b", Weight: 0.495}}, false},
		{"empty", nil, true},
		{"blank key", []Criterion{{Key: " ", Weight: 1}}, true},
		{"duplicate key", []Criterion{{Key: "a", Weight: 0.5}, {Key: "a", Weight: 0.5}}, true},
		{"zero weight", []Criterion{{Key: "a", Weight: 0}, {Key: "b", Weight: 1}}, true},
		{"weight above one", []Criterion{{Key: "a", Weight: 1.2}}, true},
		{"sum too low", []Criterion{{Key: "a", Weight: 0.5}, {Key: "b", Weight: 0.4}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.criteria)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidCriteria)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestWeighted(t *testing.T) {
	results := map[string]Result{
		"technical": {Key: "technical", Score: 80},
		"cost":      {Key: "cost", Score: 90},
		"team":      {Key: "team", Score: 70},
	}
	assert.InDelta(t, 80.0, Weighted(threeCriteria(), results), 1e-9)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-5))
	assert.Equal(t, 100.0, ClampScore(140))
	assert.Equal(t, 42.5, ClampScore(42.5))
}

func TestCriterionDefaults(t *testing.T) {
	c := Criterion{Key: "security"}
	assert.Equal(t, "security", c.Name())
	assert.Equal(t, "security", c.Query())

	c.DisplayName = "Security Posture"
	assert.Equal(t, "Security Posture", c.Query())

	c.RetrievalQuery = "encryption and access control"
	assert.Equal(t, "encryption and access control", c.Query())
}
