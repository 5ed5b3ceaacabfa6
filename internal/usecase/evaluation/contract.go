package evaluation

import (
	"context"

	"github.com/kailas-cloud/tenderlens/internal/usecase/inference"
)

// Generator is the structured generation surface the evaluator needs.
type Generator interface {
	GenerateJSON(ctx context.Context, req inference.Request, out any) (inference.JSONOutcome, error)
}
