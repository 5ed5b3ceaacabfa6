package extraction

import (
	"context"

	"github.com/kailas-cloud/tenderlens/internal/usecase/inference"
)

// Generator is the structured generation surface the orchestrator needs.
type Generator interface {
	GenerateJSON(ctx context.Context, req inference.Request, out any) (inference.JSONOutcome, error)
}
