package tenderlens

import "github.com/kailas-cloud/tenderlens/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrConfiguration     = domain.ErrConfiguration
	ErrEmptyInput        = domain.ErrEmptyInput
	ErrInvalidCriteria   = domain.ErrInvalidCriteria
	ErrTransientProvider = domain.ErrTransientProvider
	ErrTerminalProvider  = domain.ErrTerminalProvider
	ErrMalformedResponse = domain.ErrMalformedResponse
	ErrDimensionMismatch = domain.ErrDimensionMismatch
)

// JobError is a terminal job failure. Use errors.As() to read the job ID, failing key
// and attempt count.
type JobError = domain.JobError
