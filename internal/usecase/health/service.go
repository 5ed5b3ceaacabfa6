package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names.
const (
	ComponentEmbedding  = "embedding"
	ComponentGeneration = "generation"
	ComponentCache      = "cache"
)

// DefaultTimeout bounds each component check.
const DefaultTimeout = 5 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
	Errors map[string]string      `json:"errors,omitempty"`
}

// Service coordinates health checks.
type Service struct {
	checkers map[string]Checker
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a Service. Nil checkers are skipped.
func New(checkers map[string]Checker, timeout time.Duration, logger *zap.Logger) *Service {
	active := make(map[string]Checker, len(checkers))
	for name, c := range checkers {
		if c != nil {
			active[name] = c
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{checkers: active, timeout: timeout, logger: logger}
}

// Check runs all component checks concurrently.
// Status is Healthy when all pass, Unhealthy when all fail, Degraded otherwise.
func (s *Service) Check(ctx context.Context) Report {
	r := Report{Checks: make(map[string]CheckResult, len(s.checkers))}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, c := range s.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			err := c.HealthCheck(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("Health check failed", zap.String("component", name), zap.Error(err))
				r.Checks[name] = CheckError
				if r.Errors == nil {
					r.Errors = make(map[string]string)
				}
				r.Errors[name] = err.Error()
				return
			}
			r.Checks[name] = CheckOK
		}()
	}
	wg.Wait()

	failed := len(r.Errors)
	switch {
	case failed == 0:
		r.Status = Healthy
	case failed == len(r.Checks):
		r.Status = Unhealthy
	default:
		r.Status = Degraded
	}
	return r
}

// Components returns the checked component names in order.
func (s *Service) Components() []string {
	names := make([]string, 0, len(s.checkers))
	for name := range s.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
