package health

import "context"

// Checker checks a provider's or store's availability.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Pinger checks cache store availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker adapts a Pinger to Checker.
type PingChecker struct{ Pinger }

func (p PingChecker) HealthCheck(ctx context.Context) error { return p.Ping(ctx) }
