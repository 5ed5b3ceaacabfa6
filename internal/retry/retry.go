// Package retry runs provider calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/tenderlens/internal/domain"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy configures retries. MaxRetries counts retries after the first attempt,
// so a call is made at most MaxRetries+1 times. The n-th retry waits InitialDelay*2^(n-1).
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration // 0 = uncapped
	Sleep        Sleeper
	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy is 3 retries starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, domain.ErrTransientProvider)
}

// Delay returns the backoff before retry number attempt+1 (attempt is zero-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, or retries run out.
// Errors are wrapped in *domain.AttemptsError; exhausted retries also wrap domain.ErrTerminalProvider.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return &domain.AttemptsError{Attempts: attempt + 1, Err: err}
		}
		if attempt >= p.MaxRetries {
			return &domain.AttemptsError{
				Attempts: attempt + 1,
				Err:      fmt.Errorf("%w: retries exhausted: %w", domain.ErrTerminalProvider, err),
			}
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return &domain.AttemptsError{Attempts: attempt + 1, Err: fmt.Errorf("%w (last error: %v)", serr, err)}
		}
	}
}

// Value is Do for calls that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
