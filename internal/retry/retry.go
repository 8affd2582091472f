// Package retry re-invokes fallible operations a bounded number of times with
// a linearly increasing delay between attempts.
//
// The delay before attempt n (n >= 2) is RetryDelay * (n-1). MaxRetries is the
// total number of attempts including the first. When every attempt fails the
// error from the last attempt is returned unchanged.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultMaxRetries is the total attempt budget used when Config.MaxRetries is zero.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the base delay used when Config.RetryDelay is zero.
	DefaultRetryDelay = time.Second
)

// ErrInvalidConfig is returned when a Config cannot be applied.
var ErrInvalidConfig = errors.New("retry: invalid config")

// Outcomes reported to an Observer.
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomeExhausted = "exhausted"
	OutcomeCanceled  = "canceled"
)

// Observer receives one call per attempt outcome. metrics.RetryMetrics
// satisfies it.
type Observer interface {
	ObserveRetryAttempt(operation, outcome string)
}

// Config controls a single retried call.
type Config struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries int
	// RetryDelay is the base delay; attempt n waits RetryDelay*(n-1) first.
	RetryDelay time.Duration
	// OnRetry runs synchronously after a failed attempt that will be retried,
	// before the delay. It receives the 1-based index of the failed attempt.
	OnRetry func(attempt int)

	// Name labels observations; Observer is optional.
	Name     string
	Observer Observer

	sleep func(ctx context.Context, d time.Duration) error
}

func (c Config) normalized() (Config, error) {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRetries < 1 {
		return c, fmt.Errorf("%w: max retries %d < 1", ErrInvalidConfig, c.MaxRetries)
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RetryDelay < 0 {
		return c, fmt.Errorf("%w: negative retry delay %s", ErrInvalidConfig, c.RetryDelay)
	}
	if c.sleep == nil {
		c.sleep = sleepWithContext
	}
	return c, nil
}

// Delay returns the wait inserted before the given 1-based attempt.
func Delay(base time.Duration, attempt int) time.Duration {
	if attempt < 2 || base <= 0 {
		return 0
	}
	return base * time.Duration(attempt-1)
}

// Operation is the unit of work being retried.
type Operation[T any] func(ctx context.Context) (T, error)

// Do runs op with a fresh Execution.
func Do[T any](ctx context.Context, cfg Config, op Operation[T]) (T, error) {
	return Run(ctx, NewExecution(), cfg, op)
}

// Run runs op, recording progress on exec so a caller can observe it while
// the call is in flight. exec must not be shared between concurrent calls.
func Run[T any](ctx context.Context, exec *Execution, cfg Config, op Operation[T]) (T, error) {
	var zero T
	cfg, err := cfg.normalized()
	if err != nil {
		return zero, err
	}
	if exec == nil {
		exec = NewExecution()
	}

	exec.begin()
	defer exec.abort()
	for attempt := 1; ; attempt++ {
		exec.set(StateAttempting, attempt)
		result, err := op(ctx)
		if err == nil {
			exec.finish(StateSucceeded)
			cfg.observe(OutcomeSuccess)
			return result, nil
		}

		if attempt >= cfg.MaxRetries {
			exec.finish(StateExhausted)
			cfg.observe(OutcomeExhausted)
			return zero, err
		}

		cfg.observe(OutcomeRetry)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt)
		}

		exec.set(StateDelaying, attempt)
		if serr := cfg.sleep(ctx, Delay(cfg.RetryDelay, attempt+1)); serr != nil {
			exec.finish(StateCanceled)
			cfg.observe(OutcomeCanceled)
			return zero, serr
		}
	}
}

func (c Config) observe(outcome string) {
	if c.Observer == nil {
		return
	}
	name := c.Name
	if name == "" {
		name = "unnamed"
	}
	c.Observer.ObserveRetryAttempt(name, outcome)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
