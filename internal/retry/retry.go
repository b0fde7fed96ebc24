package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// jitterFactor spreads each delay by ±10%.
const jitterFactor = 0.1

// Policy configures Do.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// ShouldRetry narrows or widens the default transient-only rule. It is
	// never consulted for uniqueness violations.
	ShouldRetry func(error) bool

	Logger    logrus.FieldLogger
	Operation string
}

// DefaultPolicy returns the policy used by the repositories.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// Named returns a copy of p labelled for log entries.
func (p Policy) Named(operation string) Policy {
	p.Operation = operation
	return p
}

// ExhaustedError is returned once every allowed attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (p Policy) retryable(err error) bool {
	if Classify(err) == KindUniqueness {
		return false
	}
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	return Classify(err) == KindTransient
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	if p.Jitter {
		b.RandomizationFactor = jitterFactor
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Millisecond
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.Reset()
	return b
}

// Do runs op and retries it while the error is retryable, up to MaxRetries
// extra attempts. Non-retryable errors are returned as produced by op.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}

	attempts := 0
	var last error
	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err
		if !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		if p.Logger == nil {
			return
		}
		p.Logger.WithFields(logrus.Fields{
			"event":     "retry",
			"operation": p.Operation,
			"attempt":   attempts,
			"delay_ms":  delay.Milliseconds(),
			"kind":      Classify(err).String(),
		}).WithError(err).Warn("retrying after storage conflict")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(p.MaxRetries)), ctx)
	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) && last != nil && !errors.Is(last, ctxErr) {
		return fmt.Errorf("retry aborted after %d attempts: %w", attempts, errors.Join(ctxErr, last))
	}
	if !p.retryable(err) {
		return err
	}

	if p.Logger != nil {
		p.Logger.WithFields(logrus.Fields{
			"event":     "retry_exhausted",
			"operation": p.Operation,
			"attempts":  attempts,
		}).WithError(err).Error("retries exhausted")
	}
	return &ExhaustedError{Attempts: attempts, Err: err}
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
