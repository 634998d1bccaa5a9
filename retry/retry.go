// Package retry runs operations under a fixed-delay retry policy driven by error kind.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/framer-cd/framer/domain"
)

// Policy bounds how an operation is retried
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx)
}

// Do runs fn until it succeeds, returns an error whose kind is not retryable,
// or the attempt budget is spent. The last error is returned unchanged.
func Do(ctx context.Context, op string, policy Policy, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && !domain.Retryable(domain.KindOf(err)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("Retrying operation",
			"layer", "retry",
			"operation", op,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"kind", domain.KindOf(err).String(),
			"wait", wait,
			"error", err)
	}

	err := backoff.RetryNotify(operation, policy.backOff(ctx), notify)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return fmt.Errorf("%s interrupted while waiting to retry: %w", op, err)
	}
	return err
}
