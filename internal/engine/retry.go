package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/metrics"
)

// RetryPolicy bounds how hard the ledger retries a transient store failure.
type RetryPolicy struct {
	MaxRetries int           // extra attempts after the first one
	BaseDelay  time.Duration // first backoff interval
	MaxDelay   time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  20 * time.Millisecond,
	MaxDelay:   500 * time.Millisecond,
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		b.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	return b
}

// withRetry calls fn until it succeeds, fails permanently or the policy is
// exhausted. Only errors for which domain.IsRetriable holds are retried. A
// store failure that is still failing at the end is reported as
// domain.ErrUnavailable so callers can tell "try later" from "rejected".
func withRetry[T any](
	ctx context.Context,
	policy RetryPolicy,
	logger *slog.Logger,
	m *metrics.Metrics,
	op string,
	fn func() (T, error),
) (T, error) {
	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !domain.IsRetriable(err) {
			return v, backoff.Permanent(err)
		}
		if attempt > policy.MaxRetries {
			return v, err
		}
		m.StoreRetry()
		logger.Warn("store call failed, retrying",
			"op", op,
			"attempt", attempt,
			"error", err,
		)
		return v, err
	},
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(policy.MaxRetries+1)),
	)
	if err != nil {
		var se *domain.StoreError
		if errors.As(err, &se) {
			var zero T
			return zero, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
		}
		return res, err
	}
	return res, nil
}
