package broker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/ksuh/tradekernel/internal/metrics"
)

// MaxAttempts is the bounded retry count of §7 for Auth/Network errors.
const MaxAttempts = 3

// Retrier wraps the §7 retry policy: Auth/Network errors are retried up to
// MaxAttempts times with a caller-supplied token refresh between attempts;
// RateLimit errors back off with jittered delay via a token-bucket limiter
// (grounded on golang.org/x/time/rate, pulled from
// other_examples/sawpanic-cryptorun's rate-limited exchange clients)
// instead of a fixed sleep.
type Retrier struct {
	limiter     *rate.Limiter
	refreshAuth func(ctx context.Context) error
	baseBackoff time.Duration
}

// NewRetrier builds a Retrier. refreshAuth may be nil if the adapter never
// needs re-authentication (e.g. the paper broker never calls Do).
func NewRetrier(refreshAuth func(ctx context.Context) error, ratePerSecond float64) *Retrier {
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	return &Retrier{
		limiter:     rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		refreshAuth: refreshAuth,
		baseBackoff: 200 * time.Millisecond,
	}
}

// Do runs fn, retrying on retryable *Error up to MaxAttempts. Auth errors
// trigger refreshAuth (if set) before the next attempt. RateLimit errors
// wait out a jittered backoff that grows with the attempt number. Any
// other error, or running out of attempts, returns the last error as-is.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var be *Error
		if !errors.As(err, &be) || !be.Retryable() {
			if be != nil {
				metrics.ObserveBrokerError(op, string(be.Kind))
			}
			return err
		}
		metrics.BrokerRetries.WithLabelValues(op).Inc()
		metrics.ObserveBrokerError(op, string(be.Kind))
		if attempt == MaxAttempts {
			break
		}

		switch be.Kind {
		case KindAuth:
			if r.refreshAuth != nil {
				if refreshErr := r.refreshAuth(ctx); refreshErr != nil {
					return &Error{Kind: KindAuth, Op: op, Err: refreshErr}
				}
			}
		case KindRateLimit:
			delay := r.baseBackoff * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Int63n(int64(r.baseBackoff)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay + jitter):
			}
		}
	}
	return lastErr
}
