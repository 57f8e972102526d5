package connector

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/facebookgo/clock"

	"github.com/vitwit/apmkit/logger"
	"github.com/vitwit/apmkit/metrics"
	"github.com/vitwit/apmkit/types"
)

// RetryPolicy bounds how often and how slowly a failed request is resent.
// Attempt counts are kept per call and never shared.
type RetryPolicy struct {
	MaxRetries int
	Backoff    func(attempt int) time.Duration
}

// DefaultRetryPolicy retries three times starting at 100ms and tripling each time.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff:    ExponentialBackoff(100*time.Millisecond, 3, 0),
	}
}

// ExponentialBackoff returns interval * rate^attempt, capped at max when max > 0.
// Without a cap the delay saturates at the largest Duration.
func ExponentialBackoff(interval time.Duration, rate float64, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		f := float64(interval) * math.Pow(rate, float64(attempt))
		if max > 0 && f > float64(max) {
			return max
		}
		if f >= math.MaxInt64 || math.IsNaN(f) {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(f)
	}
}

func ConstantBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// ShouldRetry reports whether a failure is transient: lost connectivity or a 5xx server failure.
func ShouldRetry(err error) bool {
	f, ok := types.AsFailure(err)
	if !ok {
		return false
	}
	switch f.Kind {
	case types.KindNetworkUnreachable:
		return true
	case types.KindServer:
		return f.StatusCode >= 500 && f.StatusCode <= 599
	default:
		return false
	}
}

// RetryConnector re-executes transient failures of the wrapped connector.
type RetryConnector struct {
	next    Connector
	policy  RetryPolicy
	clock   clock.Clock
	logger  logger.Logger
	metrics metrics.Recorder
}

var _ Connector = (*RetryConnector)(nil)

type RetryOption func(*RetryConnector)

func WithRetryClock(clk clock.Clock) RetryOption {
	return func(r *RetryConnector) {
		r.clock = clk
	}
}

func WithRetryLogger(l logger.Logger) RetryOption {
	return func(r *RetryConnector) {
		r.logger = logger.OrNoop(l)
	}
}

func WithRetryMetrics(m metrics.Recorder) RetryOption {
	return func(r *RetryConnector) {
		r.metrics = metrics.OrNoop(m)
	}
}

// NewRetryConnector wraps next with policy. A nil Backoff retries immediately.
func NewRetryConnector(next Connector, policy RetryPolicy, opts ...RetryOption) *RetryConnector {
	if policy.Backoff == nil {
		policy.Backoff = ConstantBackoff(0)
	}
	r := &RetryConnector{
		next:    next,
		policy:  policy,
		clock:   clock.New(),
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute resends the same request, id included, until it succeeds, fails
// permanently or the policy is exhausted.
func (r *RetryConnector) Execute(ctx context.Context, req *Request) (*RawResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := r.next.Execute(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !ShouldRetry(err) || attempt >= r.policy.MaxRetries {
			return nil, err
		}

		delay := r.policy.Backoff(attempt)
		r.logger.Warn("retrying request", map[string]any{
			"request_id": req.ID,
			"attempt":    attempt + 1,
			"delay":      delay.String(),
			"error":      err,
		})
		r.metrics.IncCounter("http_retry", map[string]string{"kind": string(types.KindOf(err))})

		if err := sleepContext(ctx, r.clock, delay); err != nil {
			return nil, err
		}
	}
}

// sleepContext waits d on clk. It returns a cancelled or timeout failure if
// ctx ends first.
func sleepContext(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return contextFailure(err)
	}
	if d <= 0 {
		return nil
	}

	t := clk.Timer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return contextFailure(ctx.Err())
	case <-t.C:
		return nil
	}
}

func contextFailure(err error) *types.Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.TimeoutFailure(err)
	}
	return types.CancelledFailure(err)
}
