package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second
)

// FailureLogger logs failed requests.
type FailureLogger interface {
	LogFailure(req Request, err error)
}

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(resp Response, err error) bool        // if nil, only transport errors are retried
	DelayFunc   func(attempt int, err error) time.Duration // attempt is 1-based
}

// DefaultRetryPolicy retries transport errors, 429 and 5xx responses with
// exponential backoff and jitter. retries is the number of extra attempts.
func DefaultRetryPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: retries + 1,
		ShouldRetry: retryable,
		DelayFunc:   ExponentialBackoff(baseRetryDelay, maxRetryDelay),
	}
}

func retryable(resp Response, err error) bool {
	if err != nil {
		return Classify(err) != KindCanceled
	}
	return resp.Status == http.StatusTooManyRequests || resp.Status >= 500
}

// ExponentialBackoff doubles base per attempt up to max and adds up to 50%
// random jitter.
func ExponentialBackoff(base, max time.Duration) func(attempt int, err error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		backoff := base << uint(attempt-1)
		if backoff > max || backoff <= 0 {
			backoff = max
		}
		if half := int64(backoff / 2); half > 0 {
			backoff += time.Duration(rand.Int64N(half))
		}
		return backoff
	}
}

type retryTransport struct {
	inner  Transport
	policy RetryPolicy
}

// WithRetry wraps a Transport with retry capability.
func WithRetry(t Transport, policy RetryPolicy) Transport {
	if policy.MaxAttempts <= 1 {
		return t
	}
	return &retryTransport{inner: t, policy: policy}
}

func (r *retryTransport) Send(ctx context.Context, req Request) (Response, error) {
	var (
		resp Response
		err  error
	)
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return Response{}, NewTransportError(req.Method, req.URL, ctx.Err())
		}

		start := time.Now()
		resp, err = r.inner.Send(ctx, req)
		stampDuration(err, time.Since(start))
		if !r.shouldRetry(resp, err) {
			return resp, err
		}

		// Don't delay after the last attempt.
		if attempt == r.policy.MaxAttempts {
			break
		}
		delay := r.policy.Delay
		if r.policy.DelayFunc != nil {
			delay = r.policy.DelayFunc(attempt, err)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return Response{}, NewTransportError(req.Method, req.URL, ctx.Err())
			}
		}
	}
	return resp, err
}

// stampDuration records the attempt time on a transport error that does not
// carry one, so backoff sleeps never count as request latency.
func stampDuration(err error, d time.Duration) {
	var te *TransportError
	if errors.As(err, &te) && te.Duration <= 0 {
		te.Duration = d
	}
}

func (r *retryTransport) shouldRetry(resp Response, err error) bool {
	if r.policy.ShouldRetry != nil {
		return r.policy.ShouldRetry(resp, err)
	}
	return err != nil
}

type loggingTransport struct {
	inner  Transport
	logger FailureLogger
}

// WithLogging wraps a Transport to log transport errors and responses with a
// status of 400 or above.
func WithLogging(t Transport, logger FailureLogger) Transport {
	if logger == nil {
		return t
	}
	return &loggingTransport{inner: t, logger: logger}
}

func (l *loggingTransport) Send(ctx context.Context, req Request) (Response, error) {
	resp, err := l.inner.Send(ctx, req)
	switch {
	case err != nil:
		l.logger.LogFailure(req, err)
	case resp.Status >= 400:
		l.logger.LogFailure(req, &StatusError{StatusCode: resp.Status, Body: snippet(resp.Body)})
	}
	return resp, err
}

// StatusError describes a response whose status marks it failed.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func snippet(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

type zapFailureLogger struct {
	logger *zap.Logger
}

// NewZapFailureLogger logs request failures at warn level.
func NewZapFailureLogger(logger *zap.Logger) FailureLogger {
	if logger == nil {
		return nil
	}
	return zapFailureLogger{logger: logger}
}

func (z zapFailureLogger) LogFailure(req Request, err error) {
	fields := []zap.Field{
		zap.String("request", req.Name),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Error(err),
	}
	var te *TransportError
	if errors.As(err, &te) {
		fields = append(fields, zap.String("kind", string(te.Kind)))
	}
	var se *StatusError
	if errors.As(err, &se) {
		fields = append(fields, zap.Int("status", se.StatusCode))
	}
	z.logger.Warn("request failed", fields...)
}
