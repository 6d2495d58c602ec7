package transport

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig controls how the initial dial of a stream is retried.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFactor      float64
}

var DefaultRetryConfig = RetryConfig{
	MaxAttempts:       3,
	InitialBackoff:    100 * time.Millisecond,
	MaxBackoff:        10 * time.Second,
	BackoffMultiplier: 2.0,
	JitterFactor:      0.1,
}

// withRetry calls fn until it succeeds, returns a permanent error, or the
// attempts are exhausted. onRetry, if set, is called before each backoff with
// the 1-based number of the failed attempt.
func withRetry[T any](ctx context.Context, fn func(context.Context) (T, error), cfg RetryConfig, onRetry func(attempt int, err error)) (T, error) {
	var result T
	var err error

	attempts := max(cfg.MaxAttempts, 1)
	for attempt := 0; attempt < attempts; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if !isRetryableError(err) {
			return result, err
		}
		// Don't sleep after the last attempt
		if attempt == attempts-1 {
			break
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(calculateBackoff(attempt, cfg)):
		}
	}

	return result, err
}

func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}

	jitter := (rand.Float64()*2 - 1) * cfg.JitterFactor * backoff
	return time.Duration(backoff + jitter)
}

// isRetryableError reports whether a failed dial is worth repeating. Client
// errors other than 408 and 429 are permanent, as is cancellation.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		switch {
		case serr.StatusCode == http.StatusRequestTimeout, serr.StatusCode == http.StatusTooManyRequests:
			return true
		case serr.StatusCode >= 400 && serr.StatusCode < 500:
			return false
		}
	}
	return true
}
