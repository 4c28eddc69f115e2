package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts  int           // retry attempts after the first try (default: 3)
	BaseDelay    time.Duration // base delay for exponential backoff (default: 1s)
	MaxDelay     time.Duration // maximum delay between retries (default: 30s)
	JitterFactor float64       // randomisation factor (default: 0.25 = ±25%)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryLogger receives progress lines during retries.
type RetryLogger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Retry executes fn with exponential backoff, stopping on the first
// non-retryable error or on context cancellation.
func Retry(ctx context.Context, config RetryConfig, logger RetryLogger, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Wrap(KindCancelled, "retry interrupted", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			if logger != nil {
				logger.Warn("retries exhausted", "attempts", config.MaxAttempts+1, "err", err)
			}
			break
		}

		delay := backoffDelay(attempt, config)
		if logger != nil {
			logger.Debug("retrying after backoff", "attempt", attempt+1, "delay", delay, "err", err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Wrap(KindCancelled, "retry interrupted during backoff", ctx.Err())
		}
	}
	return Wrap(KindUpstream, fmt.Sprintf("failed after %d attempts", config.MaxAttempts+1), lastErr)
}

// RetryResult is Retry for functions returning a value.
func RetryResult[T any](ctx context.Context, config RetryConfig, logger RetryLogger, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, config, logger, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}

func backoffDelay(attempt int, config RetryConfig) time.Duration {
	base := config.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := config.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := float64(base) * math.Pow(2, float64(attempt))
	if config.JitterFactor > 0 {
		jitter := delay * config.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
	}
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	if delay < 0 {
		delay = float64(base)
	}
	return time.Duration(delay)
}
