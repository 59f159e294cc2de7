package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry policy defaults applied when Options leaves them zero.
const (
	DefaultMaxAttempts   = 5
	DefaultMaxRetryDelay = 30 * time.Second
	initialRetryDelay    = 500 * time.Millisecond
)

// Classification is the uniform output of provider-specific error
// classification.
type Classification struct {
	// Retryable marks transient failures (network, 5xx, 429).
	Retryable bool

	// Delay, when positive, overrides the backoff schedule for the next
	// attempt (e.g. a Retry-After header).
	Delay time.Duration
}

// Classifier inspects a provider error and classifies it.
type Classifier func(err error) Classification

// RetryConfig parameterizes the generic retry wrapper.
type RetryConfig struct {
	MaxAttempts int
	MaxDelay    time.Duration
	Classify    Classifier
}

// fromOptions derives a retry config from request options.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxRetryDelay
	}
	return c
}

// Retry executes op, retrying transient failures with exponential backoff
// and jitter up to the configured cap. Context cancellation aborts the
// current sleep and stops further retries immediately; non-retryable errors
// surface once, unwrapped.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	cfg = cfg.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}

		var cls Classification
		if cfg.Classify != nil {
			cls = cfg.Classify(lastErr)
		}
		if !cls.Retryable {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, lastErr)
		}

		delay := bo.NextBackOff()
		if cls.Delay > 0 {
			delay = cls.Delay
		}
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}
	return lastErr
}
