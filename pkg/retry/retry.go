// Package retry provides retry-with-backoff helpers, used by the
// initiator's RetryingConnector around the NVMe-oF connect call. It keeps the teacher repo's RetryConfig-and-WithRetry shape but
// delegates the actual backoff schedule to github.com/cenkalti/backoff/v4
// instead of hand-rolling exponential backoff arithmetic.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/klog/v2"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first
	// try). Default: 3.
	MaxAttempts int

	// InitialBackoff is the initial backoff duration. Default: 1 second.
	InitialBackoff time.Duration

	// MaxBackoff caps the per-attempt backoff. Default: 30 seconds.
	MaxBackoff time.Duration

	// RetryableFunc determines if an error is retryable. Nil retries
	// everything.
	RetryableFunc func(error) bool

	// OperationName is used for logging only.
	OperationName string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		OperationName:  "operation",
	}
}

// ErrMaxRetriesExceeded wraps the last error once all attempts are spent.
var ErrMaxRetriesExceeded = errors.New("retry: max attempts exceeded")

type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// WithRetry executes fn with exponential backoff until it succeeds, a
// non-retryable error is returned, ctx is cancelled, or MaxAttempts is
// exhausted.
func WithRetry[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	cfg = applyDefaults(cfg)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialBackoff
	bo.MaxInterval = cfg.MaxBackoff
	bo.MaxElapsedTime = 0 // bounded by MaxAttempts via WithMaxRetries below

	var bounded backoff.BackOff = backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1))
	bounded = backoff.WithContext(bounded, ctx)

	attempt := 0
	var result T
	var lastErr error

	op := func() error {
		attempt++
		var err error
		result, err = fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if cfg.RetryableFunc != nil && !cfg.RetryableFunc(err) {
			klog.V(4).Infof("retry: %s failed with non-retryable error: %v", cfg.OperationName, err)
			return backoff.Permanent(&permanent{err})
		}
		klog.V(4).Infof("retry: %s failed on attempt %d/%d: %v", cfg.OperationName, attempt, cfg.MaxAttempts, err)
		return err
	}

	err := backoff.Retry(op, bounded)
	if err == nil {
		if attempt > 1 {
			klog.V(4).Infof("retry: %s succeeded on attempt %d", cfg.OperationName, attempt)
		}
		return result, nil
	}

	var p *permanent
	if errors.As(err, &p) {
		return zero, p.err
	}
	return zero, fmt.Errorf("%w: %s failed after %d attempts: %w", ErrMaxRetriesExceeded, cfg.OperationName, attempt, lastErr)
}

// WithRetryNoResult is WithRetry for functions with no return value.
func WithRetryNoResult(ctx context.Context, cfg Config, fn func() error) error {
	_, err := WithRetry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func applyDefaults(cfg Config) Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.OperationName == "" {
		cfg.OperationName = "operation"
	}
	return cfg
}
