// Package resilience builds the retry policy the consumer uses to
// establish and re-establish a stream connection.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetryConfig bounds a reconnect loop. MaxRetries of -1 retries forever.
type RetryConfig struct {
	Name       string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns exponential backoff from 1s to 30s, ten retries.
func DefaultRetryConfig(name string) RetryConfig {
	return RetryConfig{
		Name:       name,
		MaxRetries: 10,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying, e.g. rejected credentials.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

func normalize(cfg RetryConfig) RetryConfig {
	if cfg.MaxRetries < -1 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return cfg
}

// NewRetryPolicy creates a failsafe retry policy that retries every error
// except permanent ones and context cancellation. Each retry is logged at warn.
func NewRetryPolicy[R any](cfg RetryConfig, logger *slog.Logger) retrypolicy.RetryPolicy[R] {
	cfg = normalize(cfg)

	builder := retrypolicy.NewBuilder[R]().
		WithMaxRetries(cfg.MaxRetries).
		HandleIf(func(_ R, err error) bool {
			return shouldRetry(err)
		}).
		OnRetry(func(e failsafe.ExecutionEvent[R]) {
			logger.Warn("retrying connection",
				"target", cfg.Name, "attempt", e.Attempts(), "error", e.LastError())
		})

	if cfg.MaxDelay > cfg.BaseDelay {
		builder = builder.WithBackoff(cfg.BaseDelay, cfg.MaxDelay)
	} else {
		builder = builder.WithDelay(cfg.BaseDelay)
	}
	return builder.Build()
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Get runs fn under policy, stopping early when ctx is done.
func Get[R any](ctx context.Context, policy retrypolicy.RetryPolicy[R], fn func() (R, error)) (R, error) {
	return failsafe.With(policy).WithContext(ctx).Get(fn)
}
