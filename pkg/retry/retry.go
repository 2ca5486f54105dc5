// pkg/retry/retry.go - functions for retrying actions with exponential backoff.

package retry

import (
	"errors"
	"time"

	"github.com/windowsadmins/appdeploy/pkg/logging"
)

// NonRetryableError wraps an error that must not be retried regardless
// of remaining attempts.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// RetryConfig defines the configuration for retry attempts
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
}

// Retry retries a given function with exponential backoff
func Retry(config RetryConfig, action func() error) error {
	interval := config.InitialInterval

	var lastErr error
	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		err := action()
		if err == nil {
			return nil
		}
		lastErr = err

		// Check if this is a non-retryable error
		var nonRetryableErr *NonRetryableError
		if errors.As(err, &nonRetryableErr) {
			logging.Warn("Non-retryable error encountered",
				"attempt", attempt,
				"error", err)
			return err
		}

		if attempt < config.MaxRetries {
			logging.Warn("Attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", config.MaxRetries,
				"retry_delay", interval.String(),
				"error", err)
			time.Sleep(interval)
			interval = time.Duration(float64(interval) * config.Multiplier)
		} else {
			logging.Warn("Attempt failed, no more retries",
				"attempt", attempt,
				"max_attempts", config.MaxRetries,
				"error", err)
		}
	}

	return lastErr
}
