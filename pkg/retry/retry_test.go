package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quickConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		Multiplier:      2,
	}
}

func TestRetrySucceedsFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(quickConfig(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryRecoversAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(quickConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	last := errors.New("still broken")
	err := Retry(quickConfig(3), func() error {
		calls++
		return last
	})
	require.ErrorIs(t, err, last)
	require.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(quickConfig(5), func() error {
		calls++
		return &NonRetryableError{Err: errors.New("fatal")}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)

	var nre *NonRetryableError
	require.ErrorAs(t, err, &nre)
}

func TestRetryNonRetryableWrapped(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(quickConfig(5), func() error {
		calls++
		return fmt.Errorf("running installer: %w", &NonRetryableError{Err: errors.New("spawn failed")})
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryPlainWrappedErrorStillRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(quickConfig(3), func() error {
		calls++
		return fmt.Errorf("attempt: %w", errors.New("busy"))
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}
