package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 3, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 3, func() error {
		attempts++
		return errors.New("always fails")
	})
	require.EqualError(t, err, "always fails")
	assert.Equal(t, 3, attempts)
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, 10, func() error {
		attempts++
		return errors.New("fail")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 10)
}

func TestRetryResultReturnsValue(t *testing.T) {
	attempts := 0
	result, err := RetryResult(context.Background(), 3, func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestRetryResultExhaustsAttempts(t *testing.T) {
	result, err := RetryResult(context.Background(), 2, func() (int, error) {
		return -1, errors.New("always fails")
	})
	require.EqualError(t, err, "always fails")
	assert.Equal(t, -1, result)
}
