package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayForSeries(t *testing.T) {
	p := Policy{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Duration(0), p.DelayFor(0))
	assert.Equal(t, time.Second, p.DelayFor(1))
	assert.Equal(t, 2*time.Second, p.DelayFor(2))
	assert.Equal(t, 4*time.Second, p.DelayFor(3))
	// capped
	assert.Equal(t, 5*time.Second, p.DelayFor(4))
	assert.Equal(t, 5*time.Second, p.DelayFor(10))
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	p := Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	calls := 0
	var observed []int
	err := Retry(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		observed = append(observed, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, observed)
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	p := Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	sentinel := errors.New("still broken")
	calls := 0
	err := Retry(context.Background(), p, func(ctx context.Context) error {
		calls++
		return sentinel
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, sentinel)
}

func TestRetryPermanentShortCircuits(t *testing.T) {
	p := Policy{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	sentinel := errors.New("bad credentials")
	calls := 0
	err := Retry(context.Background(), p, func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, sentinel)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	p := Policy{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, p, func(ctx context.Context) error {
		return errors.New("transient")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.False(t, IsPermanent(errors.New("x")))
	assert.NoError(t, Permanent(nil))
}
