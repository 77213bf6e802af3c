package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRetrier(maxAttempts int) *Retrier {
	return NewRetrier(maxAttempts, time.Millisecond, zap.NewNop())
}

func TestRetrierSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := newTestRetrier(3).Do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrierRecoversFromTransientFailures(t *testing.T) {
	calls := 0
	err := newTestRetrier(3).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return Transient(TagConnReset, errors.New("read: connection reset by peer"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierFailsFastOnNonTransientError(t *testing.T) {
	calls := 0
	constraintErr := errors.New("duplicate key value violates unique constraint")

	start := time.Now()
	err := NewRetrier(3, time.Second, zap.NewNop()).Do(context.Background(), func() error {
		calls++
		return constraintErr
	})

	require.ErrorIs(t, err, constraintErr)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "non-transient failure must not wait out a backoff")
}

func TestRetrierExhaustsBudget(t *testing.T) {
	calls := 0
	underlying := errors.New("dial tcp: connect: connection refused")
	err := newTestRetrier(3).Do(context.Background(), func() error {
		calls++
		return Transient(TagServerUnreachable, underlying)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, underlying)
	assert.Contains(t, err.Error(), "retry budget exhausted after 3 attempts")
	assert.True(t, IsTransient(err), "exhaustion must preserve the transient wrapper for the caller")
}

func TestRetrierBackoffDoubles(t *testing.T) {
	var timestamps []time.Time
	r := NewRetrier(3, 20*time.Millisecond, zap.NewNop())
	_ = r.Do(context.Background(), func() error {
		timestamps = append(timestamps, time.Now())
		return Transient(TagTimeout, errors.New("i/o timeout"))
	})

	require.Len(t, timestamps, 3)
	firstGap := timestamps[1].Sub(timestamps[0])
	secondGap := timestamps[2].Sub(timestamps[1])
	assert.GreaterOrEqual(t, firstGap, 20*time.Millisecond)
	assert.GreaterOrEqual(t, secondGap, 40*time.Millisecond)
}

func TestRetrierStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := NewRetrier(5, time.Hour, zap.NewNop()).Do(ctx, func() error {
		calls++
		cancel()
		return Transient(TagConnClosed, errors.New("use of closed network connection"))
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	plain := errors.New("boom")
	assert.False(t, IsTransient(plain))
	assert.True(t, IsTransient(Transient(TagConnReset, plain)))

	wrapped := errors.Join(errors.New("outer"), Transient(TagTimeout, plain))
	assert.True(t, IsTransient(wrapped))
}
