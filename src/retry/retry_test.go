package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransport = errors.New("connection reset")

type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func noJitter(time.Duration) time.Duration { return 0 }

func newTestController(rec *recordingSleep) *Controller {
	return New(Config{}, WithSleep(rec.sleep), WithJitter(noJitter))
}

func throttled(n int) error {
	return fmt.Errorf("attempt %d: %w", n, ErrThrottled)
}

func TestDo_SucceedsAfterThrottling(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		wantDelays []time.Duration
	}{
		{"first try", 0, nil},
		{"one throttle", 1, []time.Duration{time.Second}},
		{"three throttles", 3, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{"four throttles", 4, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingSleep{}
			c := newTestController(rec)

			calls := 0
			got, err := Do(context.Background(), c, func(context.Context) (string, error) {
				calls++
				if calls <= tt.failures {
					return "", throttled(calls)
				}
				return "ok", nil
			})

			require.NoError(t, err)
			assert.Equal(t, "ok", got)
			assert.Equal(t, tt.failures+1, calls)
			assert.Equal(t, tt.wantDelays, rec.delays)
		})
	}
}

func TestDo_ExhaustsAfterMaxAttempts(t *testing.T) {
	rec := &recordingSleep{}
	c := newTestController(rec)

	calls := 0
	var last error
	_, err := Do(context.Background(), c, func(context.Context) (int, error) {
		calls++
		last = throttled(calls)
		return 0, last
	})

	require.Error(t, err)
	assert.Equal(t, DefaultMaxAttempts, calls)
	assert.Len(t, rec.delays, DefaultMaxAttempts-1)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, ErrThrottled)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, DefaultMaxAttempts, exhausted.Attempts)
	assert.Same(t, last, exhausted.Last)
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	rec := &recordingSleep{}
	c := newTestController(rec)

	calls := 0
	_, err := Do(context.Background(), c, func(context.Context) (int, error) {
		calls++
		return 0, errTransport
	})

	assert.Same(t, errTransport, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDo_NonRetryableAfterThrottleSurfacesOriginal(t *testing.T) {
	rec := &recordingSleep{}
	c := newTestController(rec)

	calls := 0
	_, err := Do(context.Background(), c, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, throttled(calls)
		}
		return 0, errTransport
	})

	assert.Same(t, errTransport, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, rec.delays, 1)
}

func TestDo_BackoffIncludesJitter(t *testing.T) {
	rec := &recordingSleep{}
	c := New(Config{MaxAttempts: 2, InitialBackoff: 100 * time.Millisecond},
		WithSleep(rec.sleep),
		WithJitter(func(max time.Duration) time.Duration {
			assert.Equal(t, DefaultMaxJitter, max)
			return 42 * time.Millisecond
		}))

	_, _ = Do(context.Background(), c, func(context.Context) (int, error) {
		return 0, ErrThrottled
	})

	assert.Equal(t, []time.Duration{142 * time.Millisecond}, rec.delays)
}

func TestDo_CancelledDuringBackoffStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(Config{}, WithJitter(noJitter), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	calls := 0
	_, err := Do(ctx, c, func(context.Context) (int, error) {
		calls++
		return 0, ErrThrottled
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Do(ctx, New(Config{}), func(context.Context) (int, error) {
		called = true
		return 1, nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestExecute(t *testing.T) {
	rec := &recordingSleep{}
	c := newTestController(rec)

	calls := 0
	err := c.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrThrottled
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestConfig_Defaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, Config{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		BackoffBase:    DefaultBackoffBase,
		MaxJitter:      DefaultMaxJitter,
	}, c.Config())
	assert.Equal(t, time.Duration(0), New(Config{MaxJitter: -1}).Config().MaxJitter)
	assert.Equal(t, 8*time.Second, c.Backoff(3))
}

func TestUniformJitter(t *testing.T) {
	assert.Equal(t, time.Duration(0), uniformJitter(0))
	for i := 0; i < 100; i++ {
		j := uniformJitter(DefaultMaxJitter)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, DefaultMaxJitter)
	}
}
