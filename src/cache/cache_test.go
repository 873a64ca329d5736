package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *manualClock {
	return &manualClock{t: time.Date(2026, 3, 2, 10, 1, 0, 0, time.UTC)}
}

func counting(calls *atomic.Int32, value string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestGetOrCompute_SameBucketComputesOnce(t *testing.T) {
	clock := newClock()
	c := New(5*time.Minute, 0, WithClock(clock.Now))
	ctx := context.Background()

	var calls atomic.Int32
	v, cached, err := c.GetOrCompute(ctx, "What time is it?", counting(&calls, "10:01"))
	require.NoError(t, err)
	assert.Equal(t, "10:01", v)
	assert.False(t, cached)

	clock.Advance(2 * time.Minute)
	v, cached, err = c.GetOrCompute(ctx, "What time is it?", counting(&calls, "10:03"))
	require.NoError(t, err)
	assert.Equal(t, "10:01", v)
	assert.True(t, cached)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Stats{Hits: 1, Misses: 1}, c.Stats())
}

func TestGetOrCompute_NewBucketRecomputes(t *testing.T) {
	clock := newClock()
	c := New(5*time.Minute, 0, WithClock(clock.Now))
	ctx := context.Background()

	var calls atomic.Int32
	_, _, err := c.GetOrCompute(ctx, "q", counting(&calls, "first"))
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	v, cached, err := c.GetOrCompute(ctx, "q", counting(&calls, "second"))
	require.NoError(t, err)
	assert.Equal(t, "second", v)
	assert.False(t, cached)
	assert.Equal(t, int32(2), calls.Load())

	// The earlier bucket's entry is purged on store.
	assert.Equal(t, 1, c.Len())
}

func TestGetOrCompute_DistinctTextsAreDistinctKeys(t *testing.T) {
	c := New(time.Minute, 0, WithClock(newClock().Now))
	ctx := context.Background()

	var calls atomic.Int32
	_, _, _ = c.GetOrCompute(ctx, "a", counting(&calls, "A"))
	v, _, err := c.GetOrCompute(ctx, "b", counting(&calls, "B"))

	require.NoError(t, err)
	assert.Equal(t, "B", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrCompute_FailuresAreNotStored(t *testing.T) {
	c := New(time.Minute, 0, WithClock(newClock().Now))
	ctx := context.Background()
	boom := errors.New("backend unavailable")

	_, _, err := c.GetOrCompute(ctx, "q", func(context.Context) (string, error) {
		return "", boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := c.Get("q")
	assert.False(t, ok)

	var calls atomic.Int32
	v, cached, err := c.GetOrCompute(ctx, "q", counting(&calls, "recovered"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.False(t, cached)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), c.Stats().Failures)
}

func TestGetOrCompute_PanicBecomesUncachedError(t *testing.T) {
	c := New(time.Minute, 0, WithClock(newClock().Now))
	ctx := context.Background()

	_, _, err := c.GetOrCompute(ctx, "q", func(context.Context) (string, error) {
		panic("nil map write")
	})

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "nil map write", panicErr.Value)
	assert.Equal(t, "backend panicked: nil map write", err.Error())

	_, ok := c.Get("q")
	assert.False(t, ok)

	var calls atomic.Int32
	v, _, err := c.GetOrCompute(ctx, "q", counting(&calls, "fine"))
	require.NoError(t, err)
	assert.Equal(t, "fine", v)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), c.Stats().Failures)
}

func TestGetOrCompute_CoalescesConcurrentCallers(t *testing.T) {
	c := New(time.Minute, 0, WithClock(newClock().Now))

	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	compute := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return "shared", nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, errs[0] = c.GetOrCompute(context.Background(), "q", compute)
	}()
	<-entered

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrCompute(context.Background(), "q", compute)
		}(i)
	}
	// Let followers reach the in-flight call before it completes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
	st := c.Stats()
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(callers-1), st.Coalesced+st.Hits)
}

func TestGetOrCompute_FollowerCancelDoesNotWait(t *testing.T) {
	c := New(time.Minute, 0, WithClock(newClock().Now))

	release := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_, _, _ = c.GetOrCompute(context.Background(), "q", func(context.Context) (string, error) {
			close(entered)
			<-release
			return "late", nil
		})
	}()
	<-entered
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := c.GetOrCompute(ctx, "q", func(context.Context) (string, error) {
		t.Error("follower must not compute while a call is in flight")
		return "", nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetOrCompute_LeaderCancelHandsOffToFollower(t *testing.T) {
	c := New(time.Minute, 0, WithClock(newClock().Now))

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	entered := make(chan struct{})
	leaderDone := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, "q", func(ctx context.Context) (string, error) {
			close(entered)
			<-ctx.Done()
			return "", ctx.Err()
		})
		leaderDone <- err
	}()
	<-entered

	followerDone := make(chan string, 1)
	go func() {
		v, _, err := c.GetOrCompute(context.Background(), "q", func(context.Context) (string, error) {
			return "from follower", nil
		})
		assert.NoError(t, err)
		followerDone <- v
	}()
	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	assert.ErrorIs(t, <-leaderDone, context.Canceled)
	select {
	case v := <-followerDone:
		assert.Equal(t, "from follower", v)
	case <-time.After(time.Second):
		t.Fatal("follower did not take over after leader cancellation")
	}
}

func TestResultCache_RespectsMaxEntries(t *testing.T) {
	c := New(time.Hour, 2, WithClock(newClock().Now))
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		_, _, err := c.GetOrCompute(ctx, q, func(context.Context) (string, error) { return q, nil })
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "least recently used entry should be evicted")
	e, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, "c", e.Value)
}

func TestKeyFor(t *testing.T) {
	c := New(5*time.Minute, 0)
	at := time.Date(2026, 3, 2, 10, 7, 59, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		same bool
	}{
		{"same bucket", at.Add(-2 * time.Minute), true},
		{"bucket start", time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC), true},
		{"next bucket", time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC), false},
		{"previous bucket", time.Date(2026, 3, 2, 10, 4, 59, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.same, c.KeyFor("q", at) == c.KeyFor("q", tt.t))
		})
	}
}
