// Package cache memoizes backend responses per request text and time bucket,
// coalescing concurrent identical requests into one computation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBucket     = 5 * time.Minute
	DefaultMaxEntries = 1024
)

// Key addresses a cached response. Two requests with identical text in the
// same bucket are the same request.
type Key struct {
	Text   string
	Bucket time.Time
}

func (k Key) String() string {
	return strconv.FormatInt(k.Bucket.UnixNano(), 10) + "|" + k.Text
}

// Entry is an immutable cached response.
type Entry struct {
	Key      Key
	Value    string
	StoredAt time.Time
}

// PanicError reports a compute function that panicked. It is never cached.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("backend panicked: %v", e.Value)
}

// Stats counts cache outcomes since construction.
type Stats struct {
	Hits      int64
	Misses    int64
	Coalesced int64
	Failures  int64
}

// ResultCache is a bucketed, LRU-capped response cache. Entries from earlier
// buckets are unreachable and purged lazily.
type ResultCache struct {
	bucket time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries *lru.Cache[Key, Entry]

	group singleflight.Group

	hits, misses, coalesced, failures atomic.Int64
}

// Option customizes a ResultCache.
type Option func(*ResultCache)

// WithClock overrides time.Now for bucket computation.
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// New creates a cache with the given bucket width and entry cap.
func New(bucket time.Duration, maxEntries int, opts ...Option) *ResultCache {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	// lru.New only fails on a non-positive size.
	entries, _ := lru.New[Key, Entry](maxEntries)

	c := &ResultCache{
		bucket:  bucket,
		now:     time.Now,
		entries: entries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KeyFor returns the key text maps to at time t.
func (c *ResultCache) KeyFor(text string, t time.Time) Key {
	return Key{Text: text, Bucket: t.UTC().Truncate(c.bucket)}
}

// GetOrCompute returns the cached value for text in the current bucket, or
// runs compute once and stores its result. Concurrent callers with the same
// key wait for the in-flight computation instead of starting their own.
// Failed computations are never stored. cached reports whether this call was
// served without running compute itself.
func (c *ResultCache) GetOrCompute(ctx context.Context, text string, compute func(ctx context.Context) (string, error)) (value string, cached bool, err error) {
	for {
		key := c.KeyFor(text, c.now())

		if e, ok := c.lookup(key); ok {
			c.hits.Add(1)
			return e.Value, true, nil
		}

		computed := false
		ch := c.group.DoChan(key.String(), func() (val interface{}, err error) {
			if e, ok := c.lookup(key); ok {
				return e.Value, nil
			}
			computed = true
			c.misses.Add(1)
			// DoChan runs this on its own goroutine, where a panic cannot
			// be recovered by the caller.
			defer func() {
				if r := recover(); r != nil {
					c.failures.Add(1)
					val, err = "", &PanicError{Value: r}
				}
			}()
			v, err := compute(ctx)
			if err != nil {
				c.failures.Add(1)
				return "", err
			}
			c.store(Entry{Key: key, Value: v, StoredAt: c.now()})
			return v, nil
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}

		if !computed {
			c.coalesced.Add(1)
			// A leader cancelled by its own caller hands the key over.
			if isContextErr(res.Err) && ctx.Err() == nil {
				continue
			}
		}
		if res.Err != nil {
			return "", false, res.Err
		}
		return res.Val.(string), !computed, nil
	}
}

// Get returns the entry for text in the current bucket, if any.
func (c *ResultCache) Get(text string) (Entry, bool) {
	return c.lookup(c.KeyFor(text, c.now()))
}

// Len reports the number of stored entries, including stale ones not yet purged.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns a snapshot of the counters.
func (c *ResultCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Coalesced: c.coalesced.Load(),
		Failures:  c.failures.Load(),
	}
}

func (c *ResultCache) lookup(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Get(key)
}

func (c *ResultCache) store(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeStale(e.Key.Bucket)
	c.entries.Add(e.Key, e)
}

// purgeStale drops entries keyed under buckets older than current.
func (c *ResultCache) purgeStale(current time.Time) {
	for _, k := range c.entries.Keys() {
		if k.Bucket.Before(current) {
			c.entries.Remove(k)
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
