// Package retry re-runs throttled operations with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"pipeline-relay/src/logger"
)

// ErrThrottled marks an error as the retryable throttling class.
// Backend errors opt in by matching it through errors.Is.
var ErrThrottled = errors.New("throttled")

// ErrExhausted matches every *ExhaustedError.
var ErrExhausted = errors.New("retries exhausted")

const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = time.Second
	DefaultBackoffBase    = 2.0
	DefaultMaxJitter      = 500 * time.Millisecond
)

// ExhaustedError is returned when every attempt failed with a retryable error.
// Unwrap yields the last attempt's original error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Config holds the backoff policy. Zero fields take the defaults; a negative
// MaxJitter disables jitter.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	BackoffBase    float64
	MaxJitter      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.BackoffBase < 1 {
		c.BackoffBase = DefaultBackoffBase
	}
	switch {
	case c.MaxJitter == 0:
		c.MaxJitter = DefaultMaxJitter
	case c.MaxJitter < 0:
		c.MaxJitter = 0
	}
	return c
}

// Controller executes operations under a Config. It keeps no per-call state,
// so one Controller may be shared by concurrent callers.
type Controller struct {
	cfg       Config
	retryable func(error) bool
	sleep     func(ctx context.Context, d time.Duration) error
	jitter    func(max time.Duration) time.Duration
	log       logger.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClassifier replaces the default throttling-only classifier.
func WithClassifier(retryable func(error) bool) Option {
	return func(c *Controller) { c.retryable = retryable }
}

// WithSleep overrides the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithJitter overrides the jitter source.
func WithJitter(jitter func(max time.Duration) time.Duration) Option {
	return func(c *Controller) { c.jitter = jitter }
}

// WithLogger sets the logger used for attempt tracing.
func WithLogger(log logger.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// New creates a Controller.
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:       cfg.withDefaults(),
		retryable: IsThrottled,
		sleep:     sleepContext,
		jitter:    uniformJitter,
		log:       logger.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective policy.
func (c *Controller) Config() Config {
	return c.cfg
}

// IsThrottled reports whether err belongs to the throttling class.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// Backoff returns the pre-jitter delay that follows failed attempt i (0-indexed).
func (c *Controller) Backoff(i int) time.Duration {
	return time.Duration(float64(c.cfg.InitialBackoff) * math.Pow(c.cfg.BackoffBase, float64(i)))
}

// Execute runs op until it succeeds, fails with a non-retryable error, or
// runs out of attempts.
func (c *Controller) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Do(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is Execute for operations that produce a value.
func Do[T any](ctx context.Context, c *Controller, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !c.retryable(err) {
			return zero, err
		}
		if attempt == c.cfg.MaxAttempts-1 {
			break
		}

		delay := c.Backoff(attempt) + c.jitter(c.cfg.MaxJitter)
		c.log.Debug("[Retry] attempt %d/%d throttled, backing off %s: %v",
			attempt+1, c.cfg.MaxAttempts, delay, err)
		if err := c.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	c.log.Warn("[Retry] giving up after %d attempts: %v", c.cfg.MaxAttempts, lastErr)
	return zero, &ExhaustedError{Attempts: c.cfg.MaxAttempts, Last: lastErr}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
