// Package orchestrator answers free-text queries through the admission,
// retry, session and cache layers.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"pipeline-relay/src/admission"
	"pipeline-relay/src/agent"
	"pipeline-relay/src/cache"
	"pipeline-relay/src/logger"
	"pipeline-relay/src/present"
	"pipeline-relay/src/retry"
	"pipeline-relay/src/session"
)

// DefaultInstruction is the system instruction sent with every query.
const DefaultInstruction = "You are a friendly assistant that is responsible for resolving user queries."

// ErrEmptyQuery rejects blank queries before they reach any gate.
var ErrEmptyQuery error = &present.UserError{Message: "Query must not be empty"}

// Deps are the process-wide collaborators an Orchestrator shares with
// every request.
type Deps struct {
	Cache       *cache.ResultCache
	Limiter     *admission.RateLimiter
	Semaphore   *admission.Semaphore
	Retry       *retry.Controller
	Pool        *session.Pool
	Invoker     agent.Invoker
	Sessions    []session.Config
	Instruction string
	Logger      logger.Logger
}

// Result is the outcome of one query.
type Result struct {
	RequestID string        `json:"request_id"`
	Text      string        `json:"text"`
	Response  string        `json:"response"`
	Cached    bool          `json:"cached"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Orchestrator routes queries to the backend.
type Orchestrator struct {
	deps Deps
	now  func() time.Time
}

// New creates an Orchestrator. Missing optional deps get defaults.
func New(deps Deps) *Orchestrator {
	if deps.Cache == nil {
		deps.Cache = cache.New(cache.DefaultBucket, cache.DefaultMaxEntries)
	}
	if deps.Limiter == nil {
		deps.Limiter = admission.NewRateLimiter(admission.DefaultRequestsPerWindow, admission.DefaultWindow)
	}
	if deps.Semaphore == nil {
		deps.Semaphore = admission.NewSemaphore(admission.DefaultMaxConcurrent)
	}
	if deps.Retry == nil {
		deps.Retry = retry.New(retry.Config{})
	}
	if deps.Instruction == "" {
		deps.Instruction = DefaultInstruction
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewSilentLogger()
	}
	return &Orchestrator{deps: deps, now: time.Now}
}

// Handle answers text. Identical texts within one cache bucket share a
// single backend invocation.
func (o *Orchestrator) Handle(ctx context.Context, text string) (Result, error) {
	res := Result{RequestID: uuid.NewString(), Text: text}
	start := o.now()

	if strings.TrimSpace(text) == "" {
		return res, ErrEmptyQuery
	}

	log := o.deps.Logger
	resp, cached, err := o.deps.Cache.GetOrCompute(ctx, text, func(ctx context.Context) (string, error) {
		return o.invoke(ctx, res.RequestID, text)
	})
	res.Elapsed = o.now().Sub(start)
	if err != nil {
		log.Error("[Orchestrator] %s failed after %s: %v", res.RequestID, res.Elapsed, err)
		return res, err
	}

	res.Response = resp
	res.Cached = cached
	log.Info("[Orchestrator] %s answered in %s (cached=%t)", res.RequestID, res.Elapsed, cached)
	return res, nil
}

// invoke is the cache-miss path: rate limit, then bounded concurrency,
// then retried backend calls, each attempt with fresh sessions.
func (o *Orchestrator) invoke(ctx context.Context, requestID, text string) (string, error) {
	d := o.deps

	if err := d.Limiter.Acquire(ctx); err != nil {
		return "", err
	}

	var out string
	err := d.Semaphore.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = retry.Do(ctx, d.Retry, func(ctx context.Context) (string, error) {
			d.Logger.Debug("[Orchestrator] %s invoking backend", requestID)
			return d.Pool.WithSessions(ctx, d.Sessions, func(ctx context.Context, sessions []session.Session) (string, error) {
				return d.Invoker.Invoke(ctx, d.Instruction, text, sessions)
			})
		})
		return err
	})
	return out, err
}

// Ask is Handle for presentation: it returns the response or a short
// message describing the failure.
func (o *Orchestrator) Ask(ctx context.Context, text string) string {
	res, err := o.Handle(ctx, text)
	if err != nil {
		return present.Message(err)
	}
	return res.Response
}
