// Package session opens the tool sessions a backend call needs and
// guarantees they are released, in reverse order, however the call ends.
package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"pipeline-relay/src/logger"
)

// DefaultCleanupTimeout bounds how long releasing one batch of sessions may
// take once the request that opened them is gone.
const DefaultCleanupTimeout = 10 * time.Second

// Config describes how to launch one tool session.
type Config struct {
	Name    string   `mapstructure:"name" json:"name"`
	Command string   `mapstructure:"command" json:"command"`
	Args    []string `mapstructure:"args" json:"args"`
	Env     []string `mapstructure:"env" json:"env"`
}

// ToolSpec describes a tool offered by a session.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Session is a live tool session.
type Session interface {
	Name() string
	Tools() []ToolSpec
	CallTool(ctx context.Context, tool string, args map[string]any) (string, error)
}

// Transport creates and destroys sessions.
type Transport interface {
	Create(ctx context.Context, cfg Config) (Session, error)
	Cleanup(ctx context.Context, s Session) error
}

// CreateError reports which session could not be created.
type CreateError struct {
	Index int
	Name  string
	Err   error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("failed to create session %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *CreateError) Unwrap() error {
	return e.Err
}

// CleanupError reports a session that could not be released. It is logged,
// never returned from WithSessions.
type CleanupError struct {
	Name string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("failed to clean up session %s: %v", e.Name, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// Pool opens sessions for the duration of one body call.
type Pool struct {
	transport      Transport
	log            logger.Logger
	cleanupTimeout time.Duration
	onCleanupError func(*CleanupError)

	active atomic.Int64
}

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithCleanupTimeout overrides DefaultCleanupTimeout.
func WithCleanupTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.cleanupTimeout = d
		}
	}
}

// WithCleanupErrorHook is called for every failed release after it is logged.
func WithCleanupErrorHook(fn func(*CleanupError)) PoolOption {
	return func(p *Pool) { p.onCleanupError = fn }
}

// NewPool creates a Pool on top of transport.
func NewPool(transport Transport, log logger.Logger, opts ...PoolOption) *Pool {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	p := &Pool{
		transport:      transport,
		log:            log,
		cleanupTimeout: DefaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Active reports sessions created and not yet released.
func (p *Pool) Active() int64 {
	return p.active.Load()
}

// WithSessions creates one session per config, in order, and runs body with
// all of them. If creation fails at index k, sessions 0..k-1 are released
// and body is not run. Every created session is released exactly once, in
// reverse creation order, whether body returns, fails, panics or ctx ends.
func (p *Pool) WithSessions(ctx context.Context, configs []Config, body func(ctx context.Context, sessions []Session) (string, error)) (string, error) {
	var created []Session
	defer func() { p.release(ctx, created) }()

	for i, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		s, err := p.transport.Create(ctx, cfg)
		if err != nil {
			return "", &CreateError{Index: i, Name: cfg.Name, Err: err}
		}
		p.active.Add(1)
		created = append(created, s)
		p.log.Debug("[Session] created %s", cfg.Name)
	}

	return body(ctx, created)
}

// release runs on a context detached from the caller's cancellation so a
// cancelled request still tears its sessions down.
func (p *Pool) release(ctx context.Context, sessions []Session) {
	if len(sessions) == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cleanupTimeout)
	defer cancel()

	for i := len(sessions) - 1; i >= 0; i-- {
		s := sessions[i]
		err := p.transport.Cleanup(cleanupCtx, s)
		p.active.Add(-1)
		if err != nil {
			cerr := &CleanupError{Name: s.Name(), Err: err}
			p.log.Warn("[Session] %v", cerr)
			if p.onCleanupError != nil {
				p.onCleanupError(cerr)
			}
			continue
		}
		p.log.Debug("[Session] released %s", s.Name())
	}
}
