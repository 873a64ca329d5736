// Package agent invokes the language-model backend that answers queries,
// letting it call tools exposed by the request's sessions.
package agent

import (
	"context"
	"fmt"

	"pipeline-relay/src/retry"
	"pipeline-relay/src/session"
)

// Invoker runs one backend invocation.
type Invoker interface {
	Invoke(ctx context.Context, instruction, text string, sessions []session.Session) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, instruction, text string, sessions []session.Session) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, instruction, text string, sessions []session.Session) (string, error) {
	return f(ctx, instruction, text, sessions)
}

// Kind classifies backend failures.
type Kind int

const (
	KindOther Kind = iota
	KindThrottling
)

func (k Kind) String() string {
	if k == KindThrottling {
		return "throttling"
	}
	return "other"
}

// Error is a failure reported by the backend itself. Throttling errors
// match retry.ErrThrottled.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("agent error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("agent error (%s): %s", e.Kind, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == retry.ErrThrottled && e.Kind == KindThrottling
}

// TransportError means the backend could not be reached at all. It is not
// retried.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("agent transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
