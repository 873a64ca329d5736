// Package present turns internal errors into short messages for the people
// and tools calling the relay.
package present

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"pipeline-relay/src/agent"
	"pipeline-relay/src/cache"
	"pipeline-relay/src/jenkins"
	"pipeline-relay/src/monitor"
	"pipeline-relay/src/retry"
	"pipeline-relay/src/session"
)

// UserError wraps errors with user-friendly messages
type UserError struct {
	Message string
	Hint    string
	Err     error
}

func (e *UserError) Error() string {
	msg := e.Message
	if e.Hint != "" {
		msg += "\n\nHint: " + e.Hint
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\n\nDetails: %v", e.Err)
	}
	return msg
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// Short is the one-line form used in tool results and API responses.
func (e *UserError) Short() string {
	if e.Hint == "" {
		return e.Message
	}
	return e.Message + ". " + e.Hint
}

// WrapError converts internal errors to user-friendly messages. Errors it
// does not recognise are returned unchanged.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr
	}

	if errors.Is(err, context.Canceled) {
		return &UserError{Message: "Request was cancelled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &UserError{
			Message: "Request timed out",
			Hint:    "The backend or Jenkins took too long to answer; try again.",
			Err:     err,
		}
	}

	if errors.Is(err, retry.ErrExhausted) || errors.Is(err, retry.ErrThrottled) {
		return &UserError{
			Message: "The assistant is receiving too many requests",
			Hint:    "Wait a minute and try again.",
			Err:     err,
		}
	}

	var createErr *session.CreateError
	if errors.As(err, &createErr) {
		return &UserError{
			Message: fmt.Sprintf("Could not start tool session %q", createErr.Name),
			Hint:    "Check the session command in the config and that its container runtime is available.",
			Err:     err,
		}
	}

	var transportErr *agent.TransportError
	if errors.As(err, &transportErr) {
		return &UserError{
			Message: "Could not reach the assistant backend",
			Hint:    "Check agent.endpoint in the config.",
			Err:     err,
		}
	}

	var agentErr *agent.Error
	if errors.As(err, &agentErr) {
		return &UserError{Message: "The assistant backend could not answer the query", Err: err}
	}

	var panicErr *cache.PanicError
	if errors.As(err, &panicErr) {
		return &UserError{Message: "The assistant backend failed unexpectedly", Hint: "Try again; report it if it keeps happening.", Err: err}
	}

	if errors.Is(err, monitor.ErrQueueItemCancelled) {
		return &UserError{Message: "The build was cancelled before it started", Err: err}
	}

	var trigErr *monitor.TriggerError
	if errors.As(err, &trigErr) {
		return wrapJenkins(err, fmt.Sprintf("Failed to trigger job %s", trigErr.Job))
	}

	var pollErr *monitor.PollError
	if errors.As(err, &pollErr) {
		if code := pollErr.StatusCode(); code != 0 {
			return wrapJenkins(err, fmt.Sprintf("Failed to get pipeline data. Status code: %d", code))
		}
		return &UserError{Message: "Failed to get pipeline data", Err: err}
	}

	var httpErr *jenkins.HTTPError
	if errors.As(err, &httpErr) {
		return wrapJenkins(err, fmt.Sprintf("Jenkins request failed with status %d", httpErr.StatusCode))
	}

	return err
}

func wrapJenkins(err error, message string) *UserError {
	ue := &UserError{Message: message, Err: err}

	var httpErr *jenkins.HTTPError
	if !errors.As(err, &httpErr) {
		return ue
	}
	switch httpErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		ue.Hint = "Check that JENKINS_USER and JENKINS_TOKEN are set and the user may access this job."
	case http.StatusNotFound:
		ue.Hint = "Check the job name and build number."
	}
	return ue
}

// Message returns a short human-readable description of err. It is what
// every public entry point shows instead of the error itself.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var userErr *UserError
	if errors.As(WrapError(err), &userErr) {
		return userErr.Short()
	}
	return "Error: " + err.Error()
}
