package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"pipeline-relay/src/agent"
	"pipeline-relay/src/jenkins"
	"pipeline-relay/src/monitor"
	"pipeline-relay/src/orchestrator"
	"pipeline-relay/src/present"
	"pipeline-relay/src/retry"
	"pipeline-relay/src/session"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, RequestID: requestID})
}

// writeFailure presents err and picks a status for it. The error itself
// never reaches the client.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapError(err)
	writeError(w, status, code, present.Message(err), requestIDFromContext(r.Context()))
}

func mapError(err error) (int, string) {
	var (
		createErr *session.CreateError
		transport *agent.TransportError
		agentErr  *agent.Error
		httpErr   *jenkins.HTTPError
	)
	switch {
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	case errors.Is(err, retry.ErrExhausted), errors.Is(err, retry.ErrThrottled):
		return http.StatusServiceUnavailable, "throttled"
	case errors.As(err, &createErr):
		return http.StatusBadGateway, "session_unavailable"
	case errors.As(err, &transport), errors.As(err, &agentErr):
		return http.StatusBadGateway, "backend_error"
	case errors.Is(err, monitor.ErrQueueItemCancelled):
		return http.StatusConflict, "build_cancelled"
	case errors.As(err, &httpErr):
		if httpErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound, "not_found"
		}
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
