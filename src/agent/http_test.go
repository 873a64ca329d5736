package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeline-relay/src/retry"
	"pipeline-relay/src/session"
)

type stubSession struct {
	name  string
	tools []session.ToolSpec
	calls []string
	out   string
	err   error
}

func (s *stubSession) Name() string              { return s.name }
func (s *stubSession) Tools() []session.ToolSpec { return s.tools }
func (s *stubSession) CallTool(_ context.Context, tool string, args map[string]any) (string, error) {
	s.calls = append(s.calls, tool)
	return s.out, s.err
}

func timeSession() *stubSession {
	return &stubSession{
		name:  "time",
		tools: []session.ToolSpec{{Name: "get_current_time", Description: "Current time"}},
		out:   `{"datetime":"2026-03-02T10:01:00Z"}`,
	}
}

func TestHTTPInvoker_DirectAnswer(t *testing.T) {
	var got invokeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(invokeResponse{Output: "Hello!"})
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, WithAPIKey("k"), WithModel("m"))
	out, err := inv.Invoke(context.Background(), "be nice", "hi", []session.Session{timeSession()})

	require.NoError(t, err)
	assert.Equal(t, "Hello!", out)
	assert.Equal(t, "be nice", got.Instruction)
	assert.Equal(t, "hi", got.Input)
	assert.Equal(t, "m", got.Model)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "get_current_time", got.Tools[0].Name)
}

func TestHTTPInvoker_ToolCallLoop(t *testing.T) {
	var turns atomic.Int32
	var second invokeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch turns.Add(1) {
		case 1:
			_ = json.NewEncoder(w).Encode(invokeResponse{ToolCalls: []ToolCall{
				{ID: "c1", Name: "get_current_time", Arguments: map[string]any{"timezone": "UTC"}},
				{ID: "c2", Name: "missing_tool"},
			}})
		default:
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&second))
			_ = json.NewEncoder(w).Encode(invokeResponse{Output: "It is 10:01 UTC."})
		}
	}))
	defer srv.Close()

	ts := timeSession()
	out, err := NewHTTPInvoker(srv.URL).Invoke(context.Background(), "", "What time is it?", []session.Session{ts})

	require.NoError(t, err)
	assert.Equal(t, "It is 10:01 UTC.", out)
	assert.Equal(t, []string{"get_current_time"}, ts.calls)

	require.Len(t, second.Messages, 3)
	assert.Equal(t, "assistant", second.Messages[0].Role)
	assert.Equal(t, Message{Role: "tool", ToolCallID: "c1", Content: ts.out}, second.Messages[1])
	assert.True(t, second.Messages[2].IsError)
	assert.Contains(t, second.Messages[2].Content, "unknown tool")
}

func TestHTTPInvoker_ToolErrorIsFedBack(t *testing.T) {
	var turns atomic.Int32
	var second invokeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if turns.Add(1) == 1 {
			_ = json.NewEncoder(w).Encode(invokeResponse{ToolCalls: []ToolCall{{ID: "c1", Name: "get_current_time"}}})
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&second))
		_ = json.NewEncoder(w).Encode(invokeResponse{Output: "sorry"})
	}))
	defer srv.Close()

	ts := timeSession()
	ts.err = errors.New("invalid timezone")
	out, err := NewHTTPInvoker(srv.URL).Invoke(context.Background(), "", "q", []session.Session{ts})

	require.NoError(t, err)
	assert.Equal(t, "sorry", out)
	assert.Equal(t, Message{Role: "tool", ToolCallID: "c1", Content: "invalid timezone", IsError: true}, second.Messages[1])
}

func TestHTTPInvoker_MaxTurns(t *testing.T) {
	var turns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		turns.Add(1)
		_ = json.NewEncoder(w).Encode(invokeResponse{ToolCalls: []ToolCall{{ID: "c", Name: "get_current_time"}}})
	}))
	defer srv.Close()

	_, err := NewHTTPInvoker(srv.URL, WithMaxTurns(3)).Invoke(context.Background(), "", "q", []session.Session{timeSession()})

	var agentErr *Error
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, KindOther, agentErr.Kind)
	assert.Equal(t, int32(3), turns.Load())
}

func TestHTTPInvoker_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantKind  Kind
		throttled bool
	}{
		{"too many requests", http.StatusTooManyRequests, KindThrottling, true},
		{"service unavailable", http.StatusServiceUnavailable, KindThrottling, true},
		{"bad request", http.StatusBadRequest, KindOther, false},
		{"internal error", http.StatusInternalServerError, KindOther, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "slow down", tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTPInvoker(srv.URL).Invoke(context.Background(), "", "q", nil)

			var agentErr *Error
			require.ErrorAs(t, err, &agentErr)
			assert.Equal(t, tt.wantKind, agentErr.Kind)
			assert.Equal(t, tt.status, agentErr.StatusCode)
			assert.Equal(t, "slow down", agentErr.Message)
			assert.Equal(t, tt.throttled, errors.Is(err, retry.ErrThrottled))
		})
	}
}

func TestHTTPInvoker_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPInvoker(url).Invoke(context.Background(), "", "q", nil)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, errors.Is(err, retry.ErrThrottled))
}

func TestCollectTools_FirstSessionWins(t *testing.T) {
	a := &stubSession{name: "a", tools: []session.ToolSpec{{Name: "x"}, {Name: "y"}}}
	b := &stubSession{name: "b", tools: []session.ToolSpec{{Name: "y"}, {Name: "z"}}}

	tools, owners := collectTools([]session.Session{a, b})

	names := make([]string, len(tools))
	for i, tl := range tools {
		names[i] = tl.Name
	}
	assert.Equal(t, []string{"x", "y", "z"}, names)
	assert.Same(t, a, owners["y"])
	assert.Same(t, b, owners["z"])
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "agent error (throttling, status 429): busy",
		(&Error{Kind: KindThrottling, StatusCode: 429, Message: "busy"}).Error())
	assert.Equal(t, "agent error (other): nope", (&Error{Message: "nope"}).Error())
}
