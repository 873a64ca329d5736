package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pipeline-relay/src/logger"
	"pipeline-relay/src/session"
)

const (
	// DefaultMaxTurns bounds backend round trips spent on tool calls.
	DefaultMaxTurns = 8

	defaultTimeout = 2 * time.Minute
)

// Tool is a session tool as advertised to the backend.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ToolCall is a backend request to run one tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one entry of the tool-call exchange replayed on every turn.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

type invokeRequest struct {
	Model       string    `json:"model,omitempty"`
	Instruction string    `json:"instruction"`
	Input       string    `json:"input"`
	Tools       []Tool    `json:"tools,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
}

type invokeResponse struct {
	Output    string     `json:"output"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// HTTPInvoker talks to an agent endpoint over JSON/HTTP.
type HTTPInvoker struct {
	endpoint   string
	apiKey     string
	model      string
	maxTurns   int
	httpClient *http.Client
	log        logger.Logger
}

// HTTPOption customizes an HTTPInvoker.
type HTTPOption func(*HTTPInvoker)

func WithAPIKey(key string) HTTPOption {
	return func(h *HTTPInvoker) { h.apiKey = key }
}

func WithModel(model string) HTTPOption {
	return func(h *HTTPInvoker) { h.model = model }
}

func WithMaxTurns(n int) HTTPOption {
	return func(h *HTTPInvoker) {
		if n > 0 {
			h.maxTurns = n
		}
	}
}

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPInvoker) { h.httpClient = c }
}

func WithLogger(log logger.Logger) HTTPOption {
	return func(h *HTTPInvoker) { h.log = log }
}

// NewHTTPInvoker creates an invoker posting to endpoint.
func NewHTTPInvoker(endpoint string, opts ...HTTPOption) *HTTPInvoker {
	h := &HTTPInvoker{
		endpoint:   endpoint,
		maxTurns:   DefaultMaxTurns,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        logger.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Invoke sends the query with the sessions' tools, runs any tool calls the
// backend asks for and returns its final output.
func (h *HTTPInvoker) Invoke(ctx context.Context, instruction, text string, sessions []session.Session) (string, error) {
	tools, owners := collectTools(sessions)
	req := invokeRequest{
		Model:       h.model,
		Instruction: instruction,
		Input:       text,
		Tools:       tools,
	}

	for turn := 0; turn < h.maxTurns; turn++ {
		resp, err := h.post(ctx, req)
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Output, nil
		}

		req.Messages = append(req.Messages, Message{Role: "assistant", Content: resp.Output, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			req.Messages = append(req.Messages, h.runTool(ctx, owners, call))
		}
	}

	return "", &Error{Kind: KindOther, Message: fmt.Sprintf("no final answer after %d turns", h.maxTurns)}
}

func (h *HTTPInvoker) runTool(ctx context.Context, owners map[string]session.Session, call ToolCall) Message {
	msg := Message{Role: "tool", ToolCallID: call.ID}

	s, ok := owners[call.Name]
	if !ok {
		msg.Content = fmt.Sprintf("unknown tool %q", call.Name)
		msg.IsError = true
		return msg
	}

	h.log.Debug("[Agent] calling %s on %s", call.Name, s.Name())
	out, err := s.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		msg.Content = err.Error()
		msg.IsError = true
		return msg
	}
	msg.Content = out
	return msg
}

func (h *HTTPInvoker) post(ctx context.Context, body invokeRequest) (*invokeResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Kind: KindOther, StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return &out, nil
}

func classifyStatus(code int) Kind {
	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return KindThrottling
	default:
		return KindOther
	}
}

// collectTools advertises every session tool once. When two sessions offer
// the same name, the earlier session owns it.
func collectTools(sessions []session.Session) ([]Tool, map[string]session.Session) {
	var tools []Tool
	owners := make(map[string]session.Session)
	for _, s := range sessions {
		for _, spec := range s.Tools() {
			if _, taken := owners[spec.Name]; taken {
				continue
			}
			owners[spec.Name] = s
			tools = append(tools, Tool{Name: spec.Name, Description: spec.Description, InputSchema: spec.InputSchema})
		}
	}
	return tools, owners
}
