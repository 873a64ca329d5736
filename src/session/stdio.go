package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"pipeline-relay/src/sanitize"
)

// ErrToolFailed marks a tool call the server answered with an error result.
var ErrToolFailed = errors.New("tool call failed")

// StdioTransport launches each session as an MCP server subprocess speaking
// over stdin/stdout, e.g. `podman run -i --rm mcp/time`.
type StdioTransport struct {
	clientName    string
	clientVersion string
}

// NewStdioTransport creates a transport that identifies itself to servers
// as clientName/clientVersion.
func NewStdioTransport(clientName, clientVersion string) *StdioTransport {
	return &StdioTransport{clientName: clientName, clientVersion: clientVersion}
}

type stdioSession struct {
	name   string
	client *client.Client
	tools  []ToolSpec
}

func (s *stdioSession) Name() string      { return s.name }
func (s *stdioSession) Tools() []ToolSpec { return s.tools }

func (s *stdioSession) CallTool(ctx context.Context, tool string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to call %s on %s: %w", tool, s.name, err)
	}

	text := resultText(res)
	if res.IsError {
		return "", fmt.Errorf("%w: %s: %s", ErrToolFailed, tool, text)
	}
	return text, nil
}

// Create starts the subprocess, performs the MCP handshake and lists the
// server's tools.
func (t *StdioTransport) Create(ctx context.Context, cfg Config) (Session, error) {
	if cfg.Command == "" {
		return nil, errors.New("session command is empty")
	}

	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Command, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    t.clientName,
		Version: t.clientVersion,
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize %s: %w", cfg.Name, err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to list tools of %s: %w", cfg.Name, err)
	}

	tools := make([]ToolSpec, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		spec, err := toolSpec(tool)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		tools = append(tools, spec)
	}

	return &stdioSession{name: cfg.Name, client: c, tools: tools}, nil
}

// Cleanup closes the client, which stops the subprocess. It gives up when
// ctx ends.
func (t *StdioTransport) Cleanup(ctx context.Context, s Session) error {
	ss, ok := s.(*stdioSession)
	if !ok {
		return fmt.Errorf("session %s was not created by the stdio transport", s.Name())
	}

	done := make(chan error, 1)
	go func() { done <- ss.client.Close() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// toolSpec goes through the tool's JSON form so raw and structured input
// schemas come out the same way.
func toolSpec(tool mcp.Tool) (ToolSpec, error) {
	data, err := json.Marshal(tool)
	if err != nil {
		return ToolSpec{}, fmt.Errorf("failed to encode tool %s: %w", tool.Name, err)
	}
	var spec ToolSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return ToolSpec{}, fmt.Errorf("failed to decode tool %s: %w", tool.Name, err)
	}
	return spec, nil
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, sanitize.Text(tc.Text))
		}
	}
	return strings.Join(parts, "\n")
}
