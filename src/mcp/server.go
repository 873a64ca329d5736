package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pipeline-relay/src/logger"
	"pipeline-relay/src/monitor"
	"pipeline-relay/src/present"
	"pipeline-relay/src/snapshot"
)

// Asker answers free-form queries. *orchestrator.Orchestrator satisfies it.
type Asker interface {
	Ask(ctx context.Context, text string) string
}

// Server is the MCP server for the relay.
type Server struct {
	mcpServer *server.MCPServer
	monitor   *monitor.Monitor
	asker     Asker
	store     RunStore
	log       logger.Logger
	now       func() time.Time
}

// NewServer creates a new MCP server. asker may be nil, in which case the
// ask tool is not offered.
func NewServer(version string, mon *monitor.Monitor, asker Asker, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	s := server.NewMCPServer(
		"pipeline-relay",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	srv := &Server{
		mcpServer: s,
		monitor:   mon,
		asker:     asker,
		store:     NewInMemoryStore(),
		log:       log,
		now:       time.Now,
	}
	srv.registerTools()

	return srv
}

// registerTools registers all available tools.
func (s *Server) registerTools() {
	buildArgs := []mcp.ToolOption{
		mcp.WithString("job_name",
			mcp.Required(),
			mcp.Description("Name of the Jenkins job; use folder/job for jobs inside folders"),
		),
		mcp.WithNumber("build_number",
			mcp.Required(),
			mcp.Description("Build number"),
		),
	}

	visualizationTool := mcp.NewTool("get_pipeline_visualization",
		append([]mcp.ToolOption{mcp.WithDescription("Get a stage-by-stage narrative of a pipeline build with a summary of its progress.")}, buildArgs...)...,
	)
	tableTool := mcp.NewTool("get_pipeline_status_table",
		append([]mcp.ToolOption{mcp.WithDescription("Get a status table of every stage of a pipeline build with a summary of its progress.")}, buildArgs...)...,
	)
	triggerTool := mcp.NewTool("trigger_and_monitor_pipeline",
		mcp.WithDescription("Trigger a Jenkins job, wait for it to start and follow it until it completes. Returns the final status table and narrative."),
		mcp.WithString("job_name",
			mcp.Required(),
			mcp.Description("Name of the Jenkins job to trigger"),
		),
		mcp.WithString("parameters",
			mcp.Description(`Build parameters as a JSON object, e.g. {"ENV": "staging"}`),
		),
	)
	runTool := mcp.NewTool("get_monitor_run",
		mcp.WithDescription("Get the poll history of an earlier trigger_and_monitor_pipeline call, or the status table of one poll when sequence is given."),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run ID from trigger_and_monitor_pipeline"),
		),
		mcp.WithNumber("sequence",
			mcp.Description("1-based poll number"),
		),
	)

	s.mcpServer.AddTool(visualizationTool, s.handleVisualization)
	s.mcpServer.AddTool(tableTool, s.handleStatusTable)
	s.mcpServer.AddTool(triggerTool, s.handleTriggerAndMonitor)
	s.mcpServer.AddTool(runTool, s.handleGetRun)

	if s.asker != nil {
		askTool := mcp.NewTool("ask",
			mcp.WithDescription("Ask the assistant a question. It may use its own tools to answer."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("The question"),
			),
		)
		s.mcpServer.AddTool(askTool, s.handleAsk)
	}
}

// Run starts the MCP server on stdio.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer exposes the underlying server, for alternative transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) handleVisualization(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.describe(ctx, request, snapshot.RenderNarrative)
}

func (s *Server) handleStatusTable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.describe(ctx, request, snapshot.RenderTable)
}

func (s *Server) describe(ctx context.Context, request mcp.CallToolRequest, render func(snapshot.PipelineSnapshot) string) (*mcp.CallToolResult, error) {
	id, errResult := buildIdentity(request)
	if errResult != nil {
		return errResult, nil
	}

	snap, err := s.monitor.Snapshot(ctx, id)
	if err != nil {
		s.log.Warn("[MCP] describe %s failed: %v", id, err)
		return mcp.NewToolResultError(present.Message(err)), nil
	}
	return mcp.NewToolResultText(render(snap)), nil
}

// handleTriggerAndMonitor blocks until the build completes and returns the
// combined rendering of its final snapshot.
func (s *Server) handleTriggerAndMonitor(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	job := request.GetString("job_name", "")
	if job == "" {
		return mcp.NewToolResultError("job_name parameter is required"), nil
	}
	params, err := ParseParameters(request.GetString("parameters", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	run := RunRecord{
		RunID:     uuid.NewString(),
		Job:       job,
		StartedAt: s.now().UTC().Format(time.RFC3339),
	}
	var runErr error
	for snap, err := range s.monitor.Run(ctx, job, params) {
		if err != nil {
			runErr = err
			break
		}
		run.Snapshots = append(run.Snapshots, snap)
	}
	if runErr != nil {
		run.Error = present.Message(runErr)
	}
	run.EndedAt = s.now().UTC().Format(time.RFC3339)
	s.store.Store(run)

	if runErr != nil {
		s.log.Warn("[MCP] run %s of %s failed: %v", run.RunID, job, runErr)
		return mcp.NewToolResultError(run.Error), nil
	}
	last, _ := run.Last()
	return mcp.NewToolResultText(fmt.Sprintf("%s\n\nRun ID: %s", snapshot.Combined(last), run.RunID)), nil
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	if runID == "" {
		return mcp.NewToolResultError("run_id parameter is required"), nil
	}

	if seq := request.GetInt("sequence", 0); seq != 0 {
		snap, found := s.store.Get(runID, seq)
		if !found {
			return mcp.NewToolResultError(fmt.Sprintf("poll not found: run_id=%s, sequence=%d", runID, seq)), nil
		}
		return mcp.NewToolResultText(snapshot.RenderTable(snap)), nil
	}

	run, found := s.store.GetAll(runID)
	if !found {
		return mcp.NewToolResultError(fmt.Sprintf("run not found: run_id=%s", runID)), nil
	}
	jsonBytes, err := json.Marshal(ToManifest(run))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal run: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Empty queries are rejected by the orchestrator with a readable message.
	return mcp.NewToolResultText(s.asker.Ask(ctx, request.GetString("query", ""))), nil
}

func buildIdentity(request mcp.CallToolRequest) (snapshot.BuildIdentity, *mcp.CallToolResult) {
	job := request.GetString("job_name", "")
	if job == "" {
		return snapshot.BuildIdentity{}, mcp.NewToolResultError("job_name parameter is required")
	}
	number := request.GetInt("build_number", 0)
	if number <= 0 {
		return snapshot.BuildIdentity{}, mcp.NewToolResultError("build_number must be a positive integer")
	}
	return snapshot.BuildIdentity{JobName: job, BuildNumber: number}, nil
}

// ParseParameters decodes a JSON object of build parameters. Non-string
// values are passed to Jenkins in their JSON form.
func ParseParameters(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("parameters must be a JSON object: %w", err)
	}

	params := make(map[string]string, len(decoded))
	for k, v := range decoded {
		switch v := v.(type) {
		case string:
			params[k] = v
		case nil:
			params[k] = ""
		default:
			b, _ := json.Marshal(v)
			params[k] = string(b)
		}
	}
	return params, nil
}
