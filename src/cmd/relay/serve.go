package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pipeline-relay/src/httpapi"
	"pipeline-relay/src/mcp"
)

func newServeMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve the relay tools over MCP on stdin/stdout",
		Long: `Runs the Model Context Protocol server on stdio. Tools:
  get_pipeline_visualization    narrative of a Jenkins build
  get_pipeline_status_table     stage table of a Jenkins build
  trigger_and_monitor_pipeline  trigger a job and follow it to completion
  get_monitor_run               inspect a finished monitor run
  ask                           route a query through the assistant`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.Log.Info("[Relay] serving MCP on stdio (%s mode)", rt.Mode)
			return mcp.NewServer(version, rt.Monitor, rt.Orchestrator, rt.Log).Run()
		},
	}
}

func newServeHTTPCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-http",
		Short: "Serve the relay over HTTP",
		Long: `Endpoints:
  POST /v1/query                               {"query": "..."}
  GET  /v1/jobs/{job}/builds/{number}/table
  GET  /v1/jobs/{job}/builds/{number}/narrative
  POST /v1/jobs/{job}/monitor                  streams snapshots as NDJSON
  GET  /healthz`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = rt.Config.HTTP.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			router := httpapi.NewRouter(httpapi.NewHandler(rt.Orchestrator, rt.Monitor, rt.Log))
			return httpapi.Serve(ctx, addr, router, rt.Log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}
