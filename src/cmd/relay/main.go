// Package main provides the relay CLI: the MCP and HTTP servers, one-shot
// queries and Jenkins build monitoring.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pipeline-relay/src/config"
	"pipeline-relay/src/logger"
	"pipeline-relay/src/pipeline"
	"pipeline-relay/src/present"
)

var version = "dev"

// app carries the persistent flags to every subcommand.
type app struct {
	configPath string
	logLevel   string
	opts       []pipeline.Option
}

// runtime loads configuration and builds the shared collaborators.
func (a *app) runtime(extra ...pipeline.Option) (*pipeline.Runtime, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	opts := append(append([]pipeline.Option{}, a.opts...), extra...)
	return pipeline.New(cfg, version, opts...)
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&app{})
}

func newRootCmdWith(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Pipeline Relay - assistant queries and Jenkins pipeline monitoring",
		Long: `Pipeline Relay fronts an assistant backend with rate limiting, bounded
concurrency, retries and a short-lived response cache, and follows Jenkins
pipeline builds from trigger to completion.

It supports two modes:
- Local Mode: in-memory broker for build snapshots (default)
- Distributed Mode: snapshots are published to Redpanda

Mode is detected from broker.brokers (RELAY_BROKER_BROKERS).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a config file (default ./relay.toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newServeMCPCmd(a),
		newServeHTTPCmd(a),
		newAskCmd(a),
		newTableCmd(a),
		newDescribeCmd(a),
		newStatusCmd(a),
		newMonitorCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s\n", version)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, present.Message(err))
		os.Exit(1)
	}
}

// quiet silences logging for commands that own the terminal.
func quiet() pipeline.Option {
	return pipeline.WithLogger(logger.NewSilentLogger())
}
