package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pipeline-relay/src/contracts"
	"pipeline-relay/src/monitor"
	"pipeline-relay/src/present"
	"pipeline-relay/src/snapshot"
	"pipeline-relay/src/tui"
)

// parseBuild validates the JOB BUILD argument pair.
func parseBuild(args []string) (snapshot.BuildIdentity, error) {
	job := strings.TrimSpace(args[0])
	if job == "" {
		return snapshot.BuildIdentity{}, fmt.Errorf("job name is required")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return snapshot.BuildIdentity{}, fmt.Errorf("build number must be a positive integer, got %q", args[1])
	}
	return snapshot.BuildIdentity{JobName: job, BuildNumber: n}, nil
}

func newTableCmd(a *app) *cobra.Command {
	return newRenderCmd(a, "table", "Print the stage table of a build", snapshot.RenderTable)
}

func newDescribeCmd(a *app) *cobra.Command {
	return newRenderCmd(a, "describe", "Describe a build in prose", snapshot.RenderNarrative)
}

func newRenderCmd(a *app, use, short string, render func(snapshot.PipelineSnapshot) string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " JOB BUILD",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBuild(args)
			if err != nil {
				return err
			}
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.Close()

			snap, err := rt.Monitor.Snapshot(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), render(snap))
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB BUILD",
		Short: "Print whether a build is running and its result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBuild(args)
			if err != nil {
				return err
			}
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.Close()

			info, err := rt.Jenkins.BuildInfo(cmd.Context(), id.JobName, id.BuildNumber)
			if err != nil {
				return err
			}
			result := info.Result
			if result == "" {
				result = "-"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "building: %t\nresult: %s\n", info.Building, result)
			return nil
		},
	}
}

func newMonitorCmd(a *app) *cobra.Command {
	var (
		rawParams []string
		useTUI    bool
	)
	cmd := &cobra.Command{
		Use:   "monitor JOB",
		Short: "Trigger a job and follow it until it finishes",
		Long: `Triggers JOB with the given parameters, waits for it to leave the queue
and polls it until it completes. The build keeps running if the command
is interrupted.

Example:
  relay monitor team/deploy -p ENV=prod -p REPLICAS=3 --tui`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if useTUI {
				return monitorTUI(ctx, a, cmd, args[0], params)
			}
			return monitorPlain(ctx, a, cmd, args[0], params)
		},
	}
	cmd.Flags().StringArrayVarP(&rawParams, "param", "p", nil, "build parameter as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show a live view instead of log lines")
	return cmd
}

func parseParams(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected KEY=VALUE", kv)
		}
		params[key] = value
	}
	return params, nil
}

func monitorPlain(ctx context.Context, a *app, cmd *cobra.Command, job string, params map[string]string) error {
	rt, err := a.runtime()
	if err != nil {
		return err
	}
	defer rt.Close()

	var (
		last  snapshot.PipelineSnapshot
		polls int
	)
	for snap, err := range rt.Monitor.Run(ctx, job, params) {
		if err != nil {
			return err
		}
		polls++
		last = snap
		rt.Log.Info("[Relay] %s poll %d: %s (%d/%d stages successful)",
			snap.Build, polls, snap.OverallStatus, snap.SuccessfulStages(), len(snap.Stages))
	}
	fmt.Fprintln(cmd.OutOrStdout(), snapshot.Combined(last))
	return nil
}

// monitorTUI drives the live view from the snapshot topic, so the same view
// works whether snapshots travel in memory or through Redpanda.
func monitorTUI(ctx context.Context, a *app, cmd *cobra.Command, job string, params map[string]string) error {
	rt, err := a.runtime(quiet())
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := rt.Broker.Subscribe(ctx, contracts.TopicBuildSnapshots, "relay-tui-"+uuid.NewString())
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", contracts.TopicBuildSnapshots, err)
	}

	failures := make(chan string, 1)
	go func() {
		if _, err := monitor.Last(rt.Monitor.Run(ctx, job, params)); err != nil && ctx.Err() == nil {
			failures <- present.Message(err)
		}
	}()

	final, err := tui.Run(ctx, tui.NewMonitorModel(job, events, failures), cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("monitor view failed: %w", err)
	}
	if msg := final.Err(); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	if final.Done() {
		fmt.Fprintln(cmd.OutOrStdout(), snapshot.Combined(final.Last()))
	}
	return nil
}
