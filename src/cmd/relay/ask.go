package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "ask QUERY...",
		Short: "Send one query to the assistant",
		Long: `Sends QUERY through the same rate limiter, concurrency gate, retry
policy and cache the servers use, and prints the response.

Example:
  relay ask "What time is it in Tokyo?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.Orchestrator.Handle(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Response)
			if verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "request %s, cached: %t\n", res.RequestID, res.Cached)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the request ID and cache status to stderr")
	return cmd
}
