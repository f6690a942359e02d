package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Live Command
// =============================================================================

// buildLiveCmd creates the "live" command that attends an event's live page.
func buildLiveCmd() *cobra.Command {
	var (
		metricsAddr string
		noRefresh   bool
	)

	cmd := &cobra.Command{
		Use:   "live <event-id>",
		Short: "Attend a live event and stream room activity",
		Long: `Attend a live event. You must be signed in, registered for the event,
and the event must be running.

The connection status, viewer count and room activity are printed as they
change. Press Ctrl+C to leave the room; press it again to exit immediately.`,
		Example: `  eventlive live 42
  eventlive live 42 --metrics-addr 127.0.0.1:9464`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd, args[0], metricsAddr, noRefresh)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default: metrics.addr when metrics.enabled)")
	cmd.Flags().BoolVar(&noRefresh, "no-refresh", false, "Disable proactive access token refresh")

	return cmd
}
