// Package main provides the CLI entry point for eventlive, a terminal client
// for the event ticketing platform.
//
// eventlive signs members in, browses and manages events and registrations,
// and attends a live event page: it joins the event's room on the realtime
// hub, shows who is watching and streams room activity until interrupted.
//
// # Basic Usage
//
// Sign in and browse:
//
//	eventlive login --email ada@example.com
//	eventlive events list
//
// Register and attend:
//
//	eventlive registrations create <event-id>
//	eventlive live <event-id>
//
// # Environment Variables
//
//   - EVENTLIVE_CONFIG: Path to configuration file (default: eventlive.yaml when present)
//   - EVENTLIVE_API_URL: Overrides api.base_url
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// Persistent flags shared by every subcommand.
var (
	configPath string
	logLevel   string
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eventlive",
		Short: "eventlive - live event presence client",
		Long: `eventlive talks to the event ticketing platform.

It manages your session, events and registrations, and attends live events
over the realtime hub with a running viewer count and activity feed.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (or set EVENTLIVE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		buildSignupCmd(),
		buildLoginCmd(),
		buildLogoutCmd(),
		buildWhoamiCmd(),
		buildEventsCmd(),
		buildRegistrationsCmd(),
		buildLiveCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}
