package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Events Commands
// =============================================================================

// eventFlags holds the editable fields shared by create and update.
type eventFlags struct {
	title        string
	description  string
	location     string
	start        string
	end          string
	maxAttendees int
}

func (f *eventFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "Event title")
	cmd.Flags().StringVar(&f.description, "description", "", "Event description")
	cmd.Flags().StringVar(&f.location, "location", "", "Event location")
	cmd.Flags().StringVar(&f.start, "start", "", "Start time (RFC 3339)")
	cmd.Flags().StringVar(&f.end, "end", "", "End time (RFC 3339)")
	cmd.Flags().IntVar(&f.maxAttendees, "max-attendees", 0, "Capacity (0 for unlimited)")
}

// buildEventsCmd creates the "events" command group.
func buildEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Browse and manage events",
	}
	cmd.AddCommand(
		buildEventsListCmd(),
		buildEventsGetCmd(),
		buildEventsCreateCmd(),
		buildEventsUpdateCmd(),
		buildEventsDeleteCmd(),
	)
	return cmd
}

func buildEventsListCmd() *cobra.Command {
	var (
		page     int
		pageSize int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events",
		Example: `  eventlive events list
  eventlive events list --page 2 --page-size 20 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsList(cmd, page, pageSize, asJSON)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 10, "Events per page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func buildEventsGetCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <event-id>",
		Short: "Show one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsGet(cmd, args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func buildEventsCreateCmd() *cobra.Command {
	var flags eventFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		Example: `  eventlive events create --title "Launch" \
    --start 2026-05-01T18:00:00Z --end 2026-05-01T20:00:00Z --max-attendees 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsCreate(cmd, flags)
		},
	}
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func buildEventsUpdateCmd() *cobra.Command {
	var flags eventFlags

	cmd := &cobra.Command{
		Use:   "update <event-id>",
		Short: "Update an event; unset flags keep their current values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsUpdate(cmd, args[0], flags)
		},
	}
	flags.register(cmd)

	return cmd
}

func buildEventsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <event-id>",
		Short: "Delete an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsDelete(cmd, args[0])
		},
	}
}
