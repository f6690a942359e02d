package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Registrations Commands
// =============================================================================

// buildRegistrationsCmd creates the "registrations" command group.
func buildRegistrationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "registrations",
		Aliases: []string{"reg"},
		Short:   "Manage event registrations",
	}
	cmd.AddCommand(
		buildRegistrationsListCmd(),
		buildRegistrationsCreateCmd(),
		buildCheckCmd("checkin", "Check an attendee in"),
		buildCheckCmd("checkout", "Check an attendee out"),
	)
	return cmd
}

func buildRegistrationsListCmd() *cobra.Command {
	var (
		eventID  string
		page     int
		pageSize int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your registrations, or every registration of an event",
		Example: `  eventlive registrations list
  eventlive registrations list --event 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegistrationsList(cmd, eventID, page, pageSize, asJSON)
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "List registrations of this event")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 10, "Registrations per page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func buildRegistrationsCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <event-id>",
		Short: "Register for an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegistrationsCreate(cmd, args[0])
		},
	}
}

func buildCheckCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <registration-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegistrationCheck(cmd, action, args[0])
		},
	}
}
