package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/eventlive/pkg/models"
	"github.com/spf13/cobra"
)

// =============================================================================
// Registrations Command Handlers
// =============================================================================

func runRegistrationsList(cmd *cobra.Command, eventID string, page, pageSize int, asJSON bool) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	var res *models.Page[models.Registration]
	if eventID != "" {
		res, err = rt.client.ListEventRegistrations(cmd.Context(), eventID, page, pageSize)
	} else {
		res, err = rt.client.ListRegistrations(cmd.Context(), page, pageSize)
	}
	if err != nil {
		return explain(err)
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	return printRegistrationTable(cmd.OutOrStdout(), res)
}

func runRegistrationsCreate(cmd *cobra.Command, eventID string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	reg, err := rt.client.CreateRegistration(cmd.Context(), eventID)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered for event %s (registration %s)\n", eventID, reg.ID)
	return nil
}

func runRegistrationCheck(cmd *cobra.Command, action, id string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	var reg *models.Registration
	if action == "checkout" {
		reg, err = rt.client.CheckOut(cmd.Context(), id)
	} else {
		reg, err = rt.client.CheckIn(cmd.Context(), id)
	}
	if err != nil {
		return explain(err)
	}
	state := "checked out"
	if reg.CheckedIn() {
		state = "checked in"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registration %s is %s\n", reg.ID, state)
	return nil
}

func printRegistrationTable(out io.Writer, page *models.Page[models.Registration]) error {
	if len(page.Data) == 0 {
		fmt.Fprintln(out, "No registrations found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEVENT\tUSER\tREGISTERED\tCHECKED IN")
	for _, r := range page.Data {
		event := r.EventID
		if r.EventTitle != "" {
			event = r.EventTitle
		}
		checked := "no"
		if r.CheckedIn() {
			checked = r.CheckedInAt.Local().Format(time.TimeOnly)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, event, r.UserID, r.RegisteredAt.Local().Format("2006-01-02 15:04"), checked)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nPage %d of %d (%d registrations)\n", page.Page, max(page.TotalPages, 1), page.TotalCount)
	return nil
}
