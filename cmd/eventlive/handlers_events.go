package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/eventlive/internal/api"
	"github.com/haasonsaas/eventlive/pkg/models"
	"github.com/spf13/cobra"
)

// =============================================================================
// Events Command Handlers
// =============================================================================

func runEventsList(cmd *cobra.Command, page, pageSize int, asJSON bool) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	res, err := rt.client.ListEvents(cmd.Context(), page, pageSize)
	if err != nil {
		return explain(err)
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	return printEventTable(cmd.OutOrStdout(), res, time.Now())
}

func runEventsGet(cmd *cobra.Command, id string, asJSON bool) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	event, err := rt.client.GetEvent(cmd.Context(), id)
	if errors.Is(err, api.ErrNotFound) {
		return fmt.Errorf("event %s not found", id)
	}
	if err != nil {
		return explain(err)
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), event)
	}
	printEvent(cmd.OutOrStdout(), event, time.Now())
	return nil
}

func runEventsCreate(cmd *cobra.Command, flags eventFlags) error {
	var in models.EventInput
	if err := applyEventFlags(cmd, flags, &in); err != nil {
		return err
	}

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	event, err := rt.client.CreateEvent(cmd.Context(), in)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created event %s (%s)\n", event.Title, event.ID)
	return nil
}

func runEventsUpdate(cmd *cobra.Command, id string, flags eventFlags) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	current, err := rt.client.GetEvent(cmd.Context(), id)
	if err != nil {
		return explain(err)
	}
	in := models.EventInput{
		Title:        current.Title,
		Description:  current.Description,
		Location:     current.Location,
		StartDate:    current.StartDate,
		EndDate:      current.EndDate,
		MaxAttendees: current.MaxAttendees,
	}
	if err := applyEventFlags(cmd, flags, &in); err != nil {
		return err
	}

	event, err := rt.client.UpdateEvent(cmd.Context(), id, in)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated event %s (%s)\n", event.Title, event.ID)
	return nil
}

func runEventsDelete(cmd *cobra.Command, id string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	if err := rt.client.DeleteEvent(cmd.Context(), id); err != nil {
		return explain(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted event %s\n", id)
	return nil
}

// applyEventFlags copies the flags the user set onto in.
func applyEventFlags(cmd *cobra.Command, flags eventFlags, in *models.EventInput) error {
	changed := cmd.Flags().Changed
	if changed("title") {
		in.Title = strings.TrimSpace(flags.title)
	}
	if changed("description") {
		in.Description = flags.description
	}
	if changed("location") {
		in.Location = flags.location
	}
	if changed("start") {
		t, err := time.Parse(time.RFC3339, flags.start)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		in.StartDate = t
	}
	if changed("end") {
		t, err := time.Parse(time.RFC3339, flags.end)
		if err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
		in.EndDate = t
	}
	if changed("max-attendees") {
		if flags.maxAttendees < 0 {
			return errors.New("--max-attendees must not be negative")
		}
		if flags.maxAttendees == 0 {
			in.MaxAttendees = nil
		} else {
			n := flags.maxAttendees
			in.MaxAttendees = &n
		}
	}

	if in.Title == "" {
		return errors.New("title is required")
	}
	if !in.EndDate.After(in.StartDate) {
		return errors.New("end must be after start")
	}
	return nil
}

func printEventTable(out io.Writer, page *models.Page[models.Event], now time.Time) error {
	if len(page.Data) == 0 {
		fmt.Fprintln(out, "No events found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTARTS\tSPOTS\tSTATUS")
	for _, e := range page.Data {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Title, e.StartDate.Local().Format("2006-01-02 15:04"), spots(e), eventStatus(e, now))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nPage %d of %d (%d events)\n", page.Page, max(page.TotalPages, 1), page.TotalCount)
	return nil
}

func printEvent(out io.Writer, e *models.Event, now time.Time) {
	fmt.Fprintf(out, "%s\n", e.Title)
	fmt.Fprintf(out, "  ID:        %s\n", e.ID)
	if e.Location != "" {
		fmt.Fprintf(out, "  Location:  %s\n", e.Location)
	}
	fmt.Fprintf(out, "  Starts:    %s\n", e.StartDate.Local().Format(time.RFC1123))
	fmt.Fprintf(out, "  Ends:      %s\n", e.EndDate.Local().Format(time.RFC1123))
	fmt.Fprintf(out, "  Attendees: %d (spots: %s)\n", e.CurrentRegistrations, spots(*e))
	fmt.Fprintf(out, "  Status:    %s\n", eventStatus(*e, now))
	if e.Description != "" {
		fmt.Fprintf(out, "\n%s\n", e.Description)
	}
}

func spots(e models.Event) string {
	n, limited := e.AvailableSpots()
	if !limited {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

func eventStatus(e models.Event, now time.Time) string {
	switch {
	case e.IsLive(now):
		return "live"
	case now.Before(e.StartDate):
		if e.IsFull {
			return "full"
		}
		return "upcoming"
	default:
		return "ended"
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
