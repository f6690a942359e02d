package models

import "time"

// Event is a ticketed event as returned by /api/Event.
type Event struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Description          string    `json:"description,omitempty"`
	Location             string    `json:"location,omitempty"`
	StartDate            time.Time `json:"startDate"`
	EndDate              time.Time `json:"endDate"`
	MaxAttendees         *int      `json:"maxAttendees,omitempty"`
	CurrentRegistrations int       `json:"currentRegistrations"`
	IsFull               bool      `json:"isFull"`
}

// IsLive reports whether now falls inside [StartDate, EndDate].
func (e Event) IsLive(now time.Time) bool {
	return !now.Before(e.StartDate) && !now.After(e.EndDate)
}

// AvailableSpots returns the remaining capacity. The second value is false
// for events without a limit.
func (e Event) AvailableSpots() (int, bool) {
	if e.MaxAttendees == nil {
		return 0, false
	}
	spots := *e.MaxAttendees - e.CurrentRegistrations
	if spots < 0 {
		spots = 0
	}
	return spots, true
}

// EventInput is the body of event create and update requests.
type EventInput struct {
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	MaxAttendees *int      `json:"maxAttendees,omitempty"`
}
