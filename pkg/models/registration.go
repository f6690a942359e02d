package models

import "time"

// Registration links a user to an event.
type Registration struct {
	ID           string     `json:"id"`
	EventID      string     `json:"eventId"`
	UserID       string     `json:"userId"`
	EventTitle   string     `json:"eventTitle,omitempty"`
	RegisteredAt time.Time  `json:"registeredAt"`
	IsAttending  bool       `json:"isAttending"`
	CheckedInAt  *time.Time `json:"checkedInAt,omitempty"`
	CheckedOutAt *time.Time `json:"checkedOutAt,omitempty"`
}

// CheckedIn reports whether the attendee is currently checked in.
func (r Registration) CheckedIn() bool {
	if r.CheckedInAt == nil {
		return false
	}
	return r.CheckedOutAt == nil || r.CheckedOutAt.Before(*r.CheckedInAt)
}

// RegistrationRequest is the body of POST /api/Registration.
type RegistrationRequest struct {
	EventID string `json:"eventId"`
}
