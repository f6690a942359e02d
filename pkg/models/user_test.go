package models

import (
	"testing"
	"time"
)

func base() time.Time { return time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC) }

func TestAuthResult_User(t *testing.T) {
	res := AuthResult{
		AccessToken:  "a",
		RefreshToken: "r",
		UserID:       "u-1",
		Email:        "ada@example.com",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Role:         "Attendee",
	}
	user := res.User()
	if user.UserID != "u-1" || user.Role != "Attendee" {
		t.Fatalf("User() = %+v", user)
	}
	if got := user.DisplayName(); got != "Ada Lovelace" {
		t.Errorf("DisplayName() = %q", got)
	}
	if got := (User{Email: "x@example.com"}).DisplayName(); got != "x@example.com" {
		t.Errorf("DisplayName() fallback = %q", got)
	}
}

func TestRegistration_CheckedIn(t *testing.T) {
	in := base()
	out := in.Add(1)
	earlier := in.Add(-1)

	tests := []struct {
		name string
		reg  Registration
		want bool
	}{
		{"never", Registration{}, false},
		{"checked in", Registration{CheckedInAt: &in}, true},
		{"checked out", Registration{CheckedInAt: &in, CheckedOutAt: &out}, false},
		{"checked in again", Registration{CheckedInAt: &in, CheckedOutAt: &earlier}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.reg.CheckedIn(); got != tt.want {
				t.Errorf("CheckedIn() = %v, want %v", got, tt.want)
			}
		})
	}
}
