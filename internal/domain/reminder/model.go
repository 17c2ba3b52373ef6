// Package reminder plans appointment reminders and turns due ones into
// notifications.
package reminder

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	Kind24hBefore Kind = "24h_before"
	Kind1hBefore  Kind = "1h_before"
)

// Kinds are planned in this order for every confirmed appointment.
var Kinds = []Kind{Kind24hBefore, Kind1hBefore}

// Lead is how long before the appointment start the reminder falls due.
func (k Kind) Lead() (time.Duration, bool) {
	switch k {
	case Kind24hBefore:
		return 24 * time.Hour, true
	case Kind1hBefore:
		return time.Hour, true
	}
	return 0, false
}

func (k Kind) label() (string, bool) {
	switch k {
	case Kind24hBefore:
		return "24 hours", true
	case Kind1hBefore:
		return "1 hour", true
	}
	return "", false
}

type Reminder struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	AccountID     uuid.UUID  `json:"account_id"`
	Kind          Kind       `json:"kind"`
	ScheduledFor  time.Time  `json:"scheduled_for"`
	Sent          bool       `json:"sent"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AppointmentInfo is the slice of an appointment a reminder message needs.
type AppointmentInfo struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Date      string // YYYY-MM-DD
	Time      string // HH:MM
	Reason    *string
}

// Recipient is the patient account a reminder is addressed to.
type Recipient struct {
	ID       uuid.UUID
	FullName string
	Email    string
}

// Target identifies the appointment a Planner schedules reminders for.
type Target struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	Date          string
	Time          string
}

// DispatchResult summarises one dispatcher pass. Processed lists the ids
// marked sent in this pass.
type DispatchResult struct {
	Count     int         `json:"count"`
	Processed []uuid.UUID `json:"processed"`
	Failed    int         `json:"failed"`
}

// Title returns the notification title for kind.
func Title(kind Kind) (string, error) {
	label, ok := kind.label()
	if !ok {
		return "", fmt.Errorf("unknown reminder kind %q", kind)
	}
	return "Appointment Reminder - " + label, nil
}

// Message returns the notification body for an appointment.
func Message(info *AppointmentInfo) string {
	msg := fmt.Sprintf("Your dental appointment is scheduled for %s at %s.", info.Date, info.Time)
	if info.Reason != nil {
		if reason := strings.TrimSpace(*info.Reason); reason != "" {
			msg += " Reason: " + reason
		}
	}
	return msg
}

// StartAt resolves an appointment's wall-clock date and time in loc.
func StartAt(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("appointment start %q %q: %w", date, clock, err)
	}
	return t, nil
}
