package scheduling

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// -- Appointment --

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// transitions lists every allowed edge. pending -> completed is only taken
// by ReconcileOverdueAppointments.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusCompleted},
	StatusConfirmed: {StatusCompleted},
}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.TrimSpace(s)); st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return st, true
	}
	return "", false
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

type Appointment struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	DentistID *uuid.UUID `json:"dentist_id,omitempty"`
	Date      string     `json:"appointment_date"`
	Time      string     `json:"appointment_time"`
	Status    Status     `json:"status"`
	Reason    *string    `json:"reason,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CreateAppointmentRequest struct {
	// PatientID lets staff book on a patient's behalf. Patients always book
	// for themselves.
	PatientID *uuid.UUID `json:"patient_id,omitempty"`
	DentistID *uuid.UUID `json:"dentist_id,omitempty"`
	Date      string     `json:"appointment_date"`
	Time      string     `json:"appointment_time"`
	Reason    *string    `json:"reason,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
}

func (r *CreateAppointmentRequest) Validate(today string) error {
	if err := validateDate("appointment_date", r.Date); err != nil {
		return err
	}
	if r.Date < today {
		return apperr.Invalid("appointment_date", "must not be in the past")
	}
	if err := validateClock("appointment_time", r.Time); err != nil {
		return err
	}
	var err error
	if r.Reason, err = optionalText("reason", r.Reason, 500); err != nil {
		return err
	}
	if r.Notes, err = optionalText("notes", r.Notes, 1000); err != nil {
		return err
	}
	return nil
}

type StatusRequest struct {
	Status string `json:"status"`
}

type RescheduleRequest struct {
	Date string `json:"appointment_date"`
	Time string `json:"appointment_time"`
}

// AppointmentFilter narrows a listing. Dates are inclusive YYYY-MM-DD bounds.
type AppointmentFilter struct {
	PatientID *uuid.UUID
	DentistID *uuid.UUID
	Status    *Status
	From      string
	To        string
}

// -- Waitlist --

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var validPriorities = map[Priority]bool{
	PriorityLow: true, PriorityNormal: true, PriorityHigh: true, PriorityUrgent: true,
}

type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistContacted WaitlistStatus = "contacted"
	WaitlistScheduled WaitlistStatus = "scheduled"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

var waitlistTransitions = map[WaitlistStatus][]WaitlistStatus{
	WaitlistWaiting:   {WaitlistContacted, WaitlistScheduled, WaitlistCancelled},
	WaitlistContacted: {WaitlistScheduled, WaitlistCancelled},
}

func ParseWaitlistStatus(s string) (WaitlistStatus, bool) {
	switch st := WaitlistStatus(strings.TrimSpace(s)); st {
	case WaitlistWaiting, WaitlistContacted, WaitlistScheduled, WaitlistCancelled:
		return st, true
	}
	return "", false
}

func (s WaitlistStatus) CanTransitionTo(to WaitlistStatus) bool {
	for _, next := range waitlistTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type WaitlistEntry struct {
	ID            uuid.UUID      `json:"id"`
	PatientID     uuid.UUID      `json:"patient_id"`
	PreferredDate string         `json:"preferred_date"`
	PreferredTime *string        `json:"preferred_time,omitempty"`
	Reason        *string        `json:"reason,omitempty"`
	Priority      Priority       `json:"priority"`
	Status        WaitlistStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type JoinWaitlistRequest struct {
	PreferredDate string  `json:"preferred_date"`
	PreferredTime *string `json:"preferred_time,omitempty"`
	Reason        *string `json:"reason,omitempty"`
	Priority      string  `json:"priority,omitempty"`
}

func (r *JoinWaitlistRequest) Validate() (Priority, error) {
	if err := validateDate("preferred_date", r.PreferredDate); err != nil {
		return "", err
	}
	if r.PreferredTime != nil {
		if t := strings.TrimSpace(*r.PreferredTime); t == "" {
			r.PreferredTime = nil
		} else if err := validateClock("preferred_time", t); err != nil {
			return "", err
		} else {
			r.PreferredTime = &t
		}
	}
	var err error
	if r.Reason, err = optionalText("reason", r.Reason, 500); err != nil {
		return "", err
	}
	priority := Priority(strings.TrimSpace(r.Priority))
	if priority == "" {
		priority = PriorityNormal
	}
	if !validPriorities[priority] {
		return "", apperr.Invalid("priority", "must be one of low, normal, high, urgent")
	}
	return priority, nil
}

// -- Reviews --

type Review struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	DentistID     *uuid.UUID `json:"dentist_id,omitempty"`
	Rating        int        `json:"rating"`
	ReviewText    *string    `json:"review_text,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type ReviewRequest struct {
	Rating     int     `json:"rating"`
	ReviewText *string `json:"review_text,omitempty"`
}

func (r *ReviewRequest) Validate() error {
	if r.Rating < 1 || r.Rating > 5 {
		return apperr.Invalid("rating", "must be between 1 and 5")
	}
	var err error
	r.ReviewText, err = optionalText("review_text", r.ReviewText, 1000)
	return err
}

// DentistReviews is a page of a dentist's reviews with the overall average.
type DentistReviews struct {
	Data    []*Review `json:"data"`
	Total   int       `json:"total"`
	Average float64   `json:"average"`
}

// -- Validation helpers --

func validateDate(field, s string) error {
	if s == "" {
		return apperr.Invalid(field, "is required")
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return apperr.Invalid(field, "must be a date in YYYY-MM-DD format")
	}
	return nil
}

func validateClock(field, s string) error {
	if s == "" {
		return apperr.Invalid(field, "is required")
	}
	if len(s) != len(clockLayout) {
		return apperr.Invalid(field, "must be a time in HH:MM format")
	}
	if _, err := time.Parse(clockLayout, s); err != nil {
		return apperr.Invalid(field, "must be a time in HH:MM format")
	}
	return nil
}

// optionalText trims s and returns nil for blank input.
func optionalText(field string, s *string, max int) (*string, error) {
	if s == nil {
		return nil, nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil, nil
	}
	if len([]rune(t)) > max {
		return nil, apperr.Invalid(field, "must be at most %d characters", max)
	}
	return &t, nil
}
