package clinical

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
)

// -- Treatment plans --

type TreatmentStatus string

const (
	TreatmentRecommended TreatmentStatus = "recommended"
	TreatmentApproved    TreatmentStatus = "approved"
	TreatmentModified    TreatmentStatus = "modified"
	TreatmentRejected    TreatmentStatus = "rejected"
)

// A plan is reviewed once, out of recommended.
var reviewOutcomes = map[TreatmentStatus]bool{
	TreatmentApproved: true, TreatmentModified: true, TreatmentRejected: true,
}

type Treatment struct {
	ID               uuid.UUID       `json:"id"`
	PatientID        uuid.UUID       `json:"patient_id"`
	AppointmentID    *uuid.UUID      `json:"appointment_id,omitempty"`
	DentistID        *uuid.UUID      `json:"dentist_id,omitempty"`
	Symptoms         string          `json:"symptoms"`
	AIRecommendation *string         `json:"ai_recommendation,omitempty"`
	DentistNotes     *string         `json:"dentist_notes,omitempty"`
	FinalTreatment   *string         `json:"final_treatment"`
	EstimatedCost    *float64        `json:"estimated_cost,omitempty"`
	Currency         string          `json:"currency"`
	Status           TreatmentStatus `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type CreateTreatmentRequest struct {
	PatientID        uuid.UUID  `json:"patient_id"`
	AppointmentID    *uuid.UUID `json:"appointment_id,omitempty"`
	Symptoms         string     `json:"symptoms"`
	AIRecommendation *string    `json:"ai_recommendation,omitempty"`
	EstimatedCost    *float64   `json:"estimated_cost,omitempty"`
	Currency         string     `json:"currency,omitempty"`
}

func (r *CreateTreatmentRequest) Validate() error {
	if r.PatientID == uuid.Nil {
		return apperr.Invalid("patient_id", "is required")
	}
	r.Symptoms = strings.TrimSpace(r.Symptoms)
	if r.Symptoms == "" {
		return apperr.Invalid("symptoms", "is required")
	}
	if r.EstimatedCost != nil && *r.EstimatedCost < 0 {
		return apperr.Invalid("estimated_cost", "must not be negative")
	}
	currency, err := normalizeCurrency(r.Currency)
	if err != nil {
		return err
	}
	r.Currency = currency
	if r.AIRecommendation != nil && strings.TrimSpace(*r.AIRecommendation) == "" {
		r.AIRecommendation = nil
	}
	return nil
}

type ReviewTreatmentRequest struct {
	Status       string  `json:"status"`
	DentistNotes *string `json:"dentist_notes,omitempty"`
}

// -- Prescriptions --

type PrescriptionStatus string

const (
	PrescriptionActive    PrescriptionStatus = "active"
	PrescriptionCompleted PrescriptionStatus = "completed"
	PrescriptionCancelled PrescriptionStatus = "cancelled"
)

func ParsePrescriptionStatus(s string) (PrescriptionStatus, bool) {
	switch st := PrescriptionStatus(strings.TrimSpace(s)); st {
	case PrescriptionActive, PrescriptionCompleted, PrescriptionCancelled:
		return st, true
	}
	return "", false
}

func (s PrescriptionStatus) CanTransitionTo(to PrescriptionStatus) bool {
	return s == PrescriptionActive && (to == PrescriptionCompleted || to == PrescriptionCancelled)
}

type Prescription struct {
	ID             uuid.UUID          `json:"id"`
	PatientID      uuid.UUID          `json:"patient_id"`
	DentistID      uuid.UUID          `json:"dentist_id"`
	AppointmentID  *uuid.UUID         `json:"appointment_id,omitempty"`
	MedicationName string             `json:"medication_name"`
	Dosage         string             `json:"dosage"`
	Frequency      string             `json:"frequency"`
	Duration       *string            `json:"duration,omitempty"`
	Instructions   *string            `json:"instructions,omitempty"`
	Status         PrescriptionStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type IssuePrescriptionRequest struct {
	PatientID      uuid.UUID  `json:"patient_id"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	MedicationName string     `json:"medication_name"`
	Dosage         string     `json:"dosage"`
	Frequency      string     `json:"frequency"`
	Duration       *string    `json:"duration,omitempty"`
	Instructions   *string    `json:"instructions,omitempty"`
}

func (r *IssuePrescriptionRequest) Validate() error {
	if r.PatientID == uuid.Nil {
		return apperr.Invalid("patient_id", "is required")
	}
	var err error
	if r.MedicationName, err = requiredText("medication_name", r.MedicationName, 200); err != nil {
		return err
	}
	if r.Dosage, err = requiredText("dosage", r.Dosage, 100); err != nil {
		return err
	}
	if r.Frequency, err = requiredText("frequency", r.Frequency, 100); err != nil {
		return err
	}
	if r.Duration, err = optionalText("duration", r.Duration, 100); err != nil {
		return err
	}
	if r.Instructions, err = optionalText("instructions", r.Instructions, 1000); err != nil {
		return err
	}
	return nil
}

type StatusRequest struct {
	Status string `json:"status"`
}

// -- Recommendation --

const (
	minSymptomsLen = 10
	maxSymptomsLen = 2000
)

type RecommendRequest struct {
	Symptoms string `json:"symptoms"`
}

// Recommendation is the assistant's preliminary assessment. Confidence is a
// coarse hint derived from how much detail the patient gave.
type Recommendation struct {
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
}

// -- Helpers --

func normalizeCurrency(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return "USD", nil
	}
	if len(c) != 3 {
		return "", apperr.Invalid("currency", "must be a 3-letter code")
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", apperr.Invalid("currency", "must be a 3-letter code")
		}
	}
	return c, nil
}

func requiredText(field, s string, max int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.Invalid(field, "is required")
	}
	if len([]rune(s)) > max {
		return "", apperr.Invalid(field, "must be at most %d characters", max)
	}
	return s, nil
}

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
