package billing

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
)

const (
	StatusCompleted = "completed"

	DefaultCurrency = "USD"
	DefaultMethod   = "card"

	maxAmount = 1_000_000
)

var paymentMethods = map[string]bool{
	"card": true, "cash": true, "insurance": true, "bank_transfer": true,
}

type Payment struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	TreatmentID   *uuid.UUID `json:"treatment_id,omitempty"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	PaymentMethod string     `json:"payment_method"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RecordPaymentRequest is a payment against an appointment or a treatment
// plan. PatientID is only honoured for front-desk staff.
type RecordPaymentRequest struct {
	PatientID     *uuid.UUID `json:"patient_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	TreatmentID   *uuid.UUID `json:"treatment_id,omitempty"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
}

func (r *RecordPaymentRequest) Validate() error {
	if r.AppointmentID == nil && r.TreatmentID == nil {
		return apperr.Invalid("appointment_id", "an appointment or treatment is required")
	}
	if math.IsNaN(r.Amount) || r.Amount <= 0 {
		return apperr.Invalid("amount", "must be greater than 0")
	}
	if r.Amount > maxAmount {
		return apperr.Invalid("amount", "must be at most %d", maxAmount)
	}
	// Cents only.
	r.Amount = math.Round(r.Amount*100) / 100

	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
	if len(r.Currency) != 3 || strings.Trim(r.Currency, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") != "" {
		return apperr.Invalid("currency", "must be a 3-letter code")
	}

	r.PaymentMethod = strings.ToLower(strings.TrimSpace(r.PaymentMethod))
	if r.PaymentMethod == "" {
		r.PaymentMethod = DefaultMethod
	}
	if !paymentMethods[r.PaymentMethod] {
		return apperr.Invalid("payment_method", "must be one of card, cash, insurance, bank_transfer")
	}
	return nil
}

// Summary totals completed payments in one currency.
type Summary struct {
	Currency string  `json:"currency"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}
