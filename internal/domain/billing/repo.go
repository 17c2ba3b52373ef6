package billing

import (
	"context"

	"github.com/google/uuid"
)

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	List(ctx context.Context, patientID *uuid.UUID, limit, offset int) ([]*Payment, int, error)
	// Totals groups completed payments by currency.
	Totals(ctx context.Context, patientID *uuid.UUID) ([]Summary, error)
}

// OwnerLookup resolves the patient an appointment or treatment belongs to.
type OwnerLookup interface {
	AppointmentPatient(ctx context.Context, appointmentID uuid.UUID) (uuid.UUID, error)
	TreatmentPatient(ctx context.Context, treatmentID uuid.UUID) (uuid.UUID, error)
}
