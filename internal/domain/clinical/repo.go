package clinical

import (
	"context"

	"github.com/google/uuid"
)

type TreatmentRepository interface {
	Create(ctx context.Context, t *Treatment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Treatment, error)
	List(ctx context.Context, patientID *uuid.UUID, limit, offset int) ([]*Treatment, int, error)
	// Review stores the outcome only while the plan is still recommended.
	Review(ctx context.Context, t *Treatment) (bool, error)
}

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	List(ctx context.Context, patientID *uuid.UUID, limit, offset int) ([]*Prescription, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to PrescriptionStatus) (bool, error)
}
