package records

import (
	"context"

	"github.com/google/uuid"
)

type ImageRepository interface {
	Create(ctx context.Context, img *MedicalImage) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalImage, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalImage, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type HistoryRepository interface {
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*MedicalHistory, error)
	// Upsert writes the single history row for h.PatientID.
	Upsert(ctx context.Context, h *MedicalHistory) error
}
