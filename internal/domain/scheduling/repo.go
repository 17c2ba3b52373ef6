package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	// UpdateStatus moves id from -> to and reports false when the row was no
	// longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	Reschedule(ctx context.Context, id uuid.UUID, from Status, date, clock string) (bool, error)
	// CompleteOverdue completes pending appointments dated before date.
	CompleteOverdue(ctx context.Context, date string) (int64, error)
}

type WaitlistRepository interface {
	Create(ctx context.Context, w *WaitlistEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	List(ctx context.Context, patientID *uuid.UUID, status *WaitlistStatus, limit, offset int) ([]*WaitlistEntry, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to WaitlistStatus) (bool, error)
}

type ReviewRepository interface {
	Upsert(ctx context.Context, r *Review) error
	ListByDentist(ctx context.Context, dentistID uuid.UUID, limit, offset int) ([]*Review, int, error)
	AverageForDentist(ctx context.Context, dentistID uuid.UUID) (float64, error)
}
