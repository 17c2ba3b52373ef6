package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// ListDue returns unsent reminders scheduled at or before now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Reminder, error)
	// MarkSent flips sent to true. It reports false when the reminder was
	// already sent or no longer exists.
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// InsertPlanned stores r unless the appointment already has a reminder of
	// that kind.
	InsertPlanned(ctx context.Context, r *Reminder) (bool, error)
	DeleteUnsent(ctx context.Context, appointmentID uuid.UUID) (int64, error)
	// DeleteAll removes every reminder of the appointment, sent or not.
	DeleteAll(ctx context.Context, appointmentID uuid.UUID) (int64, error)

	AppointmentInfo(ctx context.Context, appointmentID uuid.UUID) (*AppointmentInfo, error)
	Recipient(ctx context.Context, accountID uuid.UUID) (*Recipient, error)
}
