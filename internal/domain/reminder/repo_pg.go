package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const reminderCols = `id, appointment_id, account_id, kind, scheduled_for, sent, sent_at, created_at`

func scanReminder(row pgx.Row) (*Reminder, error) {
	var rm Reminder
	err := row.Scan(&rm.ID, &rm.AppointmentID, &rm.AccountID, &rm.Kind, &rm.ScheduledFor,
		&rm.Sent, &rm.SentAt, &rm.CreatedAt)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	return &rm, nil
}

func (r *repoPG) ListDue(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reminderCols+` FROM reminders
		WHERE sent = FALSE AND scheduled_for <= $1
		ORDER BY scheduled_for, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		rm, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

func (r *repoPG) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminders SET sent = TRUE, sent_at = $2
		WHERE id = $1 AND sent = FALSE`, id, at)
	if err != nil {
		return false, apperr.FromDB(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) InsertPlanned(ctx context.Context, rm *Reminder) (bool, error) {
	rm.ID = uuid.New()
	rm.CreatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO reminders (id, appointment_id, account_id, kind, scheduled_for, sent, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT (appointment_id, kind) DO NOTHING`,
		rm.ID, rm.AppointmentID, rm.AccountID, rm.Kind, rm.ScheduledFor, rm.CreatedAt)
	if err != nil {
		return false, apperr.FromDB(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) DeleteUnsent(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM reminders WHERE appointment_id = $1 AND sent = FALSE`, appointmentID)
	if err != nil {
		return 0, apperr.FromDB(err)
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) DeleteAll(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM reminders WHERE appointment_id = $1`, appointmentID)
	if err != nil {
		return 0, apperr.FromDB(err)
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) AppointmentInfo(ctx context.Context, appointmentID uuid.UUID) (*AppointmentInfo, error) {
	var (
		info AppointmentInfo
		date time.Time
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, appointment_date, appointment_time, reason
		FROM appointments WHERE id = $1`, appointmentID).
		Scan(&info.ID, &info.PatientID, &date, &info.Time, &info.Reason)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	info.Date = date.Format("2006-01-02")
	return &info, nil
}

func (r *repoPG) Recipient(ctx context.Context, accountID uuid.UUID) (*Recipient, error) {
	var rc Recipient
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, full_name, email FROM accounts WHERE id = $1`, accountID).
		Scan(&rc.ID, &rc.FullName, &rc.Email)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	return &rc, nil
}
