package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/db"
)

type querier struct{ pool *pgxpool.Pool }

func (q querier) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return q.pool
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ querier }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{querier{pool}}
}

const apptCols = `id, patient_id, dentist_id, appointment_date, appointment_time, status, reason, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a    Appointment
		date time.Time
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.DentistID, &date, &a.Time, &a.Status,
		&a.Reason, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	a.Date = date.Format(dateLayout)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, patient_id, dentist_id, appointment_date, appointment_time,
			status, reason, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.PatientID, a.DentistID, a.Date, a.Time, a.Status, a.Reason, a.Notes, a.CreatedAt, a.UpdatedAt)
	return apperr.FromDB(err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DentistID != nil {
		add("dentist_id = $%d", *f.DentistID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.From != "" {
		add("appointment_date >= $%d::date", f.From)
	}
	if f.To != "" {
		add("appointment_date <= $%d::date", f.To)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+clause, args...).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err)
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT `+apptCols+` FROM appointments`+clause+
			` ORDER BY appointment_date, appointment_time LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, apperr.FromDB(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) Reschedule(ctx context.Context, id uuid.UUID, from Status, date, clock string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET appointment_date = $3::date, appointment_time = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, date, clock)
	if err != nil {
		return false, apperr.FromDB(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) CompleteOverdue(ctx context.Context, date string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET status = 'completed', updated_at = NOW()
		WHERE status = 'pending' AND appointment_date < $1::date`, date)
	if err != nil {
		return 0, apperr.FromDB(err)
	}
	return tag.RowsAffected(), nil
}

// =========== Waitlist Repository ===========

type waitlistRepoPG struct{ querier }

func NewWaitlistRepoPG(pool *pgxpool.Pool) WaitlistRepository {
	return &waitlistRepoPG{querier{pool}}
}

const waitlistCols = `id, patient_id, preferred_date, preferred_time, reason, priority, status, created_at, updated_at`

func scanWaitlist(row pgx.Row) (*WaitlistEntry, error) {
	var (
		w    WaitlistEntry
		date time.Time
	)
	err := row.Scan(&w.ID, &w.PatientID, &date, &w.PreferredTime, &w.Reason, &w.Priority,
		&w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	w.PreferredDate = date.Format(dateLayout)
	return &w, nil
}

func (r *waitlistRepoPG) Create(ctx context.Context, w *WaitlistEntry) error {
	w.ID = uuid.New()
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO waitlist (id, patient_id, preferred_date, preferred_time, reason, priority, status, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.PatientID, w.PreferredDate, w.PreferredTime, w.Reason, w.Priority, w.Status, w.CreatedAt, w.UpdatedAt)
	return apperr.FromDB(err)
}

func (r *waitlistRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	return scanWaitlist(r.conn(ctx).QueryRow(ctx, `SELECT `+waitlistCols+` FROM waitlist WHERE id = $1`, id))
}

// List orders urgent entries first, then by age.
func (r *waitlistRepoPG) List(ctx context.Context, patientID *uuid.UUID, status *WaitlistStatus, limit, offset int) ([]*WaitlistEntry, int, error) {
	const where = ` WHERE ($1::uuid IS NULL OR patient_id = $1) AND ($2::text IS NULL OR status = $2)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM waitlist`+where, patientID, status).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+waitlistCols+` FROM waitlist`+where+`
		ORDER BY CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END,
			created_at
		LIMIT $3 OFFSET $4`, patientID, status, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	defer rows.Close()

	var items []*WaitlistEntry
	for rows.Next() {
		w, err := scanWaitlist(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, w)
	}
	return items, total, rows.Err()
}

func (r *waitlistRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to WaitlistStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE waitlist SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, apperr.FromDB(err)
	}
	return tag.RowsAffected() == 1, nil
}

// =========== Review Repository ===========

type reviewRepoPG struct{ querier }

func NewReviewRepoPG(pool *pgxpool.Pool) ReviewRepository {
	return &reviewRepoPG{querier{pool}}
}

const reviewCols = `id, appointment_id, patient_id, dentist_id, rating, review_text, created_at, updated_at`

func scanReview(row pgx.Row) (*Review, error) {
	var rv Review
	err := row.Scan(&rv.ID, &rv.AppointmentID, &rv.PatientID, &rv.DentistID, &rv.Rating,
		&rv.ReviewText, &rv.CreatedAt, &rv.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	return &rv, nil
}

// Upsert keeps one review per appointment and patient. On conflict the
// existing row's id and created_at are returned into rv.
func (r *reviewRepoPG) Upsert(ctx context.Context, rv *Review) error {
	saved, err := scanReview(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reviews (id, appointment_id, patient_id, dentist_id, rating, review_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (appointment_id, patient_id) DO UPDATE
			SET rating = EXCLUDED.rating, review_text = EXCLUDED.review_text, updated_at = NOW()
		RETURNING `+reviewCols,
		uuid.New(), rv.AppointmentID, rv.PatientID, rv.DentistID, rv.Rating, rv.ReviewText))
	if err != nil {
		return err
	}
	*rv = *saved
	return nil
}

func (r *reviewRepoPG) ListByDentist(ctx context.Context, dentistID uuid.UUID, limit, offset int) ([]*Review, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reviews WHERE dentist_id = $1`, dentistID).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reviewCols+` FROM reviews WHERE dentist_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, dentistID, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	defer rows.Close()

	var items []*Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rv)
	}
	return items, total, rows.Err()
}

func (r *reviewRepoPG) AverageForDentist(ctx context.Context, dentistID uuid.UUID) (float64, error) {
	var avg float64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(AVG(rating), 0)::float8 FROM reviews WHERE dentist_id = $1`, dentistID).Scan(&avg)
	if err != nil {
		return 0, apperr.FromDB(err)
	}
	return avg, nil
}
