package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/db"
)

type paymentRepoPG struct {
	pool *pgxpool.Pool
}

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

func (r *paymentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const paymentCols = `id, patient_id, appointment_id, treatment_id, amount::float8, currency, payment_method, status, created_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.PatientID, &p.AppointmentID, &p.TreatmentID, &p.Amount,
		&p.Currency, &p.PaymentMethod, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	return &p, nil
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payments (id, patient_id, appointment_id, treatment_id, amount, currency, payment_method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.PatientID, p.AppointmentID, p.TreatmentID, p.Amount, p.Currency, p.PaymentMethod, p.Status, p.CreatedAt)
	return apperr.FromDB(err)
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE id = $1`, id))
}

func (r *paymentRepoPG) List(ctx context.Context, patientID *uuid.UUID, limit, offset int) ([]*Payment, int, error) {
	const where = ` WHERE ($1::uuid IS NULL OR patient_id = $1)`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payments`+where, patientID).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+paymentCols+` FROM payments`+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	defer rows.Close()

	var items []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *paymentRepoPG) Totals(ctx context.Context, patientID *uuid.UUID) ([]Summary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT currency, COALESCE(SUM(amount), 0)::float8, COUNT(*)
		FROM payments
		WHERE status = 'completed' AND ($1::uuid IS NULL OR patient_id = $1)
		GROUP BY currency ORDER BY currency`, patientID)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Currency, &s.Total, &s.Count); err != nil {
			return nil, apperr.FromDB(err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type ownerLookupPG struct {
	pool *pgxpool.Pool
}

func NewOwnerLookupPG(pool *pgxpool.Pool) OwnerLookup {
	return &ownerLookupPG{pool: pool}
}

func (l *ownerLookupPG) AppointmentPatient(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var patientID uuid.UUID
	err := l.pool.QueryRow(ctx, `SELECT patient_id FROM appointments WHERE id = $1`, id).Scan(&patientID)
	return patientID, apperr.FromDB(err)
}

func (l *ownerLookupPG) TreatmentPatient(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var patientID uuid.UUID
	err := l.pool.QueryRow(ctx, `SELECT patient_id FROM treatments WHERE id = $1`, id).Scan(&patientID)
	return patientID, apperr.FromDB(err)
}
