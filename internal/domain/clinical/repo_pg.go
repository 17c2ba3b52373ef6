package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/db"
)

// =========== Treatment Repository ===========

type treatmentRepoPG struct{ pool *pgxpool.Pool }

func NewTreatmentRepoPG(pool *pgxpool.Pool) TreatmentRepository {
	return &treatmentRepoPG{pool: pool}
}

func (r *treatmentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const treatmentCols = `id, patient_id, appointment_id, dentist_id, symptoms, ai_recommendation, dentist_notes,
	final_treatment, estimated_cost::float8, currency, status, created_at, updated_at`

func scanTreatment(row pgx.Row) (*Treatment, error) {
	var t Treatment
	err := row.Scan(&t.ID, &t.PatientID, &t.AppointmentID, &t.DentistID, &t.Symptoms, &t.AIRecommendation,
		&t.DentistNotes, &t.FinalTreatment, &t.EstimatedCost, &t.Currency, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	return &t, nil
}

func (r *treatmentRepoPG) Create(ctx context.Context, t *Treatment) error {
	t.ID = uuid.New()
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO treatments (id, patient_id, appointment_id, dentist_id, symptoms, ai_recommendation,
			estimated_cost, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.PatientID, t.AppointmentID, t.DentistID, t.Symptoms, t.AIRecommendation,
		t.EstimatedCost, t.Currency, t.Status, t.CreatedAt, t.UpdatedAt)
	return apperr.FromDB(err)
}

func (r *treatmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	return scanTreatment(r.conn(ctx).QueryRow(ctx, `SELECT `+treatmentCols+` FROM treatments WHERE id = $1`, id))
}

func (r *treatmentRepoPG) List(ctx context.Context, patientID *uuid.UUID, limit, offset int) ([]*Treatment, int, error) {
	const where = ` WHERE ($1::uuid IS NULL OR patient_id = $1)`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM treatments`+where, patientID).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+treatmentCols+` FROM treatments`+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	defer rows.Close()

	var items []*Treatment
	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *treatmentRepoPG) Review(ctx context.Context, t *Treatment) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE treatments
		SET status = $2, dentist_notes = $3, final_treatment = $4, dentist_id = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'recommended'`,
		t.ID, t.Status, t.DentistNotes, t.FinalTreatment, t.DentistID)
	if err != nil {
		return false, apperr.FromDB(err)
	}
	return tag.RowsAffected() == 1, nil
}

// =========== Prescription Repository ===========

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const prescriptionCols = `id, patient_id, dentist_id, appointment_id, medication_name, dosage, frequency,
	duration, instructions, status, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.DentistID, &p.AppointmentID, &p.MedicationName, &p.Dosage,
		&p.Frequency, &p.Duration, &p.Instructions, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	return &p, nil
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescriptions (id, patient_id, dentist_id, appointment_id, medication_name, dosage,
			frequency, duration, instructions, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.PatientID, p.DentistID, p.AppointmentID, p.MedicationName, p.Dosage,
		p.Frequency, p.Duration, p.Instructions, p.Status, p.CreatedAt, p.UpdatedAt)
	return apperr.FromDB(err)
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+prescriptionCols+` FROM prescriptions WHERE id = $1`, id))
}

func (r *prescriptionRepoPG) List(ctx context.Context, patientID *uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	const where = ` WHERE ($1::uuid IS NULL OR patient_id = $1)`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM prescriptions`+where, patientID).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+prescriptionCols+` FROM prescriptions`+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	defer rows.Close()

	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *prescriptionRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to PrescriptionStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescriptions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, apperr.FromDB(err)
	}
	return tag.RowsAffected() == 1, nil
}
