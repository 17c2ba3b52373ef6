package records

import (
	"context"
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

// =========== Image Repository ===========

type imageRepoPG struct{ querier }

func NewImageRepoPG(pool *pgxpool.Pool) ImageRepository {
	return &imageRepoPG{querier{pool}}
}

const imageCols = `id, patient_id, appointment_id, file_path, file_name, file_type, file_size, sha256,
	description, uploaded_by, created_at`

func scanImage(row pgx.Row) (*MedicalImage, error) {
	var m MedicalImage
	err := row.Scan(&m.ID, &m.PatientID, &m.AppointmentID, &m.FilePath, &m.FileName, &m.FileType,
		&m.FileSize, &m.SHA256, &m.Description, &m.UploadedBy, &m.CreatedAt)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	return &m, nil
}

func (r *imageRepoPG) Create(ctx context.Context, m *MedicalImage) error {
	m.ID = uuid.New()
	m.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medical_images (`+imageCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.PatientID, m.AppointmentID, m.FilePath, m.FileName, m.FileType,
		m.FileSize, m.SHA256, m.Description, m.UploadedBy, m.CreatedAt)
	return apperr.FromDB(err)
}

func (r *imageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalImage, error) {
	return scanImage(r.conn(ctx).QueryRow(ctx, `SELECT `+imageCols+` FROM medical_images WHERE id = $1`, id))
}

func (r *imageRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalImage, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_images WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+imageCols+` FROM medical_images
		WHERE patient_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	defer rows.Close()

	var items []*MedicalImage
	for rows.Next() {
		m, err := scanImage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *imageRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM medical_images WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// =========== History Repository ===========

type historyRepoPG struct{ querier }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{querier{pool}}
}

const historyCols = `id, patient_id, allergies, current_medications, past_dental_procedures, medical_conditions,
	blood_type, emergency_contact_name, emergency_contact_phone, insurance_provider, insurance_policy_number,
	updated_by, created_at, updated_at`

func scanHistory(row pgx.Row) (*MedicalHistory, error) {
	var h MedicalHistory
	err := row.Scan(&h.ID, &h.PatientID, &h.Allergies, &h.CurrentMedications, &h.PastDentalProcedures,
		&h.MedicalConditions, &h.BloodType, &h.EmergencyContactName, &h.EmergencyContactPhone,
		&h.InsuranceProvider, &h.InsurancePolicyNumber, &h.UpdatedBy, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	return &h, nil
}

func (r *historyRepoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*MedicalHistory, error) {
	return scanHistory(r.conn(ctx).QueryRow(ctx,
		`SELECT `+historyCols+` FROM medical_history WHERE patient_id = $1`, patientID))
}

func (r *historyRepoPG) Upsert(ctx context.Context, h *MedicalHistory) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_history (id, patient_id, allergies, current_medications, past_dental_procedures,
			medical_conditions, blood_type, emergency_contact_name, emergency_contact_phone,
			insurance_provider, insurance_policy_number, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (patient_id) DO UPDATE SET
			allergies = EXCLUDED.allergies,
			current_medications = EXCLUDED.current_medications,
			past_dental_procedures = EXCLUDED.past_dental_procedures,
			medical_conditions = EXCLUDED.medical_conditions,
			blood_type = EXCLUDED.blood_type,
			emergency_contact_name = EXCLUDED.emergency_contact_name,
			emergency_contact_phone = EXCLUDED.emergency_contact_phone,
			insurance_provider = EXCLUDED.insurance_provider,
			insurance_policy_number = EXCLUDED.insurance_policy_number,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING `+historyCols,
		uuid.New(), h.PatientID, h.Allergies, h.CurrentMedications, h.PastDentalProcedures,
		h.MedicalConditions, h.BloodType, h.EmergencyContactName, h.EmergencyContactPhone,
		h.InsuranceProvider, h.InsurancePolicyNumber, h.UpdatedBy)
	saved, err := scanHistory(row)
	if err != nil {
		return err
	}
	*h = *saved
	return nil
}
