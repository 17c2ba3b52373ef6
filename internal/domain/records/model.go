package records

import (
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
)

// -- Medical images --

type MedicalImage struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	FilePath      string     `json:"file_path"`
	FileName      string     `json:"file_name"`
	FileType      string     `json:"file_type"`
	FileSize      int64      `json:"file_size"`
	SHA256        string     `json:"sha256"`
	Description   *string    `json:"description,omitempty"`
	UploadedBy    uuid.UUID  `json:"uploaded_by"`
	CreatedAt     time.Time  `json:"created_at"`
}

// GalleryImage is an image together with a time-limited download URL.
type GalleryImage struct {
	*MedicalImage
	URL          string    `json:"url"`
	URLExpiresAt time.Time `json:"url_expires_at"`
}

type UploadImageRequest struct {
	PatientID     uuid.UUID
	AppointmentID *uuid.UUID
	FileName      string
	Description   *string
	Content       io.Reader
}

func (r *UploadImageRequest) Validate() error {
	if r.PatientID == uuid.Nil {
		return apperr.Invalid("patient_id", "is required")
	}
	if r.Content == nil {
		return apperr.Invalid("file", "is required")
	}
	r.FileName = strings.TrimSpace(r.FileName)
	if r.FileName == "" {
		r.FileName = "image"
	}
	if len([]rune(r.FileName)) > 255 {
		return apperr.Invalid("file_name", "must be at most 255 characters")
	}
	var err error
	r.Description, err = optionalText("description", r.Description, 500)
	return err
}

// -- Medical history --

type MedicalHistory struct {
	ID                    uuid.UUID  `json:"id"`
	PatientID             uuid.UUID  `json:"patient_id"`
	Allergies             *string    `json:"allergies"`
	CurrentMedications    *string    `json:"current_medications"`
	PastDentalProcedures  *string    `json:"past_dental_procedures"`
	MedicalConditions     *string    `json:"medical_conditions"`
	BloodType             *string    `json:"blood_type"`
	EmergencyContactName  *string    `json:"emergency_contact_name"`
	EmergencyContactPhone *string    `json:"emergency_contact_phone"`
	InsuranceProvider     *string    `json:"insurance_provider"`
	InsurancePolicyNumber *string    `json:"insurance_policy_number"`
	UpdatedBy             *uuid.UUID `json:"updated_by,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// HistoryRequest replaces the whole history document. Omitted fields are
// cleared.
type HistoryRequest struct {
	Allergies             *string `json:"allergies"`
	CurrentMedications    *string `json:"current_medications"`
	PastDentalProcedures  *string `json:"past_dental_procedures"`
	MedicalConditions     *string `json:"medical_conditions"`
	BloodType             *string `json:"blood_type"`
	EmergencyContactName  *string `json:"emergency_contact_name"`
	EmergencyContactPhone *string `json:"emergency_contact_phone"`
	InsuranceProvider     *string `json:"insurance_provider"`
	InsurancePolicyNumber *string `json:"insurance_policy_number"`
}

var bloodTypes = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}

func (r *HistoryRequest) Validate() error {
	fields := []struct {
		name string
		val  **string
		max  int
	}{
		{"allergies", &r.Allergies, 2000},
		{"current_medications", &r.CurrentMedications, 2000},
		{"past_dental_procedures", &r.PastDentalProcedures, 2000},
		{"medical_conditions", &r.MedicalConditions, 2000},
		{"blood_type", &r.BloodType, 5},
		{"emergency_contact_name", &r.EmergencyContactName, 100},
		{"emergency_contact_phone", &r.EmergencyContactPhone, 20},
		{"insurance_provider", &r.InsuranceProvider, 100},
		{"insurance_policy_number", &r.InsurancePolicyNumber, 100},
	}
	for _, f := range fields {
		v, err := optionalText(f.name, *f.val, f.max)
		if err != nil {
			return err
		}
		*f.val = v
	}
	if r.BloodType != nil {
		bt := strings.ToUpper(*r.BloodType)
		if !bloodTypes[bt] {
			return apperr.Invalid("blood_type", "must be one of A+, A-, B+, B-, AB+, AB-, O+, O-")
		}
		r.BloodType = &bt
	}
	return nil
}

func optionalText(field string, s *string, max int) (*string, error) {
	if s == nil {
		return nil, nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil, nil
	}
	if len([]rune(t)) > max {
		return nil, apperr.Invalid(field, "must be at most %d characters", max)
	}
	return &t, nil
}
