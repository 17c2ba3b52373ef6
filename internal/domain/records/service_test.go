package records

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/blobstore"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	jpegBytes = append([]byte("\xff\xd8\xff\xe0"), bytes.Repeat([]byte{1}, 64)...)
)

const testBucket = "medical-images"

// -- Mock Repositories --

type mockImageRepo struct {
	items     map[uuid.UUID]*MedicalImage
	createErr error
}

func newMockImageRepo() *mockImageRepo {
	return &mockImageRepo{items: make(map[uuid.UUID]*MedicalImage)}
}

func (m *mockImageRepo) Create(_ context.Context, img *MedicalImage) error {
	if m.createErr != nil {
		return m.createErr
	}
	img.ID = uuid.New()
	img.CreatedAt = time.Now()
	m.items[img.ID] = img
	return nil
}

func (m *mockImageRepo) GetByID(_ context.Context, id uuid.UUID) (*MedicalImage, error) {
	img, ok := m.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return img, nil
}

func (m *mockImageRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalImage, int, error) {
	var out []*MedicalImage
	for _, img := range m.items {
		if img.PatientID == patientID {
			out = append(out, img)
		}
	}
	return out, len(out), nil
}

func (m *mockImageRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

type mockHistoryRepo struct {
	rows    map[uuid.UUID]*MedicalHistory
	upserts int
}

func (m *mockHistoryRepo) GetByPatient(_ context.Context, patientID uuid.UUID) (*MedicalHistory, error) {
	h, ok := m.rows[patientID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return h, nil
}

func (m *mockHistoryRepo) Upsert(_ context.Context, h *MedicalHistory) error {
	m.upserts++
	if existing, ok := m.rows[h.PatientID]; ok {
		h.ID = existing.ID
		h.CreatedAt = existing.CreatedAt
	} else {
		h.ID = uuid.New()
		h.CreatedAt = time.Now()
	}
	h.UpdatedAt = time.Now()
	m.rows[h.PatientID] = h
	return nil
}

type testEnv struct {
	svc     *Service
	images  *mockImageRepo
	history *mockHistoryRepo
	store   *blobstore.FSStore
}

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestEnv() *testEnv {
	signer := blobstore.NewURLSigner(bytes.Repeat([]byte("k"), 32), "http://files.test")
	env := &testEnv{
		images:  newMockImageRepo(),
		history: &mockHistoryRepo{rows: make(map[uuid.UUID]*MedicalHistory)},
		store:   blobstore.NewMemoryStore(signer),
	}
	env.svc = NewService(env.images, env.history, env.store, testBucket, time.Hour, zerolog.Nop())
	env.svc.now = func() time.Time { return testNow }
	return env
}

func as(roles ...auth.Role) auth.AuthorizationContext {
	return auth.NewAuthorizationContext(uuid.New(), roles)
}

func strPtr(s string) *string { return &s }

func (env *testEnv) objectExists(t *testing.T, objectPath string) bool {
	t.Helper()
	rc, _, err := env.store.Open(context.Background(), testBucket, objectPath)
	if errors.Is(err, blobstore.ErrObjectNotFound) {
		return false
	}
	if err != nil {
		t.Fatalf("open %s: %v", objectPath, err)
	}
	rc.Close()
	return true
}

// -- Upload Tests --

func TestUploadImage(t *testing.T) {
	env := newTestEnv()
	patient := as(auth.RolePatient)

	img, err := env.svc.UploadImage(context.Background(), patient, &UploadImageRequest{
		PatientID:   patient.AccountID,
		FileName:    "xray.png",
		Description: strPtr("  Upper molars "),
		Content:     bytes.NewReader(pngBytes),
	})
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}

	wantPath := patient.AccountID.String() + "/" + "1740819600000.png"
	if img.FilePath != wantPath {
		t.Errorf("expected path %s, got %s", wantPath, img.FilePath)
	}
	if img.FileType != "image/png" || img.FileSize != int64(len(pngBytes)) || len(img.SHA256) != 64 {
		t.Errorf("unexpected metadata %+v", img.MedicalImage)
	}
	if img.Description == nil || *img.Description != "Upper molars" {
		t.Errorf("description not trimmed: %v", img.Description)
	}
	if img.UploadedBy != patient.AccountID {
		t.Errorf("uploader not recorded")
	}
	if !strings.HasPrefix(img.URL, "http://files.test/storage/medical-images/"+patient.AccountID.String()+"/") {
		t.Errorf("unexpected url %s", img.URL)
	}
	if !img.URLExpiresAt.After(time.Now()) {
		t.Errorf("url should expire in the future")
	}
	if !env.objectExists(t, wantPath) {
		t.Errorf("object not stored")
	}
}

func TestUploadImage_ExtensionFromContent(t *testing.T) {
	env := newTestEnv()
	dentist := as(auth.RoleDentist)
	patientID := uuid.New()

	img, err := env.svc.UploadImage(context.Background(), dentist, &UploadImageRequest{
		PatientID: patientID,
		FileName:  "scan.png",
		Content:   bytes.NewReader(jpegBytes),
	})
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if !strings.HasSuffix(img.FilePath, ".jpg") || img.FileType != "image/jpeg" {
		t.Errorf("expected jpeg by content, got %s %s", img.FilePath, img.FileType)
	}
}

func TestUploadImage_SameMillisecond(t *testing.T) {
	env := newTestEnv()
	patient := as(auth.RolePatient)

	var paths []string
	for i := 0; i < 2; i++ {
		img, err := env.svc.UploadImage(context.Background(), patient, &UploadImageRequest{
			PatientID: patient.AccountID, Content: bytes.NewReader(pngBytes),
		})
		if err != nil {
			t.Fatalf("upload %d: %v", i, err)
		}
		paths = append(paths, img.FilePath)
	}
	if paths[0] == paths[1] {
		t.Fatalf("uploads must not share a path: %v", paths)
	}
}

func TestUploadImage_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"text file", []byte("just some notes about my teeth")},
		{"pdf", append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte{0}, 16)...)},
		{"too large", append(append([]byte{}, pngBytes...), bytes.Repeat([]byte{0}, blobstore.MaxImageSize)...)},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			patient := as(auth.RolePatient)
			_, err := env.svc.UploadImage(context.Background(), patient, &UploadImageRequest{
				PatientID: patient.AccountID, Content: bytes.NewReader(tt.content),
			})
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) || ve.Field != "file" {
				t.Fatalf("expected file validation error, got %v", err)
			}
			if len(env.images.items) != 0 {
				t.Errorf("no row expected")
			}
		})
	}
}

func TestUploadImage_Forbidden(t *testing.T) {
	env := newTestEnv()
	for _, role := range []auth.Role{auth.RolePatient, auth.RoleNurse, auth.RoleReceptionist} {
		_, err := env.svc.UploadImage(context.Background(), as(role), &UploadImageRequest{
			PatientID: uuid.New(), Content: bytes.NewReader(pngBytes),
		})
		if !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("%s: expected ErrForbidden, got %v", role, err)
		}
	}
}

func TestUploadImage_RowFailureRemovesObject(t *testing.T) {
	env := newTestEnv()
	env.images.createErr = errors.New("insert failed")
	patient := as(auth.RolePatient)

	_, err := env.svc.UploadImage(context.Background(), patient, &UploadImageRequest{
		PatientID: patient.AccountID, Content: bytes.NewReader(pngBytes),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if env.objectExists(t, patient.AccountID.String()+"/1740819600000.png") {
		t.Errorf("object must be removed when the row cannot be written")
	}
}

// -- Gallery / Delete Tests --

func TestGallery(t *testing.T) {
	env := newTestEnv()
	patient := as(auth.RolePatient)
	if _, err := env.svc.UploadImage(context.Background(), patient, &UploadImageRequest{
		PatientID: patient.AccountID, Content: bytes.NewReader(pngBytes),
	}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	for _, who := range []auth.AuthorizationContext{patient, as(auth.RoleNurse), as(auth.RoleAdmin)} {
		items, total, err := env.svc.Gallery(context.Background(), who, patient.AccountID, 20, 0)
		if err != nil {
			t.Fatalf("Gallery: %v", err)
		}
		if total != 1 || items[0].URL == "" {
			t.Errorf("expected one signed image, got %d", total)
		}
	}

	if _, _, err := env.svc.Gallery(context.Background(), as(auth.RoleReceptionist), patient.AccountID, 20, 0); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected ErrForbidden for receptionist, got %v", err)
	}
	if _, _, err := env.svc.Gallery(context.Background(), as(auth.RolePatient), patient.AccountID, 20, 0); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected ErrForbidden for another patient, got %v", err)
	}
}

func TestDeleteImage(t *testing.T) {
	env := newTestEnv()
	patient := as(auth.RolePatient)
	img, err := env.svc.UploadImage(context.Background(), patient, &UploadImageRequest{
		PatientID: patient.AccountID, Content: bytes.NewReader(pngBytes),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := env.svc.DeleteImage(context.Background(), as(auth.RoleNurse), img.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("nurse cannot delete images, got %v", err)
	}
	if err := env.svc.DeleteImage(context.Background(), patient, img.ID); err != nil {
		t.Fatalf("DeleteImage: %v", err)
	}
	if env.objectExists(t, img.FilePath) {
		t.Errorf("object should be gone")
	}
	if _, ok := env.images.items[img.ID]; ok {
		t.Errorf("row should be gone")
	}
	if err := env.svc.DeleteImage(context.Background(), patient, img.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteImage_MissingObject(t *testing.T) {
	env := newTestEnv()
	patientID := uuid.New()
	img := &MedicalImage{PatientID: patientID, FilePath: patientID.String() + "/1.png", FileType: "image/png"}
	_ = env.images.Create(context.Background(), img)

	if err := env.svc.DeleteImage(context.Background(), as(auth.RoleDentist), img.ID); err != nil {
		t.Fatalf("row should be removed even when the object is missing: %v", err)
	}
	if len(env.images.items) != 0 {
		t.Errorf("row not removed")
	}
}

// -- History Tests --

func TestSaveHistory_Upsert(t *testing.T) {
	env := newTestEnv()
	patient := as(auth.RolePatient)

	first, err := env.svc.SaveHistory(context.Background(), patient, patient.AccountID, &HistoryRequest{
		Allergies: strPtr("Penicillin"), BloodType: strPtr("ab+"),
	})
	if err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}
	if first.BloodType == nil || *first.BloodType != "AB+" {
		t.Errorf("blood type not normalised: %v", first.BloodType)
	}

	dentist := as(auth.RoleDentist)
	second, err := env.svc.SaveHistory(context.Background(), dentist, patient.AccountID, &HistoryRequest{
		Allergies: strPtr("Penicillin, latex"),
	})
	if err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("history must stay a single row per patient")
	}
	if second.UpdatedBy == nil || *second.UpdatedBy != dentist.AccountID {
		t.Errorf("editor not recorded")
	}
	if len(env.history.rows) != 1 {
		t.Errorf("expected one row, got %d", len(env.history.rows))
	}

	got, err := env.svc.GetHistory(context.Background(), as(auth.RoleNurse), patient.AccountID)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if *got.Allergies != "Penicillin, latex" || got.BloodType != nil {
		t.Errorf("history should be replaced as a whole, got %+v", got)
	}
}

func TestHistory_Access(t *testing.T) {
	env := newTestEnv()
	patientID := uuid.New()

	if _, err := env.svc.SaveHistory(context.Background(), as(auth.RoleNurse), patientID, &HistoryRequest{}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("nurse cannot write history, got %v", err)
	}
	if _, err := env.svc.SaveHistory(context.Background(), as(auth.RolePatient), patientID, &HistoryRequest{}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("another patient cannot write history, got %v", err)
	}
	if _, err := env.svc.GetHistory(context.Background(), as(auth.RoleManager), patientID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("manager cannot read history, got %v", err)
	}
	if _, err := env.svc.GetHistory(context.Background(), as(auth.RoleDentist), patientID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound before first save, got %v", err)
	}
}

func TestHistoryRequest_Validate(t *testing.T) {
	tests := []struct {
		name  string
		req   HistoryRequest
		field string
	}{
		{"bad blood type", HistoryRequest{BloodType: strPtr("Z")}, "blood_type"},
		{"long phone", HistoryRequest{EmergencyContactPhone: strPtr(strings.Repeat("1", 21))}, "emergency_contact_phone"},
		{"long provider", HistoryRequest{InsuranceProvider: strPtr(strings.Repeat("p", 101))}, "insurance_provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			var ve *apperr.ValidationError
			if err := req.Validate(); !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("expected validation error on %s, got %v", tt.field, err)
			}
		})
	}

	blank := HistoryRequest{Allergies: strPtr("   ")}
	if err := blank.Validate(); err != nil || blank.Allergies != nil {
		t.Errorf("blank values should be cleared, got %v %v", err, blank.Allergies)
	}
}
