package records

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/blobstore"
)

// pathAttempts bounds the search for a free object path when two uploads
// for one patient land in the same millisecond.
const pathAttempts = 5

type Service struct {
	images  ImageRepository
	history HistoryRepository
	store   blobstore.ObjectStore
	bucket  string
	urlTTL  time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(images ImageRepository, history HistoryRepository, store blobstore.ObjectStore, bucket string, urlTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		images:  images,
		history: history,
		store:   store,
		bucket:  bucket,
		urlTTL:  urlTTL,
		logger:  logger,
		now:     time.Now,
	}
}

func canRead(authz auth.AuthorizationContext, patientID uuid.UUID) bool {
	return authz.IsSelf(patientID) || authz.CanReadClinicalRecords()
}

func canWrite(authz auth.AuthorizationContext, patientID uuid.UUID) bool {
	return authz.IsSelf(patientID) || authz.CanWriteClinicalRecords()
}

// -- Images --

// UploadImage stores an image object and then its row. The object is removed
// again when the row cannot be written.
func (s *Service) UploadImage(ctx context.Context, authz auth.AuthorizationContext, req *UploadImageRequest) (*GalleryImage, error) {
	if !canWrite(authz, req.PatientID) {
		return nil, apperr.ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(req.Content, blobstore.MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, apperr.Invalid("file", "is empty")
	}
	if len(data) > blobstore.MaxImageSize {
		return nil, apperr.Invalid("file", "must be at most 5 MB")
	}
	contentType, ext, err := blobstore.SniffImage(data)
	if err != nil {
		return nil, apperr.Invalid("file", "must be a JPEG, PNG or WEBP image")
	}

	objectPath, err := s.freePath(ctx, req.PatientID, ext)
	if err != nil {
		return nil, err
	}
	info, err := s.store.Put(ctx, s.bucket, objectPath, bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, blobstore.ErrFileTooLarge) || errors.Is(err, blobstore.ErrInvalidContentType) {
			return nil, apperr.Invalid("file", "%v", err)
		}
		return nil, fmt.Errorf("store image: %w", err)
	}

	img := &MedicalImage{
		PatientID:     req.PatientID,
		AppointmentID: req.AppointmentID,
		FilePath:      objectPath,
		FileName:      req.FileName,
		FileType:      contentType,
		FileSize:      info.Size,
		SHA256:        info.SHA256,
		Description:   req.Description,
		UploadedBy:    authz.AccountID,
	}
	if err := s.images.Create(ctx, img); err != nil {
		if derr := s.store.Delete(ctx, s.bucket, objectPath); derr != nil {
			s.logger.Error().Err(derr).Str("path", objectPath).Msg("failed to remove orphaned image object")
		}
		return nil, fmt.Errorf("insert image: %w", err)
	}

	s.logger.Info().
		Str("image_id", img.ID.String()).
		Str("patient_id", img.PatientID.String()).
		Int64("size", img.FileSize).
		Msg("medical image uploaded")
	return s.withURL(img)
}

func (s *Service) freePath(ctx context.Context, patientID uuid.UUID, ext string) (string, error) {
	ms := s.now().UnixMilli()
	for i := 0; i < pathAttempts; i++ {
		p := fmt.Sprintf("%s/%d.%s", patientID, ms+int64(i), ext)
		rc, _, err := s.store.Open(ctx, s.bucket, p)
		if errors.Is(err, blobstore.ErrObjectNotFound) {
			return p, nil
		}
		if err != nil {
			return "", fmt.Errorf("check object path: %w", err)
		}
		rc.Close()
	}
	return "", fmt.Errorf("%w: too many concurrent uploads", apperr.ErrConflict)
}

func (s *Service) withURL(img *MedicalImage) (*GalleryImage, error) {
	url, exp, err := s.store.SignedURL(s.bucket, img.FilePath, s.urlTTL)
	if err != nil {
		return nil, fmt.Errorf("sign image url: %w", err)
	}
	return &GalleryImage{MedicalImage: img, URL: url, URLExpiresAt: exp}, nil
}

// Gallery lists a patient's images, newest first, each with a signed URL.
func (s *Service) Gallery(ctx context.Context, authz auth.AuthorizationContext, patientID uuid.UUID, limit, offset int) ([]*GalleryImage, int, error) {
	if !canRead(authz, patientID) {
		return nil, 0, apperr.ErrForbidden
	}
	items, total, err := s.images.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*GalleryImage, 0, len(items))
	for _, img := range items {
		g, err := s.withURL(img)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, g)
	}
	return out, total, nil
}

// DeleteImage removes the object and then the row. A missing object does not
// block removing the row.
func (s *Service) DeleteImage(ctx context.Context, authz auth.AuthorizationContext, id uuid.UUID) error {
	img, err := s.images.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !canWrite(authz, img.PatientID) {
		return apperr.ErrForbidden
	}
	if err := s.store.Delete(ctx, s.bucket, img.FilePath); err != nil {
		if !errors.Is(err, blobstore.ErrObjectNotFound) {
			return fmt.Errorf("delete image object: %w", err)
		}
		s.logger.Warn().Str("image_id", id.String()).Str("path", img.FilePath).Msg("image object already missing")
	}
	if err := s.images.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("image_id", id.String()).Str("deleted_by", authz.AccountID.String()).Msg("medical image deleted")
	return nil
}

// -- History --

func (s *Service) GetHistory(ctx context.Context, authz auth.AuthorizationContext, patientID uuid.UUID) (*MedicalHistory, error) {
	if !canRead(authz, patientID) {
		return nil, apperr.ErrForbidden
	}
	return s.history.GetByPatient(ctx, patientID)
}

func (s *Service) SaveHistory(ctx context.Context, authz auth.AuthorizationContext, patientID uuid.UUID, req *HistoryRequest) (*MedicalHistory, error) {
	if !canWrite(authz, patientID) {
		return nil, apperr.ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	editor := authz.AccountID
	h := &MedicalHistory{
		PatientID:             patientID,
		Allergies:             req.Allergies,
		CurrentMedications:    req.CurrentMedications,
		PastDentalProcedures:  req.PastDentalProcedures,
		MedicalConditions:     req.MedicalConditions,
		BloodType:             req.BloodType,
		EmergencyContactName:  req.EmergencyContactName,
		EmergencyContactPhone: req.EmergencyContactPhone,
		InsuranceProvider:     req.InsuranceProvider,
		InsurancePolicyNumber: req.InsurancePolicyNumber,
		UpdatedBy:             &editor,
	}
	if err := s.history.Upsert(ctx, h); err != nil {
		return nil, fmt.Errorf("save medical history: %w", err)
	}
	return h, nil
}
