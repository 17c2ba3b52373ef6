package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
)

type Service struct {
	payments PaymentRepository
	owners   OwnerLookup
	logger   zerolog.Logger
}

func NewService(payments PaymentRepository, owners OwnerLookup, logger zerolog.Logger) *Service {
	return &Service{payments: payments, owners: owners, logger: logger}
}

// RecordPayment stores a completed payment. Patients pay for themselves;
// front-desk staff may record on a patient's behalf. Every referenced
// appointment or treatment must belong to the paying patient.
func (s *Service) RecordPayment(ctx context.Context, authz auth.AuthorizationContext, req *RecordPaymentRequest) (*Payment, error) {
	patientID := authz.AccountID
	if req.PatientID != nil && *req.PatientID != authz.AccountID {
		if !authz.CanViewPayments() {
			return nil, apperr.ErrForbidden
		}
		patientID = *req.PatientID
	}
	if !authz.Has(auth.RolePatient) && !authz.CanViewPayments() {
		return nil, apperr.ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.AppointmentID != nil {
		if err := s.checkOwner(ctx, "appointment_id", patientID, *req.AppointmentID, s.owners.AppointmentPatient); err != nil {
			return nil, err
		}
	}
	if req.TreatmentID != nil {
		if err := s.checkOwner(ctx, "treatment_id", patientID, *req.TreatmentID, s.owners.TreatmentPatient); err != nil {
			return nil, err
		}
	}

	p := &Payment{
		PatientID:     patientID,
		AppointmentID: req.AppointmentID,
		TreatmentID:   req.TreatmentID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		Status:        StatusCompleted,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("patient_id", patientID.String()).
		Str("recorded_by", authz.AccountID.String()).
		Float64("amount", p.Amount).
		Str("currency", p.Currency).
		Msg("payment recorded")
	return p, nil
}

func (s *Service) checkOwner(ctx context.Context, field string, patientID, refID uuid.UUID, lookup func(context.Context, uuid.UUID) (uuid.UUID, error)) error {
	owner, err := lookup(ctx, refID)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Invalid(field, "does not exist")
	}
	if err != nil {
		return fmt.Errorf("look up %s: %w", field, err)
	}
	if owner != patientID {
		return apperr.ErrForbidden
	}
	return nil
}

func (s *Service) GetPayment(ctx context.Context, authz auth.AuthorizationContext, id uuid.UUID) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.IsSelf(p.PatientID) && !authz.CanViewPayments() {
		return nil, apperr.ErrForbidden
	}
	return p, nil
}

// ListPayments returns all payments to front-desk staff and the caller's own
// payments to everyone else.
func (s *Service) ListPayments(ctx context.Context, authz auth.AuthorizationContext, patientID *uuid.UUID, limit, offset int) ([]*Payment, int, error) {
	if !authz.CanViewPayments() {
		self := authz.AccountID
		patientID = &self
	}
	return s.payments.List(ctx, patientID, limit, offset)
}

func (s *Service) Totals(ctx context.Context, authz auth.AuthorizationContext, patientID *uuid.UUID) ([]Summary, error) {
	if !authz.CanViewPayments() {
		self := authz.AccountID
		patientID = &self
	}
	return s.payments.Totals(ctx, patientID)
}
