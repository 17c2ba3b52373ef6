package clinical

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/llm"
	"github.com/dentalcare/dentalcare/internal/platform/notification"
)

const systemPrompt = "You are an experienced dental AI assistant. Analyze patient symptoms and provide " +
	"preliminary treatment recommendations. Always include a disclaimer that this is not a substitute for " +
	"professional dental examination. Format your response with: 1) Assessment 2) Recommended Treatment " +
	"3) Urgency Level (Low/Medium/High) 4) Next Steps."

// Completer answers a chat conversation. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Notifier sends templated notifications to patients.
type Notifier interface {
	NotifyFromTemplate(ctx context.Context, accountID uuid.UUID, templateID string, data map[string]string) (*notification.Notification, error)
}

type Service struct {
	treatments    TreatmentRepository
	prescriptions PrescriptionRepository
	completer     Completer
	notifier      Notifier
	logger        zerolog.Logger
}

// NewService wires the clinical stores. notifier may be nil.
func NewService(treatments TreatmentRepository, prescriptions PrescriptionRepository, completer Completer, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		treatments:    treatments,
		prescriptions: prescriptions,
		completer:     completer,
		notifier:      notifier,
		logger:        logger,
	}
}

// scope returns the patient filter for a listing: nil for clinical staff,
// otherwise the caller.
func scope(authz auth.AuthorizationContext, requested *uuid.UUID) *uuid.UUID {
	if authz.CanReadClinicalRecords() {
		return requested
	}
	self := authz.AccountID
	return &self
}

func (s *Service) notify(ctx context.Context, patientID uuid.UUID, templateID string, data map[string]string) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.NotifyFromTemplate(ctx, patientID, templateID, data); err != nil {
		s.logger.Warn().Err(err).Str("template", templateID).Str("account_id", patientID.String()).
			Msg("clinical notification failed")
	}
}

// -- Treatment plans --

func (s *Service) CreateTreatment(ctx context.Context, authz auth.AuthorizationContext, req *CreateTreatmentRequest) (*Treatment, error) {
	if !authz.CanPrescribe() {
		return nil, apperr.ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	dentist := authz.AccountID
	t := &Treatment{
		PatientID:        req.PatientID,
		AppointmentID:    req.AppointmentID,
		DentistID:        &dentist,
		Symptoms:         req.Symptoms,
		AIRecommendation: req.AIRecommendation,
		EstimatedCost:    req.EstimatedCost,
		Currency:         req.Currency,
		Status:           TreatmentRecommended,
	}
	if err := s.treatments.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create treatment: %w", err)
	}
	return t, nil
}

func (s *Service) GetTreatment(ctx context.Context, authz auth.AuthorizationContext, id uuid.UUID) (*Treatment, error) {
	t, err := s.treatments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.IsSelf(t.PatientID) && !authz.CanReadClinicalRecords() {
		return nil, apperr.ErrForbidden
	}
	return t, nil
}

func (s *Service) ListTreatments(ctx context.Context, authz auth.AuthorizationContext, patientID *uuid.UUID, limit, offset int) ([]*Treatment, int, error) {
	return s.treatments.List(ctx, scope(authz, patientID), limit, offset)
}

// ReviewTreatment records the dentist's decision on a recommended plan.
// An approved plan keeps the recommendation as is; otherwise the dentist's
// notes become the final treatment.
func (s *Service) ReviewTreatment(ctx context.Context, authz auth.AuthorizationContext, id uuid.UUID, req *ReviewTreatmentRequest) (*Treatment, error) {
	if !authz.CanReviewTreatments() {
		return nil, apperr.ErrForbidden
	}
	outcome := TreatmentStatus(strings.TrimSpace(req.Status))
	if !reviewOutcomes[outcome] {
		return nil, apperr.Invalid("status", "must be one of approved, modified, rejected")
	}
	notes, err := optionalText("dentist_notes", req.DentistNotes, 2000)
	if err != nil {
		return nil, err
	}

	t, err := s.treatments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != TreatmentRecommended {
		return nil, fmt.Errorf("%w: treatment already %s", apperr.ErrInvalidTransition, t.Status)
	}

	reviewer := authz.AccountID
	t.Status = outcome
	t.DentistNotes = notes
	t.DentistID = &reviewer
	t.FinalTreatment = nil
	if outcome != TreatmentApproved {
		t.FinalTreatment = notes
	}
	ok, err := s.treatments.Review(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("review treatment: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: treatment reviewed concurrently", apperr.ErrConflict)
	}

	s.logger.Info().
		Str("treatment_id", t.ID.String()).
		Str("reviewer_id", reviewer.String()).
		Str("status", string(outcome)).
		Msg("treatment reviewed")
	s.notify(ctx, t.PatientID, notification.TemplateTreatmentReviewed, map[string]string{"status": string(outcome)})
	return t, nil
}

// -- Prescriptions --

func (s *Service) IssuePrescription(ctx context.Context, authz auth.AuthorizationContext, req *IssuePrescriptionRequest) (*Prescription, error) {
	if !authz.CanPrescribe() {
		return nil, apperr.ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p := &Prescription{
		PatientID:      req.PatientID,
		DentistID:      authz.AccountID,
		AppointmentID:  req.AppointmentID,
		MedicationName: req.MedicationName,
		Dosage:         req.Dosage,
		Frequency:      req.Frequency,
		Duration:       req.Duration,
		Instructions:   req.Instructions,
		Status:         PrescriptionActive,
	}
	if err := s.prescriptions.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create prescription: %w", err)
	}
	s.notify(ctx, p.PatientID, notification.TemplatePrescriptionIssued, map[string]string{
		"medication": p.MedicationName,
		"dosage":     p.Dosage,
		"frequency":  p.Frequency,
	})
	return p, nil
}

func (s *Service) GetPrescription(ctx context.Context, authz auth.AuthorizationContext, id uuid.UUID) (*Prescription, error) {
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.IsSelf(p.PatientID) && !authz.CanReadClinicalRecords() {
		return nil, apperr.ErrForbidden
	}
	return p, nil
}

func (s *Service) ListPrescriptions(ctx context.Context, authz auth.AuthorizationContext, patientID *uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.prescriptions.List(ctx, scope(authz, patientID), limit, offset)
}

func (s *Service) TransitionPrescription(ctx context.Context, authz auth.AuthorizationContext, id uuid.UUID, to PrescriptionStatus) (*Prescription, error) {
	if !authz.CanPrescribe() {
		return nil, apperr.ErrForbidden
	}
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, p.Status, to)
	}
	ok, err := s.prescriptions.UpdateStatus(ctx, id, p.Status, to)
	if err != nil {
		return nil, fmt.Errorf("update prescription status: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: prescription changed concurrently", apperr.ErrConflict)
	}
	p.Status = to
	return p, nil
}

// -- Recommendation --

// Recommend asks the assistant for a preliminary assessment of symptoms.
// Input is validated before any upstream call.
func (s *Service) Recommend(ctx context.Context, authz auth.AuthorizationContext, symptoms string) (*Recommendation, error) {
	symptoms = strings.TrimSpace(symptoms)
	n := len([]rune(symptoms))
	if n < minSymptomsLen || n > maxSymptomsLen {
		return nil, apperr.Invalid("symptoms", "must be between %d and %d characters", minSymptomsLen, maxSymptomsLen)
	}

	text, err := s.completer.Complete(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Patient symptoms: " + symptoms},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", authz.AccountID.String()).Msg("recommendation request failed")
		return nil, fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
	}

	confidence := 0.75
	if n > 50 {
		confidence = 0.85
	}
	return &Recommendation{Recommendation: text, Confidence: confidence}, nil
}
