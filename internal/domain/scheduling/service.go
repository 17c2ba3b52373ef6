package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/domain/reminder"
	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/db"
	"github.com/dentalcare/dentalcare/internal/platform/notification"
)

// ReminderPlanner keeps an appointment's reminders in step with its status
// and schedule.
type ReminderPlanner interface {
	Plan(ctx context.Context, t reminder.Target) (int, error)
	ClearPending(ctx context.Context, appointmentID uuid.UUID) (int64, error)
	Replan(ctx context.Context, t reminder.Target) (int, error)
}

// Notifier sends templated notifications to patients.
type Notifier interface {
	NotifyFromTemplate(ctx context.Context, accountID uuid.UUID, templateID string, data map[string]string) (*notification.Notification, error)
}

type Service struct {
	appointments AppointmentRepository
	waitlist     WaitlistRepository
	reviews      ReviewRepository
	planner      ReminderPlanner
	notifier     Notifier
	tx           db.Transactor
	loc          *time.Location
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService interprets appointment dates in loc, the clinic's timezone.
// notifier may be nil.
func NewService(appts AppointmentRepository, wl WaitlistRepository, reviews ReviewRepository,
	planner ReminderPlanner, notifier Notifier, tx db.Transactor, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		appointments: appts,
		waitlist:     wl,
		reviews:      reviews,
		planner:      planner,
		notifier:     notifier,
		tx:           tx,
		loc:          loc,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *Service) today() string {
	return s.now().In(s.loc).Format(dateLayout)
}

// -- Appointments --

func (s *Service) CreateAppointment(ctx context.Context, authz auth.AuthorizationContext, req *CreateAppointmentRequest) (*Appointment, error) {
	patientID := authz.AccountID
	if req.PatientID != nil && *req.PatientID != authz.AccountID {
		if !authz.CanManageAppointments() {
			return nil, apperr.ErrForbidden
		}
		patientID = *req.PatientID
	}
	if err := req.Validate(s.today()); err != nil {
		return nil, err
	}

	a := &Appointment{
		PatientID: patientID,
		DentistID: req.DentistID,
		Date:      req.Date,
		Time:      req.Time,
		Status:    StatusPending,
		Reason:    req.Reason,
		Notes:     req.Notes,
	}
	if err := s.appointments.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return a, nil
}

// GetAppointment returns an appointment the caller may see: their own, one
// assigned to them, or any when they manage appointments.
func (s *Service) GetAppointment(ctx context.Context, authz auth.AuthorizationContext, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(authz, a) {
		return nil, apperr.ErrForbidden
	}
	return a, nil
}

func canView(authz auth.AuthorizationContext, a *Appointment) bool {
	if authz.CanManageAppointments() || authz.IsSelf(a.PatientID) {
		return true
	}
	return a.DentistID != nil && authz.IsSelf(*a.DentistID)
}

// ListAppointments sweeps overdue appointments before reading so callers
// never see a past appointment still pending. Callers without appointment
// management only see their own.
func (s *Service) ListAppointments(ctx context.Context, authz auth.AuthorizationContext, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	if _, err := s.ReconcileOverdueAppointments(ctx, s.now()); err != nil {
		s.logger.Warn().Err(err).Msg("overdue sweep before listing failed")
	}
	if !authz.CanManageAppointments() {
		self := authz.AccountID
		f.PatientID = &self
	}
	if f.From != "" {
		if err := validateDate("from", f.From); err != nil {
			return nil, 0, err
		}
	}
	if f.To != "" {
		if err := validateDate("to", f.To); err != nil {
			return nil, 0, err
		}
	}
	return s.appointments.List(ctx, f, limit, offset)
}

// TransitionStatus moves an appointment along the status machine. The
// update only applies if the appointment is still in the state it was read
// in; a concurrent change yields ErrConflict.
func (s *Service) TransitionStatus(ctx context.Context, authz auth.AuthorizationContext, id uuid.UUID, to Status) (*Appointment, error) {
	if !authz.CanManageAppointments() {
		return nil, apperr.ErrForbidden
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := a.Status
	if from == StatusPending && to == StatusCompleted {
		return nil, fmt.Errorf("%w: pending appointments are completed automatically once their date has passed",
			apperr.ErrInvalidTransition)
	}
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, from, to)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.appointments.UpdateStatus(ctx, id, from, to)
		if err != nil {
			return fmt.Errorf("update appointment status: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: appointment status changed concurrently", apperr.ErrConflict)
		}
		switch to {
		case StatusConfirmed:
			_, err = s.planner.Plan(ctx, target(a))
		case StatusCancelled, StatusCompleted:
			_, err = s.planner.ClearPending(ctx, id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	a.Status = to
	a.UpdatedAt = s.now().UTC()

	s.logger.Info().
		Str("actor_id", authz.AccountID.String()).
		Str("appointment_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("appointment status changed")

	switch to {
	case StatusConfirmed:
		s.notify(ctx, a, notification.TemplateAppointmentConfirmed)
	case StatusCancelled:
		s.notify(ctx, a, notification.TemplateAppointmentCancelled)
	}
	return a, nil
}

// Reschedule moves an appointment to a new date and time. Confirmed
// appointments lose all their reminders, sent ones included, and get a
// fresh set for the new slot.
func (s *Service) Reschedule(ctx context.Context, authz auth.AuthorizationContext, id uuid.UUID, req *RescheduleRequest) (*Appointment, error) {
	if !authz.CanManageAppointments() {
		return nil, apperr.ErrForbidden
	}
	if err := validateDate("appointment_date", req.Date); err != nil {
		return nil, err
	}
	if req.Date < s.today() {
		return nil, apperr.Invalid("appointment_date", "must not be in the past")
	}
	if err := validateClock("appointment_time", req.Time); err != nil {
		return nil, err
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s appointments cannot be rescheduled", apperr.ErrInvalidTransition, a.Status)
	}

	a.Date, a.Time = req.Date, req.Time
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.appointments.Reschedule(ctx, id, a.Status, a.Date, a.Time)
		if err != nil {
			return fmt.Errorf("reschedule appointment: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: appointment status changed concurrently", apperr.ErrConflict)
		}
		if a.Status != StatusConfirmed {
			return nil
		}
		_, err = s.planner.Replan(ctx, target(a))
		return err
	})
	if err != nil {
		return nil, err
	}
	a.UpdatedAt = s.now().UTC()
	return a, nil
}

// ReconcileOverdueAppointments completes every pending appointment dated
// before asOf's calendar day in the clinic timezone. Running it twice is
// harmless.
func (s *Service) ReconcileOverdueAppointments(ctx context.Context, asOf time.Time) (int64, error) {
	n, err := s.appointments.CompleteOverdue(ctx, asOf.In(s.loc).Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("complete overdue appointments: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("completed", n).Msg("overdue appointments completed")
	}
	return n, nil
}

// StartReconciler sweeps every interval until ctx is cancelled.
func (s *Service) StartReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReconcileOverdueAppointments(ctx, s.now()); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("overdue appointment sweep failed")
			}
		}
	}
}

func target(a *Appointment) reminder.Target {
	return reminder.Target{AppointmentID: a.ID, PatientID: a.PatientID, Date: a.Date, Time: a.Time}
}

// notify runs after commit; the status change stands even if it fails.
func (s *Service) notify(ctx context.Context, a *Appointment, templateID string) {
	if s.notifier == nil {
		return
	}
	_, err := s.notifier.NotifyFromTemplate(ctx, a.PatientID, templateID, map[string]string{
		"date": a.Date,
		"time": a.Time,
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("appointment_id", a.ID.String()).
			Str("template", templateID).
			Msg("appointment notification failed")
	}
}

// -- Waitlist --

func (s *Service) JoinWaitlist(ctx context.Context, authz auth.AuthorizationContext, req *JoinWaitlistRequest) (*WaitlistEntry, error) {
	priority, err := req.Validate()
	if err != nil {
		return nil, err
	}
	w := &WaitlistEntry{
		PatientID:     authz.AccountID,
		PreferredDate: req.PreferredDate,
		PreferredTime: req.PreferredTime,
		Reason:        req.Reason,
		Priority:      priority,
		Status:        WaitlistWaiting,
	}
	if err := s.waitlist.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("join waitlist: %w", err)
	}
	return w, nil
}

func (s *Service) ListWaitlist(ctx context.Context, authz auth.AuthorizationContext, status *WaitlistStatus, limit, offset int) ([]*WaitlistEntry, int, error) {
	var patientID *uuid.UUID
	if !authz.CanManageWaitlist() {
		self := authz.AccountID
		patientID = &self
	}
	return s.waitlist.List(ctx, patientID, status, limit, offset)
}

func (s *Service) TransitionWaitlist(ctx context.Context, authz auth.AuthorizationContext, id uuid.UUID, to WaitlistStatus) (*WaitlistEntry, error) {
	if !authz.CanManageWaitlist() {
		return nil, apperr.ErrForbidden
	}
	w, err := s.waitlist.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !w.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, w.Status, to)
	}
	ok, err := s.waitlist.UpdateStatus(ctx, id, w.Status, to)
	if err != nil {
		return nil, fmt.Errorf("update waitlist status: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: waitlist entry changed concurrently", apperr.ErrConflict)
	}
	w.Status = to
	w.UpdatedAt = s.now().UTC()
	return w, nil
}

// -- Reviews --

// SubmitReview records the patient's rating of their own completed
// appointment. Submitting again replaces the earlier rating.
func (s *Service) SubmitReview(ctx context.Context, authz auth.AuthorizationContext, appointmentID uuid.UUID, req *ReviewRequest) (*Review, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !authz.IsSelf(a.PatientID) {
		return nil, apperr.ErrForbidden
	}
	if a.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: only completed appointments can be reviewed", apperr.ErrConflict)
	}

	rv := &Review{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DentistID:     a.DentistID,
		Rating:        req.Rating,
		ReviewText:    req.ReviewText,
	}
	if err := s.reviews.Upsert(ctx, rv); err != nil {
		return nil, fmt.Errorf("save review: %w", err)
	}
	return rv, nil
}

// DentistReviews is visible to the dentist and to admins and managers.
func (s *Service) DentistReviews(ctx context.Context, authz auth.AuthorizationContext, dentistID uuid.UUID, limit, offset int) (*DentistReviews, error) {
	if !authz.IsSelf(dentistID) && !authz.CanViewStats() {
		return nil, apperr.ErrForbidden
	}
	items, total, err := s.reviews.ListByDentist(ctx, dentistID, limit, offset)
	if err != nil {
		return nil, err
	}
	avg, err := s.reviews.AverageForDentist(ctx, dentistID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if items == nil {
		items = []*Review{}
	}
	return &DentistReviews{Data: items, Total: total, Average: avg}, nil
}
