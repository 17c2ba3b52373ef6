package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/notification"
)

// Notifier stores a notification for its recipient.
type Notifier interface {
	Notify(ctx context.Context, n *notification.Notification) error
}

const (
	DefaultBatchSize = 200
	DefaultInterval  = time.Minute
)

// Dispatch steps, as they appear in failure logs.
const (
	stepAppointment = "load_appointment"
	stepRecipient   = "load_recipient"
	stepCompose     = "compose"
	stepNotify      = "notify"
	stepMarkSent    = "mark_sent"
)

// Dispatcher turns due reminders into notifications. Each reminder is
// notified first and marked sent second, so a crash in between repeats the
// notification on the next pass rather than losing it.
type Dispatcher struct {
	repo     Repository
	notifier Notifier
	logger   zerolog.Logger

	BatchSize   int
	Concurrency int
	Interval    time.Duration

	now func() time.Time
}

func NewDispatcher(repo Repository, notifier Notifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:        repo,
		notifier:    notifier,
		logger:      logger.With().Str("component", "reminder-dispatcher").Logger(),
		BatchSize:   DefaultBatchSize,
		Concurrency: 1,
		Interval:    DefaultInterval,
		now:         time.Now,
	}
}

type outcome struct {
	id uuid.UUID
	ok bool
}

// RunOnce processes one batch of due reminders. Per-reminder failures are
// logged and counted; only a failure to read the batch is returned.
func (d *Dispatcher) RunOnce(ctx context.Context) (*DispatchResult, error) {
	due, err := d.repo.ListDue(ctx, d.now().UTC(), d.batchSize())
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}

	outcomes := make([]outcome, len(due))
	if d.Concurrency <= 1 {
		for i, r := range due {
			outcomes[i] = outcome{id: r.ID, ok: d.dispatchOne(ctx, r)}
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.Concurrency)
		for i, r := range due {
			i, r := i, r
			g.Go(func() error {
				outcomes[i] = outcome{id: r.ID, ok: d.dispatchOne(ctx, r)}
				return nil
			})
		}
		_ = g.Wait()
	}

	res := &DispatchResult{Processed: []uuid.UUID{}}
	for _, o := range outcomes {
		if o.ok {
			res.Processed = append(res.Processed, o.id)
		} else {
			res.Failed++
		}
	}
	res.Count = len(res.Processed)

	if len(due) > 0 {
		d.logger.Info().
			Int("due", len(due)).
			Int("processed", res.Count).
			Int("failed", res.Failed).
			Msg("reminder pass complete")
	}
	return res, nil
}

func (d *Dispatcher) batchSize() int {
	if d.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return d.BatchSize
}

// dispatchOne reports whether r ended up sent.
func (d *Dispatcher) dispatchOne(ctx context.Context, r *Reminder) bool {
	info, err := d.repo.AppointmentInfo(ctx, r.AppointmentID)
	if err != nil {
		d.fail(ctx, r, stepAppointment, err)
		return false
	}
	recipient, err := d.repo.Recipient(ctx, r.AccountID)
	if err != nil {
		d.fail(ctx, r, stepRecipient, err)
		return false
	}
	title, err := Title(r.Kind)
	if err != nil {
		d.fail(ctx, r, stepCompose, err)
		return false
	}

	n := &notification.Notification{
		AccountID: recipient.ID,
		Title:     title,
		Message:   Message(info),
		Type:      notification.TypeReminder,
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.fail(ctx, r, stepNotify, err)
		return false
	}

	marked, err := d.repo.MarkSent(ctx, r.ID, d.now().UTC())
	if err != nil {
		d.fail(ctx, r, stepMarkSent, err)
		return false
	}
	if !marked {
		// Another pass got there between our read and this update.
		d.logger.Debug().Str("reminder_id", r.ID.String()).Msg("reminder already marked sent")
	}
	d.logger.Debug().
		Str("reminder_id", r.ID.String()).
		Str("kind", string(r.Kind)).
		Str("account_id", recipient.ID.String()).
		Str("notification_id", n.ID.String()).
		Msg("reminder sent")
	return true
}

func (d *Dispatcher) fail(ctx context.Context, r *Reminder, step string, err error) {
	kind := apperr.Kind(err)
	d.logger.Error().Err(err).
		Str("reminder_id", r.ID.String()).
		Str("appointment_id", r.AppointmentID.String()).
		Str("step", step).
		Str("error_kind", kind).
		Msg("reminder dispatch failed")

	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, context.Canceled) {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "reminder-dispatcher")
		scope.SetTag("step", step)
		scope.SetTag("error_kind", kind)
		scope.SetTag("reminder_id", r.ID.String())
		hub.CaptureException(err)
	})
}

// Start runs a pass every Interval until ctx is cancelled. A non-positive
// Interval disables the loop.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.Interval <= 0 {
		d.logger.Info().Msg("in-process reminder loop disabled")
		return
	}
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error().Err(err).Msg("reminder pass failed")
			}
		}
	}
}

// Trigger runs a pass on behalf of an authenticated caller.
func (d *Dispatcher) Trigger(ctx context.Context, authz auth.AuthorizationContext) (*DispatchResult, error) {
	if !authz.Has(auth.RoleAdmin) {
		return nil, apperr.ErrForbidden
	}
	d.logger.Info().Str("actor_id", authz.AccountID.String()).Msg("manual reminder pass")
	return d.RunOnce(ctx)
}
