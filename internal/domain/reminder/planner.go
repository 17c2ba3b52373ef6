package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Planner creates the reminders for a confirmed appointment. It runs inside
// the caller's transaction when ctx carries one.
type Planner struct {
	repo Repository
	loc  *time.Location
	now  func() time.Time
}

// NewPlanner interprets appointment dates and times in loc.
func NewPlanner(repo Repository, loc *time.Location) *Planner {
	if loc == nil {
		loc = time.UTC
	}
	return &Planner{repo: repo, loc: loc, now: time.Now}
}

// Plan inserts one reminder per kind whose due time is still ahead. It is
// safe to call again for the same appointment and returns how many rows it
// added.
func (p *Planner) Plan(ctx context.Context, t Target) (int, error) {
	start, err := StartAt(t.Date, t.Time, p.loc)
	if err != nil {
		return 0, err
	}
	now := p.now()
	inserted := 0
	for _, kind := range Kinds {
		lead, _ := kind.Lead()
		due := start.Add(-lead)
		if !due.After(now) {
			continue
		}
		ok, err := p.repo.InsertPlanned(ctx, &Reminder{
			AppointmentID: t.AppointmentID,
			AccountID:     t.PatientID,
			Kind:          kind,
			ScheduledFor:  due.UTC(),
		})
		if err != nil {
			return inserted, fmt.Errorf("plan %s reminder: %w", kind, err)
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// ClearPending removes the appointment's unsent reminders.
func (p *Planner) ClearPending(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	n, err := p.repo.DeleteUnsent(ctx, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("clear reminders: %w", err)
	}
	return n, nil
}

// Replan drops every reminder of the appointment, including ones already
// sent for the previous slot, and plans afresh for t. Sent rows would
// otherwise hold the (appointment, kind) key and block the new reminder.
func (p *Planner) Replan(ctx context.Context, t Target) (int, error) {
	if _, err := p.repo.DeleteAll(ctx, t.AppointmentID); err != nil {
		return 0, fmt.Errorf("clear reminders: %w", err)
	}
	return p.Plan(ctx, t)
}
