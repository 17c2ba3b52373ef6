package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/websocket"
)

// EventCreated is the realtime event type for a new notification.
const EventCreated = "notification.created"

type Service struct {
	repo      Repository
	templates *TemplateEngine
	publisher websocket.EventPublisher
	logger    zerolog.Logger
}

// NewService wires the store and the realtime publisher. publisher may be nil,
// in which case rows are stored without being pushed.
func NewService(repo Repository, templates *TemplateEngine, publisher websocket.EventPublisher, logger zerolog.Logger) *Service {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Service{repo: repo, templates: templates, publisher: publisher, logger: logger}
}

// Notify stores n and then pushes it to the recipient. A push failure is
// logged; the stored row is the source of truth.
func (s *Service) Notify(ctx context.Context, n *Notification) error {
	if n.AccountID == uuid.Nil {
		return apperr.Invalid("account_id", "is required")
	}
	if n.Title == "" {
		return apperr.Invalid("title", "is required")
	}
	if n.Message == "" {
		return apperr.Invalid("message", "is required")
	}
	n.Read = false

	if err := s.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	s.publish(ctx, n)
	return nil
}

// NotifyFromTemplate renders templateID with data and stores the result for
// accountID.
func (s *Service) NotifyFromTemplate(ctx context.Context, accountID uuid.UUID, templateID string, data map[string]string) (*Notification, error) {
	title, message, typ, err := s.templates.Render(templateID, data)
	if err != nil {
		return nil, err
	}
	n := &Notification{AccountID: accountID, Title: title, Message: message, Type: typ}
	if err := s.Notify(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) publish(ctx context.Context, n *Notification) {
	if s.publisher == nil {
		return
	}
	ev, err := websocket.NewEvent(websocket.NotificationsTopic(n.AccountID), EventCreated, n)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("notification_id", n.ID.String()).Msg("failed to publish notification")
	}
}

func (s *Service) List(ctx context.Context, authz auth.AuthorizationContext, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByAccount(ctx, authz.AccountID, unreadOnly, limit, offset)
}

// MarkRead marks one of the caller's own notifications as read.
func (s *Service) MarkRead(ctx context.Context, authz auth.AuthorizationContext, id uuid.UUID) error {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !authz.IsSelf(n.AccountID) {
		return apperr.ErrForbidden
	}
	if n.Read {
		return nil
	}
	return s.repo.MarkRead(ctx, id)
}

func (s *Service) MarkAllRead(ctx context.Context, authz auth.AuthorizationContext) (int64, error) {
	return s.repo.MarkAllRead(ctx, authz.AccountID)
}

func (s *Service) UnreadCount(ctx context.Context, authz auth.AuthorizationContext) (int, error) {
	n, err := s.repo.CountUnread(ctx, authz.AccountID)
	if errors.Is(err, apperr.ErrNotFound) {
		return 0, nil
	}
	return n, err
}
