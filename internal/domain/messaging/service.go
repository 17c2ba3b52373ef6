package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/notification"
	"github.com/dentalcare/dentalcare/internal/platform/websocket"
)

// EventCreated is the realtime event type for a new message.
const EventCreated = "message.created"

// Notifier sends templated notifications.
type Notifier interface {
	NotifyFromTemplate(ctx context.Context, accountID uuid.UUID, templateID string, data map[string]string) (*notification.Notification, error)
}

type Service struct {
	messages  MessageRepository
	directory Directory
	publisher websocket.EventPublisher
	notifier  Notifier
	logger    zerolog.Logger
}

// NewService wires messaging. publisher and notifier may be nil.
func NewService(messages MessageRepository, directory Directory, publisher websocket.EventPublisher, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		messages:  messages,
		directory: directory,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
	}
}

// Send stores a message and pushes it to the receiver's messages topic. The
// push and the message-received notification are best effort.
func (s *Service) Send(ctx context.Context, authz auth.AuthorizationContext, req *SendRequest) (*Message, error) {
	if err := req.Validate(authz.AccountID); err != nil {
		return nil, err
	}
	if _, err := s.directory.AccountName(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Invalid("receiver_id", "does not exist")
		}
		return nil, fmt.Errorf("look up receiver: %w", err)
	}
	if req.AppointmentID != nil {
		if err := s.checkAppointment(ctx, authz, *req.AppointmentID, req.ReceiverID); err != nil {
			return nil, err
		}
	}

	m := &Message{
		SenderID:      authz.AccountID,
		ReceiverID:    req.ReceiverID,
		AppointmentID: req.AppointmentID,
		Body:          req.Body,
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	s.publish(ctx, m)
	s.notifyReceiver(ctx, m)
	return m, nil
}

// checkAppointment allows linking an appointment only when one side of the
// conversation takes part in it, or the sender manages appointments.
func (s *Service) checkAppointment(ctx context.Context, authz auth.AuthorizationContext, apptID, receiverID uuid.UUID) error {
	patientID, dentistID, err := s.directory.AppointmentParties(ctx, apptID)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Invalid("appointment_id", "does not exist")
	}
	if err != nil {
		return fmt.Errorf("look up appointment: %w", err)
	}
	if authz.CanManageAppointments() {
		return nil
	}
	for _, party := range []uuid.UUID{authz.AccountID, receiverID} {
		if party == patientID || (dentistID != nil && party == *dentistID) {
			return nil
		}
	}
	return apperr.ErrForbidden
}

func (s *Service) publish(ctx context.Context, m *Message) {
	if s.publisher == nil {
		return
	}
	ev, err := websocket.NewEvent(websocket.MessagesTopic(m.ReceiverID), EventCreated, m)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("message_id", m.ID.String()).Msg("failed to publish message")
	}
}

func (s *Service) notifyReceiver(ctx context.Context, m *Message) {
	if s.notifier == nil {
		return
	}
	sender, err := s.directory.AccountName(ctx, m.SenderID)
	if err != nil || sender == "" {
		sender = "Someone"
	}
	if _, err := s.notifier.NotifyFromTemplate(ctx, m.ReceiverID, notification.TemplateMessageReceived,
		map[string]string{"sender": sender}); err != nil {
		s.logger.Warn().Err(err).Str("message_id", m.ID.String()).Msg("message notification failed")
	}
}

// Conversation returns the caller's exchange with other, oldest first.
func (s *Service) Conversation(ctx context.Context, authz auth.AuthorizationContext, other uuid.UUID, limit, offset int) ([]*Message, int, error) {
	return s.messages.Conversation(ctx, authz.AccountID, other, limit, offset)
}

// MarkConversationRead marks everything other sent to the caller as read.
func (s *Service) MarkConversationRead(ctx context.Context, authz auth.AuthorizationContext, other uuid.UUID) (int64, error) {
	return s.messages.MarkRead(ctx, authz.AccountID, other)
}

func (s *Service) UnreadCount(ctx context.Context, authz auth.AuthorizationContext) (int, error) {
	return s.messages.UnreadCount(ctx, authz.AccountID)
}
