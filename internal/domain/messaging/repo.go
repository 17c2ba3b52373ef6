package messaging

import (
	"context"

	"github.com/google/uuid"
)

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// Conversation returns messages exchanged between a and b, oldest first.
	Conversation(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error)
	// MarkRead flags unread messages from sender to receiver as read.
	MarkRead(ctx context.Context, receiverID, senderID uuid.UUID) (int64, error)
	UnreadCount(ctx context.Context, receiverID uuid.UUID) (int, error)
}

// Directory answers the lookups messaging needs about other records.
type Directory interface {
	AccountName(ctx context.Context, id uuid.UUID) (string, error)
	AppointmentParties(ctx context.Context, id uuid.UUID) (patientID uuid.UUID, dentistID *uuid.UUID, err error)
}
