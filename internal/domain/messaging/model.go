package messaging

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
)

const maxBodyLen = 2000

type Message struct {
	ID            uuid.UUID  `json:"id"`
	SenderID      uuid.UUID  `json:"sender_id"`
	ReceiverID    uuid.UUID  `json:"receiver_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Body          string     `json:"message"`
	Read          bool       `json:"read"`
	CreatedAt     time.Time  `json:"created_at"`
}

type SendRequest struct {
	ReceiverID    uuid.UUID  `json:"receiver_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Body          string     `json:"message"`
}

func (r *SendRequest) Validate(senderID uuid.UUID) error {
	if r.ReceiverID == uuid.Nil {
		return apperr.Invalid("receiver_id", "is required")
	}
	if r.ReceiverID == senderID {
		return apperr.Invalid("receiver_id", "cannot message yourself")
	}
	r.Body = strings.TrimSpace(r.Body)
	if r.Body == "" {
		return apperr.Invalid("message", "is required")
	}
	if len([]rune(r.Body)) > maxBodyLen {
		return apperr.Invalid("message", "must be at most %d characters", maxBodyLen)
	}
	return nil
}
