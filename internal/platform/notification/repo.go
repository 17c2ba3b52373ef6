package notification

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context, accountID uuid.UUID) (int64, error)
	CountUnread(ctx context.Context, accountID uuid.UUID) (int, error)
}
