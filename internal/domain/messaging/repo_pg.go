package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
)

type messageRepoPG struct {
	pool *pgxpool.Pool
}

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

const messageCols = `id, sender_id, receiver_id, appointment_id, message, read, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.AppointmentID, &m.Body, &m.Read, &m.CreatedAt); err != nil {
		return nil, apperr.FromDB(err)
	}
	return &m, nil
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	m.CreatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO messages (`+messageCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.SenderID, m.ReceiverID, m.AppointmentID, m.Body, m.Read, m.CreatedAt)
	return apperr.FromDB(err)
}

func (r *messageRepoPG) Conversation(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error) {
	const where = ` WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`+where, a, b).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+messageCols+` FROM messages`+where+`
		ORDER BY created_at ASC, id LIMIT $3 OFFSET $4`, a, b, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err)
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *messageRepoPG) MarkRead(ctx context.Context, receiverID, senderID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE receiver_id = $1 AND sender_id = $2 AND read = FALSE`, receiverID, senderID)
	if err != nil {
		return 0, apperr.FromDB(err)
	}
	return tag.RowsAffected(), nil
}

func (r *messageRepoPG) UnreadCount(ctx context.Context, receiverID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND read = FALSE`, receiverID).Scan(&n)
	return n, apperr.FromDB(err)
}

type directoryPG struct {
	pool *pgxpool.Pool
}

func NewDirectoryPG(pool *pgxpool.Pool) Directory {
	return &directoryPG{pool: pool}
}

func (d *directoryPG) AccountName(ctx context.Context, id uuid.UUID) (string, error) {
	var name string
	err := d.pool.QueryRow(ctx, `SELECT full_name FROM accounts WHERE id = $1`, id).Scan(&name)
	return name, apperr.FromDB(err)
}

func (d *directoryPG) AppointmentParties(ctx context.Context, id uuid.UUID) (uuid.UUID, *uuid.UUID, error) {
	var patientID uuid.UUID
	var dentistID *uuid.UUID
	err := d.pool.QueryRow(ctx, `SELECT patient_id, dentist_id FROM appointments WHERE id = $1`, id).Scan(&patientID, &dentistID)
	return patientID, dentistID, apperr.FromDB(err)
}
