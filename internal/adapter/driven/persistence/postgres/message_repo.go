package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Save(ctx context.Context, msg domain.Message) error {
	const q = `
INSERT INTO call_messages (id, sender_id, recipient_id, content, call_id, call_kind, call_status, call_duration, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err := r.db.Exec(ctx, q,
		uuid.UUID(msg.ID),
		uuid.UUID(msg.SenderID),
		uuid.UUID(msg.RecipientID),
		msg.Content,
		uuid.UUID(msg.CallID),
		string(msg.CallKind),
		string(msg.CallStatus),
		msg.Duration,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, sender_id, recipient_id, content, call_id, call_kind, call_status, call_duration, created_at
FROM call_messages
WHERE sender_id = $1 OR recipient_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.db.Query(ctx, q, uuid.UUID(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0)
	for rows.Next() {
		var (
			m                             domain.Message
			id, sender, recipient, callID uuid.UUID
			kind, status                  string
		)
		if err := rows.Scan(&id, &sender, &recipient, &m.Content, &callID, &kind, &status, &m.Duration, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID = domain.MessageID(id)
		m.SenderID = domain.UserID(sender)
		m.RecipientID = domain.UserID(recipient)
		m.CallID = domain.CallID(callID)
		m.CallKind = domain.CallKind(kind)
		m.CallStatus = domain.CallStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}
