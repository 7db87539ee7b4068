package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Wyydra/yacall/internal/core/domain"
)

const uniqueViolation = "23505"

type CallRepository struct {
	db *pgxpool.Pool
}

func NewCallRepository(db *pgxpool.Pool) *CallRepository {
	return &CallRepository{db: db}
}

const callColumns = `id, initiator_id, recipient_id, kind, status, created_at, started_at, ended_at, end_reason, duration_seconds`

func scanCall(row pgx.Row) (domain.Call, error) {
	var (
		c                        domain.Call
		id, initiator, recipient uuid.UUID
		kind, status, reason     string
		startedAt, endedAt       *time.Time
	)
	if err := row.Scan(&id, &initiator, &recipient, &kind, &status, &c.CreatedAt, &startedAt, &endedAt, &reason, &c.DurationSeconds); err != nil {
		return domain.Call{}, err
	}
	c.ID = domain.CallID(id)
	c.InitiatorID = domain.UserID(initiator)
	c.RecipientID = domain.UserID(recipient)
	c.Kind = domain.CallKind(kind)
	c.Status = domain.CallStatus(status)
	c.StartedAt = startedAt
	c.EndedAt = endedAt
	c.EndReason = domain.EndReason(reason)
	return c, nil
}

func (r *CallRepository) Create(ctx context.Context, call domain.Call) error {
	const q = `
INSERT INTO calls (` + callColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	_, err := r.db.Exec(ctx, q,
		uuid.UUID(call.ID),
		uuid.UUID(call.InitiatorID),
		uuid.UUID(call.RecipientID),
		string(call.Kind),
		string(call.Status),
		call.CreatedAt,
		call.StartedAt,
		call.EndedAt,
		string(call.EndReason),
		call.DurationSeconds,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: call %s already exists", domain.ErrConflict, call.ID)
		}
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

func (r *CallRepository) Get(ctx context.Context, id domain.CallID) (domain.Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	call, err := scanCall(r.db.QueryRow(ctx, q, uuid.UUID(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Call{}, fmt.Errorf("%w: call %s", domain.ErrNotFound, id)
		}
		return domain.Call{}, fmt.Errorf("select call: %w", err)
	}
	return call, nil
}

func (r *CallRepository) Update(ctx context.Context, call domain.Call) error {
	const q = `
UPDATE calls
SET status = $2, started_at = $3, ended_at = $4, end_reason = $5, duration_seconds = $6
WHERE id = $1
`
	tag, err := r.db.Exec(ctx, q,
		uuid.UUID(call.ID),
		string(call.Status),
		call.StartedAt,
		call.EndedAt,
		string(call.EndReason),
		call.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: call %s", domain.ErrNotFound, call.ID)
	}
	return nil
}

func (r *CallRepository) ActiveFor(ctx context.Context, userID domain.UserID) (domain.Call, error) {
	q := `SELECT ` + callColumns + `
FROM calls
WHERE (initiator_id = $1 OR recipient_id = $1) AND status IN ('calling', 'connected')
ORDER BY created_at DESC
LIMIT 1`
	call, err := scanCall(r.db.QueryRow(ctx, q, uuid.UUID(userID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Call{}, fmt.Errorf("%w: no active call for %s", domain.ErrNotFound, userID)
		}
		return domain.Call{}, fmt.Errorf("select active call: %w", err)
	}
	return call, nil
}

func (r *CallRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + callColumns + `
FROM calls
WHERE initiator_id = $1 OR recipient_id = $1
ORDER BY created_at DESC
LIMIT $2`
	rows, err := r.db.Query(ctx, q, uuid.UUID(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Call, 0)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		out = append(out, call)
	}
	return out, rows.Err()
}
