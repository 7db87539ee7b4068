package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type CallRepository interface {
	Create(ctx context.Context, call domain.Call) error
	Get(ctx context.Context, id domain.CallID) (domain.Call, error)
	Update(ctx context.Context, call domain.Call) error
	// ActiveFor returns the non-terminal call userID takes part in, or
	// domain.ErrNotFound.
	ActiveFor(ctx context.Context, userID domain.UserID) (domain.Call, error)
	ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.Call, error)
}

type MessageRepository interface {
	Save(ctx context.Context, msg domain.Message) error
	ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.Message, error)
}

// BusyLock guarantees a user takes part in at most one call at a time,
// across server instances.
type BusyLock interface {
	Acquire(ctx context.Context, userID domain.UserID, callID domain.CallID) (bool, error)
	Release(ctx context.Context, userID domain.UserID, callID domain.CallID) error
}
