package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type CallRepository struct {
	mu    sync.RWMutex
	calls map[domain.CallID]domain.Call
}

func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls: make(map[domain.CallID]domain.Call),
	}
}

func (r *CallRepository) Create(ctx context.Context, call domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.ID]; ok {
		return fmt.Errorf("%w: call %s already exists", domain.ErrConflict, call.ID)
	}
	r.calls[call.ID] = call
	return nil
}

func (r *CallRepository) Get(ctx context.Context, id domain.CallID) (domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	call, ok := r.calls[id]
	if !ok {
		return domain.Call{}, fmt.Errorf("%w: call %s", domain.ErrNotFound, id)
	}
	return call, nil
}

func (r *CallRepository) Update(ctx context.Context, call domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.ID]; !ok {
		return fmt.Errorf("%w: call %s", domain.ErrNotFound, call.ID)
	}
	r.calls[call.ID] = call
	return nil
}

func (r *CallRepository) ActiveFor(ctx context.Context, userID domain.UserID) (domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, call := range r.calls {
		if call.HasParticipant(userID) && !call.Status.Terminal() {
			return call, nil
		}
	}
	return domain.Call{}, fmt.Errorf("%w: no active call for %s", domain.ErrNotFound, userID)
}

func (r *CallRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Call, 0)
	for _, call := range r.calls {
		if call.HasParticipant(userID) {
			out = append(out, call)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
