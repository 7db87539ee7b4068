// Package presence keeps the one-call-per-user lock.
package presence

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type MemoryLock struct {
	mu    sync.Mutex
	owner map[domain.UserID]domain.CallID
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{owner: make(map[domain.UserID]domain.CallID)}
}

// Acquire is reentrant for the call that already holds the lock.
func (l *MemoryLock) Acquire(ctx context.Context, userID domain.UserID, callID domain.CallID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.owner[userID]; ok {
		return cur == callID, nil
	}
	l.owner[userID] = callID
	return true, nil
}

// Release only drops the lock when callID still owns it.
func (l *MemoryLock) Release(ctx context.Context, userID domain.UserID, callID domain.CallID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner[userID] == callID {
		delete(l.owner, userID)
	}
	return nil
}
