package auth

import (
	"context"
	"errors"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type ctxKey int

const ctxUserID ctxKey = iota

func WithUserID(ctx context.Context, userID domain.UserID) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

func UserID(ctx context.Context) (domain.UserID, error) {
	if id, ok := ctx.Value(ctxUserID).(domain.UserID); ok && !id.IsZero() {
		return id, nil
	}
	return domain.UserID{}, errors.New("user_id not in context")
}
