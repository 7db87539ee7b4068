package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// RealTimeGateway fans events out to every socket of a user.
type RealTimeGateway interface {
	SendEvent(ctx context.Context, userID domain.UserID, e domain.Event) error
	Online(userID domain.UserID) bool
}
