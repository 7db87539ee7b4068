package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// LifecycleClient issues request/response operations against the call registry.
type LifecycleClient interface {
	CreateCall(ctx context.Context, recipient domain.UserID, kind domain.CallKind) (domain.Call, error)
	RespondToCall(ctx context.Context, callID domain.CallID, response domain.Response) (domain.Call, error)
	GetCall(ctx context.Context, callID domain.CallID) (domain.Call, error)
	EndCall(ctx context.Context, callID domain.CallID, reason domain.EndReason) error
}
