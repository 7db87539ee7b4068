package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// MediaListener receives asynchronous notifications from the media engine.
type MediaListener interface {
	OnLocalCandidate(candidate string)
	OnConnected()
	OnFailed(err error)
}

type MediaEngine interface {
	SetListener(l MediaListener)
	InitLocalCapture(ctx context.Context, video bool) error
	CreateOffer(ctx context.Context) (string, error)
	HandleOffer(ctx context.Context, sdp string) error
	CreateAnswer(ctx context.Context) (string, error)
	HandleAnswer(ctx context.Context, sdp string) error
	AddCandidate(ctx context.Context, candidate string) error
	SetAudioEnabled(enabled bool) error
	SetVideoEnabled(enabled bool) error
	// GetStats returns one entry per remote participant; UserID may be zero
	// when the engine does not know the peer identity.
	GetStats(ctx context.Context) ([]domain.PeerStats, error)
	Cleanup() error
}

// Alerter is the ringtone / notification capability a Presentation Adapter lends the core.
type Alerter interface {
	StartRinging(call domain.Call, role domain.Role)
	StopRinging()
	// NotifyIncoming raises a system notification; only called when incoming
	// notifications are enabled in the client settings.
	NotifyIncoming(call domain.Call)
	MissedCall(call domain.Call)
}
