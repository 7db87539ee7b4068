package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type EventSink func(domain.Event)

// SignalingChannel is the client end of the bidirectional rendezvous connection.
type SignalingChannel interface {
	Send(ctx context.Context, e domain.Event) error
	// Attach installs the single inbound sink. The returned func detaches it.
	Attach(sink EventSink) (detach func())
}
