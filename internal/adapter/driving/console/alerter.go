package console

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Alerter stands in for a ringtone and system notifications by logging.
// implements port.Alerter
type Alerter struct {
	log     zerolog.Logger
	mu      sync.Mutex
	ringing bool
}

func NewAlerter(l zerolog.Logger) *Alerter {
	return &Alerter{log: l}
}

func (a *Alerter) StartRinging(call domain.Call, role domain.Role) {
	a.mu.Lock()
	a.ringing = true
	a.mu.Unlock()
	msg := "Ringing"
	if role == domain.RoleCallee {
		msg = "Incoming call, type accept or decline"
	}
	a.log.Info().Str("call_id", call.ID.String()).Str("kind", string(call.Kind)).Msg(msg)
}

func (a *Alerter) StopRinging() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ringing = false
}

func (a *Alerter) Ringing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ringing
}

func (a *Alerter) NotifyIncoming(call domain.Call) {
	a.log.Info().Str("from", call.InitiatorID.String()).Msg("\aIncoming call")
}

func (a *Alerter) MissedCall(call domain.Call) {
	a.log.Warn().Str("from", call.InitiatorID.String()).Msg("Missed call")
}
