package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/metrics"
)

// ErrTargetOffline is returned when the other participant has no open socket.
var ErrTargetOffline = errors.New("target offline")

// SignalService relays negotiation and media toggle frames between the two
// participants of a call. The server never interprets SDP or candidates.
type SignalService struct {
	calls   port.CallRepository
	gateway port.RealTimeGateway
	metrics *metrics.Registry
}

func NewSignalService(calls port.CallRepository, gateway port.RealTimeGateway, m *metrics.Registry) *SignalService {
	return &SignalService{calls: calls, gateway: gateway, metrics: m}
}

// Relay forwards ev from a participant to the other one. The sender identity
// in the payload is overwritten with from.
func (s *SignalService) Relay(ctx context.Context, from domain.UserID, ev domain.Event) error {
	if !ev.Name.Relayed() {
		return fmt.Errorf("%w: %s cannot be relayed", domain.ErrValidation, ev.Name)
	}
	callID, err := ev.CallRef()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		return err
	}
	if !call.HasParticipant(from) {
		return fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}
	if call.Status.Terminal() {
		return fmt.Errorf("%w: call %s is over", domain.ErrNotFound, callID)
	}

	out, err := stampSender(ev, from)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	target := call.Peer(from)
	if !s.gateway.Online(target) {
		return ErrTargetOffline
	}
	if err := s.gateway.SendEvent(ctx, target, out); err != nil {
		return err
	}
	s.metrics.Relayed(ev.Name)
	log.Debug().Str("call_id", callID.String()).Str("event", string(ev.Name)).Str("from", from.String()).Msg("Relayed event")
	return nil
}

func stampSender(ev domain.Event, from domain.UserID) (domain.Event, error) {
	switch ev.Name {
	case domain.EventMuteChanged:
		var p domain.MuteChanged
		if err := ev.Decode(&p); err != nil {
			return domain.Event{}, err
		}
		p.UserID = from
		return domain.NewEvent(ev.Name, p)
	case domain.EventVideoChanged:
		var p domain.VideoChanged
		if err := ev.Decode(&p); err != nil {
			return domain.Event{}, err
		}
		p.UserID = from
		return domain.NewEvent(ev.Name, p)
	default:
		msg, err := domain.NegotiationFromEvent(ev)
		if err != nil {
			return domain.Event{}, err
		}
		msg.PeerID = from
		return msg.Event()
	}
}
