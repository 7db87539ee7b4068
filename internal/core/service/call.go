package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/metrics"
)

const defaultHistoryLimit = 50

// CallService is the call registry: it owns the authoritative Call records
// and fans lifecycle events out to the participants.
type CallService struct {
	calls   port.CallRepository
	busy    port.BusyLock
	chat    *ChatService
	gateway port.RealTimeGateway
	metrics *metrics.Registry
	now     func() time.Time

	// mu serializes read-modify-write of call records.
	mu sync.Mutex
}

func NewCallService(calls port.CallRepository, busy port.BusyLock, chat *ChatService, gateway port.RealTimeGateway, m *metrics.Registry) *CallService {
	return &CallService{
		calls:   calls,
		busy:    busy,
		chat:    chat,
		gateway: gateway,
		metrics: m,
		now:     time.Now,
	}
}

func (s *CallService) CreateCall(ctx context.Context, initiator, recipient domain.UserID, kind domain.CallKind) (domain.Call, error) {
	call, err := domain.NewCall(initiator, recipient, kind, s.now())
	if err != nil {
		return domain.Call{}, err
	}

	ok, err := s.busy.Acquire(ctx, initiator, call.ID)
	if err != nil {
		return domain.Call{}, err
	}
	if !ok {
		return domain.Call{}, fmt.Errorf("%w: already in a call", domain.ErrConflict)
	}
	ok, err = s.busy.Acquire(ctx, recipient, call.ID)
	if err != nil || !ok {
		s.release(ctx, *call, initiator)
		if err != nil {
			return domain.Call{}, err
		}
		return domain.Call{}, fmt.Errorf("%w: recipient is busy", domain.ErrConflict)
	}

	if err := s.calls.Create(ctx, *call); err != nil {
		s.release(ctx, *call, initiator, recipient)
		return domain.Call{}, err
	}
	s.metrics.CallCreated()

	l := log.With().Str("call_id", call.ID.String()).Logger()
	l.Info().
		Str("initiator_id", initiator.String()).
		Str("recipient_id", recipient.String()).
		Str("kind", string(kind)).
		Msg("Call created")

	s.notify(ctx, recipient, domain.EventCallIncoming, domain.CallIncoming{Call: *call})
	return *call, nil
}

func (s *CallService) RespondToCall(ctx context.Context, userID domain.UserID, callID domain.CallID, response domain.Response) (domain.Call, error) {
	if !response.Valid() {
		return domain.Call{}, fmt.Errorf("%w: unknown response %q", domain.ErrValidation, response)
	}

	s.mu.Lock()
	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		s.mu.Unlock()
		return domain.Call{}, err
	}
	if call.RecipientID != userID {
		s.mu.Unlock()
		return domain.Call{}, fmt.Errorf("%w: only the recipient can respond", domain.ErrForbidden)
	}

	now := s.now()
	if response == domain.ResponseAccept {
		err = call.Accept(now)
	} else {
		err = call.Reject(now)
	}
	if err == nil {
		err = s.calls.Update(ctx, call)
	}
	s.mu.Unlock()
	if err != nil {
		return domain.Call{}, err
	}

	accepted := response == domain.ResponseAccept
	log.Info().Str("call_id", call.ID.String()).Bool("accepted", accepted).Msg("Call answered")
	if !accepted {
		s.resolve(ctx, call)
	}
	s.notify(ctx, call.InitiatorID, domain.EventCallResponse, domain.CallResponse{CallID: call.ID, Call: call, Accepted: accepted})
	return call, nil
}

func (s *CallService) GetCall(ctx context.Context, userID domain.UserID, callID domain.CallID) (domain.Call, error) {
	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		return domain.Call{}, err
	}
	if !call.HasParticipant(userID) {
		return domain.Call{}, fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}
	return call, nil
}

// EndCall terminates a call. Ending a resolved call returns it unchanged and
// notifies nobody.
func (s *CallService) EndCall(ctx context.Context, userID domain.UserID, callID domain.CallID, reason domain.EndReason) (domain.Call, error) {
	if reason == domain.ReasonNone {
		reason = domain.ReasonHangup
	}
	if !reason.Valid() {
		return domain.Call{}, fmt.Errorf("%w: unknown end reason %q", domain.ErrValidation, reason)
	}

	s.mu.Lock()
	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		s.mu.Unlock()
		return domain.Call{}, err
	}
	if !call.HasParticipant(userID) {
		s.mu.Unlock()
		return domain.Call{}, fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}
	if !call.End(reason, s.now()) {
		s.mu.Unlock()
		return call, nil
	}
	err = s.calls.Update(ctx, call)
	s.mu.Unlock()
	if err != nil {
		return domain.Call{}, err
	}

	log.Info().
		Str("call_id", call.ID.String()).
		Str("status", string(call.Status)).
		Str("reason", string(reason)).
		Int("duration", call.DurationSeconds).
		Msg("Call ended")

	s.resolve(ctx, call)
	s.notify(ctx, call.Peer(userID), domain.EventCallEnded, domain.CallEnded{CallID: call.ID, Reason: reason, EndedBy: userID})
	return call, nil
}

func (s *CallService) History(ctx context.Context, userID domain.UserID, limit int) ([]domain.Call, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.calls.ListByUser(ctx, userID, limit)
}

// resolve runs once per call, when it reaches a terminal status.
func (s *CallService) resolve(ctx context.Context, call domain.Call) {
	s.release(ctx, call, call.InitiatorID, call.RecipientID)
	s.metrics.CallResolved(call.Status)
	if _, err := s.chat.PostCallLog(ctx, call); err != nil {
		log.Error().Err(err).Str("call_id", call.ID.String()).Msg("Failed to post call log message")
	}
}

func (s *CallService) release(ctx context.Context, call domain.Call, users ...domain.UserID) {
	for _, u := range users {
		if err := s.busy.Release(ctx, u, call.ID); err != nil {
			log.Warn().Err(err).Str("call_id", call.ID.String()).Str("user_id", u.String()).Msg("Failed to release busy lock")
		}
	}
}

func (s *CallService) notify(ctx context.Context, userID domain.UserID, name domain.EventName, payload any) {
	ev, err := domain.NewEvent(name, payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(name)).Msg("Failed to encode event")
		return
	}
	if err := s.gateway.SendEvent(ctx, userID, ev); err != nil {
		log.Warn().Err(err).Str("event", string(name)).Str("user_id", userID.String()).Msg("Failed to deliver event")
	}
}
