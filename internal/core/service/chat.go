package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// ChatService posts the call-log entries both participants see in their
// conversation once a call is resolved.
type ChatService struct {
	repo    port.MessageRepository
	gateway port.RealTimeGateway
}

func NewChatService(repo port.MessageRepository, gateway port.RealTimeGateway) *ChatService {
	return &ChatService{
		repo:    repo,
		gateway: gateway,
	}
}

func (s *ChatService) PostCallLog(ctx context.Context, call domain.Call) (domain.Message, error) {
	msg, err := domain.NewCallMessage(call, time.Now())
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.repo.Save(ctx, *msg); err != nil {
		return domain.Message{}, err
	}

	ev, err := domain.NewEvent(domain.EventMessageNew, msg)
	if err != nil {
		return domain.Message{}, err
	}
	for _, u := range []domain.UserID{call.InitiatorID, call.RecipientID} {
		if err := s.gateway.SendEvent(ctx, u, ev); err != nil {
			log.Warn().Err(err).Str("user_id", u.String()).Msg("Failed to deliver call log message")
		}
	}
	return *msg, nil
}

func (s *ChatService) History(ctx context.Context, userID domain.UserID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.repo.ListByUser(ctx, userID, limit)
}
