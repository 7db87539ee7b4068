package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/auth"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
)

// ServeWS upgrades an authenticated request into a signaling socket. Every
// inbound frame is relayed to the other participant of the call it names.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := ws.NewConn(userID, conn)
	l := log.With().
		Str("client_id", client.ID()).
		Str("user_id", userID.String()).
		Logger()

	if err := h.Hub.Register(client); err != nil {
		l.Warn().Err(err).Msg("Rejecting client")
		conn.Close()
		return
	}
	go client.WritePump()
	l.Info().Msg("New client connected")

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		client.Close()
	}()

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(h.signalRate)), h.signalRate)

	for {
		ev, err := client.ReadEvent()
		if err != nil {
			var frameErr *ws.FrameError
			if errors.As(err, &frameErr) {
				h.replyError(client, domain.ErrCodeBadFrame, frameErr.Error())
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}

		if !limiter.Allow() {
			h.metrics.RateLimited()
			h.replyError(client, domain.ErrCodeRateLimited, "too many signaling events")
			continue
		}

		if err := h.SignalService.Relay(r.Context(), userID, ev); err != nil {
			code, msg := relayErrorCode(err)
			l.Debug().Err(err).Str("event", string(ev.Name)).Msg("Relay refused")
			h.replyError(client, code, msg)
		}
	}
}

func (h *Handler) replyError(client *ws.Conn, code, msg string) {
	ev, err := domain.NewEvent(domain.EventError, domain.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	if err := client.Send(ev); err != nil {
		log.Debug().Err(err).Str("client_id", client.ID()).Msg("Error frame dropped")
	}
}

func relayErrorCode(err error) (string, string) {
	switch {
	case errors.Is(err, service.ErrTargetOffline):
		return domain.ErrCodeTargetOffline, "the other participant is offline"
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrNotFound):
		return domain.ErrCodeNotParticipant, "not a participant of an active call"
	case errors.Is(err, domain.ErrValidation):
		return domain.ErrCodeBadFrame, err.Error()
	default:
		return domain.ErrCodeBadFrame, "event could not be relayed"
	}
}
