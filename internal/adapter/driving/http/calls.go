package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Wyydra/yacall/internal/auth"
	"github.com/Wyydra/yacall/internal/core/domain"
)

type createCallRequest struct {
	RecipientID string          `json:"recipientId"`
	Kind        domain.CallKind `json:"kind"`
}

type respondRequest struct {
	CallID   string          `json:"callId"`
	Response domain.Response `json:"response"`
}

type endCallRequest struct {
	Reason domain.EndReason `json:"reason"`
}

func (h *Handler) createCall(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err))
		return
	}
	var req createCallRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	recipient, err := domain.ParseUserID(req.RecipientID)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: recipientId: %v", domain.ErrValidation, err))
		return
	}

	call, err := h.CallService.CreateCall(r.Context(), userID, recipient, req.Kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

func (h *Handler) respondToCall(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err))
		return
	}
	var req respondRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	callID, err := domain.ParseCallID(req.CallID)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: callId: %v", domain.ErrValidation, err))
		return
	}

	call, err := h.CallService.RespondToCall(r.Context(), userID, callID, req.Response)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (h *Handler) getCall(w http.ResponseWriter, r *http.Request) {
	userID, callID, ok := h.callScope(w, r)
	if !ok {
		return
	}
	call, err := h.CallService.GetCall(r.Context(), userID, callID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (h *Handler) endCall(w http.ResponseWriter, r *http.Request) {
	userID, callID, ok := h.callScope(w, r)
	if !ok {
		return
	}
	var req endCallRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, err)
		return
	}

	call, err := h.CallService.EndCall(r.Context(), userID, callID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (h *Handler) callHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err))
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	calls, err := h.CallService.History(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if calls == nil {
		calls = []domain.Call{}
	}
	writeJSON(w, http.StatusOK, calls)
}

func (h *Handler) messageHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err))
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := h.ChatService.History(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) callScope(w http.ResponseWriter, r *http.Request) (domain.UserID, domain.CallID, bool) {
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err))
		return domain.UserID{}, domain.CallID{}, false
	}
	callID, err := domain.ParseCallID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: call id: %v", domain.ErrValidation, err))
		return domain.UserID{}, domain.CallID{}, false
	}
	return userID, callID, true
}
