package domain

import (
	"encoding/json"
	"fmt"
)

// EventName names a frame carried by the signaling channel.
type EventName string

const (
	EventCallIncoming         EventName = "call.incoming"
	EventCallResponse         EventName = "call.response"
	EventCallEnded            EventName = "call.ended"
	EventNegotiationOffer     EventName = "negotiation.offer"
	EventNegotiationAnswer    EventName = "negotiation.answer"
	EventNegotiationCandidate EventName = "negotiation.candidate"
	EventMuteChanged          EventName = "call.muteChanged"
	EventVideoChanged         EventName = "call.videoChanged"
	EventMessageNew           EventName = "message.new"
	EventError                EventName = "error"

	// Local pseudo-events raised by the client channel itself, never sent on the wire.
	EventConnectionLost     EventName = "connection.lost"
	EventConnectionRestored EventName = "connection.restored"
)

// Relayed reports whether clients may send this event for the server to
// forward to the other participant of the referenced call.
func (n EventName) Relayed() bool {
	switch n {
	case EventNegotiationOffer, EventNegotiationAnswer, EventNegotiationCandidate,
		EventMuteChanged, EventVideoChanged:
		return true
	default:
		return false
	}
}

// Event is the wire envelope: {"event": "...", "data": {...}}.
type Event struct {
	Name EventName       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(name EventName, payload any) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Name, err)
	}
	return nil
}

// CallRef extracts the callId every call-scoped payload carries.
func (e Event) CallRef() (CallID, error) {
	var ref struct {
		CallID CallID `json:"callId"`
	}
	if err := e.Decode(&ref); err != nil {
		return CallID{}, err
	}
	return ref.CallID, nil
}

type CallIncoming struct {
	Call Call `json:"call"`
}

type CallResponse struct {
	CallID   CallID `json:"callId"`
	Call     Call   `json:"call"`
	Accepted bool   `json:"accepted"`
}

type CallEnded struct {
	CallID  CallID    `json:"callId"`
	Reason  EndReason `json:"reason,omitempty"`
	EndedBy UserID    `json:"endedBy"`
}

type MuteChanged struct {
	CallID CallID `json:"callId"`
	UserID UserID `json:"userId"`
	Muted  bool   `json:"muted"`
}

type VideoChanged struct {
	CallID  CallID `json:"callId"`
	UserID  UserID `json:"userId"`
	Enabled bool   `json:"enabled"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeRateLimited    = "RATE_LIMIT_EXCEEDED"
	ErrCodeTargetOffline  = "TARGET_OFFLINE"
	ErrCodeNotParticipant = "NOT_CALL_PARTICIPANT"
	ErrCodeBadFrame       = "BAD_FRAME"
)
