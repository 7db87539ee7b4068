package domain

import (
	"fmt"
	"time"
)

// Message is the chat entry posted to both participants once a call is resolved.
type Message struct {
	ID          MessageID  `json:"id"`
	SenderID    UserID     `json:"senderId"`
	RecipientID UserID     `json:"recipientId"`
	Content     string     `json:"content"`
	CallID      CallID     `json:"callId"`
	CallKind    CallKind   `json:"callKind"`
	CallStatus  CallStatus `json:"callStatus"`
	Duration    int        `json:"callDuration"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func NewCallMessage(call Call, now time.Time) (*Message, error) {
	if !call.Status.Terminal() {
		return nil, fmt.Errorf("%w: call log message requires a resolved call", ErrValidation)
	}
	return &Message{
		ID:          NewMessageID(),
		SenderID:    call.InitiatorID,
		RecipientID: call.RecipientID,
		Content:     fmt.Sprintf("%s call", call.Kind),
		CallID:      call.ID,
		CallKind:    call.Kind,
		CallStatus:  call.Status,
		Duration:    call.DurationSeconds,
		CreatedAt:   now,
	}, nil
}
