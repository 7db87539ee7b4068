package domain

import (
	"fmt"
	"time"
)

type CallKind string

const (
	KindAudio CallKind = "audio"
	KindVideo CallKind = "video"
)

func (k CallKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

func (k CallKind) HasVideo() bool {
	return k == KindVideo
}

// CallStatus is the registry-side status of a call record.
type CallStatus string

const (
	StatusCalling   CallStatus = "calling"
	StatusConnected CallStatus = "connected"
	StatusEnded     CallStatus = "ended"
	StatusRejected  CallStatus = "rejected"
	StatusMissed    CallStatus = "missed"
	StatusFailed    CallStatus = "failed"
)

func (s CallStatus) Terminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusMissed, StatusFailed:
		return true
	default:
		return false
	}
}

type EndReason string

const (
	ReasonNone       EndReason = ""
	ReasonHangup     EndReason = "hangup"
	ReasonRejected   EndReason = "rejected"
	ReasonCancelled  EndReason = "cancelled"
	ReasonTimeout    EndReason = "timeout"
	ReasonFailed     EndReason = "failed"
	ReasonPermission EndReason = "permission"
	ReasonBusy       EndReason = "busy"
)

func (r EndReason) Valid() bool {
	switch r {
	case ReasonHangup, ReasonRejected, ReasonCancelled, ReasonTimeout,
		ReasonFailed, ReasonPermission, ReasonBusy:
		return true
	default:
		return false
	}
}

// UserMessage is what a Presentation Adapter shows for a finished call.
// Raw error text never reaches the user.
func (r EndReason) UserMessage() string {
	switch r {
	case ReasonRejected:
		return "declined"
	case ReasonTimeout:
		return "no answer"
	case ReasonCancelled:
		return "cancelled"
	case ReasonFailed:
		return "connection failed"
	case ReasonPermission:
		return "permission denied"
	case ReasonBusy:
		return "busy"
	default:
		return "call ended"
	}
}

type Response string

const (
	ResponseAccept Response = "accept"
	ResponseReject Response = "reject"
)

func (r Response) Valid() bool {
	return r == ResponseAccept || r == ResponseReject
}

// Call is the registry-authoritative record of a call attempt.
type Call struct {
	ID              CallID     `json:"id"`
	InitiatorID     UserID     `json:"initiatorId"`
	RecipientID     UserID     `json:"recipientId"`
	Kind            CallKind   `json:"kind"`
	Status          CallStatus `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	EndReason       EndReason  `json:"endReason,omitempty"`
	DurationSeconds int        `json:"durationSeconds,omitempty"`
}

func NewCall(initiator, recipient UserID, kind CallKind, now time.Time) (*Call, error) {
	if initiator.IsZero() || recipient.IsZero() {
		return nil, fmt.Errorf("%w: participants are required", ErrValidation)
	}
	if initiator == recipient {
		return nil, fmt.Errorf("%w: cannot call yourself", ErrValidation)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown call kind %q", ErrValidation, kind)
	}
	return &Call{
		ID:          NewCallID(),
		InitiatorID: initiator,
		RecipientID: recipient,
		Kind:        kind,
		Status:      StatusCalling,
		CreatedAt:   now,
	}, nil
}

func (c Call) HasParticipant(id UserID) bool {
	return c.InitiatorID == id || c.RecipientID == id
}

// Peer returns the other participant from the point of view of self.
func (c Call) Peer(self UserID) UserID {
	if c.InitiatorID == self {
		return c.RecipientID
	}
	return c.InitiatorID
}

// Accept moves a ringing call to connected.
func (c *Call) Accept(now time.Time) error {
	if c.Status != StatusCalling {
		return fmt.Errorf("%w: cannot respond to call in status %s", ErrValidation, c.Status)
	}
	c.Status = StatusConnected
	c.StartedAt = &now
	return nil
}

// Reject resolves a ringing call as declined by the recipient.
func (c *Call) Reject(now time.Time) error {
	if c.Status != StatusCalling {
		return fmt.Errorf("%w: cannot respond to call in status %s", ErrValidation, c.Status)
	}
	c.Status = StatusRejected
	c.EndedAt = &now
	c.EndReason = ReasonRejected
	return nil
}

// End terminates the call. It reports false when the call was already
// terminal, in which case nothing changes.
func (c *Call) End(reason EndReason, now time.Time) bool {
	if c.Status.Terminal() {
		return false
	}
	if reason == ReasonNone {
		reason = ReasonHangup
	}
	switch {
	case reason == ReasonFailed || reason == ReasonPermission:
		c.Status = StatusFailed
	case c.Status == StatusConnected:
		c.Status = StatusEnded
	case reason == ReasonRejected:
		c.Status = StatusRejected
	default:
		c.Status = StatusMissed
	}
	if c.StartedAt != nil {
		c.DurationSeconds = int(now.Sub(*c.StartedAt) / time.Second)
	}
	c.EndedAt = &now
	c.EndReason = reason
	return true
}
