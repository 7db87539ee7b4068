package domain

import "fmt"

type NegotiationType string

const (
	NegotiationOffer     NegotiationType = "offer"
	NegotiationAnswer    NegotiationType = "answer"
	NegotiationCandidate NegotiationType = "candidate"
)

// NegotiationMessage carries an offer, answer or candidate between the two
// peers. Its payload is opaque to the session core.
type NegotiationMessage struct {
	CallID    CallID          `json:"callId"`
	PeerID    UserID          `json:"peerId"`
	Type      NegotiationType `json:"-"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate string          `json:"candidate,omitempty"`
}

func (m NegotiationMessage) EventName() EventName {
	switch m.Type {
	case NegotiationOffer:
		return EventNegotiationOffer
	case NegotiationAnswer:
		return EventNegotiationAnswer
	default:
		return EventNegotiationCandidate
	}
}

func (m NegotiationMessage) Event() (Event, error) {
	return NewEvent(m.EventName(), m)
}

// NegotiationFromEvent decodes one of the negotiation.* events.
func NegotiationFromEvent(e Event) (NegotiationMessage, error) {
	var m NegotiationMessage
	switch e.Name {
	case EventNegotiationOffer:
		m.Type = NegotiationOffer
	case EventNegotiationAnswer:
		m.Type = NegotiationAnswer
	case EventNegotiationCandidate:
		m.Type = NegotiationCandidate
	default:
		return m, fmt.Errorf("%s is not a negotiation event", e.Name)
	}
	t := m.Type
	if err := e.Decode(&m); err != nil {
		return m, err
	}
	m.Type = t
	return m, nil
}
