package domain

import "time"

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseOutgoing    Phase = "outgoing"
	PhaseIncoming    Phase = "incoming"
	PhaseNegotiating Phase = "negotiating"
	PhaseActive      Phase = "active"
	PhaseEnding      Phase = "ending"
	PhaseEnded       Phase = "ended"
)

// Live reports whether a session exists in this phase, i.e. it is neither
// idle nor finished.
func (p Phase) Live() bool {
	return p != PhaseIdle && p != PhaseEnded
}

type Role string

const (
	RoleNone   Role = ""
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// RemoteMedia mirrors the peer's mute / camera toggles.
type RemoteMedia struct {
	Muted        bool `json:"muted"`
	VideoEnabled bool `json:"videoEnabled"`
}

// Snapshot is the read-only view handed to Presentation Adapters.
type Snapshot struct {
	Phase                Phase                    `json:"phase"`
	Call                 *Call                    `json:"call,omitempty"`
	Role                 Role                     `json:"role,omitempty"`
	Answered             bool                     `json:"answered"`
	LocalMediaReady      bool                     `json:"localMediaReady"`
	RemoteMediaReady     bool                     `json:"remoteMediaReady"`
	Muted                bool                     `json:"muted"`
	VideoEnabled         bool                     `json:"videoEnabled"`
	Remote               RemoteMedia              `json:"remote"`
	RingElapsedSeconds   int                      `json:"ringElapsedSeconds"`
	ActiveElapsedSeconds int                      `json:"activeElapsedSeconds"`
	EndReason            EndReason                `json:"endReason,omitempty"`
	LastError            error                    `json:"-"`
	Quality              map[UserID]QualitySample `json:"quality,omitempty"`
	UpdatedAt            time.Time                `json:"updatedAt"`
}

// EndMessage is the user facing text once the session has ended.
func (s Snapshot) EndMessage() string {
	if s.Phase != PhaseEnded && s.Phase != PhaseEnding {
		return ""
	}
	if s.EndReason == ReasonTimeout && s.Answered {
		// The peer picked up; it was negotiation that ran out of time.
		return "call timed out"
	}
	return s.EndReason.UserMessage()
}
