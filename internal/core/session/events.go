package session

import (
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// event is anything the Machine loop consumes. Local actions, signaling
// frames, ticks and results of asynchronous work all arrive through the
// same inbox so each one observes the phase left by the previous one.
type event interface{}

type result struct {
	call domain.Call
	err  error
}

type actionKind int

const (
	actStart actionKind = iota
	actAccept
	actDecline
	actCancel
	actEnd
	actToggleMute
	actToggleVideo
)

func (k actionKind) String() string {
	switch k {
	case actStart:
		return "start_call"
	case actAccept:
		return "accept"
	case actDecline:
		return "decline"
	case actCancel:
		return "cancel"
	case actEnd:
		return "end_call"
	case actToggleMute:
		return "toggle_mute"
	case actToggleVideo:
		return "toggle_video"
	default:
		return "unknown"
	}
}

type localAction struct {
	kind      actionKind
	recipient domain.UserID
	callKind  domain.CallKind
	reply     chan result
}

type signalReceived struct {
	ev domain.Event
}

type tick struct {
	now time.Time
}

// barrier is answered once every event queued before it has been handled.
type barrier struct {
	done chan struct{}
}

type observerDetached struct{}

// Results of asynchronous side effects. gen identifies the session that
// issued the work; results of older sessions are dropped.

type callCreated struct {
	gen  uint64
	call domain.Call
	err  error
}

type captureDone struct {
	gen uint64
	err error
}

type offerCreated struct {
	gen uint64
	sdp string
	err error
}

type answerCreated struct {
	gen uint64
	sdp string
	err error
}

// remoteDescriptionSet reports an applied remote description. final marks
// the end of the media operation that applied it.
type remoteDescriptionSet struct {
	gen   uint64
	err   error
	final bool
}

type acceptResponded struct {
	gen  uint64
	call domain.Call
	err  error
}

type statsCollected struct {
	gen   uint64
	stats []domain.PeerStats
	err   error
	at    time.Time
}

type resynced struct {
	gen  uint64
	call domain.Call
	err  error
}

type mediaConnected struct {
	gen uint64
}

type mediaFailed struct {
	gen uint64
	err error
}

type localCandidate struct {
	gen       uint64
	candidate string
}
