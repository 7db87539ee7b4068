package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/core/domain"
)

func TestOutgoingCallHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.m.Subscribe()
	defer sub.Close()

	var (
		mu     sync.Mutex
		phases []domain.Phase
	)
	go func() {
		for u := range sub.Updates() {
			mu.Lock()
			if n := len(phases); n == 0 || phases[n-1] != u.Snapshot.Phase {
				phases = append(phases, u.Snapshot.Phase)
			}
			mu.Unlock()
		}
	}()

	call := h.activeCallerCall(domain.KindVideo)

	offers := h.signaling.sentNamed(domain.EventNegotiationOffer)
	require.Len(t, offers, 1)
	msg, err := domain.NegotiationFromEvent(offers[0])
	require.NoError(t, err)
	assert.Equal(t, call.ID, msg.CallID)
	assert.Equal(t, h.peer, msg.PeerID)
	assert.Equal(t, "offer-sdp", msg.SDP)
	assert.Equal(t, []bool{true}, h.media.snapshot().video)

	ringing, _, _ := h.alerter.state()
	assert.False(t, ringing)

	h.tick(3)
	snap := h.m.Snapshot()
	assert.Equal(t, 3, snap.ActiveElapsedSeconds)
	assert.True(t, snap.LocalMediaReady)
	assert.True(t, snap.RemoteMediaReady)
	assert.Equal(t, domain.RoleCaller, snap.Role)

	require.NoError(t, h.m.EndCall(h.ctx()))
	h.sync()
	assert.Equal(t, domain.PhaseEnded, h.phase())
	assert.Equal(t, domain.ReasonHangup, h.m.Snapshot().EndReason)
	assert.Equal(t, 1, h.media.cleanupCount())
	h.waitFor(func() bool { return len(h.lifecycle.endRequests()) == 1 }, "end request never sent")
	assert.Equal(t, endRequest{callID: call.ID, reason: domain.ReasonHangup}, h.lifecycle.endRequests()[0])

	h.waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(phases) > 0 && phases[len(phases)-1] == domain.PhaseEnded
	}, "observer never saw the end")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.Phase{
		domain.PhaseIdle,
		domain.PhaseOutgoing,
		domain.PhaseNegotiating,
		domain.PhaseActive,
		domain.PhaseEnded,
	}, phases)
}

func TestIncomingCallAccepted(t *testing.T) {
	h := newHarness(t, nil)
	call := h.incomingCall(domain.KindVideo)

	assert.Equal(t, domain.PhaseIncoming, h.phase())
	ringing, notified, _ := h.alerter.state()
	assert.True(t, ringing)
	assert.Equal(t, 1, notified)

	require.NoError(t, h.m.Accept(h.ctx(), domain.KindAudio))
	h.sync()
	assert.Equal(t, domain.PhaseNegotiating, h.phase())
	h.waitFor(func() bool { return len(h.lifecycle.respondRequests()) == 1 }, "accept never sent")
	assert.Equal(t, respondRequest{callID: call.ID, response: domain.ResponseAccept}, h.lifecycle.respondRequests()[0])

	h.waitFor(func() bool { return h.m.Snapshot().LocalMediaReady }, "local media never ready")
	assert.Equal(t, []bool{false}, h.media.snapshot().video, "accepted as audio only")
	assert.False(t, h.m.Snapshot().VideoEnabled)

	// A candidate racing ahead of the offer waits for the remote description.
	h.negotiation(call.ID, domain.NegotiationCandidate, "", "cand-1")
	assert.Empty(t, h.media.snapshot().candidates)

	h.negotiation(call.ID, domain.NegotiationOffer, "offer-sdp", "")
	h.waitFor(func() bool { return len(h.signaling.sentNamed(domain.EventNegotiationAnswer)) == 1 }, "answer never sent")
	calls := h.media.snapshot()
	assert.Equal(t, []string{"offer-sdp"}, calls.offers)
	assert.Equal(t, []string{"cand-1"}, calls.candidates)

	h.media.currentListener().OnConnected()
	h.waitPhase(domain.PhaseActive)
	assert.Equal(t, domain.RoleCallee, h.m.Snapshot().Role)
}

func TestIncomingCallRingTimeout(t *testing.T) {
	h := newHarness(t, nil)
	call := h.incomingCall(domain.KindAudio)

	h.tick(44)
	assert.Equal(t, domain.PhaseIncoming, h.phase())
	assert.Equal(t, 44, h.m.Snapshot().RingElapsedSeconds)

	h.tick(1)
	snap := h.m.Snapshot()
	assert.Equal(t, domain.PhaseEnded, snap.Phase)
	assert.Equal(t, domain.ReasonTimeout, snap.EndReason)
	assert.True(t, errors.Is(snap.LastError, domain.ErrTimeout))
	assert.Equal(t, "no answer", snap.EndMessage())

	_, _, missed := h.alerter.state()
	assert.Equal(t, 1, missed)
	h.waitFor(func() bool { return len(h.lifecycle.respondRequests()) == 1 }, "reject never sent")
	assert.Equal(t, respondRequest{callID: call.ID, response: domain.ResponseReject}, h.lifecycle.respondRequests()[0])
}

func TestOutgoingCallRejected(t *testing.T) {
	h := newHarness(t, nil)
	call := h.outgoingCall(domain.KindAudio)
	assert.Equal(t, domain.PhaseOutgoing, h.phase())

	h.signal(domain.EventCallResponse, domain.CallResponse{CallID: call.ID, Accepted: false})
	snap := h.m.Snapshot()
	assert.Equal(t, domain.PhaseEnded, snap.Phase)
	assert.Equal(t, domain.ReasonRejected, snap.EndReason)
	assert.Equal(t, "declined", snap.EndMessage())
	assert.Zero(t, h.media.cleanupCount(), "media never started")
}

func TestStartCallFailureStaysIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.lifecycle.createFn = func(domain.UserID, domain.CallKind) (domain.Call, error) {
		return domain.Call{}, fmt.Errorf("%w: recipient busy", domain.ErrConflict)
	}

	_, err := h.m.StartCall(h.ctx(), h.peer, domain.KindAudio)
	require.ErrorIs(t, err, domain.ErrConflict)
	h.sync()
	snap := h.m.Snapshot()
	assert.Equal(t, domain.PhaseIdle, snap.Phase)
	assert.ErrorIs(t, snap.LastError, domain.ErrConflict)
}

func TestStartCallValidation(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.m.StartCall(h.ctx(), h.self, domain.KindAudio)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.m.StartCall(h.ctx(), h.peer, domain.CallKind("hologram"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	h.outgoingCall(domain.KindAudio)
	_, err = h.m.StartCall(h.ctx(), domain.NewUserID(), domain.KindAudio)
	assert.ErrorIs(t, err, domain.ErrInvalidPhase)
}

func TestEndCallIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.activeCallerCall(domain.KindAudio)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.m.EndCall(h.ctx()))
	}
	h.sync()
	assert.Equal(t, domain.PhaseEnded, h.phase())

	h.waitFor(func() bool { return len(h.lifecycle.endRequests()) >= 1 }, "end request never sent")
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.lifecycle.endRequests(), 1)
	assert.Equal(t, 1, h.media.cleanupCount())
}

func TestEndCallWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.m.EndCall(h.ctx()))
	h.sync()
	assert.Equal(t, domain.PhaseIdle, h.phase())
	assert.Empty(t, h.lifecycle.endRequests())
}

func TestStaleCallEndedIgnored(t *testing.T) {
	h := newHarness(t, nil)
	call := h.activeCallerCall(domain.KindAudio)

	h.signal(domain.EventCallEnded, domain.CallEnded{CallID: domain.NewCallID(), Reason: domain.ReasonHangup})
	assert.Equal(t, domain.PhaseActive, h.phase())

	h.signal(domain.EventCallEnded, domain.CallEnded{CallID: call.ID, Reason: domain.ReasonHangup, EndedBy: h.peer})
	snap := h.m.Snapshot()
	assert.Equal(t, domain.PhaseEnded, snap.Phase)
	assert.Equal(t, domain.ReasonHangup, snap.EndReason)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.lifecycle.endRequests(), "remote end is not echoed back")
}

func TestRingTimerCancelledAfterAccept(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.NegotiationTimeout = 0 })
	h.incomingCall(domain.KindAudio)
	require.NoError(t, h.m.Accept(h.ctx(), ""))
	h.sync()

	h.tick(120)
	assert.Equal(t, domain.PhaseNegotiating, h.phase())
	_, _, missed := h.alerter.state()
	assert.Zero(t, missed)
}

func TestNegotiationTimeout(t *testing.T) {
	h := newHarness(t, nil)
	call := h.outgoingCall(domain.KindAudio)
	h.signal(domain.EventCallResponse, domain.CallResponse{CallID: call.ID, Accepted: true})

	h.tick(29)
	assert.Equal(t, domain.PhaseNegotiating, h.phase())
	h.tick(1)
	snap := h.m.Snapshot()
	assert.Equal(t, domain.PhaseEnded, snap.Phase)
	assert.Equal(t, domain.ReasonTimeout, snap.EndReason)
	assert.True(t, snap.Answered)
	assert.Equal(t, "call timed out", snap.EndMessage(), "the peer answered, so this is not a missed call")
	h.waitFor(func() bool { return len(h.lifecycle.endRequests()) == 1 }, "end request never sent")
	assert.Equal(t, domain.ReasonTimeout, h.lifecycle.endRequests()[0].reason)
}

func TestOutgoingRingTimeout(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.OutgoingRingTimeout = 5 * time.Second })
	h.outgoingCall(domain.KindAudio)
	h.tick(5)
	assert.Equal(t, domain.ReasonTimeout, h.m.Snapshot().EndReason)
}

func TestQualityWarningOnlyOnDegradation(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.m.Subscribe()
	defer sub.Close()

	var (
		mu         sync.Mutex
		advisories []Advisory
	)
	go func() {
		for u := range sub.Updates() {
			mu.Lock()
			advisories = append(advisories, u.Advisories...)
			mu.Unlock()
		}
	}()
	count := func(kind AdvisoryKind) int {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, a := range advisories {
			if a.Kind == kind {
				n++
			}
		}
		return n
	}

	h.activeCallerCall(domain.KindVideo)
	h.media.setStats(domain.PeerStats{LatencyMs: 250, JitterMs: 10, PacketLossPct: 1})

	for i := 1; i <= 3; i++ {
		h.tick(1)
		want := i
		h.waitFor(func() bool { return count(AdvisoryQualityUpdate) == want }, "quality update missing")
	}
	assert.Equal(t, 1, count(AdvisoryQualityWarning))

	snap := h.m.Snapshot()
	require.Contains(t, snap.Quality, h.peer)
	assert.Equal(t, domain.QualityPoor, snap.Quality[h.peer].Level)
	assert.Equal(t, domain.PhaseActive, snap.Phase, "advisories never change the phase")
}

func TestBusyAutoReject(t *testing.T) {
	h := newHarness(t, nil)
	first := h.incomingCall(domain.KindAudio)

	other, err := domain.NewCall(domain.NewUserID(), h.self, domain.KindAudio, h.now)
	require.NoError(t, err)
	h.signal(domain.EventCallIncoming, domain.CallIncoming{Call: *other})

	snap := h.m.Snapshot()
	assert.Equal(t, domain.PhaseIncoming, snap.Phase)
	assert.Equal(t, first.ID, snap.Call.ID)
	h.waitFor(func() bool { return len(h.lifecycle.respondRequests()) == 1 }, "busy reject never sent")
	assert.Equal(t, respondRequest{callID: other.ID, response: domain.ResponseReject}, h.lifecycle.respondRequests()[0])
}

func TestIncomingForAnotherUserIgnored(t *testing.T) {
	h := newHarness(t, nil)
	call, err := domain.NewCall(h.peer, domain.NewUserID(), domain.KindAudio, h.now)
	require.NoError(t, err)
	h.signal(domain.EventCallIncoming, domain.CallIncoming{Call: *call})
	assert.Equal(t, domain.PhaseIdle, h.phase())
}

func TestNotifyIncomingGate(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.NotifyIncoming = false })
	h.incomingCall(domain.KindAudio)
	ringing, notified, _ := h.alerter.state()
	assert.True(t, ringing)
	assert.Zero(t, notified)
}

func TestCapturePermissionDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.media.captureErr = fmt.Errorf("%w: camera blocked", domain.ErrPermission)
	call := h.incomingCall(domain.KindVideo)

	require.NoError(t, h.m.Accept(h.ctx(), ""))
	h.waitPhase(domain.PhaseEnded)
	snap := h.m.Snapshot()
	assert.Equal(t, domain.ReasonPermission, snap.EndReason)
	assert.ErrorIs(t, snap.LastError, domain.ErrPermission)
	assert.Equal(t, "permission denied", snap.EndMessage())
	h.waitFor(func() bool { return len(h.lifecycle.endRequests()) == 1 }, "end request never sent")
	assert.Equal(t, endRequest{callID: call.ID, reason: domain.ReasonPermission}, h.lifecycle.endRequests()[0])
}

func TestMediaFailureEndsCall(t *testing.T) {
	h := newHarness(t, nil)
	h.activeCallerCall(domain.KindAudio)
	h.media.currentListener().OnFailed(errors.New("ice failed"))
	h.waitPhase(domain.PhaseEnded)
	snap := h.m.Snapshot()
	assert.Equal(t, domain.ReasonFailed, snap.EndReason)
	assert.ErrorIs(t, snap.LastError, domain.ErrNegotiation)
}

func TestDeclineAndInvalidPhases(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.m.Accept(h.ctx(), ""), domain.ErrInvalidPhase)
	assert.ErrorIs(t, h.m.Decline(h.ctx()), domain.ErrInvalidPhase)
	assert.ErrorIs(t, h.m.Cancel(h.ctx()), domain.ErrInvalidPhase)
	assert.ErrorIs(t, h.m.ToggleMute(h.ctx()), domain.ErrInvalidPhase)

	call := h.incomingCall(domain.KindAudio)
	require.NoError(t, h.m.Decline(h.ctx()))
	h.sync()
	assert.Equal(t, domain.ReasonRejected, h.m.Snapshot().EndReason)
	h.waitFor(func() bool { return len(h.lifecycle.respondRequests()) == 1 }, "reject never sent")
	assert.Equal(t, domain.ResponseReject, h.lifecycle.respondRequests()[0].response)

	// A fresh call replaces the finished session.
	next := h.incomingCall(domain.KindAudio)
	assert.NotEqual(t, call.ID, next.ID)
	assert.Equal(t, domain.PhaseIncoming, h.phase())
}

func TestCancelOutgoing(t *testing.T) {
	h := newHarness(t, nil)
	call := h.outgoingCall(domain.KindAudio)
	require.NoError(t, h.m.Cancel(h.ctx()))
	h.sync()
	assert.Equal(t, domain.ReasonCancelled, h.m.Snapshot().EndReason)
	h.waitFor(func() bool { return len(h.lifecycle.endRequests()) == 1 }, "end request never sent")
	assert.Equal(t, endRequest{callID: call.ID, reason: domain.ReasonCancelled}, h.lifecycle.endRequests()[0])
}

func TestToggles(t *testing.T) {
	h := newHarness(t, nil)
	call := h.activeCallerCall(domain.KindAudio)

	require.NoError(t, h.m.ToggleMute(h.ctx()))
	h.sync()
	assert.True(t, h.m.Snapshot().Muted)
	assert.Equal(t, []bool{false}, h.media.snapshot().audio)
	h.waitFor(func() bool { return len(h.signaling.sentNamed(domain.EventMuteChanged)) == 1 }, "mute change never relayed")

	var p domain.MuteChanged
	require.NoError(t, h.signaling.sentNamed(domain.EventMuteChanged)[0].Decode(&p))
	assert.Equal(t, domain.MuteChanged{CallID: call.ID, UserID: h.self, Muted: true}, p)

	assert.ErrorIs(t, h.m.ToggleVideo(h.ctx()), domain.ErrValidation, "audio call has no camera")

	h.signal(domain.EventMuteChanged, domain.MuteChanged{CallID: call.ID, UserID: h.peer, Muted: true})
	assert.True(t, h.m.Snapshot().Remote.Muted)
}

func TestLastObserverLeavingCancelsOutgoing(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.m.Subscribe()
	h.outgoingCall(domain.KindAudio)

	sub.Close()
	h.sync()
	assert.Equal(t, domain.PhaseEnded, h.phase())
	assert.Equal(t, domain.ReasonCancelled, h.m.Snapshot().EndReason)
}

func TestResyncAfterReconnect(t *testing.T) {
	t.Run("accepted while offline", func(t *testing.T) {
		h := newHarness(t, nil)
		call := h.outgoingCall(domain.KindAudio)
		connected := call
		connected.Status = domain.StatusConnected
		h.lifecycle.getCall = connected

		h.signal(domain.EventConnectionLost, nil)
		h.signal(domain.EventConnectionRestored, nil)
		h.waitPhase(domain.PhaseNegotiating)
	})

	t.Run("ended while offline", func(t *testing.T) {
		h := newHarness(t, nil)
		call := h.incomingCall(domain.KindAudio)
		ended := call
		ended.Status = domain.StatusMissed
		ended.EndReason = domain.ReasonCancelled
		h.lifecycle.getCall = ended

		h.signal(domain.EventConnectionRestored, nil)
		h.waitPhase(domain.PhaseEnded)
		assert.Equal(t, domain.ReasonCancelled, h.m.Snapshot().EndReason)
		_, _, missed := h.alerter.state()
		assert.Equal(t, 1, missed)
	})

	t.Run("gone from registry", func(t *testing.T) {
		h := newHarness(t, nil)
		h.outgoingCall(domain.KindAudio)
		h.lifecycle.getErr = domain.ErrNotFound

		h.signal(domain.EventConnectionRestored, nil)
		h.waitPhase(domain.PhaseEnded)
	})
}

func TestStartCallHonoursContext(t *testing.T) {
	h := newHarness(t, nil)
	block := make(chan struct{})
	h.lifecycle.createFn = func(domain.UserID, domain.CallKind) (domain.Call, error) {
		<-block
		return domain.Call{}, errors.New("unreachable")
	}
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.m.StartCall(ctx, h.peer, domain.KindAudio)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSignalFramesKeepSendOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.signaling.latency = func() time.Duration { return time.Duration(rand.Int63n(int64(2 * time.Millisecond))) }
	h.activeCallerCall(domain.KindAudio)

	const toggles = 50
	for i := 0; i < toggles; i++ {
		require.NoError(t, h.m.ToggleMute(h.ctx()))
	}
	h.waitFor(func() bool { return len(h.signaling.sentNamed(domain.EventMuteChanged)) == toggles }, "mute changes never all sent")

	for i, ev := range h.signaling.sentNamed(domain.EventMuteChanged) {
		var p domain.MuteChanged
		require.NoError(t, ev.Decode(&p))
		require.Equal(t, i%2 == 0, p.Muted, "frame %d out of order", i)
	}
	assert.False(t, h.m.Snapshot().Muted)
}

func TestAcceptNetworkFailureStillEnds(t *testing.T) {
	h := newHarness(t, nil)
	netErr := errors.New("dial tcp: connection refused")
	h.lifecycle.respErr = netErr
	call := h.incomingCall(domain.KindAudio)

	require.NoError(t, h.m.Accept(h.ctx(), ""))
	h.waitPhase(domain.PhaseEnded)
	snap := h.m.Snapshot()
	assert.Equal(t, domain.ReasonFailed, snap.EndReason)
	assert.ErrorIs(t, snap.LastError, netErr)
	assert.False(t, snap.LocalMediaReady)

	h.waitFor(func() bool { return len(h.lifecycle.endRequests()) == 1 }, "end request never sent")
	assert.Equal(t, endRequest{callID: call.ID, reason: domain.ReasonFailed}, h.lifecycle.endRequests()[0])
	assert.GreaterOrEqual(t, h.media.cleanupCount(), 1, "capture is released")
}

func TestDeclineNetworkFailureStillEnds(t *testing.T) {
	h := newHarness(t, nil)
	h.lifecycle.respErr = errors.New("network is unreachable")
	call := h.incomingCall(domain.KindAudio)

	require.NoError(t, h.m.Decline(h.ctx()))
	h.sync()
	snap := h.m.Snapshot()
	assert.Equal(t, domain.PhaseEnded, snap.Phase)
	assert.Equal(t, domain.ReasonRejected, snap.EndReason)
	assert.NoError(t, snap.LastError, "a failed reject is only logged")
	ringing, _, _ := h.alerter.state()
	assert.False(t, ringing)

	h.waitFor(func() bool { return len(h.lifecycle.respondRequests()) == 1 }, "reject never sent")
	assert.Equal(t, respondRequest{callID: call.ID, response: domain.ResponseReject}, h.lifecycle.respondRequests()[0])
	assert.Empty(t, h.lifecycle.endRequests())
}

func TestEndCallTwiceFromNegotiating(t *testing.T) {
	h := newHarness(t, nil)
	call := h.outgoingCall(domain.KindVideo)
	h.signal(domain.EventCallResponse, domain.CallResponse{CallID: call.ID, Accepted: true})
	require.Equal(t, domain.PhaseNegotiating, h.phase())

	require.NoError(t, h.m.EndCall(h.ctx()))
	require.NoError(t, h.m.EndCall(h.ctx()))
	h.sync()
	assert.Equal(t, domain.PhaseEnded, h.phase())
	assert.Equal(t, "call ended", h.m.Snapshot().EndMessage())

	h.waitFor(func() bool { return len(h.lifecycle.endRequests()) >= 1 }, "end request never sent")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []endRequest{{callID: call.ID, reason: domain.ReasonHangup}}, h.lifecycle.endRequests())
}

func TestLocalEndRacesRemoteEnd(t *testing.T) {
	t.Run("decline first", func(t *testing.T) {
		h := newHarness(t, nil)
		call := h.incomingCall(domain.KindAudio)

		require.NoError(t, h.m.Decline(h.ctx()))
		h.signal(domain.EventCallEnded, domain.CallEnded{CallID: call.ID, Reason: domain.ReasonCancelled})

		snap := h.m.Snapshot()
		assert.Equal(t, domain.PhaseEnded, snap.Phase)
		assert.Equal(t, domain.ReasonRejected, snap.EndReason)
		_, _, missed := h.alerter.state()
		assert.Zero(t, missed)
		h.waitFor(func() bool { return len(h.lifecycle.respondRequests()) == 1 }, "reject never sent")
	})

	t.Run("remote end first", func(t *testing.T) {
		h := newHarness(t, nil)
		call := h.incomingCall(domain.KindAudio)

		h.signal(domain.EventCallEnded, domain.CallEnded{CallID: call.ID, Reason: domain.ReasonCancelled})
		require.NoError(t, h.m.Decline(h.ctx()), "losing the race is not an error")
		h.sync()

		assert.Equal(t, domain.ReasonCancelled, h.m.Snapshot().EndReason)
		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, h.lifecycle.respondRequests())
	})

	t.Run("cancel after remote end", func(t *testing.T) {
		h := newHarness(t, nil)
		call := h.outgoingCall(domain.KindAudio)

		h.signal(domain.EventCallEnded, domain.CallEnded{CallID: call.ID, Reason: domain.ReasonRejected})
		require.NoError(t, h.m.Cancel(h.ctx()))
		h.sync()

		assert.Equal(t, domain.ReasonRejected, h.m.Snapshot().EndReason)
		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, h.lifecycle.endRequests())
	})
}

func TestLeavingWhileCallIsBeingCreated(t *testing.T) {
	for name, leave := range map[string]func(h *harness) error{
		"cancel": func(h *harness) error { return h.m.Cancel(h.ctx()) },
		"end":    func(h *harness) error { return h.m.EndCall(h.ctx()) },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			entered := make(chan struct{})
			release := make(chan struct{})
			h.lifecycle.createFn = func(recipient domain.UserID, kind domain.CallKind) (domain.Call, error) {
				close(entered)
				<-release
				call, err := domain.NewCall(h.self, recipient, kind, time.Now())
				if err != nil {
					return domain.Call{}, err
				}
				return *call, nil
			}

			type started struct {
				call domain.Call
				err  error
			}
			done := make(chan started, 1)
			go func() {
				call, err := h.m.StartCall(context.Background(), h.peer, domain.KindAudio)
				done <- started{call: call, err: err}
			}()

			<-entered
			require.NoError(t, leave(h))
			close(release)

			res := <-done
			require.NoError(t, res.err)
			h.sync()
			snap := h.m.Snapshot()
			assert.Equal(t, domain.PhaseEnded, snap.Phase)
			assert.Equal(t, domain.ReasonCancelled, snap.EndReason)

			h.waitFor(func() bool { return len(h.lifecycle.endRequests()) == 1 }, "end request never sent")
			assert.Equal(t, endRequest{callID: res.call.ID, reason: domain.ReasonCancelled}, h.lifecycle.endRequests()[0])
		})
	}
}

func TestEndedReturnsToIdle(t *testing.T) {
	t.Run("after the hold", func(t *testing.T) {
		h := newHarness(t, func(cfg *Config) { cfg.EndedHold = 2 * time.Second })
		call := h.incomingCall(domain.KindAudio)
		require.NoError(t, h.m.Decline(h.ctx()))
		h.sync()
		assert.Equal(t, "declined", h.m.Snapshot().EndMessage())

		h.tick(1)
		assert.Equal(t, domain.PhaseEnded, h.phase())
		h.tick(1)
		snap := h.m.Snapshot()
		assert.Equal(t, domain.PhaseIdle, snap.Phase)
		assert.Nil(t, snap.Call)

		// A replayed incoming for the finished call does not ring again.
		h.signal(domain.EventCallIncoming, domain.CallIncoming{Call: call})
		assert.Equal(t, domain.PhaseIdle, h.phase())

		h.incomingCall(domain.KindAudio)
		assert.Equal(t, domain.PhaseIncoming, h.phase())
	})

	t.Run("zero hold keeps the last session visible", func(t *testing.T) {
		h := newHarness(t, func(cfg *Config) { cfg.EndedHold = 0 })
		h.incomingCall(domain.KindAudio)
		require.NoError(t, h.m.Decline(h.ctx()))
		h.tick(10)
		assert.Equal(t, domain.PhaseEnded, h.phase())
	})
}
