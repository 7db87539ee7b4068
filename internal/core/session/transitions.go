package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type notifyMode int

const (
	notifyNone notifyMode = iota
	notifyEnd
	notifyReject
)

func invalidPhase(action actionKind, phase domain.Phase) error {
	return fmt.Errorf("%w: %s in %s", domain.ErrInvalidPhase, action, phase)
}

func (m *Machine) handleAction(a localAction) {
	var err error
	switch a.kind {
	case actStart:
		// Answered asynchronously once the registry replies.
		m.startCall(a)
		return
	case actAccept:
		err = m.accept(a.callKind)
	case actDecline:
		err = m.decline()
	case actCancel:
		err = m.cancel()
	case actEnd:
		m.endCurrent()
	case actToggleMute:
		err = m.toggleMute()
	case actToggleVideo:
		err = m.toggleVideo()
	}
	if err != nil {
		m.log.Debug().Err(err).Str("action", a.kind.String()).Msg("Local action rejected")
	}
	a.reply <- result{err: err}
}

func (m *Machine) startCall(a localAction) {
	if m.starting != nil || m.phase().Live() {
		a.reply <- result{err: invalidPhase(actStart, m.phase())}
		return
	}
	switch {
	case a.recipient.IsZero():
		a.reply <- result{err: fmt.Errorf("%w: recipient is required", domain.ErrValidation)}
		return
	case a.recipient == m.cfg.Self:
		a.reply <- result{err: fmt.Errorf("%w: cannot call yourself", domain.ErrValidation)}
		return
	case !a.callKind.Valid():
		a.reply <- result{err: fmt.Errorf("%w: unknown call kind %q", domain.ErrValidation, a.callKind)}
		return
	}

	m.gen++
	gen := m.gen
	m.starting = &pendingStart{gen: gen, reply: a.reply}
	m.idleErr = nil

	recipient, kind := a.recipient, a.callKind
	m.async(func() event {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
		defer cancel()
		call, err := m.lifecycle.CreateCall(ctx, recipient, kind)
		return callCreated{gen: gen, call: call, err: err}
	})
}

func (m *Machine) handleCallCreated(e callCreated) {
	ps := m.starting
	if ps == nil || ps.gen != e.gen {
		return
	}
	m.starting = nil

	if e.err != nil {
		m.log.Warn().Err(e.err).Msg("Call could not be created")
		m.idleErr = e.err
		m.dirty = true
		ps.reply <- result{err: e.err}
		return
	}

	m.beginSession(e.call, domain.RoleCaller, e.gen)
	if m.fire(evDial) {
		m.enterRinging(m.cfg.OutgoingRingTimeout, TimerOutgoingRing)
	}
	ps.reply <- result{call: e.call}

	if ps.aborted {
		m.finish(domain.ReasonCancelled, nil, notifyEnd)
	}
}

// beginSession replaces the finished session, if any, with a fresh one.
func (m *Machine) beginSession(call domain.Call, role domain.Role, gen uint64) {
	if m.phase() == domain.PhaseEnded {
		m.fire(evReset)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.sess = &state{
		gen:          gen,
		call:         call,
		role:         role,
		ctx:          ctx,
		cancel:       cancel,
		videoEnabled: call.Kind.HasVideo(),
		quality:      make(map[domain.UserID]domain.QualitySample),
	}
	m.idleErr = nil
	m.dirty = true
}

func (m *Machine) enterRinging(timeout time.Duration, kind TimerKind) {
	s := m.sess
	m.sup.CancelAll()
	m.sup.Arm(kind, timeout)
	m.sup.StartRingCounter()
	m.alerter.StartRinging(s.call, s.role)
	if s.role == domain.RoleCallee && m.cfg.NotifyIncoming {
		m.alerter.NotifyIncoming(s.call)
	}
}

func (m *Machine) enterNegotiating(video bool) {
	s := m.sess
	m.sup.CancelAll()
	m.alerter.StopRinging()
	m.sup.Arm(TimerNegotiation, m.cfg.NegotiationTimeout)
	s.videoEnabled = video
	m.startCapture(video)
}

func (m *Machine) enterActive() {
	s := m.sess
	m.sup.Cancel(TimerNegotiation)
	m.sup.StartActiveCounter()
	m.quality.Reset()
	s.remoteMediaReady = true
	m.dirty = true
}

// finish is the only path into Ending and Ended. It is a no-op once the
// session is over, which makes every end request idempotent.
func (m *Machine) finish(reason domain.EndReason, cause error, notify notifyMode) {
	s := m.sess
	if s == nil || !m.phase().Live() {
		return
	}
	if !m.fire(evHangup) {
		return
	}

	m.sup.CancelAll()
	m.alerter.StopRinging()
	s.cancel()
	if s.mediaOwned {
		if err := m.media.Cleanup(); err != nil {
			m.log.Warn().Err(err).Str("call_id", s.call.ID.String()).Msg("Media cleanup failed")
		}
		s.mediaOwned = false
	}
	s.localMediaReady = false
	s.remoteMediaReady = false
	s.pendingOffer = nil
	s.pendingCandidates = nil
	s.endReason = reason
	if cause != nil {
		s.lastError = cause
	}

	switch notify {
	case notifyEnd:
		m.sendEnd(s.call.ID, reason)
	case notifyReject:
		m.sendReject(s.call.ID)
	}

	m.fire(evFinish)
	m.sup.Arm(TimerEndedHold, m.cfg.EndedHold)
	m.metrics.Ended(reason)
	m.log.Info().Str("call_id", s.call.ID.String()).Str("reason", string(reason)).Msg("Session ended")
}

// endCurrent leaves the current call with the reason its phase implies.
func (m *Machine) endCurrent() {
	if m.starting != nil {
		m.starting.aborted = true
	}
	switch m.phase() {
	case domain.PhaseOutgoing:
		m.finish(domain.ReasonCancelled, nil, notifyEnd)
	case domain.PhaseIncoming:
		m.finish(domain.ReasonRejected, nil, notifyReject)
	case domain.PhaseNegotiating, domain.PhaseActive:
		m.finish(domain.ReasonHangup, nil, notifyEnd)
	}
}

func (m *Machine) accept(kind domain.CallKind) error {
	if m.phase() != domain.PhaseIncoming {
		return invalidPhase(actAccept, m.phase())
	}
	if kind != "" && !kind.Valid() {
		return fmt.Errorf("%w: unknown call kind %q", domain.ErrValidation, kind)
	}
	s := m.sess
	video := s.call.Kind.HasVideo() && kind != domain.KindAudio
	s.accepted = true
	if !m.fire(evAnswer) {
		return invalidPhase(actAccept, m.phase())
	}
	m.enterNegotiating(video)

	gen, callID := s.gen, s.call.ID
	m.async(func() event {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
		defer cancel()
		call, err := m.lifecycle.RespondToCall(ctx, callID, domain.ResponseAccept)
		return acceptResponded{gen: gen, call: call, err: err}
	})
	return nil
}

func (m *Machine) handleAcceptResponded(e acceptResponded) {
	s := m.current(e.gen)
	if s == nil {
		return
	}
	switch {
	case e.err == nil:
		if e.call.ID == s.call.ID {
			s.call = e.call
			m.dirty = true
		}
	case alreadyResolved(e.err):
		m.log.Info().Err(e.err).Str("call_id", s.call.ID.String()).Msg("Call resolved before it was accepted")
		m.finish(domain.ReasonCancelled, nil, notifyNone)
	default:
		m.log.Warn().Err(e.err).Str("call_id", s.call.ID.String()).Msg("Accept request failed")
		m.finish(domain.ReasonFailed, e.err, notifyEnd)
	}
}

func (m *Machine) decline() error {
	if m.phase() == domain.PhaseEnded {
		// Lost the race against the remote end.
		return nil
	}
	if m.phase() != domain.PhaseIncoming {
		return invalidPhase(actDecline, m.phase())
	}
	m.finish(domain.ReasonRejected, nil, notifyReject)
	return nil
}

func (m *Machine) cancel() error {
	if m.starting != nil {
		m.starting.aborted = true
		return nil
	}
	if m.phase() == domain.PhaseEnded {
		return nil
	}
	if m.phase() != domain.PhaseOutgoing {
		return invalidPhase(actCancel, m.phase())
	}
	m.finish(domain.ReasonCancelled, nil, notifyEnd)
	return nil
}

func (m *Machine) mediaControllable() bool {
	switch m.phase() {
	case domain.PhaseActive:
		return true
	case domain.PhaseNegotiating:
		return m.sess.busy == 0 && m.sess.localMediaReady
	default:
		return false
	}
}

func (m *Machine) toggleMute() error {
	if !m.mediaControllable() {
		return invalidPhase(actToggleMute, m.phase())
	}
	s := m.sess
	muted := !s.muted
	if err := m.media.SetAudioEnabled(!muted); err != nil {
		return err
	}
	s.muted = muted
	m.dirty = true

	ev, err := domain.NewEvent(domain.EventMuteChanged, domain.MuteChanged{CallID: s.call.ID, UserID: m.cfg.Self, Muted: muted})
	if err == nil {
		m.sendSignal(ev)
	}
	return nil
}

func (m *Machine) toggleVideo() error {
	if !m.mediaControllable() {
		return invalidPhase(actToggleVideo, m.phase())
	}
	s := m.sess
	if !s.call.Kind.HasVideo() {
		return fmt.Errorf("%w: audio call has no video", domain.ErrValidation)
	}
	enabled := !s.videoEnabled
	if err := m.media.SetVideoEnabled(enabled); err != nil {
		return err
	}
	s.videoEnabled = enabled
	m.dirty = true

	ev, err := domain.NewEvent(domain.EventVideoChanged, domain.VideoChanged{CallID: s.call.ID, UserID: m.cfg.Self, Enabled: enabled})
	if err == nil {
		m.sendSignal(ev)
	}
	return nil
}

func (m *Machine) handleSignal(ev domain.Event) {
	switch ev.Name {
	case domain.EventCallIncoming:
		var p domain.CallIncoming
		if m.decode(ev, &p) {
			m.onIncoming(p.Call)
		}
	case domain.EventCallResponse:
		var p domain.CallResponse
		if m.decode(ev, &p) {
			m.onResponse(p)
		}
	case domain.EventCallEnded:
		var p domain.CallEnded
		if m.decode(ev, &p) {
			m.onRemoteEnded(p)
		}
	case domain.EventNegotiationOffer, domain.EventNegotiationAnswer, domain.EventNegotiationCandidate:
		msg, err := domain.NegotiationFromEvent(ev)
		if err != nil {
			m.log.Warn().Err(err).Msg("Dropping malformed negotiation event")
			return
		}
		m.onNegotiation(msg)
	case domain.EventMuteChanged:
		var p domain.MuteChanged
		if m.decode(ev, &p) {
			if s := m.remoteScoped(p.CallID, p.UserID); s != nil {
				s.remote.Muted = p.Muted
				m.dirty = true
			}
		}
	case domain.EventVideoChanged:
		var p domain.VideoChanged
		if m.decode(ev, &p) {
			if s := m.remoteScoped(p.CallID, p.UserID); s != nil {
				s.remote.VideoEnabled = p.Enabled
				m.dirty = true
			}
		}
	case domain.EventConnectionLost:
		m.log.Warn().Msg("Signaling connection lost")
	case domain.EventConnectionRestored:
		m.resync()
	case domain.EventError:
		var p domain.ErrorPayload
		if m.decode(ev, &p) {
			m.log.Warn().Str("code", p.Code).Str("message", p.Message).Msg("Signaling server reported an error")
		}
	default:
		m.log.Debug().Str("event", string(ev.Name)).Msg("Ignoring signaling event")
	}
}

func (m *Machine) decode(ev domain.Event, v any) bool {
	if err := ev.Decode(v); err != nil {
		m.log.Warn().Err(err).Msg("Dropping malformed signaling event")
		return false
	}
	return true
}

// remoteScoped returns the live session when the event concerns its call and
// comes from its peer.
func (m *Machine) remoteScoped(callID domain.CallID, from domain.UserID) *state {
	s := m.sess
	if s == nil || !m.phase().Live() || s.call.ID != callID || from != s.peer(m.cfg.Self) {
		return nil
	}
	return s
}

func (m *Machine) onIncoming(call domain.Call) {
	if call.RecipientID != m.cfg.Self {
		m.log.Debug().Str("call_id", call.ID.String()).Msg("Ignoring call addressed to another user")
		return
	}
	if s := m.sess; s != nil && s.call.ID == call.ID {
		return
	}
	if m.starting != nil || m.phase().Live() {
		m.log.Info().Str("call_id", call.ID.String()).Msg("Busy, rejecting incoming call")
		m.sendReject(call.ID)
		return
	}

	m.gen++
	m.beginSession(call, domain.RoleCallee, m.gen)
	if m.fire(evRing) {
		m.enterRinging(m.cfg.IncomingRingTimeout, TimerIncomingRing)
	}
}

func (m *Machine) onResponse(p domain.CallResponse) {
	s := m.sess
	callID := p.Call.ID
	if callID.IsZero() {
		callID = p.CallID
	}
	if s == nil || m.phase() != domain.PhaseOutgoing || s.call.ID != callID {
		m.log.Debug().Str("call_id", callID.String()).Msg("Ignoring stale call response")
		return
	}
	if !p.Call.ID.IsZero() {
		s.call = p.Call
	}
	if !p.Accepted {
		m.finish(domain.ReasonRejected, nil, notifyEnd)
		return
	}
	m.answered()
}

// answered moves the caller to Negotiating once the peer accepted.
func (m *Machine) answered() {
	s := m.sess
	s.accepted = true
	if m.fire(evAnswer) {
		m.enterNegotiating(s.call.Kind.HasVideo())
	}
}

func (m *Machine) onRemoteEnded(p domain.CallEnded) {
	s := m.sess
	if s == nil || s.call.ID != p.CallID || !m.phase().Live() {
		m.log.Debug().Str("call_id", p.CallID.String()).Msg("Ignoring end of unrelated call")
		return
	}
	reason := p.Reason
	if reason == domain.ReasonNone {
		reason = domain.ReasonHangup
	}
	if m.phase() == domain.PhaseIncoming {
		m.alerter.MissedCall(s.call)
	}
	m.finish(reason, nil, notifyNone)
}

func (m *Machine) handleObserverDetached() {
	m.mu.RLock()
	observers := len(m.subs)
	m.mu.RUnlock()
	if observers > 0 {
		return
	}
	if m.starting != nil {
		m.starting.aborted = true
		return
	}
	s := m.sess
	if s != nil && m.phase() == domain.PhaseOutgoing && s.role == domain.RoleCaller && !s.accepted {
		m.log.Info().Str("call_id", s.call.ID.String()).Msg("Last observer left, cancelling outgoing call")
		m.finish(domain.ReasonCancelled, nil, notifyEnd)
	}
}

func (m *Machine) handleTick(now time.Time) {
	live := m.phase().Live()
	for _, kind := range m.sup.Tick() {
		m.handleTimeout(kind)
	}
	if live {
		m.dirty = true
	}
	if m.phase() == domain.PhaseActive && m.quality.Due(now) {
		m.collectStats(now)
	}
}

func (m *Machine) handleTimeout(kind TimerKind) {
	s := m.sess
	if s == nil {
		return
	}
	if kind == TimerEndedHold {
		// m.sess outlives the reset so a replayed call.incoming for it is
		// still recognised.
		if m.phase() == domain.PhaseEnded {
			m.fire(evReset)
		}
		return
	}
	m.log.Info().Str("call_id", s.call.ID.String()).Str("timer", string(kind)).Msg("Session timer expired")
	cause := fmt.Errorf("%w: %s", domain.ErrTimeout, kind)
	switch {
	case kind == TimerIncomingRing && m.phase() == domain.PhaseIncoming:
		m.alerter.MissedCall(s.call)
		m.finish(domain.ReasonTimeout, cause, notifyReject)
	case kind == TimerOutgoingRing && m.phase() == domain.PhaseOutgoing:
		m.finish(domain.ReasonTimeout, cause, notifyEnd)
	case kind == TimerNegotiation && m.phase() == domain.PhaseNegotiating:
		m.finish(domain.ReasonTimeout, cause, notifyEnd)
	}
}

func (m *Machine) resync() {
	s := m.sess
	if s == nil || !m.phase().Live() {
		m.log.Info().Msg("Signaling connection restored")
		return
	}
	m.log.Info().Str("call_id", s.call.ID.String()).Msg("Signaling connection restored, resyncing call")
	gen, callID := s.gen, s.call.ID
	m.async(func() event {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
		defer cancel()
		call, err := m.lifecycle.GetCall(ctx, callID)
		return resynced{gen: gen, call: call, err: err}
	})
}

func (m *Machine) handleResynced(e resynced) {
	s := m.current(e.gen)
	if s == nil {
		return
	}
	if e.err != nil {
		if errors.Is(e.err, domain.ErrNotFound) {
			m.finish(domain.ReasonHangup, nil, notifyNone)
			return
		}
		m.log.Warn().Err(e.err).Str("call_id", s.call.ID.String()).Msg("Call resync failed")
		return
	}

	call := e.call
	switch {
	case call.Status.Terminal():
		reason := call.EndReason
		if reason == domain.ReasonNone {
			reason = reasonForStatus(call.Status)
		}
		if m.phase() == domain.PhaseIncoming {
			m.alerter.MissedCall(call)
		}
		s.call = call
		m.finish(reason, nil, notifyNone)
	case call.Status == domain.StatusConnected && m.phase() == domain.PhaseOutgoing:
		s.call = call
		m.answered()
	case call.Status == domain.StatusConnected && m.phase() == domain.PhaseIncoming:
		// Answered on another device.
		s.call = call
		m.finish(domain.ReasonHangup, nil, notifyNone)
	default:
		s.call = call
		m.dirty = true
	}
}

func reasonForStatus(status domain.CallStatus) domain.EndReason {
	switch status {
	case domain.StatusRejected:
		return domain.ReasonRejected
	case domain.StatusMissed:
		return domain.ReasonTimeout
	case domain.StatusFailed:
		return domain.ReasonFailed
	default:
		return domain.ReasonHangup
	}
}

// alreadyResolved reports registry answers meaning the call was settled by
// someone else first.
func alreadyResolved(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation)
}
