package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// mediaSink forwards media engine notifications into the loop, tagged with
// the session that installed it.
type mediaSink struct {
	m   *Machine
	gen uint64
}

func (s *mediaSink) OnLocalCandidate(candidate string) {
	s.m.post(localCandidate{gen: s.gen, candidate: candidate})
}

func (s *mediaSink) OnConnected() {
	s.m.post(mediaConnected{gen: s.gen})
}

func (s *mediaSink) OnFailed(err error) {
	s.m.post(mediaFailed{gen: s.gen, err: err})
}

func negotiationFailed(err error) error {
	if errors.Is(err, domain.ErrNegotiation) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrNegotiation, err)
}

func (m *Machine) startCapture(video bool) {
	s := m.sess
	s.mediaOwned = true
	s.busy++
	m.media.SetListener(&mediaSink{m: m, gen: s.gen})

	ctx, gen := s.ctx, s.gen
	m.async(func() event {
		return captureDone{gen: gen, err: m.media.InitLocalCapture(ctx, video)}
	})
}

func (m *Machine) handleCaptureDone(e captureDone) {
	s := m.current(e.gen)
	if s == nil {
		// The session is gone; release whatever the late capture acquired
		// unless a newer session already owns the engine.
		if cur := m.sess; e.err == nil && (cur == nil || !cur.mediaOwned) {
			if err := m.media.Cleanup(); err != nil {
				m.log.Warn().Err(err).Msg("Late media cleanup failed")
			}
		}
		return
	}
	s.busy--

	if e.err != nil {
		if errors.Is(e.err, domain.ErrPermission) {
			m.log.Warn().Err(e.err).Str("call_id", s.call.ID.String()).Msg("Media capture denied")
			m.finish(domain.ReasonPermission, e.err, notifyEnd)
			return
		}
		m.log.Error().Err(e.err).Str("call_id", s.call.ID.String()).Msg("Media capture failed")
		m.finish(domain.ReasonFailed, negotiationFailed(e.err), notifyEnd)
		return
	}

	s.localMediaReady = true
	m.dirty = true

	if s.role == domain.RoleCaller {
		s.busy++
		ctx, gen := s.ctx, s.gen
		m.async(func() event {
			sdp, err := m.media.CreateOffer(ctx)
			return offerCreated{gen: gen, sdp: sdp, err: err}
		})
		return
	}
	m.applyPendingOffer()
}

// applyPendingOffer answers a buffered offer once local media is ready and
// no other media operation is running.
func (m *Machine) applyPendingOffer() {
	s := m.sess
	if s.pendingOffer == nil || !s.localMediaReady || s.busy > 0 {
		return
	}
	sdp := *s.pendingOffer
	s.pendingOffer = nil
	s.busy++

	ctx, gen := s.ctx, s.gen
	m.async(func() event {
		if err := m.media.HandleOffer(ctx, sdp); err != nil {
			return remoteDescriptionSet{gen: gen, err: err, final: true}
		}
		if !m.post(remoteDescriptionSet{gen: gen}) {
			return nil
		}
		answer, err := m.media.CreateAnswer(ctx)
		return answerCreated{gen: gen, sdp: answer, err: err}
	})
}

func (m *Machine) onNegotiation(msg domain.NegotiationMessage) {
	s := m.sess
	phase := m.phase()
	if s == nil || s.call.ID != msg.CallID || (phase != domain.PhaseNegotiating && phase != domain.PhaseActive) {
		m.log.Debug().Str("call_id", msg.CallID.String()).Str("type", string(msg.Type)).Msg("Ignoring negotiation message")
		return
	}
	if !msg.PeerID.IsZero() && msg.PeerID != s.peer(m.cfg.Self) {
		m.log.Warn().Str("call_id", msg.CallID.String()).Str("peer_id", msg.PeerID.String()).Msg("Negotiation message from a stranger")
		return
	}

	switch msg.Type {
	case domain.NegotiationOffer:
		if s.role != domain.RoleCallee || phase != domain.PhaseNegotiating || s.remoteDescSet {
			m.log.Debug().Str("call_id", msg.CallID.String()).Msg("Ignoring unexpected offer")
			return
		}
		sdp := msg.SDP
		s.pendingOffer = &sdp
		m.applyPendingOffer()
	case domain.NegotiationAnswer:
		if s.role != domain.RoleCaller || phase != domain.PhaseNegotiating || s.remoteDescSet {
			m.log.Debug().Str("call_id", msg.CallID.String()).Msg("Ignoring unexpected answer")
			return
		}
		s.busy++
		ctx, gen, sdp := s.ctx, s.gen, msg.SDP
		m.async(func() event {
			return remoteDescriptionSet{gen: gen, err: m.media.HandleAnswer(ctx, sdp), final: true}
		})
	case domain.NegotiationCandidate:
		if !s.remoteDescSet {
			s.pendingCandidates = append(s.pendingCandidates, msg.Candidate)
			return
		}
		m.addCandidate(msg.Candidate)
	}
}

func (m *Machine) addCandidate(candidate string) {
	if err := m.media.AddCandidate(m.sess.ctx, candidate); err != nil {
		m.log.Warn().Err(err).Str("call_id", m.sess.call.ID.String()).Msg("Remote candidate rejected")
	}
}

func (m *Machine) handleRemoteDescriptionSet(e remoteDescriptionSet) {
	s := m.current(e.gen)
	if s == nil {
		return
	}
	if e.final {
		s.busy--
	}
	if e.err != nil {
		m.log.Error().Err(e.err).Str("call_id", s.call.ID.String()).Msg("Remote description rejected")
		m.finish(domain.ReasonFailed, negotiationFailed(e.err), notifyEnd)
		return
	}
	s.remoteDescSet = true
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	for _, c := range pending {
		m.addCandidate(c)
	}
}

func (m *Machine) handleOfferCreated(e offerCreated) {
	s := m.current(e.gen)
	if s == nil {
		return
	}
	s.busy--
	if e.err != nil {
		m.log.Error().Err(e.err).Str("call_id", s.call.ID.String()).Msg("Offer creation failed")
		m.finish(domain.ReasonFailed, negotiationFailed(e.err), notifyEnd)
		return
	}
	m.sendNegotiation(domain.NegotiationOffer, e.sdp, "")
}

func (m *Machine) handleAnswerCreated(e answerCreated) {
	s := m.current(e.gen)
	if s == nil {
		return
	}
	s.busy--
	if e.err != nil {
		m.log.Error().Err(e.err).Str("call_id", s.call.ID.String()).Msg("Answer creation failed")
		m.finish(domain.ReasonFailed, negotiationFailed(e.err), notifyEnd)
		return
	}
	m.sendNegotiation(domain.NegotiationAnswer, e.sdp, "")
}

func (m *Machine) handleLocalCandidate(e localCandidate) {
	if m.current(e.gen) == nil {
		return
	}
	m.sendNegotiation(domain.NegotiationCandidate, "", e.candidate)
}

func (m *Machine) sendNegotiation(t domain.NegotiationType, sdp, candidate string) {
	s := m.sess
	msg := domain.NegotiationMessage{
		CallID:    s.call.ID,
		PeerID:    s.peer(m.cfg.Self),
		Type:      t,
		SDP:       sdp,
		Candidate: candidate,
	}
	ev, err := msg.Event()
	if err != nil {
		m.log.Error().Err(err).Msg("Encode negotiation message")
		return
	}
	m.sendSignal(ev)
}

func (m *Machine) handleMediaConnected(e mediaConnected) {
	s := m.current(e.gen)
	if s == nil || m.phase() != domain.PhaseNegotiating {
		return
	}
	if m.fire(evConnect) {
		m.enterActive()
	}
}

func (m *Machine) handleMediaFailed(e mediaFailed) {
	s := m.current(e.gen)
	if s == nil {
		return
	}
	switch m.phase() {
	case domain.PhaseNegotiating, domain.PhaseActive:
		m.log.Error().Err(e.err).Str("call_id", s.call.ID.String()).Msg("Media connection failed")
		m.finish(domain.ReasonFailed, negotiationFailed(e.err), notifyEnd)
	}
}

func (m *Machine) collectStats(now time.Time) {
	s := m.sess
	ctx, gen := s.ctx, s.gen
	timeout := m.cfg.QualityInterval
	if timeout <= 0 {
		timeout = time.Second
	}
	m.async(func() event {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		stats, err := m.media.GetStats(ctx)
		return statsCollected{gen: gen, stats: stats, err: err, at: now}
	})
}

func (m *Machine) handleStats(e statsCollected) {
	s := m.current(e.gen)
	if s == nil || m.phase() != domain.PhaseActive {
		m.quality.Abort(e.at)
		return
	}
	if e.err != nil {
		m.log.Debug().Err(e.err).Str("call_id", s.call.ID.String()).Msg("Stats collection failed")
		m.quality.Abort(e.at)
		return
	}

	peer := s.peer(m.cfg.Self)
	stats := make([]domain.PeerStats, len(e.stats))
	for i, st := range e.stats {
		if st.UserID.IsZero() {
			st.UserID = peer
		}
		stats[i] = st
	}

	samples, advisories := m.quality.Observe(stats, e.at)
	for _, sample := range samples {
		s.quality[sample.UserID] = sample
		m.metrics.QualitySample(sample.Level)
	}
	for _, a := range advisories {
		if a.Kind == AdvisoryQualityWarning {
			m.metrics.QualityWarning()
			m.log.Warn().
				Str("call_id", s.call.ID.String()).
				Str("user_id", a.Sample.UserID.String()).
				Str("from", string(a.Previous)).
				Str("to", string(a.Sample.Level)).
				Msg("Call quality degraded")
		}
	}
	m.advisories = append(m.advisories, advisories...)
	m.dirty = true
}

// Requests below are fire-and-forget: the local phase never waits on them.

func (m *Machine) sendSignal(ev domain.Event) {
	select {
	case m.outbox <- ev:
	default:
		m.log.Warn().Str("event", string(ev.Name)).Msg("Signaling queue full, dropping frame")
	}
}

// sendLoop drains the outbox one frame at a time, so frames for a call reach
// the channel in the order they were produced.
func (m *Machine) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.outbox:
			sendCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
			err := m.signaling.Send(sendCtx, ev)
			cancel()
			if err != nil {
				m.log.Warn().Err(err).Str("event", string(ev.Name)).Msg("Signaling send failed")
			}
		}
	}
}

func (m *Machine) sendEnd(callID domain.CallID, reason domain.EndReason) {
	timeout := m.cfg.RequestTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := m.lifecycle.EndCall(ctx, callID, reason); err != nil && !alreadyResolved(err) {
			m.log.Warn().Err(err).Str("call_id", callID.String()).Msg("End request failed")
		}
	}()
}

func (m *Machine) sendReject(callID domain.CallID) {
	timeout := m.cfg.RequestTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := m.lifecycle.RespondToCall(ctx, callID, domain.ResponseReject); err != nil && !alreadyResolved(err) {
			m.log.Warn().Err(err).Str("call_id", callID.String()).Msg("Reject request failed")
		}
	}()
}
