// Package session implements the client side call session: a single
// goroutine state machine fed by local actions, signaling frames, timer
// ticks and media engine notifications through one inbox.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/metrics"
)

var ErrStopped = errors.New("session machine stopped")

const (
	inboxSize  = 256
	outboxSize = 256
)

type Config struct {
	Self                domain.UserID
	IncomingRingTimeout time.Duration
	OutgoingRingTimeout time.Duration
	NegotiationTimeout  time.Duration
	// EndedHold is how long a finished session stays in Ended before the
	// machine returns to Idle. Zero keeps it until the next session begins.
	EndedHold       time.Duration
	QualityInterval time.Duration
	// TickInterval drives the Supervisor. Zero disables the internal ticker
	// and time only advances through Tick.
	TickInterval   time.Duration
	RequestTimeout time.Duration
	NotifyIncoming bool
	Thresholds     domain.QualityThresholds
}

func DefaultConfig(self domain.UserID) Config {
	return Config{
		Self:                self,
		IncomingRingTimeout: 45 * time.Second,
		OutgoingRingTimeout: 60 * time.Second,
		NegotiationTimeout:  30 * time.Second,
		EndedHold:           3 * time.Second,
		QualityInterval:     time.Second,
		TickInterval:        time.Second,
		RequestTimeout:      10 * time.Second,
		NotifyIncoming:      true,
		Thresholds:          domain.DefaultQualityThresholds(),
	}
}

type Deps struct {
	Lifecycle port.LifecycleClient
	Signaling port.SignalingChannel
	Media     port.MediaEngine
	Alerter   port.Alerter
	Metrics   *metrics.Session
	Logger    *zerolog.Logger
}

// state is the mutable runtime of one session. Only the loop touches it.
type state struct {
	gen    uint64
	call   domain.Call
	role   domain.Role
	ctx    context.Context
	cancel context.CancelFunc

	accepted          bool
	localMediaReady   bool
	remoteMediaReady  bool
	mediaOwned        bool
	busy              int
	remoteDescSet     bool
	pendingOffer      *string
	pendingCandidates []string

	muted        bool
	videoEnabled bool
	remote       domain.RemoteMedia
	quality      map[domain.UserID]domain.QualitySample

	endReason domain.EndReason
	lastError error
}

func (s *state) peer(self domain.UserID) domain.UserID {
	return s.call.Peer(self)
}

type pendingStart struct {
	gen     uint64
	reply   chan result
	aborted bool
}

type Machine struct {
	cfg       Config
	lifecycle port.LifecycleClient
	signaling port.SignalingChannel
	media     port.MediaEngine
	alerter   port.Alerter
	metrics   *metrics.Session
	log       zerolog.Logger

	inbox   chan event
	outbox  chan domain.Event
	done    chan struct{}
	running atomic.Bool

	// Loop owned.
	fsm        *fsm.FSM
	sup        *Supervisor
	quality    *QualityMonitor
	gen        uint64
	sess       *state
	starting   *pendingStart
	idleErr    error
	dirty      bool
	advisories []Advisory

	mu   sync.RWMutex
	snap domain.Snapshot
	subs map[*Subscription]struct{}
}

func New(cfg Config, deps Deps) *Machine {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	alerter := deps.Alerter
	if alerter == nil {
		alerter = nopAlerter{}
	}

	m := &Machine{
		cfg:       cfg,
		lifecycle: deps.Lifecycle,
		signaling: deps.Signaling,
		media:     deps.Media,
		alerter:   alerter,
		metrics:   deps.Metrics,
		log:       logger.With().Str("component", "session").Str("user_id", cfg.Self.String()).Logger(),
		inbox:     make(chan event, inboxSize),
		outbox:    make(chan domain.Event, outboxSize),
		done:      make(chan struct{}),
		sup:       NewSupervisor(),
		quality:   NewQualityMonitor(cfg.Thresholds, cfg.QualityInterval),
		subs:      make(map[*Subscription]struct{}),
		snap:      domain.Snapshot{Phase: domain.PhaseIdle},
	}
	m.initStateMachine()
	return m
}

const (
	evDial    = "dial"
	evRing    = "ring"
	evAnswer  = "answer"
	evConnect = "connect"
	evHangup  = "hangup"
	evFinish  = "finish"
	evReset   = "reset"
)

// initStateMachine declares every legal phase transition. Anything not
// listed here is rejected, so no phase can be skipped.
func (m *Machine) initStateMachine() {
	idle := string(domain.PhaseIdle)
	outgoing := string(domain.PhaseOutgoing)
	incoming := string(domain.PhaseIncoming)
	negotiating := string(domain.PhaseNegotiating)
	active := string(domain.PhaseActive)
	ending := string(domain.PhaseEnding)
	ended := string(domain.PhaseEnded)

	m.fsm = fsm.NewFSM(
		idle,
		fsm.Events{
			{Name: evDial, Src: []string{idle}, Dst: outgoing},
			{Name: evRing, Src: []string{idle}, Dst: incoming},
			{Name: evAnswer, Src: []string{outgoing, incoming}, Dst: negotiating},
			{Name: evConnect, Src: []string{negotiating}, Dst: active},
			{Name: evHangup, Src: []string{outgoing, incoming, negotiating, active}, Dst: ending},
			{Name: evFinish, Src: []string{ending}, Dst: ended},
			{Name: evReset, Src: []string{ended}, Dst: idle},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				m.handleStateChange(e)
			},
		},
	)
}

func (m *Machine) handleStateChange(e *fsm.Event) {
	from, to := domain.Phase(e.Src), domain.Phase(e.Dst)
	l := m.log.Info().Str("event", e.Event).Str("from", string(from)).Str("to", string(to))
	if m.sess != nil {
		l = l.Str("call_id", m.sess.call.ID.String())
	}
	l.Msg("Session phase changed")
	m.metrics.Transition(from, to)
	m.dirty = true
}

func (m *Machine) phase() domain.Phase {
	return domain.Phase(m.fsm.Current())
}

// fire applies a transition. A refused transition is a programming error in
// the handlers; it is logged and the phase is left untouched.
func (m *Machine) fire(name string) bool {
	if err := m.fsm.Event(context.Background(), name); err != nil {
		m.log.Error().Err(err).Str("event", name).Str("phase", string(m.phase())).Msg("Refused phase transition")
		return false
	}
	return true
}

// Run consumes the inbox until ctx is cancelled. The signaling sink is
// attached for the lifetime of the loop, and outgoing frames are written by
// a single sender in the order the loop queued them.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("session machine already running")
	}
	defer close(m.done)

	detach := m.signaling.Attach(m.HandleSignal)
	defer detach()

	sendCtx, stopSending := context.WithCancel(ctx)
	sending := make(chan struct{})
	go func() {
		defer close(sending)
		m.sendLoop(sendCtx)
	}()
	defer func() {
		stopSending()
		<-sending
	}()

	var tickC <-chan time.Time
	if m.cfg.TickInterval > 0 {
		t := time.NewTicker(m.cfg.TickInterval)
		defer t.Stop()
		tickC = t.C
	}

	m.log.Info().Msg("Session machine started")
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			m.log.Info().Msg("Session machine stopped")
			return nil
		case ev := <-m.inbox:
			m.handle(ev)
		case now := <-tickC:
			m.handle(tick{now: now})
		}
		m.flush()
	}
}

func (m *Machine) shutdown() {
	if ps := m.starting; ps != nil {
		m.starting = nil
		ps.reply <- result{err: ErrStopped}
	}
	m.endCurrent()
	m.flush()

	m.mu.Lock()
	for s := range m.subs {
		delete(m.subs, s)
		close(s.ch)
	}
	m.mu.Unlock()
}

func (m *Machine) post(ev event) bool {
	select {
	case m.inbox <- ev:
		return true
	case <-m.done:
		return false
	}
}

// async runs fn off the loop and feeds its result back through the inbox.
func (m *Machine) async(fn func() event) {
	go func() {
		if ev := fn(); ev != nil {
			m.post(ev)
		}
	}()
}

func (m *Machine) do(ctx context.Context, a localAction) (domain.Call, error) {
	a.reply = make(chan result, 1)
	select {
	case m.inbox <- a:
	case <-ctx.Done():
		return domain.Call{}, ctx.Err()
	case <-m.done:
		return domain.Call{}, ErrStopped
	}
	select {
	case r := <-a.reply:
		return r.call, r.err
	case <-ctx.Done():
		return domain.Call{}, ctx.Err()
	case <-m.done:
		return domain.Call{}, ErrStopped
	}
}

// StartCall creates a call through the registry and enters Outgoing. It
// returns once the registry answered.
func (m *Machine) StartCall(ctx context.Context, recipient domain.UserID, kind domain.CallKind) (domain.Call, error) {
	return m.do(ctx, localAction{kind: actStart, recipient: recipient, callKind: kind})
}

// Accept answers the incoming call. An empty kind keeps the call's kind;
// KindAudio answers a video call without the camera.
func (m *Machine) Accept(ctx context.Context, kind domain.CallKind) error {
	_, err := m.do(ctx, localAction{kind: actAccept, callKind: kind})
	return err
}

func (m *Machine) Decline(ctx context.Context) error {
	_, err := m.do(ctx, localAction{kind: actDecline})
	return err
}

func (m *Machine) Cancel(ctx context.Context) error {
	_, err := m.do(ctx, localAction{kind: actCancel})
	return err
}

// EndCall leaves whatever call is in progress. It is accepted in every phase
// and is a no-op once the session is over.
func (m *Machine) EndCall(ctx context.Context) error {
	_, err := m.do(ctx, localAction{kind: actEnd})
	return err
}

func (m *Machine) ToggleMute(ctx context.Context) error {
	_, err := m.do(ctx, localAction{kind: actToggleMute})
	return err
}

func (m *Machine) ToggleVideo(ctx context.Context) error {
	_, err := m.do(ctx, localAction{kind: actToggleVideo})
	return err
}

// HandleSignal is the signaling channel sink.
func (m *Machine) HandleSignal(e domain.Event) {
	m.post(signalReceived{ev: e})
}

// Tick advances session time by one second.
func (m *Machine) Tick(now time.Time) {
	m.post(tick{now: now})
}

// Sync returns once every event queued before the call has been handled.
func (m *Machine) Sync(ctx context.Context) error {
	b := barrier{done: make(chan struct{})}
	select {
	case m.inbox <- b:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStopped
	}
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStopped
	}
}

// Snapshot returns the last published view of the session.
func (m *Machine) Snapshot() domain.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *Machine) handle(ev event) {
	switch e := ev.(type) {
	case localAction:
		m.handleAction(e)
	case signalReceived:
		m.handleSignal(e.ev)
	case tick:
		m.handleTick(e.now)
	case barrier:
		close(e.done)
	case observerDetached:
		m.handleObserverDetached()
	case callCreated:
		m.handleCallCreated(e)
	case acceptResponded:
		m.handleAcceptResponded(e)
	case captureDone:
		m.handleCaptureDone(e)
	case offerCreated:
		m.handleOfferCreated(e)
	case answerCreated:
		m.handleAnswerCreated(e)
	case remoteDescriptionSet:
		m.handleRemoteDescriptionSet(e)
	case mediaConnected:
		m.handleMediaConnected(e)
	case mediaFailed:
		m.handleMediaFailed(e)
	case localCandidate:
		m.handleLocalCandidate(e)
	case statsCollected:
		m.handleStats(e)
	case resynced:
		m.handleResynced(e)
	default:
		m.log.Error().Str("type", fmt.Sprintf("%T", ev)).Msg("Unknown session event")
	}
}

// current returns the session that issued work tagged with gen, if it is
// still in progress.
func (m *Machine) current(gen uint64) *state {
	if m.sess == nil || m.sess.gen != gen || !m.phase().Live() {
		return nil
	}
	return m.sess
}

func (m *Machine) flush() {
	if !m.dirty && len(m.advisories) == 0 {
		return
	}
	snap := m.buildSnapshot()
	advisories := m.advisories
	m.advisories = nil
	m.dirty = false

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	u := Update{Snapshot: snap, Advisories: advisories}
	for s := range m.subs {
		s.deliver(u)
	}
}

func (m *Machine) buildSnapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Phase:     m.phase(),
		UpdatedAt: time.Now(),
	}
	s := m.sess
	if s == nil || snap.Phase == domain.PhaseIdle {
		snap.LastError = m.idleErr
		return snap
	}
	call := s.call
	snap.Call = &call
	snap.Role = s.role
	snap.Answered = s.accepted
	snap.LocalMediaReady = s.localMediaReady
	snap.RemoteMediaReady = s.remoteMediaReady
	snap.Muted = s.muted
	snap.VideoEnabled = s.videoEnabled
	snap.Remote = s.remote
	snap.RingElapsedSeconds = m.sup.RingElapsed()
	snap.ActiveElapsedSeconds = m.sup.ActiveElapsed()
	snap.EndReason = s.endReason
	snap.LastError = s.lastError
	if len(s.quality) > 0 {
		snap.Quality = make(map[domain.UserID]domain.QualitySample, len(s.quality))
		for k, v := range s.quality {
			snap.Quality[k] = v
		}
	}
	return snap
}

type nopAlerter struct{}

func (nopAlerter) StartRinging(domain.Call, domain.Role) {}
func (nopAlerter) StopRinging()                          {}
func (nopAlerter) NotifyIncoming(domain.Call)            {}
func (nopAlerter) MissedCall(domain.Call)                {}
