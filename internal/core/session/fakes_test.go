package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

type endRequest struct {
	callID domain.CallID
	reason domain.EndReason
}

type respondRequest struct {
	callID   domain.CallID
	response domain.Response
}

type fakeLifecycle struct {
	mu       sync.Mutex
	self     domain.UserID
	createFn func(recipient domain.UserID, kind domain.CallKind) (domain.Call, error)
	respErr  error
	getCall  domain.Call
	getErr   error
	created  []domain.Call
	responds []respondRequest
	ends     []endRequest
}

func (f *fakeLifecycle) CreateCall(_ context.Context, recipient domain.UserID, kind domain.CallKind) (domain.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(recipient, kind)
	}
	call, err := domain.NewCall(f.self, recipient, kind, time.Now())
	if err != nil {
		return domain.Call{}, err
	}
	f.created = append(f.created, *call)
	return *call, nil
}

func (f *fakeLifecycle) RespondToCall(_ context.Context, callID domain.CallID, response domain.Response) (domain.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responds = append(f.responds, respondRequest{callID: callID, response: response})
	if f.respErr != nil {
		return domain.Call{}, f.respErr
	}
	return domain.Call{}, nil
}

func (f *fakeLifecycle) GetCall(_ context.Context, _ domain.CallID) (domain.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCall, f.getErr
}

func (f *fakeLifecycle) EndCall(_ context.Context, callID domain.CallID, reason domain.EndReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, endRequest{callID: callID, reason: reason})
	return nil
}

func (f *fakeLifecycle) endRequests() []endRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]endRequest(nil), f.ends...)
}

func (f *fakeLifecycle) respondRequests() []respondRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]respondRequest(nil), f.responds...)
}

type fakeSignaling struct {
	mu      sync.Mutex
	sink    port.EventSink
	sent    []domain.Event
	latency func() time.Duration
}

func (f *fakeSignaling) Send(_ context.Context, e domain.Event) error {
	if f.latency != nil {
		time.Sleep(f.latency())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, e)
	return nil
}

func (f *fakeSignaling) Attach(sink port.EventSink) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sink = nil
	}
}

func (f *fakeSignaling) sentNamed(name domain.EventName) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, e := range f.sent {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeMedia struct {
	mu         sync.Mutex
	listener   port.MediaListener
	captureErr error
	video      []bool
	offers     []string
	answers    []string
	candidates []string
	audio      []bool
	cams       []bool
	stats      []domain.PeerStats
	statsCalls int
	cleanups   int
}

func (f *fakeMedia) SetListener(l port.MediaListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

func (f *fakeMedia) InitLocalCapture(_ context.Context, video bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = append(f.video, video)
	return f.captureErr
}

func (f *fakeMedia) CreateOffer(context.Context) (string, error) {
	return "offer-sdp", nil
}

func (f *fakeMedia) HandleOffer(_ context.Context, sdp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, sdp)
	return nil
}

func (f *fakeMedia) CreateAnswer(context.Context) (string, error) {
	return "answer-sdp", nil
}

func (f *fakeMedia) HandleAnswer(_ context.Context, sdp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, sdp)
	return nil
}

func (f *fakeMedia) AddCandidate(_ context.Context, candidate string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakeMedia) SetAudioEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, enabled)
	return nil
}

func (f *fakeMedia) SetVideoEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cams = append(f.cams, enabled)
	return nil
}

func (f *fakeMedia) GetStats(context.Context) ([]domain.PeerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	return append([]domain.PeerStats(nil), f.stats...), nil
}

func (f *fakeMedia) Cleanup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return nil
}

func (f *fakeMedia) setStats(stats ...domain.PeerStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = stats
}

func (f *fakeMedia) cleanupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanups
}

func (f *fakeMedia) currentListener() port.MediaListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

type mediaCalls struct {
	video      []bool
	offers     []string
	answers    []string
	candidates []string
	audio      []bool
	cams       []bool
}

func (f *fakeMedia) snapshot() mediaCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return mediaCalls{
		video:      append([]bool(nil), f.video...),
		offers:     append([]string(nil), f.offers...),
		answers:    append([]string(nil), f.answers...),
		candidates: append([]string(nil), f.candidates...),
		audio:      append([]bool(nil), f.audio...),
		cams:       append([]bool(nil), f.cams...),
	}
}

type fakeAlerter struct {
	mu       sync.Mutex
	ringing  bool
	rings    int
	notified int
	missed   int
}

func (f *fakeAlerter) StartRinging(domain.Call, domain.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ringing = true
	f.rings++
}

func (f *fakeAlerter) StopRinging() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ringing = false
}

func (f *fakeAlerter) NotifyIncoming(domain.Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified++
}

func (f *fakeAlerter) MissedCall(domain.Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missed++
}

func (f *fakeAlerter) state() (ringing bool, notified, missed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ringing, f.notified, f.missed
}

type harness struct {
	t         *testing.T
	self      domain.UserID
	peer      domain.UserID
	m         *Machine
	lifecycle *fakeLifecycle
	signaling *fakeSignaling
	media     *fakeMedia
	alerter   *fakeAlerter
	now       time.Time
}

func newHarness(t *testing.T, tweak func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		self:      domain.NewUserID(),
		peer:      domain.NewUserID(),
		signaling: &fakeSignaling{},
		media:     &fakeMedia{},
		alerter:   &fakeAlerter{},
		now:       time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	h.lifecycle = &fakeLifecycle{self: h.self}

	cfg := DefaultConfig(h.self)
	cfg.TickInterval = 0
	if tweak != nil {
		tweak(&cfg)
	}
	logger := zerolog.Nop()
	h.m = New(cfg, Deps{
		Lifecycle: h.lifecycle,
		Signaling: h.signaling,
		Media:     h.media,
		Alerter:   h.alerter,
		Logger:    &logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = h.m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	h.t.Cleanup(cancel)
	return ctx
}

func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.m.Sync(h.ctx()))
}

func (h *harness) signal(name domain.EventName, payload any) {
	h.t.Helper()
	ev, err := domain.NewEvent(name, payload)
	require.NoError(h.t, err)
	h.m.HandleSignal(ev)
	h.sync()
}

func (h *harness) negotiation(callID domain.CallID, t domain.NegotiationType, sdp, candidate string) {
	h.t.Helper()
	ev, err := domain.NegotiationMessage{CallID: callID, PeerID: h.peer, Type: t, SDP: sdp, Candidate: candidate}.Event()
	require.NoError(h.t, err)
	h.m.HandleSignal(ev)
	h.sync()
}

func (h *harness) tick(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		h.now = h.now.Add(time.Second)
		h.m.Tick(h.now)
	}
	h.sync()
}

func (h *harness) phase() domain.Phase {
	return h.m.Snapshot().Phase
}

func (h *harness) waitPhase(p domain.Phase) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.phase() == p }, 2*time.Second, 5*time.Millisecond,
		"phase never became %s", p)
}

func (h *harness) waitFor(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

// incomingCall delivers a call.incoming from the peer.
func (h *harness) incomingCall(kind domain.CallKind) domain.Call {
	h.t.Helper()
	call, err := domain.NewCall(h.peer, h.self, kind, h.now)
	require.NoError(h.t, err)
	h.signal(domain.EventCallIncoming, domain.CallIncoming{Call: *call})
	return *call
}

// outgoingCall starts a call to the peer and waits for Outgoing.
func (h *harness) outgoingCall(kind domain.CallKind) domain.Call {
	h.t.Helper()
	call, err := h.m.StartCall(h.ctx(), h.peer, kind)
	require.NoError(h.t, err)
	h.sync()
	return call
}

// activeCallerCall drives an outgoing call all the way to Active.
func (h *harness) activeCallerCall(kind domain.CallKind) domain.Call {
	h.t.Helper()
	call := h.outgoingCall(kind)
	accepted := call
	accepted.Status = domain.StatusConnected
	h.signal(domain.EventCallResponse, domain.CallResponse{CallID: call.ID, Call: accepted, Accepted: true})
	h.waitFor(func() bool { return len(h.signaling.sentNamed(domain.EventNegotiationOffer)) == 1 }, "offer was never sent")
	h.negotiation(call.ID, domain.NegotiationAnswer, "answer-sdp", "")
	h.waitFor(func() bool { return len(h.media.snapshot().answers) == 1 }, "answer was never applied")
	h.media.currentListener().OnConnected()
	h.waitPhase(domain.PhaseActive)
	return call
}
