package pion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

const (
	pliInterval = 3 * time.Second
	streamID    = "yacall"
)

var errNoPeerConnection = errors.New("no peer connection")

type Config struct {
	ICEServers []string
	AllowAudio bool
	AllowVideo bool
}

// Engine drives one peer connection per call. Local tracks are sample
// tracks owned by the capture source; the engine itself never writes media.
type Engine struct {
	api *webrtc.API
	cfg Config

	mu       sync.Mutex
	listener port.MediaListener
	pc       *webrtc.PeerConnection
	stop     chan struct{}

	audioTrack  *webrtc.TrackLocalStaticSample
	videoTrack  *webrtc.TrackLocalStaticSample
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
	connected   bool

	lastBytes   uint64
	lastStatsAt time.Time
}

func NewEngine(cfg Config) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	return &Engine{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		cfg: cfg,
	}, nil
}

func (e *Engine) SetListener(l port.MediaListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *Engine) currentListener() port.MediaListener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listener
}

// InitLocalCapture opens a fresh peer connection carrying an audio track and,
// when asked, a video track. A kind the device may not capture is reported
// as a permission failure.
func (e *Engine) InitLocalCapture(ctx context.Context, video bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.cfg.AllowAudio {
		return fmt.Errorf("%w: microphone", domain.ErrPermission)
	}
	if video && !e.cfg.AllowVideo {
		return fmt.Errorf("%w: camera", domain.ErrPermission)
	}

	servers := make([]webrtc.ICEServer, 0, len(e.cfg.ICEServers))
	for _, u := range e.cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return err
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		pc.Close()
		return err
	}
	audioSender, err := pc.AddTrack(audioTrack)
	if err != nil {
		pc.Close()
		return err
	}

	var videoTrack *webrtc.TrackLocalStaticSample
	var videoSender *webrtc.RTPSender
	if video {
		videoTrack, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			pc.Close()
			return err
		}
		if videoSender, err = pc.AddTrack(videoTrack); err != nil {
			pc.Close()
			return err
		}
	}

	stop := make(chan struct{})
	e.wire(pc, stop)

	e.mu.Lock()
	old, oldStop := e.pc, e.stop
	e.pc, e.stop = pc, stop
	e.audioTrack, e.audioSender = audioTrack, audioSender
	e.videoTrack, e.videoSender = videoTrack, videoSender
	e.connected = false
	e.lastBytes, e.lastStatsAt = 0, time.Time{}
	e.mu.Unlock()

	if old != nil {
		close(oldStop)
		_ = old.Close()
	}
	return nil
}

func (e *Engine) wire(pc *webrtc.PeerConnection, stop chan struct{}) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		candidateJSON, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal candidate")
			return
		}
		if l := e.currentListener(); l != nil && e.owns(pc) {
			l.OnLocalCandidate(string(candidateJSON))
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("state", state.String()).Msg("Peer connection state changed")
		if !e.owns(pc) {
			return
		}
		l := e.currentListener()
		if l == nil {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateConnected:
			e.mu.Lock()
			first := !e.connected
			e.connected = true
			e.mu.Unlock()
			if first {
				l.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed:
			l.OnFailed(fmt.Errorf("%w: peer connection failed", domain.ErrNegotiation))
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("kind", remote.Kind().String()).Msg("Received remote track")
		go drain(remote)
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			go requestKeyframes(pc, remote, stop)
		}
	})
}

func (e *Engine) owns(pc *webrtc.PeerConnection) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pc == pc
}

// drain reads the remote track until it ends; nothing renders it headless.
func drain(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			return
		}
	}
}

// requestKeyframes sends a PLI right away and then every few seconds so a
// late decoder can start.
func requestKeyframes(pc *webrtc.PeerConnection, remote *webrtc.TrackRemote, stop <-chan struct{}) {
	sendPLI := func() {
		// Fails harmlessly once the connection is closed.
		_ = pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
		})
	}
	sendPLI()

	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sendPLI()
		}
	}
}

func (e *Engine) peer() (*webrtc.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pc == nil {
		return nil, errNoPeerConnection
	}
	return e.pc, nil
}

func (e *Engine) CreateOffer(ctx context.Context) (string, error) {
	pc, err := e.peer()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (e *Engine) HandleOffer(ctx context.Context, sdp string) error {
	return e.setRemote(ctx, webrtc.SDPTypeOffer, sdp)
}

func (e *Engine) CreateAnswer(ctx context.Context) (string, error) {
	pc, err := e.peer()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (e *Engine) HandleAnswer(ctx context.Context, sdp string) error {
	return e.setRemote(ctx, webrtc.SDPTypeAnswer, sdp)
}

func (e *Engine) setRemote(ctx context.Context, typ webrtc.SDPType, sdp string) error {
	pc, err := e.peer()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Debug().Str("type", typ.String()).Int("sdp_len", len(sdp)).Msg("Setting remote description")
	return pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp})
}

func (e *Engine) AddCandidate(ctx context.Context, candidate string) error {
	pc, err := e.peer()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return err
	}
	return pc.AddICECandidate(init)
}

// SetAudioEnabled mutes by detaching the track from its sender, so no RTP
// leaves the device while muted.
func (e *Engine) SetAudioEnabled(enabled bool) error {
	e.mu.Lock()
	sender, track := e.audioSender, e.audioTrack
	e.mu.Unlock()
	return replace(sender, track, enabled)
}

func (e *Engine) SetVideoEnabled(enabled bool) error {
	e.mu.Lock()
	sender, track := e.videoSender, e.videoTrack
	e.mu.Unlock()
	return replace(sender, track, enabled)
}

func replace(sender *webrtc.RTPSender, track *webrtc.TrackLocalStaticSample, enabled bool) error {
	if sender == nil {
		return errNoPeerConnection
	}
	if enabled {
		return sender.ReplaceTrack(track)
	}
	return sender.ReplaceTrack(nil)
}

// GetStats folds the connection report into a single entry for the remote
// peer: RTT from the nominated candidate pair, jitter and loss from the
// inbound streams, bitrate from the byte delta since the previous pull.
func (e *Engine) GetStats(ctx context.Context) ([]domain.PeerStats, error) {
	pc, err := e.peer()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		out      domain.PeerStats
		lost     int64
		received int64
		bytes    uint64
	)
	for _, s := range pc.GetStats() {
		switch st := s.(type) {
		case webrtc.ICECandidatePairStats:
			if st.Nominated && st.State == webrtc.StatsICECandidatePairStateSucceeded {
				out.LatencyMs = st.CurrentRoundTripTime * 1000
			}
		case webrtc.InboundRTPStreamStats:
			if j := st.Jitter * 1000; j > out.JitterMs {
				out.JitterMs = j
			}
			lost += int64(st.PacketsLost)
			received += int64(st.PacketsReceived)
			bytes += st.BytesReceived
		}
	}
	if total := lost + received; total > 0 && lost > 0 {
		out.PacketLossPct = float64(lost) / float64(total) * 100
	}

	now := time.Now()
	e.mu.Lock()
	if !e.lastStatsAt.IsZero() && bytes >= e.lastBytes {
		if elapsed := now.Sub(e.lastStatsAt).Seconds(); elapsed > 0 {
			out.BitrateBps = float64(bytes-e.lastBytes) * 8 / elapsed
		}
	}
	e.lastBytes, e.lastStatsAt = bytes, now
	e.mu.Unlock()

	return []domain.PeerStats{out}, nil
}

// Cleanup closes the peer connection and drops the local tracks. Calling it
// without a connection is a no-op.
func (e *Engine) Cleanup() error {
	e.mu.Lock()
	pc, stop := e.pc, e.stop
	e.pc, e.stop = nil, nil
	e.audioTrack, e.audioSender = nil, nil
	e.videoTrack, e.videoSender = nil, nil
	e.connected = false
	e.mu.Unlock()

	if pc == nil {
		return nil
	}
	close(stop)
	return pc.Close()
}
