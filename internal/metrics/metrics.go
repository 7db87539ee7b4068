// Package metrics holds the Prometheus collectors of the call client and
// the registry server. Every method is safe on a nil receiver so metrics
// stay optional for callers and tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Wyydra/yacall/internal/core/domain"
)

const namespace = "yacall"

// Session collects client side session metrics.
type Session struct {
	transitions     *prometheus.CounterVec
	endReasons      *prometheus.CounterVec
	qualitySamples  *prometheus.CounterVec
	qualityWarnings prometheus.Counter
}

func NewSession(reg prometheus.Registerer) *Session {
	f := promauto.With(reg)
	return &Session{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "phase_transitions_total",
			Help:      "Session phase transitions by source and destination phase.",
		}, []string{"from", "to"}),
		endReasons: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "ended_total",
			Help:      "Ended sessions by end reason.",
		}, []string{"reason"}),
		qualitySamples: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "samples_total",
			Help:      "Quality samples by classified level.",
		}, []string{"level"}),
		qualityWarnings: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "warnings_total",
			Help:      "Quality degradation warnings raised.",
		}),
	}
}

func (s *Session) Transition(from, to domain.Phase) {
	if s == nil {
		return
	}
	s.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (s *Session) Ended(reason domain.EndReason) {
	if s == nil {
		return
	}
	if reason == domain.ReasonNone {
		reason = domain.ReasonHangup
	}
	s.endReasons.WithLabelValues(string(reason)).Inc()
}

func (s *Session) QualitySample(level domain.QualityLevel) {
	if s == nil {
		return
	}
	s.qualitySamples.WithLabelValues(string(level)).Inc()
}

func (s *Session) QualityWarning() {
	if s == nil {
		return
	}
	s.qualityWarnings.Inc()
}

// Registry collects server side call registry and signaling metrics.
type Registry struct {
	callsCreated  prometheus.Counter
	callsResolved *prometheus.CounterVec
	activeCalls   prometheus.Gauge
	connections   prometheus.Gauge
	relayed       *prometheus.CounterVec
	rateLimited   prometheus.Counter
}

func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		callsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "calls_created_total",
			Help:      "Calls created.",
		}),
		callsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "calls_resolved_total",
			Help:      "Calls reaching a terminal status, by status.",
		}, []string{"status"}),
		activeCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "active_calls",
			Help:      "Calls not yet resolved.",
		}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "connections",
			Help:      "Open signaling sockets.",
		}),
		relayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "relayed_events_total",
			Help:      "Events relayed between call participants, by event name.",
		}, []string{"event"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "rate_limited_total",
			Help:      "Inbound events dropped by the per-socket rate limit.",
		}),
	}
}

func (r *Registry) CallCreated() {
	if r == nil {
		return
	}
	r.callsCreated.Inc()
	r.activeCalls.Inc()
}

func (r *Registry) CallResolved(status domain.CallStatus) {
	if r == nil {
		return
	}
	r.callsResolved.WithLabelValues(string(status)).Inc()
	r.activeCalls.Dec()
}

func (r *Registry) Connected() {
	if r == nil {
		return
	}
	r.connections.Inc()
}

func (r *Registry) Disconnected() {
	if r == nil {
		return
	}
	r.connections.Dec()
}

func (r *Registry) Relayed(name domain.EventName) {
	if r == nil {
		return
	}
	r.relayed.WithLabelValues(string(name)).Inc()
}

func (r *Registry) RateLimited() {
	if r == nil {
		return
	}
	r.rateLimited.Inc()
}
