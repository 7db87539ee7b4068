package domain

import "time"

type QualityLevel string

const (
	QualityGood QualityLevel = "good"
	QualityFair QualityLevel = "fair"
	QualityPoor QualityLevel = "poor"
)

// Rank orders levels so degradation can be detected; higher is worse.
func (l QualityLevel) Rank() int {
	switch l {
	case QualityFair:
		return 1
	case QualityPoor:
		return 2
	default:
		return 0
	}
}

// PeerStats is the raw connection statistics snapshot the media engine
// reports for one remote participant.
type PeerStats struct {
	UserID        UserID
	LatencyMs     float64
	JitterMs      float64
	PacketLossPct float64
	BitrateBps    float64
}

type QualitySample struct {
	UserID        UserID       `json:"userId"`
	LatencyMs     float64      `json:"latencyMs"`
	JitterMs      float64      `json:"jitterMs"`
	PacketLossPct float64      `json:"packetLossPct"`
	BitrateBps    float64      `json:"bitrateBps"`
	Level         QualityLevel `json:"qualityLevel"`
	SampledAt     time.Time    `json:"sampledAt"`
}

type QualityLimits struct {
	PacketLossPct float64 `toml:"packet_loss_pct"`
	LatencyMs     float64 `toml:"latency_ms"`
	JitterMs      float64 `toml:"jitter_ms"`
}

func (l QualityLimits) exceeded(s PeerStats) bool {
	return s.PacketLossPct > l.PacketLossPct || s.LatencyMs > l.LatencyMs || s.JitterMs > l.JitterMs
}

type QualityThresholds struct {
	Fair QualityLimits `toml:"fair"`
	Poor QualityLimits `toml:"poor"`
}

func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		Fair: QualityLimits{PacketLossPct: 2, LatencyMs: 100, JitterMs: 20},
		Poor: QualityLimits{PacketLossPct: 5, LatencyMs: 200, JitterMs: 50},
	}
}

func (t QualityThresholds) Classify(s PeerStats) QualityLevel {
	switch {
	case t.Poor.exceeded(s):
		return QualityPoor
	case t.Fair.exceeded(s):
		return QualityFair
	default:
		return QualityGood
	}
}

func (t QualityThresholds) Sample(s PeerStats, now time.Time) QualitySample {
	return QualitySample{
		UserID:        s.UserID,
		LatencyMs:     s.LatencyMs,
		JitterMs:      s.JitterMs,
		PacketLossPct: s.PacketLossPct,
		BitrateBps:    s.BitrateBps,
		Level:         t.Classify(s),
		SampledAt:     now,
	}
}
