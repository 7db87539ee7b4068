package session

import (
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type AdvisoryKind string

const (
	AdvisoryQualityUpdate  AdvisoryKind = "quality_update"
	AdvisoryQualityWarning AdvisoryKind = "quality_warning"
)

// Advisory is an informational event; it never changes the session phase.
type Advisory struct {
	Kind     AdvisoryKind
	Sample   domain.QualitySample
	Previous domain.QualityLevel
}

// QualityMonitor classifies media statistics and raises warnings on level
// degradation only.
type QualityMonitor struct {
	thresholds domain.QualityThresholds
	interval   time.Duration
	levels     map[domain.UserID]domain.QualityLevel
	lastAt     time.Time
	pending    bool
}

func NewQualityMonitor(thresholds domain.QualityThresholds, interval time.Duration) *QualityMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &QualityMonitor{
		thresholds: thresholds,
		interval:   interval,
		levels:     make(map[domain.UserID]domain.QualityLevel),
	}
}

// Due reports whether a new statistics pull should start at now. It marks
// the pull as pending until Observe or Abort is called.
func (q *QualityMonitor) Due(now time.Time) bool {
	if q.pending {
		return false
	}
	if !q.lastAt.IsZero() && now.Sub(q.lastAt) < q.interval {
		return false
	}
	q.pending = true
	return true
}

// Abort releases a pending pull whose result was lost.
func (q *QualityMonitor) Abort(now time.Time) {
	q.pending = false
	q.lastAt = now
}

// Observe turns one statistics snapshot into samples and advisories: one
// update per sample and a warning whenever a peer's level got worse.
func (q *QualityMonitor) Observe(stats []domain.PeerStats, now time.Time) ([]domain.QualitySample, []Advisory) {
	q.pending = false
	q.lastAt = now

	samples := make([]domain.QualitySample, 0, len(stats))
	var advisories []Advisory
	for _, st := range stats {
		sample := q.thresholds.Sample(st, now)
		samples = append(samples, sample)

		prev, seen := q.levels[st.UserID]
		if !seen {
			prev = domain.QualityGood
		}
		q.levels[st.UserID] = sample.Level

		advisories = append(advisories, Advisory{Kind: AdvisoryQualityUpdate, Sample: sample, Previous: prev})
		if sample.Level.Rank() > prev.Rank() {
			advisories = append(advisories, Advisory{Kind: AdvisoryQualityWarning, Sample: sample, Previous: prev})
		}
	}
	return samples, advisories
}

// Reset forgets every peer level; called when a call becomes active.
func (q *QualityMonitor) Reset() {
	q.levels = make(map[domain.UserID]domain.QualityLevel)
	q.lastAt = time.Time{}
	q.pending = false
}
