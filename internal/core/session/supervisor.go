package session

import (
	"time"
)

type TimerKind string

const (
	TimerIncomingRing TimerKind = "incoming_ring"
	TimerOutgoingRing TimerKind = "outgoing_ring"
	TimerNegotiation  TimerKind = "negotiation"
	TimerEndedHold    TimerKind = "ended_hold"
)

type counterMode int

const (
	countNone counterMode = iota
	countRing
	countActive
)

type timer struct {
	deadline int
	elapsed  int
	fired    bool
}

// Supervisor owns the per-session timers and elapsed counters. It has no
// clock of its own: every Tick is one second of session time, delivered by
// the Machine loop.
type Supervisor struct {
	timers        map[TimerKind]*timer
	mode          counterMode
	ringElapsed   int
	activeElapsed int
}

func NewSupervisor() *Supervisor {
	return &Supervisor{timers: make(map[TimerKind]*timer)}
}

// Arm (re)starts the timer of the given kind. A zero or negative duration
// leaves it disarmed.
func (s *Supervisor) Arm(kind TimerKind, d time.Duration) {
	delete(s.timers, kind)
	if d <= 0 {
		return
	}
	s.timers[kind] = &timer{deadline: seconds(d)}
}

func (s *Supervisor) Cancel(kind TimerKind) {
	delete(s.timers, kind)
}

// CancelAll disarms every timer and stops the counters.
func (s *Supervisor) CancelAll() {
	for k := range s.timers {
		delete(s.timers, k)
	}
	s.mode = countNone
}

func (s *Supervisor) Armed(kind TimerKind) bool {
	_, ok := s.timers[kind]
	return ok
}

// StartRingCounter resets and starts the ring counter.
func (s *Supervisor) StartRingCounter() {
	s.mode = countRing
	s.ringElapsed = 0
}

// StartActiveCounter resets and starts the call duration counter.
func (s *Supervisor) StartActiveCounter() {
	s.mode = countActive
	s.activeElapsed = 0
}

func (s *Supervisor) RingElapsed() int   { return s.ringElapsed }
func (s *Supervisor) ActiveElapsed() int { return s.activeElapsed }

// Tick advances session time by one second and returns the timers that
// reached their deadline on this tick. A timer fires at most once.
func (s *Supervisor) Tick() []TimerKind {
	switch s.mode {
	case countRing:
		s.ringElapsed++
	case countActive:
		s.activeElapsed++
	}

	var fired []TimerKind
	for kind, t := range s.timers {
		if t.fired {
			continue
		}
		t.elapsed++
		if t.elapsed >= t.deadline {
			t.fired = true
			fired = append(fired, kind)
		}
	}
	return fired
}

func seconds(d time.Duration) int {
	n := int((d + time.Second - 1) / time.Second)
	if n < 1 {
		n = 1
	}
	return n
}
