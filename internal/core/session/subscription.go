package session

import (
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
)

const subscriptionBuffer = 32

// Update is what observers receive: the new snapshot plus any advisories
// raised since the previous one.
type Update struct {
	Snapshot   domain.Snapshot
	Advisories []Advisory
}

// Subscription is one observer of the Machine. Slow observers lose the
// oldest updates, never the newest.
type Subscription struct {
	m    *Machine
	ch   chan Update
	mu   sync.Mutex
	once sync.Once
}

// Subscribe registers an observer. The current snapshot is delivered first.
// When the last observer of an unanswered outgoing call goes away, the call
// is cancelled.
func (m *Machine) Subscribe() *Subscription {
	s := &Subscription{m: m, ch: make(chan Update, subscriptionBuffer)}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.deliver(Update{Snapshot: m.snap})
	select {
	case <-m.done:
		close(s.ch)
	default:
		m.subs[s] = struct{}{}
	}
	return s
}

// Updates is closed when the subscription is closed or the Machine stops.
func (s *Subscription) Updates() <-chan Update {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		m := s.m
		m.mu.Lock()
		_, ok := m.subs[s]
		if ok {
			delete(m.subs, s)
			close(s.ch)
		}
		m.mu.Unlock()
		if ok {
			m.post(observerDetached{})
		}
	})
}

func (s *Subscription) deliver(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case s.ch <- u:
			return
		default:
		}
		select {
		case old := <-s.ch:
			// Keep advisories of the dropped update.
			if len(old.Advisories) > 0 {
				u.Advisories = append(old.Advisories, u.Advisories...)
			}
		default:
		}
	}
}
