package workflow

import "sync"

// signals wakes missions waiting for a validation decision.
type signals struct {
	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func newSignals() *signals {
	return &signals{waiters: make(map[string]chan struct{})}
}

func (s *signals) register(missionID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{}, 1)
	s.waiters[missionID] = ch

	return ch
}

func (s *signals) unregister(missionID string, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiters[missionID] == ch {
		delete(s.waiters, missionID)
	}
}

func (s *signals) notify(missionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.waiters[missionID]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
