package session

import (
	"strings"

	"ghostd/pkg/types"
)

// State returns a snapshot of the session.
func (s *Session) State() types.SessionState { return s.snapshot() }

func (s *Session) snapshot() types.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if st.Download != nil {
		d := *st.Download
		st.Download = &d
	}
	return st
}

// Subscribe returns a channel that receives the latest state after every
// change. Slow readers only miss intermediate states. Call cancel to stop.
func (s *Session) Subscribe() (updates <-chan types.SessionState, cancel func()) {
	ch := make(chan types.SessionState, 1)
	s.mu.Lock()
	ch <- s.state
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
}

// update mutates state on the Run goroutine and notifies subscribers.
func (s *Session) update(fn func(*types.SessionState)) {
	s.mu.Lock()
	fn(&s.state)
	s.state.Generation = s.coord.Generation()
	s.mu.Unlock()
	s.publish()
}

func (s *Session) publish() {
	st := s.snapshot()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

func isBlank(text string) bool { return strings.TrimSpace(text) == "" }
