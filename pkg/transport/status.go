package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status holds the connection bookkeeping every driver keeps: state,
// keepalive, login outcome and filter. Drivers own one each; it is safe for
// concurrent use.
type Status struct {
	state      atomic.Int32
	keepalive  Keepalive
	staleAfter time.Duration

	mu     sync.RWMutex
	login  LoginStatus
	filter string
}

// NewStatus returns a Disconnected status with the given stale threshold.
func NewStatus(staleAfter time.Duration) *Status {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Status{staleAfter: staleAfter}
}

func (s *Status) State() State { return State(s.state.Load()) }

// Transition moves to next unless the status is Closed. It reports whether
// the move happened.
func (s *Status) Transition(next State) bool {
	for {
		cur := s.state.Load()
		if State(cur) == StateClosed {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// MarkClosed moves to Closed and reports whether this call did it.
func (s *Status) MarkClosed() bool {
	return State(s.state.Swap(int32(StateClosed))) != StateClosed
}

func (s *Status) Touch()               { s.keepalive.Touch(time.Now()) }
func (s *Status) Keepalive() time.Time { return s.keepalive.Last() }
func (s *Status) ResetKeepalive()      { s.keepalive.Clear() }
func (s *Status) StaleAfter() time.Duration {
	return s.staleAfter
}

// Alive is true iff Connected with fresh keepalive. A Connected status whose
// keepalive went stale is moved to Stale.
func (s *Status) Alive() bool {
	if s.State() != StateConnected {
		return false
	}
	if s.keepalive.Fresh(time.Now(), s.staleAfter) {
		return true
	}
	s.state.CompareAndSwap(int32(StateConnected), int32(StateStale))
	return false
}

func (s *Status) SetLogin(ls LoginStatus) {
	s.mu.Lock()
	s.login = ls
	s.mu.Unlock()
}

func (s *Status) Login() LoginStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.login
}

func (s *Status) SetFilter(f string) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

func (s *Status) Filter() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// Snapshot fills the fields of Stats that come from the status.
func (s *Status) Snapshot(kind Kind) Stats {
	st := s.State()
	return Stats{
		Transport:   kind,
		Connected:   st == StateConnected,
		State:       st,
		Filter:      s.Filter(),
		LoginStatus: s.Login(),
		Keepalive:   s.Keepalive(),
	}
}
