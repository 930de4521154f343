package transport

import (
	"sync/atomic"
	"time"
)

// Keepalive is the last-activity instant of a connection. The receive
// worker writes it and the keepalive supervisor reads it concurrently.
type Keepalive struct {
	nanos atomic.Int64
}

// Touch records activity at now. Older instants never overwrite newer ones.
func (k *Keepalive) Touch(now time.Time) {
	n := now.UnixNano()
	for {
		cur := k.nanos.Load()
		if n <= cur {
			return
		}
		if k.nanos.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Clear forgets the last activity, used when a new connection starts.
func (k *Keepalive) Clear() { k.nanos.Store(0) }

// Last returns the last activity, or the zero time if there was none.
func (k *Keepalive) Last() time.Time {
	n := k.nanos.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Age returns how long ago the last activity was; ok is false if unset.
func (k *Keepalive) Age(now time.Time) (time.Duration, bool) {
	last := k.Last()
	if last.IsZero() {
		return 0, false
	}
	return now.Sub(last), true
}

// Fresh reports whether activity happened within staleAfter of now.
func (k *Keepalive) Fresh(now time.Time, staleAfter time.Duration) bool {
	age, ok := k.Age(now)
	return ok && age <= staleAfter
}
