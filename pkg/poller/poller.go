// Package poller multiplexes waits over heterogeneous native handles.
//
// A Poller collects registrations for one wait: descriptors or event
// objects via Wait, and a deadline via TimerWait. Block waits once until
// any registration is satisfied or the deadline passes, then clears every
// registration so the caller registers afresh on the next iteration.
//
// On unix a Handle is a file descriptor and Block uses poll(2).
// On windows a Handle is a kernel object handle and Block uses
// WaitForMultipleObjects; the requested Events are ignored because
// event objects carry no direction.
package poller

import "time"

// Events selects the readiness conditions of interest for a handle.
type Events uint8

const (
	In Events = 1 << iota
	Out
)

// infinite marks a Poller without a registered deadline.
const infinite time.Duration = -1

func clampTimer(current, d time.Duration) time.Duration {
	if d < 0 {
		d = 0
	}
	if current == infinite || d < current {
		return d
	}
	return current
}

func durationMillis(d time.Duration) int {
	if d == infinite {
		return -1
	}
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// sub-millisecond timers round up
		ms = 1
	}
	return int(ms)
}
