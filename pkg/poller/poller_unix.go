//go:build unix

package poller

import (
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Handle is a readable or writable file descriptor.
type Handle = int

type Poller struct {
	fds     []unix.PollFd
	timeout time.Duration
}

func New() *Poller {
	return &Poller{timeout: infinite}
}

// Wait registers interest in events on h for the next Block.
func (p *Poller) Wait(h Handle, events Events) {
	mask := pollMask(events)
	for i := range p.fds {
		if p.fds[i].Fd == int32(h) {
			p.fds[i].Events |= mask
			return
		}
	}
	p.fds = append(p.fds, unix.PollFd{Fd: int32(h), Events: mask})
}

// TimerWait makes the next Block return no later than d from now.
// The shortest registered timer wins.
func (p *Poller) TimerWait(d time.Duration) {
	p.timeout = clampTimer(p.timeout, d)
}

// ImmediateWake makes the next Block return without sleeping.
func (p *Poller) ImmediateWake() {
	p.timeout = 0
}

// Block waits until a registered handle is ready or the timer fires.
// It returns the number of ready handles; zero means the timer fired.
func (p *Poller) Block() (int, error) {
	defer p.reset()

	ms := durationMillis(p.timeout)
	for {
		n, err := unix.Poll(p.fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "poll")
		}
		return n, nil
	}
}

func (p *Poller) reset() {
	p.fds = p.fds[:0]
	p.timeout = infinite
}

// Ready reports, without blocking, whether h is readable.
func Ready(h Handle) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(h), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, errors.Wrap(err, "poll")
		}
		return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
	}
}

func pollMask(events Events) int16 {
	var mask int16
	if events&In != 0 {
		mask |= unix.POLLIN
	}
	if events&Out != 0 {
		mask |= unix.POLLOUT
	}
	return mask
}
