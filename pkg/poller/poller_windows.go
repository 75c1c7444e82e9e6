//go:build windows

package poller

import (
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/windows"
)

// Handle is a waitable kernel object, typically an event.
type Handle = windows.Handle

type Poller struct {
	handles []windows.Handle
	timeout time.Duration
}

func New() *Poller {
	return &Poller{timeout: infinite}
}

// Wait registers h for the next Block. Events are ignored: an event object
// is either signaled or not.
func (p *Poller) Wait(h Handle, _ Events) {
	for _, existing := range p.handles {
		if existing == h {
			return
		}
	}
	p.handles = append(p.handles, h)
}

// TimerWait makes the next Block return no later than d from now.
func (p *Poller) TimerWait(d time.Duration) {
	p.timeout = clampTimer(p.timeout, d)
}

// ImmediateWake makes the next Block return without sleeping.
func (p *Poller) ImmediateWake() {
	p.timeout = 0
}

// Block waits until a registered handle is signaled or the timer fires.
// It returns the number of ready handles; zero means the timer fired.
func (p *Poller) Block() (int, error) {
	defer p.reset()

	if len(p.handles) == 0 {
		if p.timeout == infinite {
			select {}
		}
		time.Sleep(p.timeout)
		return 0, nil
	}

	ms := uint32(windows.INFINITE)
	if p.timeout != infinite {
		ms = uint32(durationMillis(p.timeout))
	}

	event, err := windows.WaitForMultipleObjects(p.handles, false, ms)
	if err != nil {
		return 0, errors.Wrap(err, "WaitForMultipleObjects")
	}
	if event == uint32(windows.WAIT_TIMEOUT) {
		return 0, nil
	}
	return 1, nil
}

func (p *Poller) reset() {
	p.handles = p.handles[:0]
	p.timeout = infinite
}

// Ready reports, without blocking, whether h is signaled.
func Ready(h Handle) (bool, error) {
	event, err := windows.WaitForSingleObject(h, 0)
	if err != nil {
		return false, errors.Wrap(err, "WaitForSingleObject")
	}
	return event == windows.WAIT_OBJECT_0, nil
}
