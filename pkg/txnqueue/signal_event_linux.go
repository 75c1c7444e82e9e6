//go:build linux

package txnqueue

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/cloudbase/neutron/pkg/poller"
)

// EventSignal emulates a manual-reset event with an eventfd: any write makes
// the counter non-zero and the descriptor readable, one read resets it.
type EventSignal struct {
	fd int
}

var _ Signal = (*EventSignal)(nil)

func NewEventSignal() (*EventSignal, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "eventfd")
	}
	return &EventSignal{fd: fd}, nil
}

// Notify sets the event.
func (s *EventSignal) Notify() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(s.fd, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return errors.Wrap(err, "set event")
	}
}

// Consume resets the event once the queue is empty.
func (s *EventSignal) Consume(empty bool) error {
	if !empty {
		return nil
	}
	var buf [8]byte
	for {
		_, err := unix.Read(s.fd, buf[:])
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			// already reset
			return nil
		case err != nil:
			return errors.Wrap(err, "reset event")
		}
		return nil
	}
}

func (s *EventSignal) Handle() poller.Handle {
	return s.fd
}

func (s *EventSignal) Close() error {
	return unix.Close(s.fd)
}
