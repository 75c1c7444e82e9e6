//go:build windows

package txnqueue

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/windows"

	"github.com/cloudbase/neutron/pkg/poller"
)

const defaultStrategy = StrategyEvent

// EventSignal is a manual-reset event, set while the queue is non-empty.
type EventSignal struct {
	event windows.Handle
}

var _ Signal = (*EventSignal)(nil)

func NewEventSignal() (*EventSignal, error) {
	event, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return nil, errors.Wrap(err, "CreateEvent")
	}
	return &EventSignal{event: event}, nil
}

// Notify sets the event to the signaled state.
func (s *EventSignal) Notify() error {
	return errors.Wrap(windows.SetEvent(s.event), "SetEvent")
}

// Consume resets the event once the queue is empty.
func (s *EventSignal) Consume(empty bool) error {
	if !empty {
		return nil
	}
	return errors.Wrap(windows.ResetEvent(s.event), "ResetEvent")
}

func (s *EventSignal) Handle() poller.Handle {
	return s.event
}

func (s *EventSignal) Close() error {
	return windows.CloseHandle(s.event)
}
