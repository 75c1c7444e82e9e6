//go:build unix && !linux

package txnqueue

import (
	"github.com/cloudbase/neutron/pkg/constants"
	"github.com/cloudbase/neutron/pkg/poller"
)

// EventSignal is only available where the kernel offers a pollable event
// object (eventfd on linux, event handles on windows).
type EventSignal struct{}

var _ Signal = (*EventSignal)(nil)

func NewEventSignal() (*EventSignal, error) {
	return nil, constants.ErrUnsupported
}

func (*EventSignal) Notify() error { return constants.ErrUnsupported }

func (*EventSignal) Consume(bool) error { return constants.ErrUnsupported }

func (*EventSignal) Handle() poller.Handle { return -1 }

func (*EventSignal) Close() error { return nil }
