package txnqueue

import (
	"github.com/cockroachdb/errors"

	"github.com/cloudbase/neutron/pkg/poller"
)

// Signal is the waitable half of a Queue. The queue calls Notify once per
// inserted item and Consume once per removed item, always under its lock, so
// implementations need no locking of their own.
type Signal interface {
	// Notify marks the handle signaled after an item became visible.
	Notify() error
	// Consume rebalances the handle after an item was removed; empty reports
	// whether that removal drained the queue.
	Consume(empty bool) error
	// Handle returns the native primitive to wait on.
	Handle() poller.Handle
	Close() error
}

// Strategy selects a Signal implementation.
type Strategy int

const (
	// StrategyDefault picks the platform's natural strategy: a byte pipe where
	// pipes are pollable, an event object elsewhere.
	StrategyDefault Strategy = iota
	// StrategyPipe writes one marker byte per queued item into a pipe whose
	// read end is the handle.
	StrategyPipe
	// StrategyEvent keeps a manual-reset event set while the queue is non-empty.
	StrategyEvent
)

func (s Strategy) String() string {
	switch s {
	case StrategyDefault:
		return "default"
	case StrategyPipe:
		return "pipe"
	case StrategyEvent:
		return "event"
	}
	return "unknown"
}

// ParseStrategy maps a configuration string to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", "default":
		return StrategyDefault, nil
	case "pipe":
		return StrategyPipe, nil
	case "event":
		return StrategyEvent, nil
	}
	return StrategyDefault, errors.Newf("unknown queue strategy %q", name)
}

// NewSignal creates a Signal of the given strategy.
func NewSignal(strategy Strategy) (Signal, error) {
	switch strategy {
	case StrategyDefault:
		return NewSignal(defaultStrategy)
	case StrategyPipe:
		s, err := NewPipeSignal()
		if err != nil {
			return nil, err
		}
		return s, nil
	case StrategyEvent:
		s, err := NewEventSignal()
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, errors.Newf("unknown queue strategy %d", int(strategy))
}
