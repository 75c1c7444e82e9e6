// Package txnqueue provides a bounded, thread-safe queue whose readiness can
// be folded into a native wait call.
//
// A generic blocking queue exposes nothing a poll(2) or WaitForMultipleObjects
// call can block on. Queue pairs its contents with a Signal, a native
// waitable handle that is signaled if and only if the queue is non-empty.
// Every transition of the contents and of the signal happens under one lock,
// so a waiter never sees data without a signal (a missed wakeup) nor a signal
// that outlives the data once fully drained.
package txnqueue

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/cloudbase/neutron/pkg/constants"
	"github.com/cloudbase/neutron/pkg/poller"
)

type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal Signal
	closed bool

	// slots holds one token per occupied position; Put blocks while it is full.
	slots chan struct{}

	unfinished int
	idle       chan struct{}
}

// New creates a queue holding at most capacity items, signaling through signal.
// The queue owns signal from here on and closes it in Close.
func New[T any](capacity int, signal Signal) (*Queue[T], error) {
	if capacity < 1 {
		return nil, constants.ErrQueueCapacity
	}
	return &Queue[T]{
		items:  make([]T, 0, capacity),
		signal: signal,
		slots:  make(chan struct{}, capacity),
	}, nil
}

// NewWithStrategy creates a queue backed by a freshly created signal of the
// given strategy.
func NewWithStrategy[T any](capacity int, strategy Strategy) (*Queue[T], error) {
	signal, err := NewSignal(strategy)
	if err != nil {
		return nil, err
	}
	q, err := New[T](capacity, signal)
	if err != nil {
		_ = signal.Close()
		return nil, err
	}
	return q, nil
}

// Put inserts item, blocking while the queue is at capacity. The handle is
// signaled before Put returns and never before item is visible to TryGet.
// If ctx ends first, item is not enqueued and ctx's error is returned.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		<-q.slots
		return constants.ErrQueueClosed
	}

	q.items = append(q.items, item)
	if err := q.signal.Notify(); err != nil {
		var zero T
		q.items[len(q.items)-1] = zero
		q.items = q.items[:len(q.items)-1]
		<-q.slots
		return errors.Wrap(err, "signal queue")
	}

	if q.unfinished == 0 {
		q.idle = make(chan struct{})
	}
	q.unfinished++

	return nil
}

// TryGet removes the oldest item without blocking. ok is false when the queue
// is empty. A non-nil error reports that the signal could not be rebalanced;
// the returned item is still valid when ok is true.
func (q *Queue[T]) TryGet() (item T, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item, false, nil
	}

	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]

	if !q.closed {
		if cerr := q.signal.Consume(len(q.items) == 0); cerr != nil {
			err = errors.Wrap(cerr, "consume queue signal")
		}
	}
	<-q.slots

	return item, true, err
}

// TaskDone marks one previously dequeued item as fully processed.
func (q *Queue[T]) TaskDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished <= 0 {
		return errors.New("TaskDone called more times than there were items")
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.idle)
	}
	return nil
}

// Join blocks until every item ever put has been marked done, or ctx ends.
func (q *Queue[T]) Join(ctx context.Context) error {
	q.mu.Lock()
	if q.unfinished == 0 {
		q.mu.Unlock()
		return nil
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Handle is the native primitive to register with a poller.Poller.
// It is valid until Close.
func (q *Queue[T]) Handle() poller.Handle {
	return q.signal.Handle()
}

// Close releases the signal. Later Puts fail with constants.ErrQueueClosed;
// items still queued remain available to TryGet.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.signal.Close()
}
