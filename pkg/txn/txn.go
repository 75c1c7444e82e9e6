// Package txn defines the unit of work handed to a connection and the
// Outcome delivered back to its caller.
package txn

import (
	"context"
	"sync"
	"sync/atomic"
)

// OpType names a replica operation.
type OpType string

const (
	OpSet    OpType = "set"
	OpDelete OpType = "delete"
)

// Operation is one change to a replicated table.
// An empty Table means the replica client's default table.
type Operation struct {
	Op    OpType `json:"op" yaml:"op"`
	Table string `json:"table,omitempty" yaml:"table,omitempty"`
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
}

func Set(key string, value any) Operation {
	return Operation{Op: OpSet, Key: key, Value: value}
}

func Delete(key string) Operation {
	return Operation{Op: OpDelete, Key: key}
}

// Transaction carries operations to the connection loop and a single-slot
// result channel back. Exactly one Outcome is ever delivered to it.
type Transaction struct {
	Ops []Operation

	results chan Outcome
	once    sync.Once
	queued  atomic.Bool
}

func New(ops ...Operation) *Transaction {
	return &Transaction{
		Ops:     ops,
		results: make(chan Outcome, 1),
	}
}

// MarkQueued records that the transaction was handed to a connection.
// It reports false if that already happened.
func (t *Transaction) MarkQueued() bool {
	return t.queued.CompareAndSwap(false, true)
}

// ResetQueued undoes MarkQueued after a hand-off that did not happen.
func (t *Transaction) ResetQueued() {
	t.queued.Store(false)
}

// Deliver deposits the outcome. Only the first call has any effect, and it
// never blocks.
func (t *Transaction) Deliver(o Outcome) {
	t.once.Do(func() {
		t.results <- o
	})
}

// Result blocks until the outcome is delivered or ctx ends.
func (t *Transaction) Result(ctx context.Context) (Outcome, error) {
	select {
	case o := <-t.results:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
