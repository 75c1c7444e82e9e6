// Package mock provides an in-memory replica for exercising a connection
// without a server.
package mock

import (
	"context"
	"sync"

	"github.com/cloudbase/neutron/pkg/poller"
	"github.com/cloudbase/neutron/pkg/txn"
)

type replica struct {
	mu   sync.Mutex
	rows map[string]any
}

func (r *replica) Wait(*poller.Poller) {}

func (r *replica) Run() error {
	return nil
}

// Commit applies the operations to the in-memory table and echoes them
// back as {key: value}.
func (r *replica) Commit(_ context.Context, t *txn.Transaction) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string]any, len(t.Ops))
	for _, op := range t.Ops {
		switch op.Op {
		case txn.OpDelete:
			delete(r.rows, op.Key)
			result[op.Key] = nil
		default:
			r.rows[op.Key] = op.Value
			result[op.Key] = op.Value
		}
	}
	return result, nil
}

// Get returns the stored value of key.
func (r *replica) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rows[key]
	return v, ok
}

func Create() *replica {
	return &replica{rows: make(map[string]any)}
}
