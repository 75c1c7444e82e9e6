// Package connection serializes transactions against a replicated database.
//
// Callers hand transactions to a Connection from any goroutine. A single
// background loop owns the replica client: it blocks in one native wait on
// the client's transport, the hand-off queue and a timer, lets the client
// process traffic, and commits at most one transaction per wakeup. Every
// transaction receives exactly one txn.Outcome; commit errors and panics
// are delivered as data and never stop the loop.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/cloudbase/neutron/pkg/constants"
	"github.com/cloudbase/neutron/pkg/idl"
	"github.com/cloudbase/neutron/pkg/logger"
	"github.com/cloudbase/neutron/pkg/poller"
	"github.com/cloudbase/neutron/pkg/txn"
	"github.com/cloudbase/neutron/pkg/txnqueue"
)

// pollErrorBackoff throttles the loop while the wait call itself fails.
const pollErrorBackoff = 100 * time.Millisecond

// Replica is the replicated-table client driven by the loop. Only the loop
// goroutine calls it once Start has returned.
type Replica interface {
	// Wait registers the client's readiness conditions with p.
	Wait(p *poller.Poller)
	// Run processes buffered protocol traffic.
	Run() error
	// Commit executes t and returns its result.
	Commit(ctx context.Context, t *txn.Transaction) (any, error)
}

// Factory builds a synchronised Replica: schema negotiation and the initial
// snapshot are done when it returns.
type Factory func(ctx context.Context) (Replica, error)

// TxnQueue is the hand-off queue between callers and the loop.
// *txnqueue.Queue[*txn.Transaction] implements it.
type TxnQueue interface {
	Put(ctx context.Context, t *txn.Transaction) error
	TryGet() (*txn.Transaction, bool, error)
	TaskDone() error
	Join(ctx context.Context) error
	Handle() poller.Handle
}

type Connection struct {
	factory Factory
	queue   TxnQueue
	timeout time.Duration
	logger  logger.Logger
	metrics MetricsCollector

	mu      sync.Mutex
	replica Replica
}

// New validates cfg and builds an unstarted Connection. Configuration
// faults are returned here, never from the loop.
func New(cfg *Config, opts ...Option) (*Connection, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	for _, opt := range opts {
		opt(&c)
	}

	if c.Timeout <= 0 {
		return nil, constants.ErrNoTimeout
	}
	switch {
	case c.Factory != nil && c.Target != "":
		return nil, constants.ErrFactoryAndTarget
	case c.Factory == nil && c.Target == "":
		return nil, constants.ErrNoFactoryOrTarget
	case c.Factory == nil && c.Schema == "":
		return nil, constants.ErrNoSchema
	}

	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.Factory == nil {
		c.Factory = dialFactory(c)
	}
	if c.Queue == nil {
		q, err := txnqueue.NewWithStrategy[*txn.Transaction](constants.QueueDepth, c.QueueStrategy)
		if err != nil {
			return nil, errors.Wrapf(err, "create %s hand-off queue", c.QueueStrategy)
		}
		c.Queue = q
	}

	return &Connection{
		factory: c.Factory,
		queue:   c.Queue,
		timeout: c.Timeout,
		logger:  c.Logger,
		metrics: c.Metrics,
	}, nil
}

// dialFactory connects an idl client to the configured target.
func dialFactory(cfg Config) Factory {
	return func(ctx context.Context) (Replica, error) {
		client, err := idl.Dial(ctx, idl.Config{
			Target:  cfg.Target,
			Schema:  cfg.Schema,
			Tables:  cfg.Tables,
			Timeout: cfg.RequestTimeout,
			Logger:  cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Start builds the replica client and spawns the loop. It blocks until the
// initial synchronisation is done. Later calls return nil at once; a failed
// Start may be retried.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.replica != nil {
		return nil
	}

	replica, err := c.factory(ctx)
	if err != nil {
		return errors.Wrap(err, "start connection")
	}
	c.replica = replica

	go c.loop(replica, poller.New())

	c.logger.Info("connection started")
	return nil
}

// IsStarted reports whether Start has succeeded.
func (c *Connection) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replica != nil
}

// QueueTxn hands t to the loop. It returns once t is accepted, not once it
// has run; wait on t.Result for the outcome. It blocks while a previous
// transaction is still queued, until ctx ends.
func (c *Connection) QueueTxn(ctx context.Context, t *txn.Transaction) error {
	if !t.MarkQueued() {
		return constants.ErrTxnAlreadyQueued
	}
	if err := c.queue.Put(ctx, t); err != nil {
		t.ResetQueued()
		return err
	}
	c.metrics.IncTxnQueued()
	return nil
}

// Transact queues one transaction made of ops and waits for its outcome.
func (c *Connection) Transact(ctx context.Context, ops ...txn.Operation) (any, error) {
	t := txn.New(ops...)
	if err := c.QueueTxn(ctx, t); err != nil {
		return nil, err
	}
	o, err := t.Result(ctx)
	if err != nil {
		return nil, err
	}
	return o.Unwrap()
}

// Drain blocks until every queued transaction has received its outcome.
func (c *Connection) Drain(ctx context.Context) error {
	return c.queue.Join(ctx)
}

func (c *Connection) loop(replica Replica, p *poller.Poller) {
	for {
		replica.Wait(p)
		p.Wait(c.queue.Handle(), poller.In)
		p.TimerWait(c.timeout)

		ready, err := p.Block()
		switch {
		case err != nil:
			c.logger.Error("wait failed", "error", err)
			time.Sleep(pollErrorBackoff)
		case ready == 0:
			c.metrics.IncWaitTimeout()
			c.logger.Debug("wait timed out", "timeout", c.timeout)
		default:
			c.metrics.IncWakeup()
		}

		if err := replica.Run(); err != nil {
			c.logger.Error("replica run failed", "error", err)
		}

		t, ok, err := c.queue.TryGet()
		if err != nil {
			c.logger.Error("hand-off queue signal", "error", err)
		}
		if !ok {
			continue
		}

		c.commit(replica, t)

		if err := c.queue.TaskDone(); err != nil {
			c.logger.Error("hand-off queue bookkeeping", "error", err)
		}
	}
}

func (c *Connection) commit(replica Replica, t *txn.Transaction) {
	start := time.Now()
	outcome := execute(replica, t)
	c.metrics.ObserveCommitDuration(time.Since(start))

	if f := outcome.Failure(); f != nil {
		c.metrics.IncTxnFailed()
		c.logger.Warn("transaction failed", "error", f.Err.Error(), "trace", f.Trace)
	} else {
		c.metrics.IncTxnCommitted()
	}

	t.Deliver(outcome)
}

func execute(replica Replica, t *txn.Transaction) (outcome txn.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = txn.Failed(txn.CapturePanic(r))
		}
	}()

	v, err := replica.Commit(context.Background(), t)
	if err != nil {
		return txn.Failed(txn.Capture(err))
	}
	return txn.Success(v)
}
