package vm

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/cloudbase/neutron/pkg/connection"
)

var _ connection.MetricsCollector = (*Collector)(nil)

// Option configures a Collector.
type Option func(*Collector)

// WithPrefix sets the metric name prefix.
//
// Default: "ovsdb_txn"
func WithPrefix(prefix string) Option {
	return func(c *Collector) {
		c.prefix = prefix
	}
}

// WithMetricsSet registers the metrics with set instead of a new globally
// registered one. The caller is responsible for exposing it.
func WithMetricsSet(set *metrics.Set) Option {
	return func(c *Collector) {
		c.set = set
	}
}

// Collector implements connection.MetricsCollector. Safe for concurrent use.
type Collector struct {
	set    *metrics.Set
	prefix string

	queued         *metrics.Counter
	committed      *metrics.Counter
	failed         *metrics.Counter
	commitDuration *metrics.Histogram
	wakeups        *metrics.Counter
	timeouts       *metrics.Counter
}

// New creates a collector. Without WithMetricsSet it creates its own set and
// registers it globally.
func New(opts ...Option) *Collector {
	c := &Collector{prefix: "ovsdb_txn"}

	for _, opt := range opts {
		opt(c)
	}

	if c.set == nil {
		c.set = metrics.NewSet()
		metrics.RegisterSet(c.set)
	}

	c.initMetrics()

	return c
}

func (c *Collector) initMetrics() {
	p := c.prefix

	c.queued = c.set.NewCounter(fmt.Sprintf("%s_txn_queued_total", p))
	c.committed = c.set.NewCounter(fmt.Sprintf("%s_txn_committed_total", p))
	c.failed = c.set.NewCounter(fmt.Sprintf("%s_txn_failed_total", p))
	c.commitDuration = c.set.NewHistogram(fmt.Sprintf("%s_commit_duration_seconds", p))
	c.wakeups = c.set.NewCounter(fmt.Sprintf("%s_loop_wakeups_total", p))
	c.timeouts = c.set.NewCounter(fmt.Sprintf("%s_loop_timeouts_total", p))
}

// Set returns the underlying metrics set.
func (c *Collector) Set() *metrics.Set {
	return c.set
}

// Handler exposes the metrics in Prometheus format.
//
//	http.HandleFunc("/metrics", collector.Handler)
func (c *Collector) Handler(w http.ResponseWriter, _ *http.Request) {
	c.set.WritePrometheus(w)
}

// WritePrometheus writes all metrics in Prometheus format to w.
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

func (c *Collector) IncTxnQueued()    { c.queued.Inc() }
func (c *Collector) IncTxnCommitted() { c.committed.Inc() }
func (c *Collector) IncTxnFailed()    { c.failed.Inc() }
func (c *Collector) IncWakeup()       { c.wakeups.Inc() }
func (c *Collector) IncWaitTimeout()  { c.timeouts.Inc() }

func (c *Collector) ObserveCommitDuration(d time.Duration) {
	c.commitDuration.Update(d.Seconds())
}
