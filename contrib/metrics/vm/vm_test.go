package vm

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbase/neutron/pkg/connection"
	"github.com/cloudbase/neutron/pkg/poller"
	"github.com/cloudbase/neutron/pkg/txn"
)

func TestCollector(t *testing.T) {
	c := New(WithPrefix("test"), WithMetricsSet(metrics.NewSet()))

	c.IncTxnQueued()
	c.IncTxnQueued()
	c.IncTxnCommitted()
	c.IncTxnFailed()
	c.IncWakeup()
	c.IncWaitTimeout()
	c.ObserveCommitDuration(15 * time.Millisecond)

	var buf bytes.Buffer
	c.WritePrometheus(&buf)
	out := buf.String()

	assert.Contains(t, out, "test_txn_queued_total 2")
	assert.Contains(t, out, "test_txn_committed_total 1")
	assert.Contains(t, out, "test_txn_failed_total 1")
	assert.Contains(t, out, "test_loop_wakeups_total 1")
	assert.Contains(t, out, "test_loop_timeouts_total 1")
	assert.Contains(t, out, "test_commit_duration_seconds_count 1")
}

func TestHandler(t *testing.T) {
	c := New(WithPrefix("handler"), WithMetricsSet(metrics.NewSet()))
	c.IncTxnQueued()

	rec := httptest.NewRecorder()
	c.Handler(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "handler_txn_queued_total 1")
}

type echoReplica struct{}

func (echoReplica) Wait(*poller.Poller) {}
func (echoReplica) Run() error          { return nil }
func (echoReplica) Commit(_ context.Context, t *txn.Transaction) (any, error) {
	return len(t.Ops), nil
}

func TestCollectorWiredIntoConnection(t *testing.T) {
	c := New(WithPrefix("wired"), WithMetricsSet(metrics.NewSet()))

	conn, err := connection.New(&connection.Config{
		Factory: func(context.Context) (connection.Replica, error) { return echoReplica{}, nil },
		Timeout: time.Second,
	}, connection.WithMetrics(c))
	require.NoError(t, err)
	require.NoError(t, conn.Start(context.Background()))

	v, err := conn.Transact(context.Background(), txn.Set("a", 1), txn.Set("b", 2))
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	var buf bytes.Buffer
	c.WritePrometheus(&buf)
	assert.Contains(t, buf.String(), "wired_txn_queued_total 1")
	assert.Contains(t, buf.String(), "wired_txn_committed_total 1")
}
