package connection

import "time"

// MetricsCollector receives the loop's counters. See contrib/metrics/vm for
// a VictoriaMetrics implementation.
type MetricsCollector interface {
	IncTxnQueued()
	IncTxnCommitted()
	IncTxnFailed()
	ObserveCommitDuration(d time.Duration)
	// IncWakeup counts waits ended by a ready handle.
	IncWakeup()
	// IncWaitTimeout counts waits ended by the timer.
	IncWaitTimeout()
}

type NopMetrics struct{}

func (NopMetrics) IncTxnQueued()                       {}
func (NopMetrics) IncTxnCommitted()                    {}
func (NopMetrics) IncTxnFailed()                       {}
func (NopMetrics) ObserveCommitDuration(time.Duration) {}
func (NopMetrics) IncWakeup()                          {}
func (NopMetrics) IncWaitTimeout()                     {}
