// Package vm provides a VictoriaMetrics-based implementation of
// connection.MetricsCollector.
//
// Create a collector with the default prefix "ovsdb_txn":
//
//	collector := vm.New()
//	conn, _ := connection.New(cfg, connection.WithMetrics(collector))
//
// Expose it over HTTP with Handler, or write it anywhere with
// WritePrometheus.
//
// # Metrics Provided
//
//   - {prefix}_txn_queued_total - transactions accepted by QueueTxn
//   - {prefix}_txn_committed_total - transactions that received a success
//   - {prefix}_txn_failed_total - transactions that received a failure
//   - {prefix}_commit_duration_seconds - histogram of commit latencies
//   - {prefix}_loop_wakeups_total - loop waits ended by a ready handle
//   - {prefix}_loop_timeouts_total - loop waits ended by the timer
package vm
