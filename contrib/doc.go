// Package contrib holds optional integrations for connection users.
//
// Nothing here is needed to queue and commit transactions. The
// [github.com/cloudbase/neutron/contrib/metrics/vm] package implements
// connection.MetricsCollector on VictoriaMetrics.
//
// Note that this package is outside of the compatibility guarantees of the
// core packages and may change without notice.
package contrib
