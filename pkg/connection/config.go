package connection

import (
	"time"

	"github.com/cloudbase/neutron/pkg/logger"
	"github.com/cloudbase/neutron/pkg/txnqueue"
)

// Config describes a Connection. Either Factory, or Target and Schema, must
// be set.
type Config struct {
	// Target is the replica server address, e.g. "ws://localhost:6640" or
	// "tcp:127.0.0.1:6640". Used with Schema to build the default factory.
	Target string
	Schema string
	// Tables limits replication to the named tables; empty means all.
	Tables []string
	// RequestTimeout bounds each replica round trip of the default factory.
	RequestTimeout time.Duration

	// Factory builds the replica client on Start.
	Factory Factory

	// Timeout bounds a single wait of the background loop.
	Timeout time.Duration

	// QueueStrategy picks the hand-off queue signal when Queue is nil.
	QueueStrategy txnqueue.Strategy
	Queue         TxnQueue

	Logger  logger.Logger
	Metrics MetricsCollector
}

// NewConfig creates a Config for the replica server at target.
// It is not absolutely necessary to create a Config using this function,
// but it fills in the defaults a Connection needs.
func NewConfig(target, schema string, timeout time.Duration) *Config {
	return &Config{
		Target:  target,
		Schema:  schema,
		Timeout: timeout,
		Logger:  logger.Nop(),
		Metrics: NopMetrics{},
	}
}

type Option func(*Config)

func WithFactory(f Factory) Option {
	return func(c *Config) { c.Factory = f }
}

func WithTables(tables ...string) Option {
	return func(c *Config) { c.Tables = tables }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestTimeout = d }
}

func WithQueueStrategy(s txnqueue.Strategy) Option {
	return func(c *Config) { c.QueueStrategy = s }
}

// WithQueue injects the hand-off queue. The Connection does not close it.
func WithQueue(q TxnQueue) Option {
	return func(c *Config) { c.Queue = q }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithMetrics(m MetricsCollector) Option {
	return func(c *Config) { c.Metrics = m }
}
