package cli

import (
	"context"
	"os"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cloudbase/neutron/contrib/metrics/vm"
	"github.com/cloudbase/neutron/pkg/connection"
	"github.com/cloudbase/neutron/pkg/txn"
	"github.com/cloudbase/neutron/pkg/txnqueue"
)

// TxnFile is the YAML document read by apply.
//
//	transactions:
//	  - ops:
//	      - {op: set, key: a, value: 1}
//	      - {op: delete, table: kv, key: b}
type TxnFile struct {
	Transactions []TxnEntry `yaml:"transactions"`
}

type TxnEntry struct {
	Ops []txn.Operation `yaml:"ops"`
}

// TxnReport is one line of apply output.
type TxnReport struct {
	Index  int    `json:"index"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Trace  string `json:"trace,omitempty"`
}

type applyOptions struct {
	strategy string
	metrics  bool
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply <file.yaml>",
		Short: "Commit the transactions of a YAML file in order",
		Long: `Commit every transaction listed in a YAML file, in order, through a
single connection. One JSON report per transaction is written to stdout.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.strategy, "queue", "default", "hand-off queue signal (default|pipe|event)")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "write Prometheus metrics to stderr when done")

	return cmd
}

func loadTxnFile(path string) (*TxnFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f TxnFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if len(f.Transactions) == 0 {
		return nil, errors.Newf("%s: no transactions", path)
	}
	return &f, nil
}

func runApply(cmd *cobra.Command, rootOpts *RootOptions, opts *applyOptions, path string) error {
	f, err := loadTxnFile(path)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Err: err}
	}

	strategy, err := txnqueue.ParseStrategy(opts.strategy)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Err: err}
	}

	log, err := newLogger(rootOpts, cmd)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Err: err}
	}
	defer log.Close()

	collector := vm.New(vm.WithMetricsSet(metrics.NewSet()))

	cfg := connection.NewConfig(rootOpts.Target, rootOpts.Schema, rootOpts.Timeout)
	conn, err := connection.New(cfg,
		connection.WithTables(rootOpts.Tables...),
		connection.WithRequestTimeout(rootOpts.Timeout),
		connection.WithQueueStrategy(strategy),
		connection.WithLogger(log),
		connection.WithMetrics(collector),
	)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Err: err}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := conn.Start(ctx); err != nil {
		return &ExitError{Code: ExitCommandError, Err: err}
	}

	txns := make([]*txn.Transaction, len(f.Transactions))
	for i, entry := range f.Transactions {
		txns[i] = txn.New(entry.Ops...)
	}

	// queue from a goroutine so a full queue never stalls result collection
	queueErr := make(chan error, 1)
	go func() {
		for _, t := range txns {
			if err := conn.QueueTxn(ctx, t); err != nil {
				queueErr <- err
				return
			}
		}
		queueErr <- nil
	}()

	enc := json.NewEncoder(cmd.OutOrStdout())
	failed := 0
	for i, t := range txns {
		o, err := t.Result(ctx)
		if err != nil {
			return &ExitError{Code: ExitCommandError, Err: err}
		}

		report := TxnReport{Index: i}
		if fault := o.Failure(); fault != nil {
			failed++
			report.Error = fault.Error()
			if rootOpts.Verbose {
				report.Trace = fault.Trace
			}
		} else {
			report.Result = o.Value()
		}
		if err := enc.Encode(report); err != nil {
			return &ExitError{Code: ExitCommandError, Err: err}
		}
	}
	if err := <-queueErr; err != nil {
		return &ExitError{Code: ExitCommandError, Err: err}
	}

	if opts.metrics {
		collector.WritePrometheus(cmd.ErrOrStderr())
	}

	if failed > 0 {
		return &ExitError{Code: ExitFailure, Err: errors.Newf("%d of %d transactions failed", failed, len(txns))}
	}
	return nil
}
