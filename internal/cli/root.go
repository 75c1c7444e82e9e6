// Package cli implements the ovsdb-txn command line.
package cli

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cloudbase/neutron/pkg/logger"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // one or more transactions failed
	ExitCommandError = 2 // bad flags, unreadable files, unreachable server
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Target  string
	Schema  string
	Tables  []string
	Timeout time.Duration
	Verbose bool
}

// NewRootCommand creates the root command for ovsdb-txn.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ovsdb-txn",
		Short: "Apply and inspect transactions against a replicated database",
		// main reports errors with the exit code
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Target == "" {
				return &ExitError{Code: ExitCommandError, Err: errors.Newf("no target: pass --target or set %s", EnvTarget)}
			}
			if opts.Schema == "" {
				return &ExitError{Code: ExitCommandError, Err: errors.Newf("no schema: pass --schema or set %s", EnvSchema)}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Target, "target", GetEnvOrDefault(EnvTarget, ""), "server address (ws://, wss://, tcp:, unix:)")
	cmd.PersistentFlags().StringVar(&opts.Schema, "schema", GetEnvOrDefault(EnvSchema, ""), "database name")
	cmd.PersistentFlags().StringSliceVar(&opts.Tables, "tables", nil, "tables to replicate (default all)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "loop wait and request timeout")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging to stderr")

	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))

	return cmd
}

func newLogger(opts *RootOptions, cmd *cobra.Command) (*logger.LogData, error) {
	level := zerolog.WarnLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	return logger.New().FromBuffer(cmd.ErrOrStderr()).WithLevel(level).Make()
}
