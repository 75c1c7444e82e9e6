package cli

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/cloudbase/neutron/pkg/idl"
)

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dump",
		Short:         "Print the replicated tables after the initial synchronisation",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDump(cmd, rootOpts)
		},
	}

	return cmd
}

func runDump(cmd *cobra.Command, rootOpts *RootOptions) error {
	log, err := newLogger(rootOpts, cmd)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Err: err}
	}
	defer log.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := idl.Dial(ctx, idl.Config{
		Target:  rootOpts.Target,
		Schema:  rootOpts.Schema,
		Tables:  rootOpts.Tables,
		Timeout: rootOpts.Timeout,
		Logger:  log,
	})
	if err != nil {
		return &ExitError{Code: ExitCommandError, Err: err}
	}
	defer client.Close()

	out := make(map[string]map[string]any, len(client.Tables()))
	for _, table := range client.Tables() {
		out[table] = client.Rows(table)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return &ExitError{Code: ExitCommandError, Err: err}
	}
	return nil
}
