package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacentio/kvmodel/kv/dynamo"
)

// NewInitTableCommand creates the init-table command.
func NewInitTableCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-table",
		Short: "Create the DynamoDB table of a dynamodb connection",
		Long: `Create the single table used by a dynamodb connection, with its score
index and a stream carrying old images. An existing table is left as is.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitTable(rootOpts, cmd)
		},
	}

	return cmd
}

func runInitTable(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	cfg, err := opts.loadConfig()
	if err != nil {
		return report(formatter, WrapExitError(ExitCommandError, "load config", err))
	}
	name := opts.Connection
	if name == "" {
		name = cfg.Connection
	}
	conn, ok := cfg.Connections[name]
	if !ok {
		return report(formatter, WrapExitError(ExitCommandError, "init table", fmt.Errorf("unknown connection %q", name)))
	}
	if conn.Driver != DriverDynamoDB {
		return report(formatter, WrapExitError(ExitCommandError, "init table",
			fmt.Errorf("connection %s uses driver %q, not %s", name, conn.Driver, DriverDynamoDB)))
	}

	_, client, err := dynamo.Open(ctx, conn.Dynamo)
	if err != nil {
		return report(formatter, WrapExitError(ExitFailure, "open connection", err))
	}
	opts.logger(cmd).Info("ensuring table", "connection", name, "table", conn.Dynamo.Table)
	if err := dynamo.EnsureTable(ctx, client, conn.Dynamo); err != nil {
		return report(formatter, WrapExitError(ExitFailure, "init table", err))
	}

	table := conn.Dynamo.Table
	if table == "" {
		table = dynamo.DefaultConfig().Table
	}
	return formatter.Success(fmt.Sprintf("table %s ready", table))
}
