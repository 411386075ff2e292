package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jacentio/kvmodel/store"
)

// NewKeysCommand creates the keys command.
func NewKeysCommand(rootOpts *RootOptions) *cobra.Command {
	var ids bool

	cmd := &cobra.Command{
		Use:   "keys <model>",
		Short: "List the record keys of a model",
		Long: `List the record keys of a model, sorted by id.

Index entries and relation sets sharing the model prefix are not listed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeys(rootOpts, args[0], ids, cmd)
		},
	}

	cmd.Flags().BoolVar(&ids, "ids", false, "print ids instead of keys")

	return cmd
}

func runKeys(opts *RootOptions, name string, ids bool, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	s, closeFn, err := opts.openStore(ctx, cmd)
	if err != nil {
		return report(formatter, err)
	}
	defer closeFn()

	m, err := model(s, name)
	if err != nil {
		return report(formatter, err)
	}

	var out []string
	if ids {
		out, err = s.AllIDs(ctx, m)
	} else {
		out, err = s.AllKeys(ctx, m)
	}
	if err != nil {
		return report(formatter, WrapExitError(ExitFailure, "list keys", err))
	}
	if out == nil {
		out = []string{}
	}
	return formatter.Success(out)
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "get <model> <id>",
		Short:         "Print a record",
		Long:          `Print the visible fields of a record. Hidden fields are never shown.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runGet(opts *RootOptions, name, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	s, closeFn, err := opts.openStore(ctx, cmd)
	if err != nil {
		return report(formatter, err)
	}
	defer closeFn()

	m, err := model(s, name)
	if err != nil {
		return report(formatter, err)
	}

	rec, err := s.Get(ctx, m, id)
	if err != nil {
		return report(formatter, WrapExitError(ExitFailure, "get "+m.RecordKey(id), err))
	}
	return formatter.Success(rec)
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup <model> <field> <value>",
		Short: "Find a record through a secondary index",
		Long: `Resolve a record through the index of an indexed field.

Stale index entries whose record no longer carries the value are reported as not found.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(rootOpts, args[0], args[1], args[2], cmd)
		},
	}

	return cmd
}

func runLookup(opts *RootOptions, name, field, value string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	s, closeFn, err := opts.openStore(ctx, cmd)
	if err != nil {
		return report(formatter, err)
	}
	defer closeFn()

	m, err := model(s, name)
	if err != nil {
		return report(formatter, err)
	}

	rec, err := s.LookupBy(ctx, m, field, value)
	if errors.Is(err, store.ErrNotIndexed) {
		return report(formatter, WrapExitError(ExitCommandError, "lookup", err))
	}
	if err != nil {
		return report(formatter, WrapExitError(ExitFailure, "lookup "+m.IndexKey(field, value), err))
	}
	return formatter.Success(rec)
}

// report writes err through the formatter and returns it as an ExitError.
func report(formatter *OutputFormatter, err error) error {
	code := ErrCodeGeneric
	if errors.Is(err, store.ErrNotFound) {
		code = ErrCodeNotFound
	}
	if outErr := formatter.Error(code, err.Error()); outErr != nil {
		return outErr
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return WrapExitError(ExitFailure, "command failed", err)
}
