package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RefreshResult is the outcome of refresh-index.
type RefreshResult struct {
	Model   string   `json:"model"`
	Written int      `json:"written"`
	Keys    []string `json:"keys,omitempty"`
}

func (r RefreshResult) String() string {
	return fmt.Sprintf("%s: %d index entries written", r.Model, r.Written)
}

// NewRefreshIndexCommand creates the refresh-index command.
func NewRefreshIndexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh-index <model>",
		Short: "Rebuild missing index entries of a model",
		Long: `Walk every record of a model and write the index entries that are missing.

Existing entries are left untouched, so the command is safe to repeat.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefreshIndex(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runRefreshIndex(opts *RootOptions, name string, cmd *cobra.Command) error {
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

	result := RefreshResult{Model: m.Name()}
	written, err := s.RefreshIndex(ctx, m, func(key, id string) {
		if opts.Verbose {
			result.Keys = append(result.Keys, key)
		}
		s.Logger().Debug("index entry written", "key", key, "id", id)
	})
	result.Written = written
	if err != nil {
		return report(formatter, WrapExitError(ExitFailure, "refresh index", err))
	}
	return formatter.Success(result)
}
