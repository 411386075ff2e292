// Package cli implements the kvmodel maintenance command.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jacentio/kvmodel/store"
)

// DefaultConfigPath is read when --config is not given. It may be absent.
const DefaultConfigPath = "kvmodel.yaml"

// Error codes used in JSON error responses.
const (
	ErrCodeGeneric  = "E001"
	ErrCodeNotFound = "E002"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Connection string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the kvmodel CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "kvmodel",
		Short: "Inspect and maintain models stored in a key-value backend",
		Long: `kvmodel works on records written by the store package.

Models and connections are read from a YAML file (kvmodel.yaml by default).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default "+DefaultConfigPath+")")
	cmd.PersistentFlags().StringVar(&opts.Connection, "connection", "", "connection name (default from config)")

	cmd.AddCommand(NewKeysCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewLookupCommand(opts))
	cmd.AddCommand(NewRefreshIndexCommand(opts))
	cmd.AddCommand(NewInitTableCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func (opts *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

// logger writes to stderr so that JSON output stays parseable.
func (opts *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (opts *RootOptions) loadConfig() (*FileConfig, error) {
	if opts.ConfigPath == "" {
		return LoadConfig(DefaultConfigPath, true)
	}
	return LoadConfig(opts.ConfigPath, false)
}

// openStore loads the config and connects. The returned func closes the backend.
func (opts *RootOptions) openStore(ctx context.Context, cmd *cobra.Command) (*store.Store, func(), error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load config", err)
	}
	registry, err := cfg.Registry()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "build models", err)
	}
	client, err := cfg.Open(ctx, opts.Connection)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open connection", err)
	}

	storeCfg := cfg.StoreConfig()
	storeCfg.Logger = opts.logger(cmd)
	s := store.NewWithRegistry(client, storeCfg, registry)
	return s, func() { client.Close() }, nil
}

// model resolves a model name against the store's registry.
func model(s *store.Store, name string) (*store.Model, error) {
	m, err := s.Registry().Model(name)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "resolve model", err)
	}
	return m, nil
}
