package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacentio/kvmodel/api"
	"github.com/jacentio/kvmodel/auth"
)

// ServeOptions holds flags of the serve command.
type ServeOptions struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve registration, login and read-only record endpoints over HTTP.

The config must declare a User model (preset: user). Requests authenticate
with a bearer token or an api_token query parameter.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for in-flight requests")

	return cmd
}

func runServe(rootOpts *RootOptions, opts *ServeOptions, cmd *cobra.Command) error {
	formatter := rootOpts.formatter(cmd)
	ctx := cmd.Context()

	s, closeFn, err := rootOpts.openStore(ctx, cmd)
	if err != nil {
		return report(formatter, err)
	}
	defer closeFn()

	users, err := model(s, "User")
	if err != nil {
		return report(formatter, err)
	}

	logger := s.Logger()
	service := auth.NewService(s, auth.WithUserModel(users))
	server := &http.Server{
		Addr:    opts.Addr,
		Handler: api.Build(s, service, logger),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", opts.Addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return report(formatter, WrapExitError(ExitFailure, "serve", err))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return report(formatter, WrapExitError(ExitFailure, "shutdown", err))
	}
	logger.Info("server stopped")
	return nil
}
