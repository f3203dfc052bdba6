// Package main is a development worker for ragbridge. It speaks the worker
// protocol on stdin/stdout and answers every retrieval method from an
// in-memory corpus, so the bridge can be run end to end without the Python
// worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ragbridge/internal/appversion"
	"ragbridge/internal/devworker"
	"ragbridge/pkg/logging"
	"ragbridge/pkg/rpcworker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ragbridge-devworker: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		logLevel    string
		concurrency int64
		seed        []string
	)

	cmd := &cobra.Command{
		Use:           "ragbridge-devworker",
		Short:         "In-memory retrieval worker for ragbridge development",
		Version:       appversion.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stderr is drained by the bridge as worker diagnostics.
			logger, closeLog, err := logging.New(logging.Options{Level: logLevel, Format: "json", Writer: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			w := devworker.New(devworker.ConfigFromEnv(os.Getenv), logger)
			for _, path := range seed {
				data, err := os.ReadFile(path) //nolint:gosec // operator-supplied seed file
				if err != nil {
					return fmt.Errorf("seed %s: %w", path, err)
				}
				w.Insert(path, string(data))
			}

			srv := rpcworker.New(rpcworker.WithLogger(logger), rpcworker.WithMaxConcurrency(concurrency))
			w.Register(srv)

			logger.Info("devworker ready", zap.Int("pid", os.Getpid()), zap.Strings("methods", srv.Methods()))
			return srv.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "diagnostic log level (written to stderr)")
	cmd.Flags().Int64Var(&concurrency, "max-concurrency", 8, "requests handled at once (0 = unbounded)")
	cmd.Flags().StringSliceVar(&seed, "seed", nil, "files to index at startup")

	return cmd
}
