package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ragbridge/internal/appversion"
	"ragbridge/pkg/bridge"
	"ragbridge/pkg/config"
	"ragbridge/pkg/eventlog"
	"ragbridge/pkg/tools"
)

// shutdownTimeout bounds stopping the worker when serve exits.
const shutdownTimeout = 15 * time.Second

// newServeCmd creates the "ragbridge serve" subcommand.
func newServeCmd(flags *globalFlags) *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: "Starts the worker, then serves MCP over stdin/stdout until stdin closes or a\n" +
			"signal arrives. Lifecycle events are journaled; a changed config file\n" +
			"restarts the worker with the new environment.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			warnIfTerminal(cmd.InOrStdin(), cmd.ErrOrStderr())
			return runServe(cmd.Context(), flags, !noWatch, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the worker when the config file changes")

	return cmd
}

func runServe(ctx context.Context, flags *globalFlags, watch bool, stdin io.Reader, stdout, stderr io.Writer) error {
	env, err := loadEnv(flags, stderr)
	if err != nil {
		return err
	}
	defer env.close()
	logger := env.logger

	journalPath, err := env.cfg.EventLogPath()
	if err != nil {
		return fmt.Errorf("resolve eventlog path: %w", err)
	}
	db, err := eventlog.Open(ctx, journalPath)
	if err != nil {
		return err
	}
	defer db.Close()

	bus := bridge.NewBus()
	journal, unsubscribe := bus.Subscribe(512)
	defer unsubscribe()

	// The journal drains until the bus closes so the final stopped event
	// is recorded after ctx is cancelled.
	var journalWG sync.WaitGroup
	journalWG.Add(1)
	go func() {
		defer journalWG.Done()
		eventlog.NewWriter(db, logger.Named("eventlog")).Consume(context.Background(), journal)
	}()

	mgr := env.newManager(bus)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mgr.Close(stopCtx); err != nil {
			logger.Warn("stop worker", zap.Error(err))
		}
		bus.Close()
		journalWG.Wait()
		if dropped := bus.Dropped(); dropped > 0 {
			logger.Warn("events dropped", zap.Uint64("count", dropped))
		}
	}()

	logger.Info("starting worker",
		zap.String("instance", mgr.InstanceID()),
		zap.String("command", env.cfg.Worker.Command),
		zap.String("eventlog", journalPath),
	)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if watch && env.cfg.Path != "" {
		go func() {
			if err := config.Watch(ctx, env.cfg.Path, logger.Named("config"), func() {
				reloadWorker(ctx, env.cfg.Path, mgr, logger)
			}); err != nil {
				logger.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	mcpServer := tools.NewServer("ragbridge", appversion.String(), mgr, env.cfg.TimeoutFor)
	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(logger.Named("mcp")))

	logger.Info("serving MCP on stdio")
	err = stdio.Listen(ctx, stdin, stdout)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("mcp server: %w", err)
	}
	logger.Info("MCP session ended")
	return nil
}

// reloadWorker applies a changed config file: the new worker environment
// becomes the spawn snapshot and the worker is restarted. An invalid file
// is logged and the running worker is left alone.
func reloadWorker(ctx context.Context, path string, mgr *bridge.Manager, logger *zap.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		logger.Warn("config reload rejected", zap.Error(err))
		return
	}

	mgr.Reconfigure(cfg.WorkerEnv())
	logger.Info("config reloaded; restarting worker",
		zap.Strings("worker_env", config.RedactEnv(cfg.WorkerEnv())))

	switch err := mgr.Restart(ctx); {
	case err == nil:
	case errors.Is(err, bridge.ErrRestartInFlight):
		logger.Info("restart already in progress; new environment applies to it")
	case errors.Is(err, bridge.ErrBridgeUnavailable), errors.Is(err, bridge.ErrRestartBudgetExceeded):
		logger.Warn("worker not running; new environment applies on the next start", zap.Error(err))
	default:
		logger.Error("restart after config reload failed", zap.Error(err))
	}
}

// warnIfTerminal tells a person who ran serve by hand that it expects an
// MCP client on stdin.
func warnIfTerminal(stdin io.Reader, stderr io.Writer) {
	if f, ok := stdin.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		fmt.Fprintln(stderr, "ragbridge serve speaks MCP on stdin; start it from an MCP client (Ctrl-C to quit)")
	}
}
