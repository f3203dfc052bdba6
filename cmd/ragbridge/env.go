package main

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"ragbridge/pkg/bridge"
	"ragbridge/pkg/config"
	"ragbridge/pkg/logging"
)

// appEnv is the loaded configuration plus the logger built from it.
type appEnv struct {
	cfg      *config.Config
	logger   *zap.Logger
	closeLog func() error
}

// loadEnv reads the configuration and builds the logger. Logs go to the
// configured file or to stderr, never to stdout.
func loadEnv(flags *globalFlags, stderr io.Writer) (*appEnv, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	opts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}
	if flags.verbose {
		opts.Level = "debug"
	}
	if opts.File == "" {
		opts.Writer = stderr
	}
	logger, closeLog, err := logging.New(opts)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	logger.Debug("config loaded",
		zap.String("path", cfg.Path),
		zap.String("worker", cfg.Worker.Command),
		zap.Strings("worker_env", config.RedactEnv(cfg.WorkerEnv())),
	)

	return &appEnv{cfg: cfg, logger: logger, closeLog: closeLog}, nil
}

// newManager builds a Manager from the configuration. bus may be nil.
func (e *appEnv) newManager(bus *bridge.Bus) *bridge.Manager {
	opts := append(e.cfg.ManagerOptions(), bridge.WithLogger(e.logger.Named("bridge")))
	if bus != nil {
		opts = append(opts, bridge.WithEventBus(bus))
	}
	return bridge.New(e.cfg.WorkerCommand(), opts...)
}

func (e *appEnv) close() {
	_ = e.closeLog()
}
