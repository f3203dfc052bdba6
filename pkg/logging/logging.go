// Package logging builds the zap logger used across ragbridge. Logs never go
// to stdout: in serve mode stdout carries the MCP protocol.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects level, encoding and destination.
type Options struct {
	// Level is a zap level name ("debug", "info", "warn", "error").
	// Empty means info.
	Level string

	// Format is "console" (default) or "json".
	Format string

	// File appends logs to this path instead of stderr.
	File string

	// Writer overrides the destination entirely (used by tests).
	Writer io.Writer
}

// New builds a logger from opts. The returned close function syncs the
// logger and closes the log file, if any.
func New(opts Options) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		level = lvl
	}

	var (
		out     io.Writer = os.Stderr
		closeFn           = func() error { return nil }
		color   bool
	)
	switch {
	case opts.Writer != nil:
		out = opts.Writer
	case opts.File != "":
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // operator-chosen path
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = f.Close
	default:
		color = isatty.IsTerminal(os.Stderr.Fd())
	}

	encoder, err := newEncoder(opts.Format, color)
	if err != nil {
		return nil, nil, err
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(out)), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logger, func() error {
		_ = logger.Sync()
		return closeFn()
	}, nil
}

func newEncoder(format string, color bool) (zapcore.Encoder, error) {
	switch format {
	case "", "console":
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		if color {
			cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		return zapcore.NewConsoleEncoder(cfg), nil
	case "json":
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg), nil
	default:
		return nil, fmt.Errorf("log format %q: want console or json", format)
	}
}
