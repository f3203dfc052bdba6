package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// callConfig holds configuration for the call command.
type callConfig struct {
	timeout time.Duration
}

// newCallCmd creates the "ragbridge call" subcommand.
func newCallCmd(flags *globalFlags) *cobra.Command {
	var cfg callConfig

	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Start the worker, make one call and print the result",
		Long: "Starts the configured worker, sends a single JSON-RPC call and prints the\n" +
			"result as indented JSON. Useful for checking a worker setup by hand.",
		Example: `  ragbridge call ping
  ragbridge call search_code '{"query":"how are keys rotated","mode":"local"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if len(args) == 2 {
				raw = args[1]
			}
			params, err := parseParams(raw)
			if err != nil {
				return err
			}
			return runCall(cmd.Context(), flags, args[0], params, cfg.timeout, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 0, "call timeout (default: from config)")

	return cmd
}

// parseParams decodes the optional params argument, which must be a JSON
// object.
func parseParams(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return params, nil
}

func runCall(ctx context.Context, flags *globalFlags, method string, params map[string]any, timeout time.Duration, stdout, stderr io.Writer) error {
	env, err := loadEnv(flags, stderr)
	if err != nil {
		return err
	}
	defer env.close()

	if timeout <= 0 {
		timeout = env.cfg.TimeoutFor(method)
	}

	mgr := env.newManager(nil)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mgr.Close(stopCtx); err != nil {
			env.logger.Warn("stop worker", zap.Error(err))
		}
	}()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	result, err := mgr.Invoke(ctx, method, params, timeout)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return writeJSON(stdout, result)
}

// writeJSON prints raw indented, falling back to the bytes as received.
func writeJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
