package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ragbridge/internal/appversion"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
}

// newRootCmd creates the root ragbridge command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   "ragbridge",
		Short: "MCP server bridging to a code-retrieval worker process",
		Long: "ragbridge serves code retrieval tools over MCP (stdio) and delegates the work\n" +
			"to a long-lived worker subprocess speaking newline-delimited JSON-RPC.\n" +
			"It supervises the worker: health checks, bounded restarts with backoff,\n" +
			"and a SQLite journal of lifecycle events.",
		Version:       fmt.Sprintf("ragbridge %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default: ./ragbridge.toml, then $RAGBRIDGE_HOME)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		newServeCmd(&flags),
		newCallCmd(&flags),
		newEventsCmd(&flags),
		newDashCmd(&flags),
		newVersionCmd(),
	)

	return cmd
}

// newVersionCmd creates the "ragbridge version" subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ragbridge version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ragbridge %s\n", appversion.Info())
		},
	}
}
