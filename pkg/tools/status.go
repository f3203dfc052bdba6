package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"ragbridge/pkg/protocol"
)

// IndexingStatusTool handles get_indexing_status.
type IndexingStatusTool struct {
	caller
}

// Definition returns the MCP tool definition for registration.
func (t *IndexingStatusTool) Definition() mcp.Tool {
	return mcp.NewTool(protocol.MethodIndexingStatus,
		mcp.WithDescription("Report the worker's index: working directory, size on disk and storage backends."),
	)
}

type indexingStatus struct {
	Initialized         bool              `json:"initialized"`
	WorkingDir          string            `json:"working_dir"`
	WorkingDirSizeBytes int64             `json:"working_dir_size_bytes"`
	StorageBackends     map[string]string `json:"storage_backends"`
}

// Handle processes the get_indexing_status tool call.
func (t *IndexingStatusTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var res indexingStatus
	if failed := t.invoke(ctx, protocol.MethodIndexingStatus, nil, &res); failed != nil {
		return failed, nil
	}

	var b strings.Builder
	b.WriteString("## Indexing status\n\n")
	fmt.Fprintf(&b, "- Initialized: %t\n", res.Initialized)
	fmt.Fprintf(&b, "- Working dir: %s\n", res.WorkingDir)
	fmt.Fprintf(&b, "- Size on disk: %s\n", humanBytes(res.WorkingDirSizeBytes))
	if len(res.StorageBackends) > 0 {
		names := make([]string, 0, len(res.StorageBackends))
		for k := range res.StorageBackends {
			names = append(names, k)
		}
		sort.Strings(names)
		b.WriteString("- Storage backends:\n")
		for _, k := range names {
			fmt.Fprintf(&b, "  - %s: %s\n", k, res.StorageBackends[k])
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// BridgeStatusTool handles bridge_status. It answers locally without
// calling the worker, so it works while the worker is down.
type BridgeStatusTool struct {
	bridge Bridge
}

// Definition returns the MCP tool definition for registration.
func (t *BridgeStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("bridge_status",
		mcp.WithDescription(
			"Report the retrieval worker process: lifecycle state, pid, restart counters, "+
				"pending calls and the last exit reason.",
		),
	)
}

// Handle processes the bridge_status tool call.
func (t *BridgeStatusTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := t.bridge.Status()

	var b strings.Builder
	b.WriteString("## Bridge status\n\n")
	fmt.Fprintf(&b, "- State: %s\n", st.State)
	fmt.Fprintf(&b, "- Instance: %s\n", st.InstanceID)
	if st.PID != 0 {
		fmt.Fprintf(&b, "- PID: %d\n", st.PID)
	}
	fmt.Fprintf(&b, "- Generation: %d\n", st.Generation)
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- Uptime: %s\n", time.Since(st.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(&b, "- Restarts: %d total, %d/%d consecutive\n", st.Restarts, st.ConsecutiveRestarts, st.MaxRestarts)
	fmt.Fprintf(&b, "- Consecutive failures: %d\n", st.ConsecutiveFailures)
	fmt.Fprintf(&b, "- Auto-restart: %t\n", st.AutoRestart)
	fmt.Fprintf(&b, "- Pending calls: %d\n", st.Pending)
	if st.BudgetExhausted {
		b.WriteString("- Restart budget exhausted\n")
	}
	if st.LastExit != "" {
		fmt.Fprintf(&b, "- Last exit: %s\n", st.LastExit)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
