// Package tools implements the MCP tool handlers that front the retrieval
// worker.
//
// Each tool is a struct holding its dependencies with a Definition method
// returning the mcp.Tool schema and a Handle method compatible with
// mcp-go's tool handler signature. Bridge failures are returned as tool
// error results, never as Go errors.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"ragbridge/pkg/bridge"
	"ragbridge/pkg/protocol"
)

// Bridge is the part of *bridge.Manager the tools use.
type Bridge interface {
	Invoke(ctx context.Context, method string, params map[string]any, timeout time.Duration) (json.RawMessage, error)
	Status() bridge.Status
}

// TimeoutFunc picks the per-call timeout for a worker method. Zero means
// the bridge default.
type TimeoutFunc func(method string) time.Duration

// Tool is one registrable MCP tool.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// caller is embedded by every tool that talks to the worker.
type caller struct {
	bridge  Bridge
	timeout TimeoutFunc
}

// invoke calls method and decodes the worker's result into out. A non-nil
// result means the call failed and should be returned to the client as is.
func (c caller) invoke(ctx context.Context, method string, params map[string]any, out any) *mcp.CallToolResult {
	var timeout time.Duration
	if c.timeout != nil {
		timeout = c.timeout(method)
	}

	raw, err := c.bridge.Invoke(ctx, method, params, timeout)
	if err != nil {
		return mcp.NewToolResultError(errorText(method, err))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: unexpected worker result: %v", method, err))
	}
	return nil
}

// errorText renders a bridge failure for the MCP client. Each failure class
// gets its own wording so the client can tell a slow query from a dead
// worker.
func errorText(method string, err error) string {
	var (
		timeoutErr *bridge.TimeoutError
		budgetErr  *bridge.RestartBudgetExceededError
		rpcErr     *protocol.RPCError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return fmt.Sprintf("%s timed out after %s; the worker may still be processing. Try again or raise the timeout.",
			method, timeoutErr.Timeout)
	case errors.As(err, &budgetErr):
		return fmt.Sprintf("retrieval worker is down: it failed %d times in a row and automatic restarts are disabled (%v). Restart the server to recover.",
			budgetErr.Restarts, budgetErr)
	case errors.Is(err, bridge.ErrBridgeUnavailable):
		return fmt.Sprintf("retrieval worker unavailable: %v", err)
	case errors.Is(err, bridge.ErrPendingLimit):
		return fmt.Sprintf("retrieval worker is busy (%v); retry shortly", err)
	case errors.As(err, &rpcErr):
		return fmt.Sprintf("%s failed in worker (code %d): %s", method, rpcErr.Code, rpcErr.Message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s cancelled: %v", method, err)
	default:
		return fmt.Sprintf("%s failed: %v", method, err)
	}
}

// All returns every tool backed by b.
func All(b Bridge, timeout TimeoutFunc) []Tool {
	c := caller{bridge: b, timeout: timeout}
	return []Tool{
		&SearchCodeTool{caller: c},
		&IndexFilesTool{caller: c},
		&InsertTextTool{caller: c},
		&GetEntityTool{caller: c},
		&GetRelationshipsTool{caller: c},
		&VisualizeSubgraphTool{caller: c},
		&IndexingStatusTool{caller: c},
		&BridgeStatusTool{bridge: b},
	}
}

// NewServer builds the MCP server exposing All(b, timeout).
func NewServer(name, version string, b Bridge, timeout TimeoutFunc) *server.MCPServer {
	s := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions),
	)
	for _, t := range All(b, timeout) {
		s.AddTool(t.Definition(), t.Handle)
	}
	return s
}

const serverInstructions = `Code retrieval over a knowledge graph built from indexed source files.

Index first with index_files or insert_text, then query with search_code.
Use get_entity and get_relationships to explore a specific symbol, and
visualize_subgraph for a Mermaid diagram. bridge_status reports the health
of the retrieval worker process.`

// intArg extracts an integer argument, returning defaultVal if the key is
// missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// stringsArg extracts a string array argument, skipping non-string and
// empty elements.
func stringsArg(req mcp.CallToolRequest, key string) []string {
	items, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
