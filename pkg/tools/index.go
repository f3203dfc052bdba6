package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"ragbridge/pkg/protocol"
)

// IndexFilesTool handles index_files.
type IndexFilesTool struct {
	caller
}

// Definition returns the MCP tool definition for registration.
func (t *IndexFilesTool) Definition() mcp.Tool {
	return mcp.NewTool(protocol.MethodIndexFiles,
		mcp.WithDescription(
			"Index source files into the knowledge graph. Paths are resolved to absolute paths "+
				"before being sent to the worker. Large batches can take minutes.",
		),
		mcp.WithArray("file_paths",
			mcp.Required(),
			mcp.Description("Files to index"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
}

type indexResult struct {
	SuccessCount int      `json:"success_count"`
	ErrorCount   int      `json:"error_count"`
	Errors       []string `json:"errors"`
	Total        int      `json:"total"`
}

// Handle processes the index_files tool call.
func (t *IndexFilesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths := stringsArg(req, "file_paths")
	if len(paths) == 0 {
		return mcp.NewToolResultError("'file_paths' must list at least one file"), nil
	}
	for i, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			paths[i] = abs
		}
	}

	var res indexResult
	if failed := t.invoke(ctx, protocol.MethodIndexFiles, map[string]any{"file_paths": paths}, &res); failed != nil {
		return failed, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Indexed %d/%d files.\n", res.SuccessCount, res.Total)
	if res.ErrorCount > 0 {
		fmt.Fprintf(&b, "\n%d errors:\n", res.ErrorCount)
		for _, e := range res.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// InsertTextTool handles insert_text.
type InsertTextTool struct {
	caller
}

// Definition returns the MCP tool definition for registration.
func (t *InsertTextTool) Definition() mcp.Tool {
	return mcp.NewTool(protocol.MethodInsertText,
		mcp.WithDescription("Insert raw text (documentation, snippets, notes) into the knowledge graph without a file."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Content to index"),
		),
		mcp.WithObject("metadata",
			mcp.Description("Optional metadata stored with the text"),
		),
	)
}

type insertResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Handle processes the insert_text tool call.
func (t *InsertTextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("'text' is required"), nil
	}

	params := map[string]any{"text": text}
	if md, ok := req.GetArguments()["metadata"].(map[string]any); ok && len(md) > 0 {
		params["metadata"] = md
	}

	var res insertResult
	if failed := t.invoke(ctx, protocol.MethodInsertText, params, &res); failed != nil {
		return failed, nil
	}
	if !res.Success {
		return mcp.NewToolResultError(res.Message), nil
	}
	return mcp.NewToolResultText(res.Message), nil
}
