package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"ragbridge/pkg/protocol"
)

// Query defaults, matching the worker's own.
const (
	defaultTopK         = 10
	defaultResponseType = "Multiple Paragraphs"
	defaultTokenBudget  = 4000
)

// SearchCodeTool handles search_code.
type SearchCodeTool struct {
	caller
}

// Definition returns the MCP tool definition for registration.
func (t *SearchCodeTool) Definition() mcp.Tool {
	return mcp.NewTool(protocol.MethodSearchCode,
		mcp.WithDescription(
			"Search the indexed codebase with a natural-language question. "+
				"Modes: naive (plain vector search), local (entity-centred), global (relationship-centred), "+
				"hybrid (local + global, default), mix (graph + vector).",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question or search terms"),
		),
		mcp.WithString("mode",
			mcp.Description("Retrieval mode (default: hybrid)"),
			mcp.Enum(protocol.SearchModes...),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Number of entities/relations to retrieve (default: 10)"),
		),
		mcp.WithBoolean("only_context",
			mcp.Description("Return the retrieved context without generating an answer"),
		),
		mcp.WithString("response_type",
			mcp.Description("Answer shape, e.g. 'Multiple Paragraphs', 'Single Paragraph', 'Bullet Points'"),
		),
		mcp.WithNumber("max_token_for_text_unit",
			mcp.Description("Token budget for raw text chunks (default: 4000)"),
		),
		mcp.WithNumber("max_token_for_global_context",
			mcp.Description("Token budget for relationship context (default: 4000)"),
		),
		mcp.WithNumber("max_token_for_local_context",
			mcp.Description("Token budget for entity context (default: 4000)"),
		),
		mcp.WithArray("hl_keywords",
			mcp.Description("High-level keywords to steer global retrieval"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithArray("ll_keywords",
			mcp.Description("Low-level keywords to steer local retrieval"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
}

type searchResult struct {
	Answer string `json:"answer"`
	Query  string `json:"query"`
	Mode   string `json:"mode"`
	TopK   int    `json:"top_k"`
}

// Handle processes the search_code tool call.
func (t *SearchCodeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	mode := req.GetString("mode", protocol.ModeHybrid)
	if !slices.Contains(protocol.SearchModes, mode) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid mode %q: must be one of %s",
			mode, strings.Join(protocol.SearchModes, ", "))), nil
	}

	topK := intArg(req, "top_k", defaultTopK)
	if topK <= 0 {
		return mcp.NewToolResultError("'top_k' must be positive"), nil
	}

	params := map[string]any{
		"query":                        query,
		"mode":                         mode,
		"top_k":                        topK,
		"only_context":                 boolArg(req, "only_context", false),
		"response_type":                req.GetString("response_type", defaultResponseType),
		"max_token_for_text_unit":      intArg(req, "max_token_for_text_unit", defaultTokenBudget),
		"max_token_for_global_context": intArg(req, "max_token_for_global_context", defaultTokenBudget),
		"max_token_for_local_context":  intArg(req, "max_token_for_local_context", defaultTokenBudget),
	}
	if kw := stringsArg(req, "hl_keywords"); len(kw) > 0 {
		params["hl_keywords"] = kw
	}
	if kw := stringsArg(req, "ll_keywords"); len(kw) > 0 {
		params["ll_keywords"] = kw
	}

	var res searchResult
	if failed := t.invoke(ctx, protocol.MethodSearchCode, params, &res); failed != nil {
		return failed, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Search: %s\n", query)
	fmt.Fprintf(&b, "Mode: %s | top_k: %d\n\n", res.Mode, res.TopK)
	if strings.TrimSpace(res.Answer) == "" {
		b.WriteString("No relevant results found.\n")
	} else {
		b.WriteString(res.Answer)
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
