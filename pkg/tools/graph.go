package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"ragbridge/pkg/protocol"
)

// GetEntityTool handles get_entity.
type GetEntityTool struct {
	caller
}

// Definition returns the MCP tool definition for registration.
func (t *GetEntityTool) Definition() mcp.Tool {
	return mcp.NewTool(protocol.MethodGetEntity,
		mcp.WithDescription("Describe one code entity (function, class, module): purpose, members and usage."),
		mcp.WithString("entity_name",
			mcp.Required(),
			mcp.Description("Name of the entity, e.g. 'KeyManager' or 'parse_config'"),
		),
	)
}

type entityResult struct {
	EntityName  string `json:"entity_name"`
	Description string `json:"description"`
	SearchMode  string `json:"search_mode"`
}

// Handle processes the get_entity tool call.
func (t *GetEntityTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.TrimSpace(req.GetString("entity_name", ""))
	if name == "" {
		return mcp.NewToolResultError("'entity_name' is required"), nil
	}

	var res entityResult
	if failed := t.invoke(ctx, protocol.MethodGetEntity, map[string]any{"entity_name": name}, &res); failed != nil {
		return failed, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Entity: %s\n\n", res.EntityName)
	if strings.TrimSpace(res.Description) == "" {
		b.WriteString("No information found for this entity.\n")
	} else {
		b.WriteString(res.Description)
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// GetRelationshipsTool handles get_relationships.
type GetRelationshipsTool struct {
	caller
}

// maxRelationshipDepth bounds graph traversal depth.
const maxRelationshipDepth = 5

// Definition returns the MCP tool definition for registration.
func (t *GetRelationshipsTool) Definition() mcp.Tool {
	return mcp.NewTool(protocol.MethodGetRelationships,
		mcp.WithDescription("List relationships of an entity: calls, inheritance, dependencies."),
		mcp.WithString("entity_name",
			mcp.Required(),
			mcp.Description("Name of the entity"),
		),
		mcp.WithString("relation_type",
			mcp.Description("Restrict to one kind, e.g. 'calls', 'inherits', 'depends_on'"),
		),
		mcp.WithNumber("depth",
			mcp.Description("Traversal depth (default: 1, max: 5)"),
		),
	)
}

type relationshipsResult struct {
	EntityName    string `json:"entity_name"`
	RelationType  string `json:"relation_type"`
	Depth         int    `json:"depth"`
	Relationships string `json:"relationships"`
}

// Handle processes the get_relationships tool call.
func (t *GetRelationshipsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.TrimSpace(req.GetString("entity_name", ""))
	if name == "" {
		return mcp.NewToolResultError("'entity_name' is required"), nil
	}
	depth := intArg(req, "depth", 1)
	if depth < 1 || depth > maxRelationshipDepth {
		return mcp.NewToolResultError(fmt.Sprintf("'depth' must be between 1 and %d", maxRelationshipDepth)), nil
	}

	params := map[string]any{"entity_name": name, "depth": depth}
	if rt := strings.TrimSpace(req.GetString("relation_type", "")); rt != "" {
		params["relation_type"] = rt
	}

	var res relationshipsResult
	if failed := t.invoke(ctx, protocol.MethodGetRelationships, params, &res); failed != nil {
		return failed, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Relationships: %s\n", res.EntityName)
	fmt.Fprintf(&b, "Type: %s | depth: %d\n\n", res.RelationType, res.Depth)
	if strings.TrimSpace(res.Relationships) == "" {
		b.WriteString("No relationships found.\n")
	} else {
		b.WriteString(res.Relationships)
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// VisualizeSubgraphTool handles visualize_subgraph.
type VisualizeSubgraphTool struct {
	caller
}

// Definition returns the MCP tool definition for registration.
func (t *VisualizeSubgraphTool) Definition() mcp.Tool {
	return mcp.NewTool(protocol.MethodVisualizeSubgraph,
		mcp.WithDescription("Render the part of the knowledge graph relevant to a query as a diagram."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to visualize"),
		),
		mcp.WithString("format",
			mcp.Description("Diagram format (default: mermaid)"),
			mcp.Enum("mermaid"),
		),
		mcp.WithNumber("max_nodes",
			mcp.Description("Maximum nodes in the diagram (default: 20)"),
		),
	)
}

type subgraphResult struct {
	Query    string `json:"query"`
	Format   string `json:"format"`
	Diagram  string `json:"diagram"`
	MaxNodes int    `json:"max_nodes"`
}

// Handle processes the visualize_subgraph tool call.
func (t *VisualizeSubgraphTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	format := req.GetString("format", "mermaid")
	if format != "mermaid" {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported format %q: only mermaid is available", format)), nil
	}
	maxNodes := intArg(req, "max_nodes", 20)
	if maxNodes <= 0 {
		return mcp.NewToolResultError("'max_nodes' must be positive"), nil
	}

	var res subgraphResult
	params := map[string]any{"query": query, "format": format, "max_nodes": maxNodes}
	if failed := t.invoke(ctx, protocol.MethodVisualizeSubgraph, params, &res); failed != nil {
		return failed, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Subgraph: %s\n\n", res.Query)
	fmt.Fprintf(&b, "```%s\n%s\n```\n", res.Format, strings.TrimRight(res.Diagram, "\n"))
	return mcp.NewToolResultText(b.String()), nil
}
