// Package mcptools exposes the boards flows as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"boards-wiql/internal/boards"
)

type Gateway interface {
	Query(ctx context.Context, req boards.QueryRequest) (boards.QueryResult, error)
	Create(ctx context.Context, req boards.NewWorkItem) (boards.Created, error)
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(gw Gateway, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"boards-wiql",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	queryTool := NewQueryTool(gw)
	s.AddTool(queryTool.Definition(), queryTool.Handle)

	createTool := NewCreateTool(gw)
	s.AddTool(createTool.Definition(), createTool.Handle)

	return s
}

// QueryTool handles the boards_wiql_query MCP tool.
type QueryTool struct {
	gw Gateway
}

func NewQueryTool(gw Gateway) *QueryTool {
	return &QueryTool{gw: gw}
}

func (t *QueryTool) Definition() mcp.Tool {
	return mcp.NewTool("boards_wiql_query",
		mcp.WithDescription(
			"Query Azure DevOps Boards work items. Builds a WIQL query from filters "+
				"(or runs the raw 'query' in parameters) and returns one row per work item.",
		),
		mcp.WithObject("parameters",
			mcp.Description("Filters: excluded_states, area_paths, value_filters (field -> values), "+
				"keyword_filters (field -> substring), query (raw WIQL), allowed_fields (field -> {name, title})"),
		),
		mcp.WithNumber("top",
			mcp.Description("Maximum number of work items returned by the query"),
		),
		mcp.WithString("format",
			mcp.Description("table (header + rows) or text (one block per work item)"),
			mcp.Enum(string(boards.FormatTable), string(boards.FormatText)),
		),
		mcp.WithString("pat",
			mcp.Description("Personal access token; defaults to the server's configured token"),
		),
	)
}

func (t *QueryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var qr boards.QueryRequest
	if err := decodeArguments(req, &qr); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := t.gw.Query(ctx, qr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if result.Status == boards.StatusDegraded {
		return mcp.NewToolResultError(fmt.Sprintf("query degraded: %v", result.Err)), nil
	}
	if qr.Format == boards.FormatText {
		if len(result.Texts) == 0 {
			return mcp.NewToolResultText("No work items found."), nil
		}
		return mcp.NewToolResultText(strings.Join(result.Texts, "\n\n")), nil
	}
	data, err := json.Marshal(map[string]interface{}{
		"status": result.Status,
		"header": result.Header,
		"values": result.Rows,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// CreateTool handles the boards_create_work_item MCP tool.
type CreateTool struct {
	gw Gateway
}

func NewCreateTool(gw Gateway) *CreateTool {
	return &CreateTool{gw: gw}
}

func (t *CreateTool) Definition() mcp.Tool {
	return mcp.NewTool("boards_create_work_item",
		mcp.WithDescription("Create an Azure DevOps work item, optionally under a parent and indexed for search."),
		mcp.WithString("work_item_type",
			mcp.Required(),
			mcp.Description("Work item type, e.g. 'User Story' or 'Bug'"),
		),
		mcp.WithString("title", mcp.Description("Title")),
		mcp.WithString("description", mcp.Description("Description (HTML allowed)")),
		mcp.WithString("area_path", mcp.Description("Area path")),
		mcp.WithNumber("parent_id", mcp.Description("Parent work item ID")),
		mcp.WithObject("fields", mcp.Description("Extra fields as reference name -> value")),
		mcp.WithBoolean("index", mcp.Description("Push the new item to the search index")),
		mcp.WithString("organization", mcp.Description("Target organization; defaults to configuration")),
		mcp.WithString("project", mcp.Description("Target project; defaults to configuration")),
		mcp.WithString("pat", mcp.Description("Personal access token; defaults to the server's configured token")),
	)
}

func (t *CreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req.GetString("work_item_type", "") == "" {
		return mcp.NewToolResultError("'work_item_type' is required"), nil
	}
	var wi boards.NewWorkItem
	if err := decodeArguments(req, &wi); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	created, err := t.gw.Create(ctx, wi)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Created work item #%d\nURL: %s\nIndexed: %t", created.ID, created.URL, created.Indexed)), nil
}

// decodeArguments round-trips the tool arguments through JSON so the tools
// accept exactly the HTTP request shapes.
func decodeArguments(req mcp.CallToolRequest, v interface{}) error {
	data, err := json.Marshal(req.GetArguments())
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
