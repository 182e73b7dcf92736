package mcptools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"boards-wiql/internal/boards"
	"boards-wiql/internal/errs"
)

type fakeGateway struct {
	lastQuery  boards.QueryRequest
	lastCreate boards.NewWorkItem
	result     boards.QueryResult
	created    boards.Created
	err        error
}

func (f *fakeGateway) Query(ctx context.Context, req boards.QueryRequest) (boards.QueryResult, error) {
	f.lastQuery = req
	return f.result, f.err
}

func (f *fakeGateway) Create(ctx context.Context, req boards.NewWorkItem) (boards.Created, error) {
	f.lastCreate = req
	return f.created, f.err
}

// isErrorResult checks if a CallToolResult is an error result.
func isErrorResult(result *mcp.CallToolResult) bool {
	return result != nil && result.IsError
}

// getResultText extracts the text content from a CallToolResult.
func getResultText(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestQueryToolTable(t *testing.T) {
	gw := &fakeGateway{result: boards.QueryResult{
		Header: []string{"ID"},
		Rows:   [][]string{{"1"}},
		Status: boards.StatusOK,
	}}
	tool := NewQueryTool(gw)
	if tool.Definition().Name != "boards_wiql_query" {
		t.Fatalf("unexpected tool name %q", tool.Definition().Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"top": float64(10),
		"parameters": map[string]interface{}{
			"area_paths":      []interface{}{`Elo\A`},
			"keyword_filters": map[string]interface{}{"System.Title": "pix"},
		},
	}
	result, err := tool.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if isErrorResult(result) {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
	if got := getResultText(result); got != `{"header":["ID"],"status":"ok","values":[["1"]]}` {
		t.Errorf("unexpected text %s", got)
	}
	if gw.lastQuery.Top != 10 {
		t.Errorf("top = %d, want 10", gw.lastQuery.Top)
	}
	if gw.lastQuery.Parameters.KeywordFilters["System.Title"] != "pix" {
		t.Errorf("keyword filter not decoded: %+v", gw.lastQuery.Parameters)
	}
	if len(gw.lastQuery.Parameters.AreaPaths) != 1 {
		t.Errorf("area paths not decoded: %+v", gw.lastQuery.Parameters)
	}
}

func TestQueryToolText(t *testing.T) {
	gw := &fakeGateway{result: boards.QueryResult{Texts: []string{"ID: 1", "ID: 2"}, Status: boards.StatusOK}}
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{"format": "text"}

	result, _ := NewQueryTool(gw).Handle(context.Background(), req)
	if got := getResultText(result); got != "ID: 1\n\nID: 2" {
		t.Errorf("unexpected text %q", got)
	}
}

func TestQueryToolDegraded(t *testing.T) {
	gw := &fakeGateway{result: boards.QueryResult{Status: boards.StatusDegraded, Err: errors.New("remote down")}}
	result, _ := NewQueryTool(gw).Handle(context.Background(), mcp.CallToolRequest{})
	if !isErrorResult(result) {
		t.Fatal("expected error result")
	}
	if !strings.Contains(getResultText(result), "remote down") {
		t.Errorf("unexpected text %q", getResultText(result))
	}
}

func TestCreateToolRequiresType(t *testing.T) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{"title": "x"}

	result, _ := NewCreateTool(&fakeGateway{}).Handle(context.Background(), req)
	if !isErrorResult(result) {
		t.Fatal("expected error result")
	}
}

func TestCreateTool(t *testing.T) {
	gw := &fakeGateway{created: boards.Created{ID: 7, URL: "https://dev.azure.com/org/_apis/wit/workItems/7"}}
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"work_item_type": "Bug",
		"title":          "Broken",
		"parent_id":      float64(3),
		"fields":         map[string]interface{}{"System.Tags": "a"},
		"index":          true,
	}

	result, err := NewCreateTool(gw).Handle(context.Background(), req)
	if err != nil || isErrorResult(result) {
		t.Fatalf("Handle failed: %v %s", err, getResultText(result))
	}
	if !strings.Contains(getResultText(result), "#7") {
		t.Errorf("unexpected text %q", getResultText(result))
	}
	if gw.lastCreate.ParentID != 3 || !gw.lastCreate.Index || gw.lastCreate.Fields["System.Tags"] != "a" {
		t.Errorf("arguments not decoded: %+v", gw.lastCreate)
	}
}

func TestCreateToolRemoteError(t *testing.T) {
	gw := &fakeGateway{err: errs.HTTP(400, "request failed with status 400", "")}
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{"work_item_type": "Bug"}

	result, _ := NewCreateTool(gw).Handle(context.Background(), req)
	if !isErrorResult(result) {
		t.Fatal("expected error result")
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	s := NewServer(&fakeGateway{}, "test")
	if s == nil {
		t.Fatal("expected server")
	}
}
