package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"ragbridge/pkg/bridge"
	"ragbridge/pkg/protocol"
	"ragbridge/pkg/tools"
)

// fakeBridge records invocations and answers from a per-method table.
type fakeBridge struct {
	mu       sync.Mutex
	results  map[string]any
	errs     map[string]error
	calls    []fakeCall
	status   bridge.Status
	timeouts map[string]time.Duration
}

type fakeCall struct {
	method  string
	params  map[string]any
	timeout time.Duration
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		results:  map[string]any{},
		errs:     map[string]error{},
		timeouts: map[string]time.Duration{},
	}
}

func (f *fakeBridge) Invoke(_ context.Context, method string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{method: method, params: params, timeout: timeout})
	if err := f.errs[method]; err != nil {
		return nil, err
	}
	raw, err := json.Marshal(f.results[method])
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (f *fakeBridge) Status() bridge.Status { return f.status }

func (f *fakeBridge) lastCall(t *testing.T) fakeCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("expected the worker to be called")
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeBridge) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// toolReq builds a CallToolRequest with the given arguments.
func toolReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func findTool(t *testing.T, fb *fakeBridge, name string) tools.Tool {
	t.Helper()
	timeout := func(method string) time.Duration {
		if method == protocol.MethodIndexFiles {
			return 5 * time.Minute
		}
		return 30 * time.Second
	}
	for _, tool := range tools.All(fb, timeout) {
		if tool.Definition().Name == name {
			return tool
		}
	}
	t.Fatalf("tool %q not registered", name)
	return nil
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("expected non-empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func handle(t *testing.T, tool tools.Tool, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	res, err := tool.Handle(context.Background(), toolReq(args))
	if err != nil {
		t.Fatalf("Handle returned Go error: %v", err)
	}
	return res, resultText(t, res)
}

// TestAll_Definitions verifies that every worker method has a tool plus the
// local bridge_status tool.
func TestAll_Definitions(t *testing.T) {
	t.Parallel()

	want := []string{
		protocol.MethodSearchCode, protocol.MethodIndexFiles, protocol.MethodInsertText,
		protocol.MethodGetEntity, protocol.MethodGetRelationships, protocol.MethodVisualizeSubgraph,
		protocol.MethodIndexingStatus, "bridge_status",
	}
	all := tools.All(newFakeBridge(), nil)
	if len(all) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(all))
	}
	for i, tool := range all {
		if got := tool.Definition().Name; got != want[i] {
			t.Fatalf("tool %d: expected %q, got %q", i, want[i], got)
		}
	}

	def := findTool(t, newFakeBridge(), protocol.MethodSearchCode).Definition()
	if len(def.InputSchema.Required) != 1 || def.InputSchema.Required[0] != "query" {
		t.Fatalf("expected search_code to require only query, got %v", def.InputSchema.Required)
	}
}

// TestSearchCode_Defaults verifies the parameters sent when only the query
// is given, and the formatted answer.
func TestSearchCode_Defaults(t *testing.T) {
	t.Parallel()

	fb := newFakeBridge()
	fb.results[protocol.MethodSearchCode] = map[string]any{
		"answer": "KeyManager rotates keys every 24h.", "query": "key rotation", "mode": "hybrid", "top_k": 10,
	}
	res, text := handle(t, findTool(t, fb, protocol.MethodSearchCode), map[string]any{"query": "key rotation"})
	if res.IsError {
		t.Fatalf("expected success, got %q", text)
	}
	if !strings.Contains(text, "KeyManager rotates keys") || !strings.Contains(text, "Mode: hybrid") {
		t.Fatalf("unexpected text %q", text)
	}

	call := fb.lastCall(t)
	if call.params["mode"] != "hybrid" || call.params["top_k"] != 10 || call.params["only_context"] != false {
		t.Fatalf("unexpected defaults %v", call.params)
	}
	if call.params["response_type"] != "Multiple Paragraphs" || call.params["max_token_for_text_unit"] != 4000 {
		t.Fatalf("unexpected defaults %v", call.params)
	}
	if _, ok := call.params["hl_keywords"]; ok {
		t.Fatal("expected no hl_keywords when none given")
	}
	if call.timeout != 30*time.Second {
		t.Fatalf("expected call timeout 30s, got %s", call.timeout)
	}
}

// TestSearchCode_Keywords verifies that keyword arrays are forwarded.
func TestSearchCode_Keywords(t *testing.T) {
	t.Parallel()

	fb := newFakeBridge()
	fb.results[protocol.MethodSearchCode] = map[string]any{"answer": "x", "mode": "local", "top_k": 3}
	handle(t, findTool(t, fb, protocol.MethodSearchCode), map[string]any{
		"query": "q", "mode": "local", "top_k": float64(3),
		"hl_keywords": []any{"auth", "", 7}, "ll_keywords": []any{"JWT"},
	})

	call := fb.lastCall(t)
	hl, _ := call.params["hl_keywords"].([]string)
	if len(hl) != 1 || hl[0] != "auth" {
		t.Fatalf("expected hl_keywords [auth], got %v", call.params["hl_keywords"])
	}
	if call.params["top_k"] != 3 || call.params["mode"] != "local" {
		t.Fatalf("unexpected params %v", call.params)
	}
}

// TestValidation verifies that bad arguments are rejected before the
// worker is called.
func TestValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"missing query", protocol.MethodSearchCode, map[string]any{}, "'query' is required"},
		{"bad mode", protocol.MethodSearchCode, map[string]any{"query": "q", "mode": "fuzzy"}, "invalid mode"},
		{"bad top_k", protocol.MethodSearchCode, map[string]any{"query": "q", "top_k": float64(0)}, "'top_k'"},
		{"no files", protocol.MethodIndexFiles, map[string]any{"file_paths": []any{}}, "'file_paths'"},
		{"blank text", protocol.MethodInsertText, map[string]any{"text": "  "}, "'text' is required"},
		{"no entity", protocol.MethodGetEntity, map[string]any{}, "'entity_name' is required"},
		{"deep", protocol.MethodGetRelationships, map[string]any{"entity_name": "A", "depth": float64(9)}, "'depth'"},
		{"format", protocol.MethodVisualizeSubgraph, map[string]any{"query": "q", "format": "dot"}, "unsupported format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fb := newFakeBridge()
			res, text := handle(t, findTool(t, fb, tt.tool), tt.args)
			if !res.IsError {
				t.Fatalf("expected error result, got %q", text)
			}
			if !strings.Contains(text, tt.want) {
				t.Fatalf("expected %q in %q", tt.want, text)
			}
			if fb.callCount() != 0 {
				t.Fatal("expected no worker call for invalid arguments")
			}
		})
	}
}

// TestErrorTexts verifies that each bridge failure class yields its own
// tool error text.
func TestErrorTexts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", &bridge.TimeoutError{ID: 1, Method: "search_code", Timeout: 30 * time.Second}, "timed out after 30s"},
		{"unavailable", &bridge.UnavailableError{Reason: "worker restarting"}, "unavailable"},
		{"budget", &bridge.RestartBudgetExceededError{Restarts: 3, MaxRestarts: 3}, "automatic restarts are disabled"},
		{"busy", bridge.ErrPendingLimit, "busy"},
		{"rpc", protocol.NewRPCError(protocol.CodeInternalError, "Neo4j connection refused", nil), "code -32603"},
		{"other", errors.New("boom"), "search_code failed: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fb := newFakeBridge()
			fb.errs[protocol.MethodSearchCode] = tt.err
			res, text := handle(t, findTool(t, fb, protocol.MethodSearchCode), map[string]any{"query": "q"})
			if !res.IsError {
				t.Fatalf("expected error result, got %q", text)
			}
			if !strings.Contains(text, tt.want) {
				t.Fatalf("expected %q in %q", tt.want, text)
			}
		})
	}
}

// TestIndexFiles verifies absolute paths, the index timeout and the error
// listing.
func TestIndexFiles(t *testing.T) {
	t.Parallel()

	fb := newFakeBridge()
	fb.results[protocol.MethodIndexFiles] = map[string]any{
		"success_count": 1, "error_count": 1, "total": 2,
		"errors": []string{"File not found: /nope.go"},
	}
	res, text := handle(t, findTool(t, fb, protocol.MethodIndexFiles), map[string]any{
		"file_paths": []any{"main.go", "/nope.go"},
	})
	if res.IsError {
		t.Fatalf("expected success, got %q", text)
	}
	if !strings.Contains(text, "Indexed 1/2 files.") || !strings.Contains(text, "File not found: /nope.go") {
		t.Fatalf("unexpected text %q", text)
	}

	call := fb.lastCall(t)
	paths, _ := call.params["file_paths"].([]string)
	if len(paths) != 2 || !strings.HasPrefix(paths[0], "/") {
		t.Fatalf("expected absolute paths, got %v", call.params["file_paths"])
	}
	if call.timeout != 5*time.Minute {
		t.Fatalf("expected index timeout 5m, got %s", call.timeout)
	}
}

// TestInsertText_WorkerFailure verifies that success=false from the worker
// becomes a tool error.
func TestInsertText_WorkerFailure(t *testing.T) {
	t.Parallel()

	fb := newFakeBridge()
	fb.results[protocol.MethodInsertText] = map[string]any{"success": false, "message": "Error inserting text: quota"}
	res, text := handle(t, findTool(t, fb, protocol.MethodInsertText), map[string]any{
		"text": "hello", "metadata": map[string]any{"source": "notes"},
	})
	if !res.IsError || !strings.Contains(text, "quota") {
		t.Fatalf("expected worker failure as error result, got %q", text)
	}
	if md, _ := fb.lastCall(t).params["metadata"].(map[string]any); md["source"] != "notes" {
		t.Fatalf("expected metadata forwarded, got %v", fb.lastCall(t).params)
	}
}

// TestGraphTools verifies entity, relationship and subgraph formatting.
func TestGraphTools(t *testing.T) {
	t.Parallel()

	fb := newFakeBridge()
	fb.results[protocol.MethodGetEntity] = map[string]any{"entity_name": "KeyManager", "description": "Stores keys."}
	fb.results[protocol.MethodGetRelationships] = map[string]any{
		"entity_name": "KeyManager", "relation_type": "calls", "depth": 2, "relationships": "KeyManager -> Vault",
	}
	fb.results[protocol.MethodVisualizeSubgraph] = map[string]any{
		"query": "auth", "format": "mermaid", "diagram": "graph TD\n    A --> B\n",
	}

	_, text := handle(t, findTool(t, fb, protocol.MethodGetEntity), map[string]any{"entity_name": "KeyManager"})
	if !strings.Contains(text, "## Entity: KeyManager") || !strings.Contains(text, "Stores keys.") {
		t.Fatalf("unexpected entity text %q", text)
	}

	_, text = handle(t, findTool(t, fb, protocol.MethodGetRelationships), map[string]any{
		"entity_name": "KeyManager", "relation_type": "calls", "depth": float64(2),
	})
	if !strings.Contains(text, "Type: calls | depth: 2") || !strings.Contains(text, "KeyManager -> Vault") {
		t.Fatalf("unexpected relationships text %q", text)
	}
	if fb.lastCall(t).params["depth"] != 2 {
		t.Fatalf("expected depth 2 forwarded, got %v", fb.lastCall(t).params)
	}

	_, text = handle(t, findTool(t, fb, protocol.MethodVisualizeSubgraph), map[string]any{"query": "auth"})
	if !strings.Contains(text, "```mermaid\ngraph TD") {
		t.Fatalf("expected fenced mermaid diagram, got %q", text)
	}
}

// TestBridgeStatus verifies that status is answered locally.
func TestBridgeStatus(t *testing.T) {
	t.Parallel()

	fb := newFakeBridge()
	fb.status = bridge.Status{
		State: bridge.StateStopped, InstanceID: "inst-1", Generation: 4,
		Restarts: 3, ConsecutiveRestarts: 3, MaxRestarts: 3, BudgetExhausted: true,
		LastExit: "exit status 3",
	}
	_, text := handle(t, findTool(t, fb, "bridge_status"), nil)
	for _, want := range []string{"State: stopped", "3/3 consecutive", "budget exhausted", "exit status 3"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
	if fb.callCount() != 0 {
		t.Fatal("expected bridge_status not to call the worker")
	}
}

// TestIndexingStatus verifies backend listing and size formatting.
func TestIndexingStatus(t *testing.T) {
	t.Parallel()

	fb := newFakeBridge()
	fb.results[protocol.MethodIndexingStatus] = map[string]any{
		"initialized": true, "working_dir": "/data", "working_dir_size_bytes": 2048,
		"storage_backends": map[string]string{"neo4j": "NetworkX", "milvus": "NanoVectorDB"},
	}
	_, text := handle(t, findTool(t, fb, protocol.MethodIndexingStatus), nil)
	if !strings.Contains(text, "2.0 KiB") || strings.Index(text, "milvus") > strings.Index(text, "neo4j") {
		t.Fatalf("unexpected status text %q", text)
	}
}

// TestNewServer verifies that the server builds with every tool.
func TestNewServer(t *testing.T) {
	t.Parallel()

	if s := tools.NewServer("ragbridge", "test", newFakeBridge(), nil); s == nil {
		t.Fatal("expected a server")
	}
}
