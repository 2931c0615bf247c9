package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/lokiorch/loki/internal/mcp"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	registry := NewRegistry()
	echo := mcp.Tool{
		Name:        "echo",
		Description: "Echo text back",
		InputSchema: mcp.ToolSchema{Type: "object", Properties: mcp.M{"text": mcp.M{"type": "string"}}},
	}
	err := registry.RegisterTool(echo, func(ctx context.Context, args mcp.M) (*mcp.ToolsCallResponse, error) {
		text, _ := args["text"].(string)
		return mcp.TextResult(text), nil
	})
	if err != nil {
		t.Fatalf("RegisterTool() failed: %v", err)
	}

	boom := mcp.Tool{Name: "boom", InputSchema: mcp.ToolSchema{Type: "object"}}
	err = registry.RegisterTool(boom, func(ctx context.Context, args mcp.M) (*mcp.ToolsCallResponse, error) {
		panic("kaboom")
	})
	if err != nil {
		t.Fatalf("RegisterTool() failed: %v", err)
	}

	if err := registry.RegisterResource(mcp.Resource{URI: "loki://status", Name: "status"}); err != nil {
		t.Fatalf("RegisterResource() failed: %v", err)
	}

	return New("loki-test", "0.0.1", registry)
}

func TestInitialize(t *testing.T) {
	s := testServer(t)

	resp := s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "2.0", ID: float64(1), Method: mcp.MethodInitialize,
	})
	if resp == nil || resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp)
	}
	if resp.ID != float64(1) {
		t.Errorf("response id = %v, want 1", resp.ID)
	}

	result, ok := resp.Result.(*mcp.InitializeResponse)
	if !ok {
		t.Fatalf("initialize result has wrong type: %T", resp.Result)
	}
	if result.ProtocolVersion != mcp.ProtocolVersion {
		t.Errorf("protocolVersion = %s, want %s", result.ProtocolVersion, mcp.ProtocolVersion)
	}
	if result.ServerInfo.Name != "loki-test" {
		t.Errorf("serverInfo.name = %s, want loki-test", result.ServerInfo.Name)
	}
}

func TestPing(t *testing.T) {
	s := testServer(t)

	resp := s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "2.0", ID: "ping-1", Method: mcp.MethodPing,
	})
	if resp == nil || resp.Error != nil {
		t.Fatalf("ping failed: %+v", resp)
	}
	if resp.ID != "ping-1" {
		t.Errorf("ping response id = %v, want ping-1", resp.ID)
	}
}

func TestNotificationsNeverGetReplies(t *testing.T) {
	s := testServer(t)

	// Well-formed notification
	if resp := s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "2.0", Method: mcp.MethodInitialized,
	}); resp != nil {
		t.Errorf("initialized notification produced a reply: %+v", resp)
	}

	// Unknown-method notification stays silent too
	if resp := s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "2.0", Method: "no/such/method",
	}); resp != nil {
		t.Errorf("unknown notification produced a reply: %+v", resp)
	}

	// Even a broken envelope without id gets silence
	if resp := s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "1.0", Method: "ping",
	}); resp != nil {
		t.Errorf("malformed notification produced a reply: %+v", resp)
	}
}

func TestInvalidRequest(t *testing.T) {
	s := testServer(t)

	resp := s.HandleRequest(context.Background(), nil)
	if resp == nil || resp.Error == nil || resp.Error.Code != mcp.ErrInvalidRequest.Code {
		t.Fatalf("nil request should yield -32600, got %+v", resp)
	}
	if resp.ID != nil {
		t.Errorf("nil request response id should be null, got %v", resp.ID)
	}

	// Wrong version with an id
	resp = s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "1.0", ID: float64(7), Method: "ping",
	})
	if resp == nil || resp.Error == nil || resp.Error.Code != mcp.ErrInvalidRequest.Code {
		t.Fatalf("bad version should yield -32600, got %+v", resp)
	}
	if resp.ID != float64(7) {
		t.Errorf("error response id = %v, want 7", resp.ID)
	}

	// Missing method with an id
	resp = s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "2.0", ID: float64(8),
	})
	if resp == nil || resp.Error == nil || resp.Error.Code != mcp.ErrInvalidRequest.Code {
		t.Fatalf("missing method should yield -32600, got %+v", resp)
	}
}

func TestMethodNotFound(t *testing.T) {
	s := testServer(t)

	resp := s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "2.0", ID: float64(2), Method: "tools/destroy",
	})
	if resp == nil || resp.Error == nil || resp.Error.Code != mcp.ErrMethodNotFound.Code {
		t.Fatalf("unknown method should yield -32601, got %+v", resp)
	}
}

func TestToolsList(t *testing.T) {
	s := testServer(t)

	resp := s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "2.0", ID: float64(3), Method: mcp.MethodToolsList,
	})
	if resp == nil || resp.Error != nil {
		t.Fatalf("tools/list failed: %+v", resp)
	}

	result, ok := resp.Result.(*mcp.ToolsListResponse)
	if !ok {
		t.Fatalf("tools/list result has wrong type: %T", resp.Result)
	}
	if len(result.Tools) != 2 {
		t.Fatalf("tools/list returned %d tools, want 2", len(result.Tools))
	}
	if result.Tools[0].Name != "echo" || result.Tools[1].Name != "boom" {
		t.Errorf("tools/list order = %s, %s; want registration order", result.Tools[0].Name, result.Tools[1].Name)
	}
}

func TestResourcesList(t *testing.T) {
	s := testServer(t)

	resp := s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "2.0", ID: float64(4), Method: mcp.MethodResourcesList,
	})
	if resp == nil || resp.Error != nil {
		t.Fatalf("resources/list failed: %+v", resp)
	}

	result, ok := resp.Result.(*mcp.ResourcesListResponse)
	if !ok {
		t.Fatalf("resources/list result has wrong type: %T", resp.Result)
	}
	if len(result.Resources) != 1 || result.Resources[0].URI != "loki://status" {
		t.Errorf("resources/list = %+v", result.Resources)
	}
}

func callTool(t *testing.T, s *Server, params interface{}) *mcp.ToolsCallResponse {
	t.Helper()

	resp := s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "2.0", ID: float64(10), Method: mcp.MethodToolsCall, Params: params,
	})
	if resp == nil || resp.Error != nil {
		t.Fatalf("tools/call should not produce a protocol error: %+v", resp)
	}
	result, ok := resp.Result.(*mcp.ToolsCallResponse)
	if !ok {
		t.Fatalf("tools/call result has wrong type: %T", resp.Result)
	}
	return result
}

func TestToolsCall(t *testing.T) {
	s := testServer(t)

	result := callTool(t, s, mcp.M{"name": "echo", "arguments": mcp.M{"text": "hello"}})
	if result.IsError {
		t.Fatalf("echo call failed: %+v", result)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Errorf("echo returned %+v, want hello", result.Content)
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	s := testServer(t)

	result := callTool(t, s, mcp.M{"name": "no_such_tool"})
	if !result.IsError {
		t.Fatalf("unknown tool should set isError")
	}
	want := "Unknown tool: no_such_tool"
	if len(result.Content) != 1 || result.Content[0].Text != want {
		t.Errorf("unknown tool message = %+v, want %q", result.Content, want)
	}
}

func TestToolsCallMissingName(t *testing.T) {
	s := testServer(t)

	result := callTool(t, s, mcp.M{"arguments": mcp.M{}})
	if !result.IsError {
		t.Fatalf("missing tool name should set isError")
	}
	if result.Content[0].Text != "Tool name is required" {
		t.Errorf("missing name message = %q", result.Content[0].Text)
	}
}

func TestToolsCallPanicIsolation(t *testing.T) {
	s := testServer(t)

	result := callTool(t, s, mcp.M{"name": "boom"})
	if !result.IsError {
		t.Fatalf("panicking tool should set isError")
	}
	if !strings.Contains(result.Content[0].Text, "panicked") {
		t.Errorf("panic message = %q", result.Content[0].Text)
	}

	// The dispatcher must still serve later calls.
	result = callTool(t, s, mcp.M{"name": "echo", "arguments": mcp.M{"text": "still alive"}})
	if result.IsError || result.Content[0].Text != "still alive" {
		t.Errorf("server broken after handler panic: %+v", result)
	}
}

func TestAuthGate(t *testing.T) {
	s := testServer(t)
	s.SetAuth(func(req *mcp.Request) error {
		return fmt.Errorf("unknown token")
	})

	resp := s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "2.0", ID: float64(5), Method: mcp.MethodToolsList,
	})
	if resp == nil || resp.Error == nil || resp.Error.Code != mcp.ErrUnauthorized.Code {
		t.Fatalf("rejected request should yield %d, got %+v", mcp.ErrUnauthorized.Code, resp)
	}

	// Rejected notifications stay silent.
	if resp := s.HandleRequest(context.Background(), &mcp.Request{
		JsonRPC: "2.0", Method: mcp.MethodInitialized,
	}); resp != nil {
		t.Errorf("rejected notification produced a reply: %+v", resp)
	}
}

func TestHandleRawSingle(t *testing.T) {
	s := testServer(t)

	out, parseErr := s.HandleRaw(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if parseErr {
		t.Fatalf("valid request flagged as parse error")
	}

	var resp mcp.Response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp.ID != float64(1) || resp.Error != nil {
		t.Errorf("ping over raw = %+v", resp)
	}
}

func TestHandleRawParseError(t *testing.T) {
	s := testServer(t)

	out, parseErr := s.HandleRaw(context.Background(), []byte(`{not json`))
	if !parseErr {
		t.Fatalf("garbage input should be flagged as parse error")
	}

	var resp mcp.Response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("parse error reply is not valid JSON: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != mcp.ErrParseError.Code {
		t.Errorf("parse error reply = %+v, want code %d", resp, mcp.ErrParseError.Code)
	}
	if resp.ID != nil {
		t.Errorf("parse error reply id should be null, got %v", resp.ID)
	}
}

func TestHandleRawNotificationSilence(t *testing.T) {
	s := testServer(t)

	out, parseErr := s.HandleRaw(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if parseErr {
		t.Fatalf("notification flagged as parse error")
	}
	if out != nil {
		t.Errorf("notification produced output: %s", out)
	}
}

func TestHandleRawBatchOrder(t *testing.T) {
	s := testServer(t)

	batch := `[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":2,"method":"tools/list"}
	]`
	out, parseErr := s.HandleRaw(context.Background(), []byte(batch))
	if parseErr {
		t.Fatalf("valid batch flagged as parse error")
	}

	var replies []mcp.Response
	if err := json.Unmarshal(out, &replies); err != nil {
		t.Fatalf("batch reply is not a JSON array: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("batch reply has %d entries, want 2 (notification dropped)", len(replies))
	}
	if replies[0].ID != float64(1) || replies[1].ID != float64(2) {
		t.Errorf("batch reply order = %v, %v; want 1, 2", replies[0].ID, replies[1].ID)
	}
}

func TestHandleRawAllNotificationBatch(t *testing.T) {
	s := testServer(t)

	batch := `[{"jsonrpc":"2.0","method":"notifications/initialized"},{"jsonrpc":"2.0","method":"notifications/initialized"}]`
	out, parseErr := s.HandleRaw(context.Background(), []byte(batch))
	if parseErr {
		t.Fatalf("all-notification batch flagged as parse error")
	}
	if out != nil {
		t.Errorf("all-notification batch produced output: %s", out)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	tool := mcp.Tool{Name: "echo", InputSchema: mcp.ToolSchema{Type: "object"}}
	handler := func(ctx context.Context, args mcp.M) (*mcp.ToolsCallResponse, error) {
		return mcp.TextResult("ok"), nil
	}

	if err := registry.RegisterTool(tool, handler); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := registry.RegisterTool(tool, handler); err == nil {
		t.Errorf("duplicate tool name should be rejected")
	}
	if err := registry.RegisterTool(mcp.Tool{}, handler); err == nil {
		t.Errorf("empty tool name should be rejected")
	}
}
