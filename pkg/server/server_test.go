package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
	"github.com/hualong-shen/mcp-go/pkg/protocol"
	"github.com/hualong-shen/mcp-go/pkg/transport"
)

var addSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"a": {"type": "number"},
		"b": {"type": "number"}
	},
	"required": ["a", "b"]
}`)

// testServer builds a server with echo and add tools attached to a bare
// dispatcher, the way a transport would see it.
func testServer(t *testing.T, opts ...Option) (*Server, *transport.Base) {
	t.Helper()
	srv := New(append([]Option{WithName("test-server"), WithVersion("0.0.1")}, opts...)...)

	tool, handler := echoTool()
	if err := srv.Registry().Register(tool, handler); err != nil {
		t.Fatal(err)
	}
	err := srv.Registry().Register(protocol.Tool{
		Name:        "add",
		Description: "Add two numbers",
		InputSchema: addSchema,
	}, func(ctx context.Context, tctx *ToolContext, args json.RawMessage) (interface{}, error) {
		var p struct{ A, B float64 }
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, err
		}
		return p.A + p.B, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	base := transport.NewBase("test", nil)
	srv.Attach(base)
	return srv, base
}

func initialize(t *testing.T, base *transport.Base) *protocol.InitializeResult {
	t.Helper()
	req, _ := protocol.NewRequest("init-1", protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: "test-client", Version: "0.0.1"},
		Capabilities:    map[string]bool{protocol.CapabilitySampling: true},
	})
	resp := base.HandleRequest(context.Background(), req)
	if resp.Error != nil {
		t.Fatalf("initialize failed: %v", resp.Error)
	}
	var result protocol.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	return &result
}

func callTool(t *testing.T, base *transport.Base, id interface{}, name string, args string) *protocol.CallToolResult {
	t.Helper()
	params := protocol.CallToolParams{Name: name}
	if args != "" {
		params.Arguments = json.RawMessage(args)
	}
	req, _ := protocol.NewRequest(id, protocol.MethodCallTool, params)
	resp := base.HandleRequest(context.Background(), req)
	if resp.Error != nil {
		t.Fatalf("tools/call returned protocol error: %v", resp.Error)
	}
	var result protocol.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	return &result
}

func TestInitializeResult(t *testing.T) {
	_, base := testServer(t)
	result := initialize(t, base)

	if result.ProtocolVersion != protocol.ProtocolVersion {
		t.Errorf("got version %q", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "test-server" {
		t.Errorf("got server name %q", result.ServerInfo.Name)
	}
	if !result.Capabilities[protocol.CapabilityTools] || !result.Capabilities[protocol.CapabilityLogging] {
		t.Errorf("capabilities = %v", result.Capabilities)
	}
}

func TestCallBeforeInitialize(t *testing.T) {
	_, base := testServer(t)
	req, _ := protocol.NewRequest("1", protocol.MethodListTools, nil)
	resp := base.HandleRequest(context.Background(), req)
	if resp.Error == nil || resp.Error.Code != mcperrors.CodeNotInitialized {
		t.Errorf("got %v, want not-initialized error", resp.Error)
	}
}

func TestEchoTool(t *testing.T) {
	_, base := testServer(t)
	initialize(t, base)

	result := callTool(t, base, "2", "echo", `{"message":"hi"}`)
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	var s string
	json.Unmarshal(result.Content, &s)
	if s != "hi" {
		t.Errorf("echo returned %q, want hi", s)
	}
}

func TestAddTool(t *testing.T) {
	_, base := testServer(t)
	initialize(t, base)

	result := callTool(t, base, "3", "add", `{"a":2,"b":3}`)
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	var sum float64
	json.Unmarshal(result.Content, &sum)
	if sum != 5 {
		t.Errorf("add returned %v, want 5", sum)
	}
}

// An unknown tool comes back as an error result, not a protocol error,
// and the session keeps working afterwards.
func TestUnknownToolKeepsSessionAlive(t *testing.T) {
	_, base := testServer(t)
	initialize(t, base)

	result := callTool(t, base, "4", "nonexistent", "")
	if !result.IsError {
		t.Fatal("unknown tool must produce an error result")
	}

	after := callTool(t, base, "5", "echo", `{"message":"still here"}`)
	if after.IsError {
		t.Fatalf("session broken after unknown tool: %s", after.Content)
	}
}

func TestInvalidArgumentsListViolations(t *testing.T) {
	_, base := testServer(t)
	initialize(t, base)

	result := callTool(t, base, "6", "add", `{"a":"two","b":3}`)
	if !result.IsError {
		t.Fatal("schema violation must produce an error result")
	}
	var message string
	json.Unmarshal(result.Content, &message)
	if message == "" {
		t.Error("error result must describe the violation")
	}
}

func TestListTools(t *testing.T) {
	_, base := testServer(t)
	initialize(t, base)

	req, _ := protocol.NewRequest("7", protocol.MethodListTools, protocol.ListToolsParams{})
	resp := base.HandleRequest(context.Background(), req)
	if resp.Error != nil {
		t.Fatal(resp.Error)
	}
	var result protocol.ListToolsResult
	json.Unmarshal(resp.Result, &result)
	if len(result.Tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(result.Tools))
	}
	if result.Tools[0].Name != "add" || result.Tools[1].Name != "echo" {
		t.Errorf("tools = %v", result.Tools)
	}
}

func TestPing(t *testing.T) {
	_, base := testServer(t)

	req, _ := protocol.NewRequest("8", protocol.MethodPing, protocol.PingParams{Timestamp: 12345})
	resp := base.HandleRequest(context.Background(), req)
	if resp.Error != nil {
		t.Fatal(resp.Error)
	}
	var result protocol.PingResult
	json.Unmarshal(resp.Result, &result)
	if result.Timestamp != 12345 {
		t.Errorf("ping must echo the timestamp, got %d", result.Timestamp)
	}
}

func TestSetLogLevel(t *testing.T) {
	srv, base := testServer(t)
	initialize(t, base)

	req, _ := protocol.NewRequest("9", protocol.MethodSetLogLevel,
		protocol.SetLogLevelParams{Level: protocol.LogLevelError})
	resp := base.HandleRequest(context.Background(), req)
	if resp.Error != nil {
		t.Fatal(resp.Error)
	}

	var sent []protocol.LogMessageParams
	srv.setBroadcaster(broadcasterFunc(func(method string, params interface{}) {
		if method == protocol.MethodLogMessage {
			sent = append(sent, params.(protocol.LogMessageParams))
		}
	}))

	srv.SendLogMessage(context.Background(), protocol.LogLevelInfo, "core", "filtered out", nil)
	srv.SendLogMessage(context.Background(), protocol.LogLevelError, "core", "kept", nil)

	if len(sent) != 1 || sent[0].Message != "kept" {
		t.Errorf("sent = %v, want only the error-level message", sent)
	}

	bad, _ := protocol.NewRequest("10", protocol.MethodSetLogLevel,
		protocol.SetLogLevelParams{Level: "loud"})
	if resp := base.HandleRequest(context.Background(), bad); resp.Error == nil {
		t.Error("unknown level must be rejected")
	}
}

type broadcasterFunc func(method string, params interface{})

func (f broadcasterFunc) Broadcast(method string, params interface{}) { f(method, params) }

func TestCancellation(t *testing.T) {
	srv, base := testServer(t)
	initialize(t, base)

	started := make(chan struct{})
	err := srv.Registry().Register(protocol.Tool{Name: "sleep"},
		func(ctx context.Context, tctx *ToolContext, args json.RawMessage) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var resp *protocol.Response
	go func() {
		defer wg.Done()
		req, _ := protocol.NewRequest("slow-1", protocol.MethodCallTool,
			protocol.CallToolParams{Name: "sleep"})
		resp = base.HandleRequest(context.Background(), req)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("tool never started")
	}

	cancelNote, _ := protocol.NewNotification(protocol.MethodCancelled,
		protocol.CancelledParams{RequestID: "slow-1", Reason: "test"})
	if err := base.HandleNotification(context.Background(), cancelNote); err != nil {
		t.Fatal(err)
	}

	wg.Wait()
	if resp.Error == nil || resp.Error.Code != mcperrors.CodeCancelled {
		t.Errorf("got %v, want cancelled error", resp.Error)
	}
}

func TestToolProgressReachesNotifier(t *testing.T) {
	srv, base := testServer(t)
	initialize(t, base)

	var mu sync.Mutex
	var percents []float64
	srv.setBroadcaster(broadcasterFunc(func(method string, params interface{}) {
		if method != protocol.MethodProgress {
			return
		}
		mu.Lock()
		percents = append(percents, params.(protocol.ProgressParams).Percent)
		mu.Unlock()
	}))

	err := srv.Registry().Register(protocol.Tool{Name: "stepper"},
		func(ctx context.Context, tctx *ToolContext, args json.RawMessage) (interface{}, error) {
			for _, pct := range []float64{25, 50, 75, 100} {
				tctx.ReportProgress(pct, "", pct == 100)
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatal(err)
	}

	callTool(t, base, "11", "stepper", "")
	mu.Lock()
	defer mu.Unlock()
	want := []float64{25, 50, 75, 100}
	if len(percents) != len(want) {
		t.Fatalf("got %v, want %v", percents, want)
	}
	for i := range want {
		if percents[i] != want[i] {
			t.Fatalf("got %v, want %v", percents, want)
		}
	}
}
