// Package mcp provides a comprehensive implementation of the Model Context Protocol.
//
// The Model Context Protocol (MCP) is a standardized communication protocol that enables
// AI models to interact with their environment through a well-defined interface. This
// package is the root of the MCP SDK for Go, providing convenient exports of the core
// components from the sub-packages.
//
// # Overview
//
// The SDK consists of several sub-packages:
//
//   - pkg/client: Implements the client-side of the protocol
//   - pkg/server: Implements the server-side of the protocol, including the streamable HTTP handler
//   - pkg/protocol: Defines the core protocol types and messages
//   - pkg/transport: Provides stdio and streamable HTTP transports
//   - pkg/auth: Bearer-token and API-key authentication for HTTP deployments
//   - pkg/errors: Structured error codes and categories shared by both sides
//   - pkg/logging: Structured leveled logging used throughout the SDK
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//
// # Creating a Client
//
// To create a client that connects to an MCP server over streamable HTTP:
//
//	import (
//	    "context"
//	    "github.com/hualong-shen/mcp-go"
//	)
//
//	func main() {
//	    cfg := mcp.DefaultTransportConfig(mcp.KindStreamableHTTP)
//	    cfg.Endpoint = "http://localhost:8000/mcp/v1/mcp"
//	    t, err := mcp.NewTransport(cfg)
//	    if err != nil {
//	        // Handle error
//	    }
//
//	    c := mcp.NewClient(t, mcp.WithClientInfo("my-client", "1.0.0"))
//
//	    ctx := context.Background()
//	    if err := c.Connect(ctx); err != nil {
//	        // Handle error
//	    }
//	    defer c.Close(ctx)
//
//	    if _, err := c.Initialize(ctx); err != nil {
//	        // Handle error
//	    }
//
//	    result, err := c.CallTool(ctx, "echo", map[string]interface{}{"message": "hi"})
//	    _ = result
//	    _ = err
//	}
//
// # Creating a Server
//
// To create a server and expose it over streamable HTTP:
//
//	import (
//	    "net/http"
//	    "github.com/hualong-shen/mcp-go"
//	)
//
//	func main() {
//	    srv := mcp.NewServer(
//	        mcp.WithServerName("my-server"),
//	        mcp.WithServerVersion("1.0.0"),
//	    )
//
//	    srv.Registry().Register(mcp.Tool{
//	        Name:        "echo",
//	        Description: "Echoes the message back",
//	        InputSchema: []byte(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
//	    }, func(ctx context.Context, tctx *mcp.ToolContext, args json.RawMessage) (interface{}, error) {
//	        var in struct{ Message string `json:"message"` }
//	        if err := json.Unmarshal(args, &in); err != nil {
//	            return nil, err
//	        }
//	        return in.Message, nil
//	    })
//
//	    handler := mcp.NewHTTPHandler(srv)
//	    http.ListenAndServe(":8000", handler)
//	}
//
// The cmd/mcptool binary wires these pieces into a runnable server and a
// demo client.
package mcp
