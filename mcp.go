// Package mcp provides a Golang implementation of the Model Context Protocol (2025-03-26)
package mcp

import (
	"github.com/hualong-shen/mcp-go/pkg/client"
	"github.com/hualong-shen/mcp-go/pkg/protocol"
	"github.com/hualong-shen/mcp-go/pkg/server"
	"github.com/hualong-shen/mcp-go/pkg/transport"
)

// Version represents the current version of the SDK
const Version = "1.0.0"

// ProtocolVersion is the protocol revision this SDK speaks.
const ProtocolVersion = protocol.ProtocolVersion

// These exports provide direct access to the core SDK components
var (
	// NewClient creates a new MCP client
	NewClient = client.New

	// NewServer creates a new MCP server
	NewServer = server.New

	// NewTransport builds a transport from a Config
	NewTransport = transport.New

	// DefaultTransportConfig returns a Config with sane defaults for a kind
	DefaultTransportConfig = transport.DefaultConfig

	// NewHTTPHandler exposes a server over streamable HTTP
	NewHTTPHandler = server.NewHTTPHandler

	// NewToolRegistry creates an in-memory tools provider
	NewToolRegistry = server.NewToolRegistry
)

// Core protocol and server types, re-exported for convenience
type (
	Tool           = protocol.Tool
	CallToolResult = protocol.CallToolResult
	ToolContext    = server.ToolContext
	ToolHandler    = server.ToolHandler
	Client         = client.Client
	Server         = server.Server
)

// Transport kinds
const (
	KindStdio          = transport.KindStdio
	KindStreamableHTTP = transport.KindStreamableHTTP
)

// Protocol constants for capabilities
const (
	CapabilityTools    = protocol.CapabilityTools
	CapabilityLogging  = protocol.CapabilityLogging
	CapabilitySampling = protocol.CapabilitySampling
)

// Client options
var (
	WithClientInfo             = client.WithClientInfo
	WithClientLogger           = client.WithLogger
	WithLogMessageHandler      = client.WithLogMessageHandler
	WithResourceChangedHandler = client.WithResourceChangedHandler
	WithSamplingHandler        = client.WithSamplingHandler
	WithToolsChangedHandler    = client.WithToolsChangedHandler
)

// Server options
var (
	WithServerName         = server.WithName
	WithServerVersion      = server.WithVersion
	WithServerInstructions = server.WithInstructions
	WithServerLogger       = server.WithLogger
	WithServerMetrics      = server.WithMetrics
	WithServerTracing      = server.WithTracing
	WithToolsProvider      = server.WithToolsProvider
)
