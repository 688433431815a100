// Package client implements the MCP client side: the initialize
// handshake, tool listing and invocation, and dispatch of
// server-initiated notifications to application callbacks.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
	"github.com/hualong-shen/mcp-go/pkg/logging"
	"github.com/hualong-shen/mcp-go/pkg/protocol"
	"github.com/hualong-shen/mcp-go/pkg/transport"
)

// ProgressFunc receives progress notifications while a call runs.
type ProgressFunc func(protocol.ProgressParams)

// Client drives one MCP session over a transport.
type Client struct {
	transport transport.Transport
	logger    logging.Logger
	name      string
	version   string

	mu                 sync.Mutex
	initialized        bool
	serverInfo         protocol.Implementation
	serverCapabilities map[string]bool
	instructions       string

	subSeq        int64
	progressSubs  map[int64]ProgressFunc
	logMessage    func(protocol.LogMessageParams)
	resourceMoved func(protocol.ResourceChangedParams)
	sampling      func(protocol.SamplingRequestParams)
	toolsChanged  func(protocol.ToolsChangedParams)
}

// Option configures a Client.
type Option func(*Client)

// WithClientInfo sets the identity sent in the initialize request.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.name = name
		c.version = version
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithLogMessageHandler receives server log-message notifications.
// Without one, messages are forwarded to the client's own logger.
func WithLogMessageHandler(fn func(protocol.LogMessageParams)) Option {
	return func(c *Client) { c.logMessage = fn }
}

// WithResourceChangedHandler receives resource-changed notifications.
func WithResourceChangedHandler(fn func(protocol.ResourceChangedParams)) Option {
	return func(c *Client) { c.resourceMoved = fn }
}

// WithSamplingHandler receives the server's sampling requests.
func WithSamplingHandler(fn func(protocol.SamplingRequestParams)) Option {
	return func(c *Client) { c.sampling = fn }
}

// WithToolsChangedHandler receives tools-changed notifications.
func WithToolsChangedHandler(fn func(protocol.ToolsChangedParams)) Option {
	return func(c *Client) { c.toolsChanged = fn }
}

// New creates a client on t and registers its notification handlers.
func New(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		transport:    t,
		name:         "mcp-client",
		version:      "0.0.0",
		progressSubs: make(map[int64]ProgressFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Nop()
	}
	c.logger = c.logger.Named("client")

	t.RegisterNotificationHandler(protocol.MethodProgress, c.handleProgress)
	t.RegisterNotificationHandler(protocol.MethodLogMessage, c.handleLogMessage)
	t.RegisterNotificationHandler(protocol.MethodResourceChanged, c.handleResourceChanged)
	t.RegisterNotificationHandler(protocol.MethodSamplingRequested, c.handleSamplingRequested)
	t.RegisterNotificationHandler(protocol.MethodToolsChanged, c.handleToolsChanged)
	return c
}

// Connect prepares the transport.
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Start runs the transport's receive loop. Blocking; run it in its own
// goroutine for transports that push server-initiated messages.
func (c *Client) Start(ctx context.Context) error {
	return c.transport.Start(ctx)
}

// Close tears the session down.
func (c *Client) Close(ctx context.Context) error {
	return c.transport.Stop(ctx)
}

// Initialize performs the handshake: the initialize request, a protocol
// version check, then the initialized notification.
func (c *Client) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: c.name, Version: c.version},
		Capabilities:    map[string]bool{protocol.CapabilitySampling: true},
	}

	var result protocol.InitializeResult
	if err := c.transport.SendRequest(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return nil, err
	}
	if result.ProtocolVersion != protocol.ProtocolVersion {
		return nil, mcperrors.VersionMismatch(result.ProtocolVersion, protocol.ProtocolVersion)
	}

	if err := c.transport.SendNotification(ctx, protocol.MethodInitialized, protocol.InitializedParams{}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.initialized = true
	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.instructions = result.Instructions
	c.mu.Unlock()

	c.logger.Info("session initialized",
		logging.String("server", result.ServerInfo.Name),
		logging.String("server_version", result.ServerInfo.Version))
	return &result, nil
}

// ServerInfo returns the peer's identity after Initialize.
func (c *Client) ServerInfo() protocol.Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Instructions returns the server's usage guidance, if any.
func (c *Client) Instructions() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instructions
}

// ListTools fetches one page of the server's tools.
func (c *Client) ListTools(ctx context.Context, cursor string) (*protocol.ListToolsResult, error) {
	if err := c.requireCapability(protocol.CapabilityTools); err != nil {
		return nil, err
	}
	var result protocol.ListToolsResult
	err := c.transport.SendRequest(ctx, protocol.MethodListTools,
		protocol.ListToolsParams{Cursor: cursor}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAllTools follows cursors until the listing is exhausted.
func (c *Client) ListAllTools(ctx context.Context) ([]protocol.Tool, error) {
	var tools []protocol.Tool
	cursor := ""
	for {
		page, err := c.ListTools(ctx, cursor)
		if err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes a tool. Args may be any JSON-marshalable value or a
// raw message. A tool-level failure comes back as a result with IsError
// set, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, args interface{}) (*protocol.CallToolResult, error) {
	return c.CallToolWithProgress(ctx, name, args, nil)
}

// CallToolWithProgress invokes a tool and feeds progress notifications
// arriving during the call to onProgress.
func (c *Client) CallToolWithProgress(ctx context.Context, name string, args interface{}, onProgress ProgressFunc) (*protocol.CallToolResult, error) {
	if err := c.requireCapability(protocol.CapabilityTools); err != nil {
		return nil, err
	}

	var rawArgs json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, mcperrors.InvalidParams(protocol.MethodCallTool, err)
		}
		rawArgs = data
	}

	if onProgress != nil {
		unsubscribe := c.subscribeProgress(onProgress)
		defer unsubscribe()
	}

	var result protocol.CallToolResult
	err := c.transport.SendRequest(ctx, protocol.MethodCallTool,
		protocol.CallToolParams{Name: name, Arguments: rawArgs}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping measures a request round trip.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var result protocol.PingResult
	err := c.transport.SendRequest(ctx, protocol.MethodPing,
		protocol.PingParams{Timestamp: start.UnixMilli()}, &result)
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// SetLogLevel asks the server to only push log messages at or above
// level.
func (c *Client) SetLogLevel(ctx context.Context, level protocol.LogLevel) error {
	if err := c.requireCapability(protocol.CapabilityLogging); err != nil {
		return err
	}
	var result protocol.SetLogLevelResult
	return c.transport.SendRequest(ctx, protocol.MethodSetLogLevel,
		protocol.SetLogLevelParams{Level: level}, &result)
}

// Cancel tells the server to abandon an in-flight request.
func (c *Client) Cancel(ctx context.Context, requestID interface{}, reason string) error {
	return c.transport.SendNotification(ctx, protocol.MethodCancelled,
		protocol.CancelledParams{RequestID: requestID, Reason: reason})
}

// requireCapability fails fast when the server never advertised the
// capability a call depends on.
func (c *Client) requireCapability(capability string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return mcperrors.NotInitialized(capability)
	}
	if !c.serverCapabilities[capability] {
		return mcperrors.CapabilityRequired(capability)
	}
	return nil
}

// subscribeProgress adds a subscriber for all progress notifications
// and returns its removal func. Subscribers filter by OperationID when
// they care about one operation.
func (c *Client) subscribeProgress(fn ProgressFunc) func() {
	c.mu.Lock()
	c.subSeq++
	id := c.subSeq
	c.progressSubs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.progressSubs, id)
		c.mu.Unlock()
	}
}

func (c *Client) handleProgress(ctx context.Context, params json.RawMessage) error {
	var p protocol.ProgressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcperrors.InvalidParams(protocol.MethodProgress, err)
	}

	c.mu.Lock()
	subs := make([]ProgressFunc, 0, len(c.progressSubs))
	for _, fn := range c.progressSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	c.logger.Debug("progress",
		logging.String("operation", p.OperationID),
		logging.Float64("percent", p.Percent),
		logging.Bool("done", p.Done))
	for _, fn := range subs {
		fn(p)
	}
	return nil
}

func (c *Client) handleLogMessage(ctx context.Context, params json.RawMessage) error {
	var p protocol.LogMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcperrors.InvalidParams(protocol.MethodLogMessage, err)
	}
	if c.logMessage != nil {
		c.logMessage(p)
		return nil
	}

	entry := c.logger.Named("remote")
	fields := []logging.Field{logging.String("remote_logger", p.Logger)}
	switch p.Level {
	case protocol.LogLevelDebug:
		entry.Debug(p.Message, fields...)
	case protocol.LogLevelWarn:
		entry.Warn(p.Message, fields...)
	case protocol.LogLevelError:
		entry.Error(p.Message, fields...)
	default:
		entry.Info(p.Message, fields...)
	}
	return nil
}

func (c *Client) handleResourceChanged(ctx context.Context, params json.RawMessage) error {
	var p protocol.ResourceChangedParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcperrors.InvalidParams(protocol.MethodResourceChanged, err)
	}
	if c.resourceMoved != nil {
		c.resourceMoved(p)
	} else {
		c.logger.Debug("resource changed",
			logging.String("uri", p.URI), logging.String("reason", p.Reason))
	}
	return nil
}

func (c *Client) handleSamplingRequested(ctx context.Context, params json.RawMessage) error {
	var p protocol.SamplingRequestParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcperrors.InvalidParams(protocol.MethodSamplingRequested, err)
	}
	if c.sampling != nil {
		c.sampling(p)
	} else {
		c.logger.Info("server requested sampling; no handler installed",
			logging.String("reason", p.Reason))
	}
	return nil
}

func (c *Client) handleToolsChanged(ctx context.Context, params json.RawMessage) error {
	var p protocol.ToolsChangedParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcperrors.InvalidParams(protocol.MethodToolsChanged, err)
	}
	if c.toolsChanged != nil {
		c.toolsChanged(p)
	}
	return nil
}
