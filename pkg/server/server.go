// Package server implements the MCP server side: protocol method
// handlers, tool dispatch with schema validation, and a streamable HTTP
// front end with session management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
	"github.com/hualong-shen/mcp-go/pkg/logging"
	"github.com/hualong-shen/mcp-go/pkg/observability"
	"github.com/hualong-shen/mcp-go/pkg/protocol"
	"github.com/hualong-shen/mcp-go/pkg/transport"
)

// Registrar is where a server hangs its method handlers: a transport
// for stdio sessions, or the HTTP handler's internal dispatcher.
type Registrar interface {
	RegisterRequestHandler(method string, handler transport.RequestHandler)
	RegisterNotificationHandler(method string, handler transport.NotificationHandler)
}

// Broadcaster pushes a notification to every connected listener. The
// HTTP handler implements it over its open SSE streams.
type Broadcaster interface {
	Broadcast(method string, params interface{})
}

// Server holds the protocol state machine for one MCP server: identity,
// capabilities, the tools provider, and in-flight call tracking.
type Server struct {
	name         string
	version      string
	instructions string
	logger       logging.Logger
	metrics      *observability.Metrics
	tracing      *observability.Tracing
	tools        ToolsProvider

	transport   transport.Transport
	broadcaster Broadcaster

	mu          sync.Mutex
	minLogLevel protocol.LogLevel
	initialized bool
	active      map[string]context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithName sets the server name reported in the initialize result.
func WithName(name string) Option { return func(s *Server) { s.name = name } }

// WithVersion sets the server version reported in the initialize result.
func WithVersion(version string) Option { return func(s *Server) { s.version = version } }

// WithInstructions sets free-form usage guidance returned to clients.
func WithInstructions(instructions string) Option {
	return func(s *Server) { s.instructions = instructions }
}

// WithLogger sets the server's logger.
func WithLogger(logger logging.Logger) Option { return func(s *Server) { s.logger = logger } }

// WithMetrics enables tool-call and session metrics.
func WithMetrics(m *observability.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithTracing wraps tool calls in spans.
func WithTracing(t *observability.Tracing) Option { return func(s *Server) { s.tracing = t } }

// WithToolsProvider replaces the default empty ToolRegistry.
func WithToolsProvider(p ToolsProvider) Option { return func(s *Server) { s.tools = p } }

// New creates a server. Without options it has an empty tool registry,
// a no-op logger and the name "mcp-server".
func New(opts ...Option) *Server {
	s := &Server{
		name:        "mcp-server",
		version:     "0.0.0",
		minLogLevel: protocol.LogLevelInfo,
		active:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	s.logger = s.logger.Named("server")
	if s.tools == nil {
		s.tools = NewToolRegistry(s.logger)
	}
	if registry, ok := s.tools.(*ToolRegistry); ok {
		registry.OnChange(func(added, removed []string) {
			s.BroadcastToolsChanged(added, removed)
		})
	}
	return s
}

// Registry returns the server's ToolRegistry, or nil when a custom
// provider was installed.
func (s *Server) Registry() *ToolRegistry {
	registry, _ := s.tools.(*ToolRegistry)
	return registry
}

// Attach registers all protocol handlers on r.
func (s *Server) Attach(r Registrar) {
	r.RegisterRequestHandler(protocol.MethodInitialize, s.handleInitialize)
	r.RegisterRequestHandler(protocol.MethodPing, s.handlePing)
	r.RegisterRequestHandler(protocol.MethodSetLogLevel, s.handleSetLogLevel)
	r.RegisterRequestHandler(protocol.MethodListTools, s.handleListTools)
	r.RegisterRequestHandler(protocol.MethodCallTool, s.handleCallTool)
	r.RegisterNotificationHandler(protocol.MethodInitialized, s.handleInitialized)
	r.RegisterNotificationHandler(protocol.MethodCancelled, s.handleCancelled)
}

// Connect binds the server to a transport (the stdio deployment shape)
// and registers its handlers on it.
func (s *Server) Connect(t transport.Transport) {
	s.transport = t
	s.Attach(t)
}

// Serve runs the bound transport until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if s.transport == nil {
		return errors.New("server has no transport; call Connect first")
	}
	if err := s.transport.Connect(ctx); err != nil {
		return err
	}
	s.logger.Info("server started",
		logging.String("name", s.name),
		logging.String("version", s.version))
	return s.transport.Start(ctx)
}

// Shutdown stops the transport and flushes tracing.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.transport != nil {
		firstErr = s.transport.Stop(ctx)
	}
	if s.tracing != nil {
		if err := s.tracing.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.InvalidParams(protocol.MethodInitialize, err)
	}
	if p.ClientInfo.Name == "" {
		return nil, mcperrors.InvalidParams(protocol.MethodInitialize,
			errors.New("clientInfo.name is required"))
	}
	if p.ProtocolVersion != protocol.ProtocolVersion {
		// Respond with the version we speak; the client decides
		// whether it can live with it.
		s.logger.Warn("client proposed a different protocol version",
			logging.String("client", p.ClientInfo.Name),
			logging.String("proposed", p.ProtocolVersion))
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	s.logger.Info("session initialized",
		logging.String("client", p.ClientInfo.Name),
		logging.String("client_version", p.ClientInfo.Version))

	return &protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerInfo:      protocol.Implementation{Name: s.name, Version: s.version},
		Capabilities: map[string]bool{
			protocol.CapabilityTools:    true,
			protocol.CapabilityLogging:  true,
			protocol.CapabilitySampling: true,
		},
		Instructions: s.instructions,
	}, nil
}

func (s *Server) handleInitialized(ctx context.Context, params json.RawMessage) error {
	s.logger.Debug("client confirmed initialization")
	return nil
}

func (s *Server) handlePing(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.PingParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, mcperrors.InvalidParams(protocol.MethodPing, err)
		}
	}
	ts := p.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return &protocol.PingResult{Timestamp: ts}, nil
}

func (s *Server) handleSetLogLevel(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.SetLogLevelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.InvalidParams(protocol.MethodSetLogLevel, err)
	}
	switch p.Level {
	case protocol.LogLevelDebug, protocol.LogLevelInfo, protocol.LogLevelWarn, protocol.LogLevelError:
	default:
		return nil, mcperrors.InvalidParams(protocol.MethodSetLogLevel,
			errors.New("unknown level "+string(p.Level)))
	}

	s.mu.Lock()
	s.minLogLevel = p.Level
	s.mu.Unlock()

	s.logger.Debug("log level changed", logging.String("level", string(p.Level)))
	return &protocol.SetLogLevelResult{Level: p.Level}, nil
}

func (s *Server) handleListTools(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := s.requireInitialized(protocol.MethodListTools); err != nil {
		return nil, err
	}
	var p protocol.ListToolsParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, mcperrors.InvalidParams(protocol.MethodListTools, err)
		}
	}
	return s.tools.ListTools(ctx, p.Cursor)
}

// handleCallTool runs a tool and folds tool-level failures into an
// error result. Only protocol-level problems (bad params, internal
// failures) surface as JSON-RPC errors; an unknown tool or rejected
// arguments leave the session fully usable.
func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := s.requireInitialized(protocol.MethodCallTool); err != nil {
		return nil, err
	}
	var p protocol.CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.InvalidParams(protocol.MethodCallTool, err)
	}
	if p.Name == "" {
		return nil, mcperrors.InvalidParams(protocol.MethodCallTool, errors.New("tool name is required"))
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if requestID := logging.RequestIDFromContext(ctx); requestID != "" {
		s.trackActive(requestID, cancel)
		defer s.releaseActive(requestID)
	}

	operationID := "op-" + uuid.NewString()
	tctx := NewToolContext(operationID, func(method string, params interface{}) {
		s.notify(ctx, method, params)
	})

	start := time.Now()
	result, err := s.callWithSpan(callCtx, tctx, p)
	if s.metrics != nil {
		s.metrics.RecordToolCall(p.Name, err, time.Since(start))
	}
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return nil, mcperrors.Cancelled(logging.RequestIDFromContext(ctx))
		}
		if mcperrors.IsCategory(err, mcperrors.CategoryTool) ||
			mcperrors.IsCategory(err, mcperrors.CategoryValidation) {
			s.logger.Debug("tool call rejected",
				logging.String("tool", p.Name), logging.Err(err))
			return errorResultFor(err), nil
		}
		return nil, err
	}
	return result, nil
}

func (s *Server) callWithSpan(ctx context.Context, tctx *ToolContext, p protocol.CallToolParams) (*protocol.CallToolResult, error) {
	if s.tracing == nil {
		return s.tools.CallTool(ctx, tctx, p.Name, p.Arguments)
	}
	ctx, span := s.tracing.StartSpan(ctx, "mcp.tools.call",
		attribute.String("mcp.tool", p.Name),
		attribute.String("mcp.operation_id", tctx.OperationID))
	defer span.End()
	result, err := s.tools.CallTool(ctx, tctx, p.Name, p.Arguments)
	if err != nil {
		s.tracing.RecordError(ctx, err)
	}
	return result, err
}

// errorResultFor renders a tool failure as a call result the client can
// display, including any schema violations.
func errorResultFor(err error) *protocol.CallToolResult {
	message := err.Error()
	var typed *mcperrors.Error
	if errors.As(err, &typed) {
		if violations, ok := typed.Meta()["violations"].([]string); ok && len(violations) > 0 {
			message = message + ": " + strings.Join(violations, "; ")
		}
	}
	return protocol.ErrorResult(message)
}

func (s *Server) handleCancelled(ctx context.Context, params json.RawMessage) error {
	var p protocol.CancelledParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcperrors.InvalidParams(protocol.MethodCancelled, err)
	}
	key := protocol.FormatID(p.RequestID)

	s.mu.Lock()
	cancel, ok := s.active[key]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("cancellation for unknown request", logging.String("request_id", key))
		return nil
	}

	s.logger.Info("cancelling in-flight request",
		logging.String("request_id", key),
		logging.String("reason", p.Reason))
	cancel()
	return nil
}

func (s *Server) requireInitialized(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return mcperrors.NotInitialized(method)
	}
	return nil
}

func (s *Server) trackActive(requestID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.active[requestID] = cancel
	s.mu.Unlock()
}

func (s *Server) releaseActive(requestID string) {
	s.mu.Lock()
	delete(s.active, requestID)
	s.mu.Unlock()
}

// notify routes an outbound notification: to the per-request stream
// when one is attached to ctx, otherwise to the transport, otherwise to
// every connected listener.
func (s *Server) notify(ctx context.Context, method string, params interface{}) {
	if fn := notifierFrom(ctx); fn != nil {
		fn(method, params)
		return
	}
	if s.transport != nil {
		if err := s.transport.SendNotification(ctx, method, params); err != nil {
			s.logger.Warn("send notification failed",
				logging.String("method", method), logging.Err(err))
		}
		return
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(method, params)
	}
}

// SendLogMessage pushes a log-message notification, subject to the
// minimum level the client asked for.
func (s *Server) SendLogMessage(ctx context.Context, level protocol.LogLevel, logger, message string, data interface{}) {
	s.mu.Lock()
	min := s.minLogLevel
	s.mu.Unlock()
	if !level.AtLeast(min) {
		return
	}
	s.notify(ctx, protocol.MethodLogMessage, protocol.LogMessageParams{
		Level:   level,
		Logger:  logger,
		Message: message,
		Time:    time.Now().UTC(),
		Data:    data,
	})
}

// SendProgress pushes a progress notification outside a tool context.
func (s *Server) SendProgress(ctx context.Context, params protocol.ProgressParams) {
	s.notify(ctx, protocol.MethodProgress, params)
}

// RequestSampling asks connected clients to produce a completion on the
// server's behalf.
func (s *Server) RequestSampling(ctx context.Context, params protocol.SamplingRequestParams) {
	s.notify(ctx, protocol.MethodSamplingRequested, params)
}

// BroadcastResourceChanged tells every listener that a resource moved.
func (s *Server) BroadcastResourceChanged(uri, reason string) {
	s.notify(context.Background(), protocol.MethodResourceChanged,
		protocol.ResourceChangedParams{URI: uri, Reason: reason})
}

// BroadcastToolsChanged advertises registry changes to listeners.
func (s *Server) BroadcastToolsChanged(added, removed []string) {
	s.notify(context.Background(), protocol.MethodToolsChanged,
		protocol.ToolsChangedParams{Added: added, Removed: removed})
}

// setBroadcaster is called by the HTTP handler when it attaches.
func (s *Server) setBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

type notifierKey struct{}

// withNotifier attaches a per-request notification sink to ctx.
func withNotifier(ctx context.Context, fn func(method string, params interface{})) context.Context {
	return context.WithValue(ctx, notifierKey{}, fn)
}

func notifierFrom(ctx context.Context) func(method string, params interface{}) {
	fn, _ := ctx.Value(notifierKey{}).(func(method string, params interface{}))
	return fn
}
