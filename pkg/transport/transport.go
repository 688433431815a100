// Package transport implements the wire layer for MCP sessions: a
// config-driven factory, a shared base with request/response
// correlation, and concrete transports for streamable HTTP and stdio.
// Cross-cutting behavior (retries, metrics) is layered on with
// middleware rather than baked into the transports.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
	"github.com/hualong-shen/mcp-go/pkg/logging"
	"github.com/hualong-shen/mcp-go/pkg/protocol"
)

// RequestHandler processes an incoming request and returns the result
// value to marshal into the response.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler processes an incoming notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// Transport moves JSON-RPC messages between peers. Implementations are
// safe for concurrent use.
type Transport interface {
	// Connect prepares the transport (dials, allocates). It does not
	// perform the MCP initialize handshake; that belongs to the client.
	Connect(ctx context.Context) error
	// Start runs the receive loop until ctx is done or the peer goes
	// away. Blocking.
	Start(ctx context.Context) error
	// Stop releases the transport's resources.
	Stop(ctx context.Context) error

	// SendRequest sends a request and decodes the response result into
	// result (ignored when result is nil). A protocol-level error
	// response comes back as a typed *errors.Error.
	SendRequest(ctx context.Context, method string, params, result interface{}) error
	// SendNotification sends a fire-and-forget notification.
	SendNotification(ctx context.Context, method string, params interface{}) error

	RegisterRequestHandler(method string, handler RequestHandler)
	RegisterNotificationHandler(method string, handler NotificationHandler)

	// HandleRequest dispatches an incoming request to its registered
	// handler and always produces a response, folding handler failures
	// into protocol error objects.
	HandleRequest(ctx context.Context, req *protocol.Request) *protocol.Response
	// HandleNotification dispatches an incoming notification.
	HandleNotification(ctx context.Context, n *protocol.Notification) error
	// HandleResponse completes the pending request the response answers.
	HandleResponse(resp *protocol.Response)

	// GenerateID returns a fresh request ID.
	GenerateID() string
}

// Kind selects the concrete transport implementation.
type Kind string

const (
	KindStdio          Kind = "stdio"
	KindStreamableHTTP Kind = "streamable_http"
)

// ErrUnsupportedKind is returned by New for unknown transport kinds.
var ErrUnsupportedKind = errors.New("unsupported transport kind")

// New builds a transport from config and wraps it in the middleware the
// config enables.
func New(config Config) (Transport, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	var base Transport
	var err error
	switch config.Kind {
	case KindStdio:
		base, err = newStdioTransport(config)
	case KindStreamableHTTP:
		base, err = newStreamableHTTPTransport(config)
	default:
		return nil, ErrUnsupportedKind
	}
	if err != nil {
		return nil, err
	}

	return Chain(buildMiddleware(config)...).Wrap(base), nil
}

// Base carries the bookkeeping every transport needs: handler
// registries, pending-request correlation and ID generation. Concrete
// transports embed it.
type Base struct {
	mu                   sync.RWMutex
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	pending              map[string]chan *protocol.Response
	nextID               atomic.Int64
	idPrefix             string
	logger               logging.Logger
}

// NewBase creates a Base with the given request-ID prefix. A nil logger
// defaults to the no-op logger.
func NewBase(idPrefix string, logger logging.Logger) *Base {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Base{
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		pending:              make(map[string]chan *protocol.Response),
		idPrefix:             idPrefix,
		logger:               logger,
	}
}

// Logger returns the logger the base was built with.
func (b *Base) Logger() logging.Logger { return b.logger }

// RegisterRequestHandler registers handler for method, replacing any
// previous registration.
func (b *Base) RegisterRequestHandler(method string, handler RequestHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requestHandlers[method] = handler
}

// RegisterNotificationHandler registers handler for method.
func (b *Base) RegisterNotificationHandler(method string, handler NotificationHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notificationHandlers[method] = handler
}

// GenerateID returns "<prefix>-<n>" with a process-unique n.
func (b *Base) GenerateID() string {
	return fmt.Sprintf("%s-%d", b.idPrefix, b.nextID.Add(1))
}

// HandleRequest dispatches req and always returns a response. Handler
// panics become internal-error responses rather than taking down the
// receive loop.
func (b *Base) HandleRequest(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("request handler panicked",
				logging.String("method", req.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			resp, _ = protocol.NewErrorResponse(req.ID, mcperrors.CodeInternalError,
				fmt.Sprintf("internal error handling %s", req.Method), nil)
		}
	}()

	b.mu.RLock()
	handler, ok := b.requestHandlers[req.Method]
	b.mu.RUnlock()
	if !ok {
		return errorResponse(req.ID, mcperrors.MethodNotFound(req.Method))
	}

	// Handlers see the wire-level request ID, for logging and for
	// matching cancellation notifications to in-flight work.
	ctx = logging.ContextWithRequestID(ctx, protocol.FormatID(req.ID))
	result, err := handler(ctx, req.Params)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	resp, err = protocol.NewResponse(req.ID, result)
	if err != nil {
		return errorResponse(req.ID, mcperrors.Internal(err))
	}
	return resp
}

// HandleNotification dispatches n. Unregistered notification methods
// are dropped silently; notifications carry no error channel back.
func (b *Base) HandleNotification(ctx context.Context, n *protocol.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification handler panicked",
				logging.String("method", n.Method),
				logging.Any("panic", r))
			err = mcperrors.Newf(mcperrors.CodeInternalError, mcperrors.CategoryInternal,
				"panic handling notification %s", n.Method)
		}
	}()

	b.mu.RLock()
	handler, ok := b.notificationHandlers[n.Method]
	b.mu.RUnlock()
	if !ok {
		b.logger.Debug("no handler for notification", logging.String("method", n.Method))
		return nil
	}
	return handler(ctx, n.Params)
}

// HandleResponse hands resp to the waiter registered for its ID.
// Responses nobody is waiting for are dropped.
func (b *Base) HandleResponse(resp *protocol.Response) {
	key := protocol.FormatID(resp.ID)
	b.mu.Lock()
	ch, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// RegisterPending reserves a response slot for a request ID. The caller
// must either receive from the channel or call CancelPending.
func (b *Base) RegisterPending(id string) <-chan *protocol.Response {
	ch := make(chan *protocol.Response, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	return ch
}

// CancelPending drops the waiter for id, if still registered.
func (b *Base) CancelPending(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// WaitForResponse blocks until the response for id arrives or ctx is
// done, in which case the pending slot is cleared.
func (b *Base) WaitForResponse(ctx context.Context, id string, ch <-chan *protocol.Response) (*protocol.Response, error) {
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		b.CancelPending(id)
		return nil, ctx.Err()
	}
}

// Cleanup closes all pending waiters. Call on Stop.
func (b *Base) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
}

// DecodeResult unmarshals a response's result into out, surfacing a
// protocol error response as a typed error.
func DecodeResult(resp *protocol.Response, out interface{}) error {
	if resp == nil {
		return mcperrors.ConnectionLost(errors.New("response channel closed"))
	}
	if resp.Error != nil {
		return mcperrors.FromErrorObject(resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return mcperrors.Wrap(err, mcperrors.CodeInternalError, mcperrors.CategoryProtocol, "decode result")
	}
	return nil
}

func errorResponse(id interface{}, err error) *protocol.Response {
	obj := mcperrors.ToErrorObject(err)
	resp, _ := protocol.NewErrorResponse(id, obj.Code, obj.Message, obj.Data)
	return resp
}
