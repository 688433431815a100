package transport

import (
	"context"

	"github.com/hualong-shen/mcp-go/pkg/protocol"
)

// Middleware wraps a transport to add cross-cutting behavior.
type Middleware interface {
	Wrap(next Transport) Transport
}

// MiddlewareFunc adapts a function to the Middleware interface.
type MiddlewareFunc func(Transport) Transport

// Wrap implements Middleware.
func (f MiddlewareFunc) Wrap(next Transport) Transport { return f(next) }

// Chain composes middleware so the first argument becomes the outermost
// layer.
func Chain(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(t Transport) Transport {
		for i := len(middleware) - 1; i >= 0; i-- {
			t = middleware[i].Wrap(t)
		}
		return t
	})
}

// passthrough delegates the whole Transport interface to next.
// Middleware embed it and override only the methods they care about.
type passthrough struct {
	next Transport
}

func (p *passthrough) Connect(ctx context.Context) error { return p.next.Connect(ctx) }
func (p *passthrough) Start(ctx context.Context) error   { return p.next.Start(ctx) }
func (p *passthrough) Stop(ctx context.Context) error    { return p.next.Stop(ctx) }

func (p *passthrough) SendRequest(ctx context.Context, method string, params, result interface{}) error {
	return p.next.SendRequest(ctx, method, params, result)
}

func (p *passthrough) SendNotification(ctx context.Context, method string, params interface{}) error {
	return p.next.SendNotification(ctx, method, params)
}

func (p *passthrough) RegisterRequestHandler(method string, handler RequestHandler) {
	p.next.RegisterRequestHandler(method, handler)
}

func (p *passthrough) RegisterNotificationHandler(method string, handler NotificationHandler) {
	p.next.RegisterNotificationHandler(method, handler)
}

func (p *passthrough) HandleRequest(ctx context.Context, req *protocol.Request) *protocol.Response {
	return p.next.HandleRequest(ctx, req)
}

func (p *passthrough) HandleNotification(ctx context.Context, n *protocol.Notification) error {
	return p.next.HandleNotification(ctx, n)
}

func (p *passthrough) HandleResponse(resp *protocol.Response) { p.next.HandleResponse(resp) }

func (p *passthrough) GenerateID() string { return p.next.GenerateID() }
