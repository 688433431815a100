package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
	"github.com/hualong-shen/mcp-go/pkg/logging"
	"github.com/hualong-shen/mcp-go/pkg/protocol"
)

const (
	sessionHeader     = "MCP-Session-ID"
	lastEventIDHeader = "Last-Event-ID"

	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"

	// listenerRetryDelay paces reconnects of the server-push stream.
	listenerRetryDelay = 2 * time.Second
)

// errListenerUnsupported means the server rejected the GET stream; the
// transport keeps working on POST round trips alone.
var errListenerUnsupported = errors.New("server does not support the listener stream")

// streamableHTTPTransport speaks MCP streamable HTTP: requests go out
// as POSTs, responses come back either as plain JSON or as a
// per-request SSE stream, and an optional long-lived GET stream carries
// server-initiated messages.
type streamableHTTPTransport struct {
	*Base
	endpoint string
	client   *http.Client
	conn     ConnectionConfig
	security SecurityConfig

	mu          sync.Mutex
	sessionID   string
	lastEventID string

	stopOnce sync.Once
	closed   chan struct{}
	wg       sync.WaitGroup
}

func newStreamableHTTPTransport(config Config) (Transport, error) {
	// No Client.Timeout here: a global timeout would sever long-lived
	// SSE streams. Per-request deadlines come from contexts and the
	// idle timer cuts dead streams.
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        config.Connection.MaxIdleConns,
			MaxIdleConnsPerHost: config.Connection.MaxIdleConns,
			IdleConnTimeout:     config.Connection.IdleConnTimeout,
		},
	}
	return &streamableHTTPTransport{
		Base:     NewBase("http", config.Logger),
		endpoint: config.Endpoint,
		client:   client,
		conn:     config.Connection,
		security: config.Security,
		closed:   make(chan struct{}),
	}, nil
}

// SessionID returns the session assigned by the server, if any.
func (t *streamableHTTPTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// SetSessionID overrides the session the transport attaches to requests.
func (t *streamableHTTPTransport) SetSessionID(id string) {
	t.mu.Lock()
	t.sessionID = id
	t.mu.Unlock()
}

func (t *streamableHTTPTransport) Connect(ctx context.Context) error {
	// HTTP is connectionless; the session is established by the first
	// POST (the initialize request).
	return nil
}

// Start runs the listener stream until ctx is done or Stop is called.
// Servers without listener support degrade to POST-only operation.
func (t *streamableHTTPTransport) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closed:
			return nil
		default:
		}

		err := t.runListener(ctx)
		if errors.Is(err, errListenerUnsupported) {
			t.Logger().Debug("listener stream unsupported, POST-only mode")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.closed:
				return nil
			}
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Logger().Warn("listener stream ended", logging.Err(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closed:
			return nil
		case <-time.After(listenerRetryDelay):
		}
	}
}

func (t *streamableHTTPTransport) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() {
		close(t.closed)
	})
	t.client.CloseIdleConnections()
	t.wg.Wait()
	t.Cleanup()
	return nil
}

func (t *streamableHTTPTransport) SendRequest(ctx context.Context, method string, params, result interface{}) error {
	id := t.GenerateID()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return mcperrors.Wrap(err, mcperrors.CodeInvalidParams, mcperrors.CategoryValidation, "marshal request")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return mcperrors.Internal(err)
	}

	reqCtx := ctx
	if t.conn.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, t.conn.RequestTimeout)
		defer cancel()
	}

	ch := t.RegisterPending(id)

	resp, err := t.post(reqCtx, payload)
	if err != nil {
		t.CancelPending(id)
		return err
	}

	var streamBody io.ReadCloser
	switch mediaType(resp.Header.Get("Content-Type")) {
	case contentTypeSSE:
		// The server answers on a per-request stream: progress and
		// other notifications first, the response last.
		streamBody = resp.Body
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.readEventStream(context.Background(), resp.Body, false)
		}()
	case contentTypeJSON:
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			t.CancelPending(id)
			return mcperrors.TransportFailure("read response", readErr)
		}
		t.handleMessage(ctx, data)
	default:
		// 202/204: the response arrives on the listener stream.
		resp.Body.Close()
	}

	answer, waitErr := t.WaitForResponse(reqCtx, id, ch)
	if streamBody != nil {
		streamBody.Close()
	}
	if waitErr != nil {
		t.notifyCancelled(id, waitErr)
		if errors.Is(waitErr, context.DeadlineExceeded) && ctx.Err() == nil {
			return mcperrors.RequestTimeout(method, t.conn.RequestTimeout)
		}
		return mcperrors.Cancelled(id)
	}
	return DecodeResult(answer, result)
}

func (t *streamableHTTPTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.Wrap(err, mcperrors.CodeInvalidParams, mcperrors.CategoryValidation, "marshal notification")
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return mcperrors.Internal(err)
	}
	resp, err := t.post(ctx, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}

// post sends payload to the endpoint and captures any session ID the
// server assigns. Callers own the response body.
func (t *streamableHTTPTransport) post(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, mcperrors.TransportFailure("build request", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON+", "+contentTypeSSE)
	t.setCommonHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, mcperrors.TransportFailure("post", err)
	}
	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.SetSessionID(sid)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound && t.SessionID() != "" {
			t.SetSessionID("")
			return nil, mcperrors.New(mcperrors.CodeSessionExpired, mcperrors.CategorySession,
				"session expired").WithDetail(strings.TrimSpace(string(body)))
		}
		return nil, mcperrors.New(mcperrors.CodeTransportFailure, mcperrors.CategoryTransport,
			fmt.Sprintf("server returned %d", resp.StatusCode)).WithDetail(strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (t *streamableHTTPTransport) setCommonHeaders(req *http.Request) {
	if sid := t.SessionID(); sid != "" {
		req.Header.Set(sessionHeader, sid)
	}
	if t.security.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.security.BearerToken)
	}
}

// runListener opens the GET stream for server-initiated messages and
// reads it until it ends.
func (t *streamableHTTPTransport) runListener(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", contentTypeSSE)
	t.setCommonHeaders(req)
	t.mu.Lock()
	if t.lastEventID != "" {
		req.Header.Set(lastEventIDHeader, t.lastEventID)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return errListenerUnsupported
	}
	if resp.StatusCode != http.StatusOK || mediaType(resp.Header.Get("Content-Type")) != contentTypeSSE {
		resp.Body.Close()
		return fmt.Errorf("listener stream rejected: status %d", resp.StatusCode)
	}

	t.Logger().Debug("listener stream open")
	t.readEventStream(ctx, resp.Body, true)
	return nil
}

// readEventStream parses SSE frames off body and dispatches each data
// payload. When record is set, event IDs are remembered for resumption.
// The idle timer closes body if the server goes silent; heartbeat
// comments reset it.
func (t *streamableHTTPTransport) readEventStream(ctx context.Context, body io.ReadCloser, record bool) {
	defer body.Close()

	var idle *time.Timer
	if t.conn.ReadIdleTimeout > 0 {
		idle = time.AfterFunc(t.conn.ReadIdleTimeout, func() { body.Close() })
		defer idle.Stop()
	}
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	var data bytes.Buffer
	var eventID string
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		if idle != nil {
			idle.Reset(t.conn.ReadIdleTimeout)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() > 0 {
				if record && eventID != "" {
					t.mu.Lock()
					t.lastEventID = eventID
					t.mu.Unlock()
				}
				t.handleMessage(ctx, data.Bytes())
			}
			data.Reset()
			eventID = ""
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment; the idle reset above is enough.
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "id:"):
			eventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"), strings.HasPrefix(line, "retry:"):
			// Event names and retry hints are not used.
		}
	}
}

// handleMessage routes one decoded wire message. Server-initiated
// requests are answered with a POST back to the endpoint.
func (t *streamableHTTPTransport) handleMessage(ctx context.Context, data []byte) {
	switch protocol.Classify(data) {
	case protocol.KindResponse:
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Logger().Warn("malformed response", logging.Err(err))
			return
		}
		t.HandleResponse(&resp)
	case protocol.KindNotification:
		var n protocol.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			t.Logger().Warn("malformed notification", logging.Err(err))
			return
		}
		if err := t.HandleNotification(ctx, &n); err != nil {
			t.Logger().Warn("notification handler failed",
				logging.String("method", n.Method), logging.Err(err))
		}
	case protocol.KindRequest:
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			t.Logger().Warn("malformed request", logging.Err(err))
			return
		}
		resp := t.HandleRequest(ctx, &req)
		payload, err := json.Marshal(resp)
		if err != nil {
			t.Logger().Error("marshal response", logging.Err(err))
			return
		}
		if httpResp, err := t.post(ctx, payload); err != nil {
			t.Logger().Warn("post response", logging.Err(err))
		} else {
			httpResp.Body.Close()
		}
	default:
		t.Logger().Warn("unclassifiable message", logging.Int("bytes", len(data)))
	}
}

// notifyCancelled tells the server a request was abandoned so it can
// stop working on it. Best effort on a fresh, short-lived context.
func (t *streamableHTTPTransport) notifyCancelled(id string, cause error) {
	reason := "client cancelled"
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "request timed out"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.SendNotification(ctx, protocol.MethodCancelled,
		protocol.CancelledParams{RequestID: id, Reason: reason}); err != nil {
		t.Logger().Debug("cancel notification failed", logging.Err(err))
	}
}

// mediaType strips parameters like charset from a Content-Type value.
func mediaType(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(strings.ToLower(v))
}
