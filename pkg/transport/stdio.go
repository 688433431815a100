package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
	"github.com/hualong-shen/mcp-go/pkg/logging"
	"github.com/hualong-shen/mcp-go/pkg/protocol"
)

// stdioMaxLine bounds a single newline-delimited message.
const stdioMaxLine = 4 * 1024 * 1024

// stdioTransport speaks newline-delimited JSON-RPC over a reader/writer
// pair, normally the process's stdin and stdout.
type stdioTransport struct {
	*Base
	reader io.Reader
	writer io.Writer
	conn   ConnectionConfig

	writeMu  sync.Mutex
	stopOnce sync.Once
	closed   chan struct{}
}

func newStdioTransport(config Config) (Transport, error) {
	reader := config.Reader
	if reader == nil {
		reader = os.Stdin
	}
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}
	return &stdioTransport{
		Base:   NewBase("stdio", config.Logger),
		reader: reader,
		writer: writer,
		conn:   config.Connection,
		closed: make(chan struct{}),
	}, nil
}

func (t *stdioTransport) Connect(ctx context.Context) error { return nil }

// Start reads messages line by line until the reader is exhausted or
// ctx is done.
func (t *stdioTransport) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scanner := bufio.NewScanner(t.reader)
		scanner.Buffer(make([]byte, 64*1024), stdioMaxLine)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.closed:
				return nil
			default:
			}
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			msg := make([]byte, len(line))
			copy(msg, line)
			t.processMessage(ctx, msg)
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
			return mcperrors.ConnectionLost(err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closed:
			return nil
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (t *stdioTransport) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() {
		close(t.closed)
		// Closing the reader unblocks the scanner goroutine.
		if closer, ok := t.reader.(io.Closer); ok {
			closer.Close()
		}
	})
	t.Cleanup()
	return nil
}

func (t *stdioTransport) SendRequest(ctx context.Context, method string, params, result interface{}) error {
	id := t.GenerateID()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return mcperrors.Wrap(err, mcperrors.CodeInvalidParams, mcperrors.CategoryValidation, "marshal request")
	}

	reqCtx := ctx
	if t.conn.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, t.conn.RequestTimeout)
		defer cancel()
	}

	ch := t.RegisterPending(id)
	if err := t.writeMessage(req); err != nil {
		t.CancelPending(id)
		return err
	}

	resp, err := t.WaitForResponse(reqCtx, id, ch)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return mcperrors.RequestTimeout(method, t.conn.RequestTimeout)
		}
		return mcperrors.Cancelled(id)
	}
	return DecodeResult(resp, result)
}

func (t *stdioTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.Wrap(err, mcperrors.CodeInvalidParams, mcperrors.CategoryValidation, "marshal notification")
	}
	return t.writeMessage(n)
}

// writeMessage serializes v and writes it as one newline-terminated
// line. The mutex keeps concurrent messages from interleaving.
func (t *stdioTransport) writeMessage(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return mcperrors.Internal(err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(data); err != nil {
		return mcperrors.TransportFailure("write", err)
	}
	return nil
}

// processMessage classifies and dispatches one inbound line. Malformed
// requests still get an error response back, per JSON-RPC.
func (t *stdioTransport) processMessage(ctx context.Context, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.Logger().Error("panic processing message", logging.Any("panic", r))
		}
	}()

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
		handleCtx := ctx
		if t.conn.RequestTimeout > 0 {
			var cancel context.CancelFunc
			handleCtx, cancel = context.WithTimeout(ctx, t.conn.RequestTimeout)
			defer cancel()
		}
		resp := t.HandleRequest(handleCtx, &req)
		if err := t.writeMessage(resp); err != nil {
			t.Logger().Error("write response failed", logging.Err(err))
		}
	default:
		resp, _ := protocol.NewErrorResponse(nil, mcperrors.CodeParseError, "unparseable message", nil)
		if err := t.writeMessage(resp); err != nil {
			t.Logger().Error("write error response failed", logging.Err(err))
		}
	}
}
