package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
	"github.com/hualong-shen/mcp-go/pkg/protocol"
)

func testHTTPServer(t *testing.T) (*HTTPHandler, *httptest.Server) {
	t.Helper()
	srv, _ := testServer(t) // tools registered; Attach to a throwaway base
	handler := NewHTTPHandler(srv, WithSessionTTL(time.Minute))
	ts := httptest.NewServer(handler)
	t.Cleanup(func() {
		ts.Close()
		handler.Close()
	})
	return handler, ts
}

func postMessage(t *testing.T, url, sessionID string, payload interface{}, accept string) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeResponse(t *testing.T, body io.Reader) *protocol.Response {
	t.Helper()
	var resp protocol.Response
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return &resp
}

func initializeSession(t *testing.T, url string) string {
	t.Helper()
	req, _ := protocol.NewRequest(1, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: "http-test", Version: "0.0.1"},
	})
	resp := postMessage(t, url, "", req, "")
	defer resp.Body.Close()

	sessionID := resp.Header.Get(sessionHeader)
	if sessionID == "" {
		t.Fatal("initialize must assign a session")
	}
	if rpc := decodeResponse(t, resp.Body); rpc.Error != nil {
		t.Fatalf("initialize failed: %v", rpc.Error)
	}
	return sessionID
}

func TestHTTPInitializeCreatesSession(t *testing.T) {
	handler, ts := testHTTPServer(t)
	sessionID := initializeSession(t, ts.URL)

	if !strings.HasPrefix(sessionID, "mcp_session_") {
		t.Errorf("session ID %q has unexpected shape", sessionID)
	}
	if handler.SessionCount() != 1 {
		t.Errorf("got %d sessions, want 1", handler.SessionCount())
	}
}

func TestHTTPUnknownSessionRejected(t *testing.T) {
	_, ts := testHTTPServer(t)
	req, _ := protocol.NewRequest(2, protocol.MethodListTools, nil)
	resp := postMessage(t, ts.URL, "mcp_session_bogus", req, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got %d, want 404", resp.StatusCode)
	}
}

func TestHTTPRequestWithoutSessionRejected(t *testing.T) {
	_, ts := testHTTPServer(t)
	req, _ := protocol.NewRequest(3, protocol.MethodListTools, nil)
	resp := postMessage(t, ts.URL, "", req, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got %d, want 404 for a sessionless non-initialize request", resp.StatusCode)
	}
}

func TestHTTPCallBeforeInitializeOnSession(t *testing.T) {
	handler, ts := testHTTPServer(t)
	sessionID := handler.createSession().id

	req, _ := protocol.NewRequest(4, protocol.MethodListTools, nil)
	resp := postMessage(t, ts.URL, sessionID, req, "")
	defer resp.Body.Close()
	rpc := decodeResponse(t, resp.Body)
	if rpc.Error == nil || rpc.Error.Code != mcperrors.CodeNotInitialized {
		t.Errorf("got %v, want not-initialized error", rpc.Error)
	}

	// Ping is exempt from the gate.
	ping, _ := protocol.NewRequest(5, protocol.MethodPing, nil)
	resp2 := postMessage(t, ts.URL, sessionID, ping, "")
	defer resp2.Body.Close()
	if rpc := decodeResponse(t, resp2.Body); rpc.Error != nil {
		t.Errorf("ping before initialize must work, got %v", rpc.Error)
	}
}

func TestHTTPCallToolRoundTrip(t *testing.T) {
	_, ts := testHTTPServer(t)
	sessionID := initializeSession(t, ts.URL)

	req, _ := protocol.NewRequest(5, protocol.MethodCallTool, protocol.CallToolParams{
		Name:      "add",
		Arguments: json.RawMessage(`{"a":2,"b":3}`),
	})
	resp := postMessage(t, ts.URL, sessionID, req, "")
	defer resp.Body.Close()

	rpc := decodeResponse(t, resp.Body)
	if rpc.Error != nil {
		t.Fatal(rpc.Error)
	}
	var result protocol.CallToolResult
	json.Unmarshal(rpc.Result, &result)
	var sum float64
	json.Unmarshal(result.Content, &sum)
	if sum != 5 {
		t.Errorf("got %v, want 5", sum)
	}
}

// The unknown-tool path over HTTP: an error result inside a 200, and
// the same session keeps answering.
func TestHTTPUnknownToolSessionSurvives(t *testing.T) {
	_, ts := testHTTPServer(t)
	sessionID := initializeSession(t, ts.URL)

	req, _ := protocol.NewRequest(6, protocol.MethodCallTool,
		protocol.CallToolParams{Name: "nonexistent"})
	resp := postMessage(t, ts.URL, sessionID, req, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	rpc := decodeResponse(t, resp.Body)
	resp.Body.Close()
	if rpc.Error != nil {
		t.Fatalf("unknown tool must not be a protocol error, got %v", rpc.Error)
	}
	var result protocol.CallToolResult
	json.Unmarshal(rpc.Result, &result)
	if !result.IsError {
		t.Fatal("want an error result")
	}

	again, _ := protocol.NewRequest(7, protocol.MethodCallTool, protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"message":"alive"}`),
	})
	resp2 := postMessage(t, ts.URL, sessionID, again, "")
	defer resp2.Body.Close()
	if rpc := decodeResponse(t, resp2.Body); rpc.Error != nil {
		t.Errorf("session did not survive: %v", rpc.Error)
	}
}

func TestHTTPNotificationAccepted(t *testing.T) {
	_, ts := testHTTPServer(t)
	sessionID := initializeSession(t, ts.URL)

	n, _ := protocol.NewNotification(protocol.MethodInitialized, protocol.InitializedParams{})
	resp := postMessage(t, ts.URL, sessionID, n, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("got %d, want 202", resp.StatusCode)
	}
}

// A tools/call that accepts SSE gets progress events on the request
// stream before the response event.
func TestHTTPStreamingCallCarriesProgress(t *testing.T) {
	handler, ts := testHTTPServer(t)
	sessionID := initializeSession(t, ts.URL)

	err := handler.server.Registry().Register(protocol.Tool{Name: "stepper2"},
		func(ctx context.Context, tctx *ToolContext, args json.RawMessage) (interface{}, error) {
			tctx.ReportProgress(50, "halfway", false)
			tctx.ReportProgress(100, "done", true)
			return "finished", nil
		})
	if err != nil {
		t.Fatal(err)
	}

	req, _ := protocol.NewRequest(8, protocol.MethodCallTool,
		protocol.CallToolParams{Name: "stepper2"})
	resp := postMessage(t, ts.URL, sessionID, req, "application/json, text/event-stream")
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("got Content-Type %q, want SSE", ct)
	}

	var progress []float64
	var final *protocol.Response
	scanner := bufio.NewScanner(resp.Body)
	var data bytes.Buffer
	for scanner.Scan() && final == nil {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "" && data.Len() > 0:
			payload := data.Bytes()
			switch protocol.Classify(payload) {
			case protocol.KindNotification:
				var n protocol.Notification
				json.Unmarshal(payload, &n)
				if n.Method == protocol.MethodProgress {
					var p protocol.ProgressParams
					json.Unmarshal(n.Params, &p)
					progress = append(progress, p.Percent)
				}
			case protocol.KindResponse:
				var r protocol.Response
				json.Unmarshal(payload, &r)
				final = &r
			}
			data.Reset()
		}
	}

	if final == nil {
		t.Fatal("no response event on the stream")
	}
	if len(progress) != 2 || progress[0] != 50 || progress[1] != 100 {
		t.Errorf("progress = %v, want [50 100]", progress)
	}
}

func TestHTTPBroadcastAndReplay(t *testing.T) {
	handler, ts := testHTTPServer(t)
	sessionID := initializeSession(t, ts.URL)

	// First listener hears the live broadcast.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	get, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	get.Header.Set("Accept", "text/event-stream")
	get.Header.Set(sessionHeader, sessionID)
	stream, err := http.DefaultClient.Do(get)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Body.Close()

	events := make(chan string, 8)
	go func() {
		scanner := bufio.NewScanner(stream.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data:") {
				events <- strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()

	// Give the stream a moment to register before broadcasting.
	waitForStreams(t, handler, 1)
	handler.server.BroadcastResourceChanged("res://config", "updated")

	select {
	case data := <-events:
		var n protocol.Notification
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			t.Fatal(err)
		}
		if n.Method != protocol.MethodResourceChanged {
			t.Errorf("got %q", n.Method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never arrived")
	}
	cancel()

	// A reconnect with Last-Event-ID 0 replays the missed broadcast.
	get2, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	get2.Header.Set("Accept", "text/event-stream")
	get2.Header.Set(sessionHeader, sessionID)
	get2.Header.Set(lastEventIDHeader, "evt-0")
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	stream2, err := http.DefaultClient.Do(get2.WithContext(ctx2))
	if err != nil {
		t.Fatal(err)
	}
	defer stream2.Body.Close()

	scanner := bufio.NewScanner(stream2.Body)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data:") {
			var n protocol.Notification
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &n); err == nil &&
				n.Method == protocol.MethodResourceChanged {
				return // replayed
			}
		}
	}
	t.Fatal("missed broadcast was not replayed")
}

// Listener connections dropping while broadcasts are in flight must
// never let a broadcast write to a response whose handler has returned.
func TestHTTPBroadcastSurvivesListenerDisconnect(t *testing.T) {
	handler, ts := testHTTPServer(t)
	sessionID := initializeSession(t, ts.URL)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				handler.server.BroadcastResourceChanged("res://churn", "updated")
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		get, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
		get.Header.Set("Accept", "text/event-stream")
		get.Header.Set(sessionHeader, sessionID)
		resp, err := http.DefaultClient.Do(get)
		if err != nil {
			cancel()
			t.Fatal(err)
		}
		waitForStreams(t, handler, 1)
		cancel() // drop the connection mid-broadcast
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	close(stop)
	wg.Wait()

	// The handler must still answer requests on the same session.
	req, _ := protocol.NewRequest(99, protocol.MethodPing, protocol.PingParams{Timestamp: 7})
	resp := postMessage(t, ts.URL, sessionID, req, "")
	defer resp.Body.Close()
	if rpc := decodeResponse(t, resp.Body); rpc.Error != nil {
		t.Fatalf("ping after listener churn failed: %v", rpc.Error)
	}
}

func waitForStreams(t *testing.T, h *HTTPHandler, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.streamMu.RLock()
		n := len(h.streams)
		h.streamMu.RUnlock()
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("listener stream never registered")
}

func TestHTTPDeleteEndsSession(t *testing.T) {
	handler, ts := testHTTPServer(t)
	sessionID := initializeSession(t, ts.URL)

	del, _ := http.NewRequest(http.MethodDelete, ts.URL, nil)
	del.Header.Set(sessionHeader, sessionID)
	resp, err := http.DefaultClient.Do(del)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}
	if handler.SessionCount() != 0 {
		t.Errorf("got %d sessions, want 0", handler.SessionCount())
	}

	req, _ := protocol.NewRequest(9, protocol.MethodPing, nil)
	after := postMessage(t, ts.URL, sessionID, req, "")
	defer after.Body.Close()
	if after.StatusCode != http.StatusNotFound {
		t.Errorf("got %d, want 404 after termination", after.StatusCode)
	}
}

func TestHTTPOriginValidation(t *testing.T) {
	_, ts := testHTTPServer(t)

	req, _ := protocol.NewRequest(10, protocol.MethodPing, nil)
	data, _ := json.Marshal(req)
	post, _ := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(data))
	post.Header.Set("Origin", "https://evil.example.com")
	resp, err := http.DefaultClient.Do(post)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("got %d, want 403 for a foreign origin", resp.StatusCode)
	}

	local, _ := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(data))
	local.Header.Set("Origin", "http://localhost:3000")
	resp2, err := http.DefaultClient.Do(local)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode == http.StatusForbidden {
		t.Error("localhost origin must be allowed")
	}
}

func TestHTTPSessionExpiry(t *testing.T) {
	srv, _ := testServer(t)
	handler := NewHTTPHandler(srv, WithSessionTTL(10*time.Millisecond))
	ts := httptest.NewServer(handler)
	defer ts.Close()
	defer handler.Close()

	sessionID := initializeSession(t, ts.URL)
	time.Sleep(30 * time.Millisecond)

	req, _ := protocol.NewRequest(11, protocol.MethodPing, nil)
	resp := postMessage(t, ts.URL, sessionID, req, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got %d, want 404 for an expired session", resp.StatusCode)
	}
}
