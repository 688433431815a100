package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
	"github.com/hualong-shen/mcp-go/pkg/logging"
	"github.com/hualong-shen/mcp-go/pkg/observability"
	"github.com/hualong-shen/mcp-go/pkg/protocol"
	"github.com/hualong-shen/mcp-go/pkg/transport"
)

const (
	sessionHeader     = "MCP-Session-ID"
	lastEventIDHeader = "Last-Event-ID"

	maxBodyBytes = 8 << 20

	// historySize bounds how many broadcast events are kept for
	// Last-Event-ID replay.
	historySize = 256
)

// HTTPHandler serves MCP over streamable HTTP: POST for requests and
// notifications, GET for the server-push SSE stream, DELETE to end a
// session.
type HTTPHandler struct {
	server     *Server
	dispatcher *transport.Base
	logger     logging.Logger
	metrics    *observability.Metrics

	allowedOrigins []string
	sessionTTL     time.Duration
	heartbeat      time.Duration

	sessionMu sync.RWMutex
	sessions  map[string]*session

	streamMu sync.RWMutex
	streams  map[string]*sseStream

	eventSeq  atomic.Int64
	historyMu sync.Mutex
	history   []broadcastEvent

	cleanupStop chan struct{}
	stopOnce    sync.Once
}

type session struct {
	id          string
	createdAt   time.Time
	lastUsed    time.Time
	expiresAt   time.Time
	initialized bool
}

type sseStream struct {
	id        string
	sessionID string
	writer    http.ResponseWriter
	flusher   http.Flusher
	mu        sync.Mutex
	closed    chan struct{}
}

// close marks the stream dead. It takes s.mu so an in-flight writeEvent
// finishes before close returns, and any later writeEvent sees the
// closed channel before touching the response writer. handleGet's
// deferred unregisterStream goes through here, which keeps broadcasts
// from writing to a ResponseWriter whose handler has already returned.
func (s *sseStream) close() {
	s.mu.Lock()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	s.mu.Unlock()
}

type broadcastEvent struct {
	seq  int64
	data []byte
}

// HTTPOption configures the handler.
type HTTPOption func(*HTTPHandler)

// WithAllowedOrigins replaces the origin allowlist. Localhost variants
// are always accepted; requests without an Origin header (non-browser
// clients) always pass.
func WithAllowedOrigins(origins []string) HTTPOption {
	return func(h *HTTPHandler) { h.allowedOrigins = origins }
}

// WithSessionTTL sets how long an idle session survives.
func WithSessionTTL(ttl time.Duration) HTTPOption {
	return func(h *HTTPHandler) { h.sessionTTL = ttl }
}

// WithHeartbeatInterval sets the SSE keep-alive comment interval.
func WithHeartbeatInterval(d time.Duration) HTTPOption {
	return func(h *HTTPHandler) { h.heartbeat = d }
}

// WithHandlerMetrics records session and stream gauges.
func WithHandlerMetrics(m *observability.Metrics) HTTPOption {
	return func(h *HTTPHandler) { h.metrics = m }
}

// NewHTTPHandler wires a server to a streamable HTTP front end. The
// handler registers itself as the server's broadcaster.
func NewHTTPHandler(s *Server, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{
		server:      s,
		logger:      s.logger.Named("http"),
		sessions:    make(map[string]*session),
		streams:     make(map[string]*sseStream),
		sessionTTL:  30 * time.Minute,
		heartbeat:   15 * time.Second,
		cleanupStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.dispatcher = transport.NewBase("server", h.logger)
	s.Attach(h.dispatcher)
	s.setBroadcaster(h)

	go h.cleanupLoop()
	return h
}

// Close stops the session reaper and closes every open stream.
func (h *HTTPHandler) Close() {
	h.stopOnce.Do(func() { close(h.cleanupStop) })

	h.streamMu.Lock()
	doomed := make([]*sseStream, 0, len(h.streams))
	for id, stream := range h.streams {
		doomed = append(doomed, stream)
		delete(h.streams, id)
	}
	h.streamMu.Unlock()
	for _, stream := range doomed {
		stream.close()
	}
}

// SessionCount reports the number of live sessions.
func (h *HTTPHandler) SessionCount() int {
	h.sessionMu.RLock()
	defer h.sessionMu.RUnlock()
	return len(h.sessions)
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" {
		if !h.originAllowed(origin) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	case http.MethodOptions:
		h.handleOptions(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "error reading body", http.StatusBadRequest)
		return
	}

	switch protocol.Classify(body) {
	case protocol.KindRequest:
		var req protocol.Request
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		h.handleRequest(w, r, &req)
	case protocol.KindNotification:
		var n protocol.Notification
		if err := json.Unmarshal(body, &n); err != nil {
			http.Error(w, "malformed notification", http.StatusBadRequest)
			return
		}
		h.handleNotification(w, r, &n)
	default:
		http.Error(w, "not a JSON-RPC message", http.StatusBadRequest)
	}
}

func (h *HTTPHandler) handleRequest(w http.ResponseWriter, r *http.Request, req *protocol.Request) {
	sessionID := r.Header.Get(sessionHeader)
	isInitialize := req.Method == protocol.MethodInitialize

	if isInitialize && sessionID == "" {
		sessionID = h.createSession().id
	} else if _, ok := h.touchSession(sessionID); !ok {
		http.Error(w, "session not found or expired", http.StatusNotFound)
		return
	}
	w.Header().Set(sessionHeader, sessionID)

	// Ping is the only request allowed before the handshake completes.
	if !isInitialize && req.Method != protocol.MethodPing && !h.sessionInitialized(sessionID) {
		resp, _ := protocol.NewErrorResponse(req.ID, mcperrors.CodeNotInitialized,
			fmt.Sprintf("method %s called before initialize", req.Method), nil)
		h.writeJSONResponse(w, resp, req)
		return
	}

	if wantsEventStream(r.Header.Get("Accept")) {
		h.handleStreamingRequest(w, r, req, sessionID)
		return
	}

	resp := h.dispatcher.HandleRequest(r.Context(), req)
	if isInitialize && resp.Error == nil {
		h.markInitialized(sessionID)
	}
	h.writeJSONResponse(w, resp, req)
}

// handleStreamingRequest answers one request on a per-request SSE
// stream: notifications the handler emits first, the response last.
func (h *HTTPHandler) handleStreamingRequest(w http.ResponseWriter, r *http.Request, req *protocol.Request, sessionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	stream := h.registerStream(w, flusher, sessionID)
	defer h.unregisterStream(stream)

	ctx := withNotifier(r.Context(), func(method string, params interface{}) {
		n, err := protocol.NewNotification(method, params)
		if err != nil {
			h.logger.Warn("drop unmarshalable notification", logging.Err(err))
			return
		}
		data, _ := json.Marshal(n)
		h.writeEvent(stream, h.nextEventID(), data)
	})

	resp := h.dispatcher.HandleRequest(ctx, req)
	if req.Method == protocol.MethodInitialize && resp.Error == nil {
		h.markInitialized(sessionID)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("marshal response", logging.Err(err))
		return
	}
	h.writeEvent(stream, h.nextEventID(), data)
}

func (h *HTTPHandler) handleNotification(w http.ResponseWriter, r *http.Request, n *protocol.Notification) {
	if sessionID := r.Header.Get(sessionHeader); sessionID != "" {
		if _, ok := h.touchSession(sessionID); !ok {
			http.Error(w, "session not found or expired", http.StatusNotFound)
			return
		}
	}

	if err := h.dispatcher.HandleNotification(r.Context(), n); err != nil {
		h.logger.Warn("notification handler failed",
			logging.String("method", n.Method), logging.Err(err))
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleGet opens the long-lived server-push stream. A Last-Event-ID
// header replays broadcasts the client missed while disconnected.
func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	if sessionID != "" {
		if _, ok := h.touchSession(sessionID); !ok {
			http.Error(w, "session not found or expired", http.StatusNotFound)
			return
		}
		w.Header().Set(sessionHeader, sessionID)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := h.registerStream(w, flusher, sessionID)
	defer h.unregisterStream(stream)

	if lastID := r.Header.Get(lastEventIDHeader); lastID != "" {
		h.replay(stream, lastID)
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-stream.closed:
			return
		case <-ticker.C:
			stream.mu.Lock()
			fmt.Fprint(stream.writer, ": ping\n\n")
			stream.flusher.Flush()
			stream.mu.Unlock()
		}
	}
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		http.Error(w, "missing "+sessionHeader+" header", http.StatusBadRequest)
		return
	}

	h.sessionMu.Lock()
	_, exists := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.sessionMu.Unlock()
	if !exists {
		http.Error(w, "session not found or expired", http.StatusNotFound)
		return
	}

	h.closeSessionStreams(sessionID)
	if h.metrics != nil {
		h.metrics.SessionClosed()
	}
	h.logger.Info("session terminated", logging.String("session", sessionID))
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+sessionHeader+", "+lastEventIDHeader)
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// Broadcast implements Broadcaster: the notification goes to every open
// stream and into the replay history.
func (h *HTTPHandler) Broadcast(method string, params interface{}) {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		h.logger.Warn("drop unmarshalable broadcast", logging.Err(err))
		return
	}
	data, _ := json.Marshal(n)

	seq := h.eventSeq.Add(1)
	h.historyMu.Lock()
	h.history = append(h.history, broadcastEvent{seq: seq, data: data})
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}
	h.historyMu.Unlock()

	h.streamMu.RLock()
	streams := make([]*sseStream, 0, len(h.streams))
	for _, stream := range h.streams {
		streams = append(streams, stream)
	}
	h.streamMu.RUnlock()

	id := eventIDFor(seq)
	for _, stream := range streams {
		h.writeEvent(stream, id, data)
	}
}

func (h *HTTPHandler) replay(stream *sseStream, lastEventID string) {
	after, err := parseEventID(lastEventID)
	if err != nil {
		return
	}
	h.historyMu.Lock()
	missed := make([]broadcastEvent, 0)
	for _, ev := range h.history {
		if ev.seq > after {
			missed = append(missed, ev)
		}
	}
	h.historyMu.Unlock()

	for _, ev := range missed {
		h.writeEvent(stream, eventIDFor(ev.seq), ev.data)
	}
	if len(missed) > 0 {
		h.logger.Debug("replayed missed events", logging.Int("count", len(missed)))
	}
}

func (h *HTTPHandler) writeEvent(stream *sseStream, id string, data []byte) {
	stream.mu.Lock()
	defer stream.mu.Unlock()
	// Checked under the lock: a stream closed while we waited must not
	// be written to, its handler may already have returned.
	select {
	case <-stream.closed:
		return
	default:
	}

	fmt.Fprintf(stream.writer, "id: %s\n", id)
	for _, line := range strings.Split(string(data), "\n") {
		fmt.Fprintf(stream.writer, "data: %s\n", line)
	}
	fmt.Fprint(stream.writer, "\n")
	stream.flusher.Flush()
}

func (h *HTTPHandler) registerStream(w http.ResponseWriter, flusher http.Flusher, sessionID string) *sseStream {
	stream := &sseStream{
		id:        "stream-" + uuid.NewString(),
		sessionID: sessionID,
		writer:    w,
		flusher:   flusher,
		closed:    make(chan struct{}),
	}
	h.streamMu.Lock()
	h.streams[stream.id] = stream
	h.streamMu.Unlock()
	if h.metrics != nil {
		h.metrics.StreamOpened()
	}
	return stream
}

func (h *HTTPHandler) unregisterStream(stream *sseStream) {
	h.streamMu.Lock()
	delete(h.streams, stream.id)
	h.streamMu.Unlock()
	stream.close()
	if h.metrics != nil {
		h.metrics.StreamClosed()
	}
}

func (h *HTTPHandler) closeSessionStreams(sessionID string) {
	h.streamMu.Lock()
	var doomed []*sseStream
	for id, stream := range h.streams {
		if stream.sessionID == sessionID {
			doomed = append(doomed, stream)
			delete(h.streams, id)
		}
	}
	h.streamMu.Unlock()
	for _, stream := range doomed {
		stream.close()
	}
}

func (h *HTTPHandler) createSession() *session {
	now := time.Now()
	sess := &session{
		id:        "mcp_session_" + uuid.NewString(),
		createdAt: now,
		lastUsed:  now,
		expiresAt: now.Add(h.sessionTTL),
	}
	h.sessionMu.Lock()
	h.sessions[sess.id] = sess
	h.sessionMu.Unlock()
	if h.metrics != nil {
		h.metrics.SessionOpened()
	}
	h.logger.Info("session created", logging.String("session", sess.id))
	return sess
}

// touchSession validates a session and extends its expiry.
func (h *HTTPHandler) touchSession(sessionID string) (*session, bool) {
	if sessionID == "" {
		return nil, false
	}
	now := time.Now()

	h.sessionMu.Lock()
	defer h.sessionMu.Unlock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if now.After(sess.expiresAt) {
		delete(h.sessions, sessionID)
		if h.metrics != nil {
			h.metrics.SessionClosed()
		}
		return nil, false
	}
	sess.lastUsed = now
	sess.expiresAt = now.Add(h.sessionTTL)
	return sess, true
}

func (h *HTTPHandler) sessionInitialized(sessionID string) bool {
	h.sessionMu.RLock()
	defer h.sessionMu.RUnlock()
	sess, ok := h.sessions[sessionID]
	return ok && sess.initialized
}

func (h *HTTPHandler) markInitialized(sessionID string) {
	h.sessionMu.Lock()
	if sess, ok := h.sessions[sessionID]; ok {
		sess.initialized = true
	}
	h.sessionMu.Unlock()
}

func (h *HTTPHandler) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-h.cleanupStop:
			return
		case <-ticker.C:
			h.evictExpired()
		}
	}
}

func (h *HTTPHandler) evictExpired() {
	now := time.Now()
	var expired []string

	h.sessionMu.Lock()
	for id, sess := range h.sessions {
		if now.After(sess.expiresAt) {
			delete(h.sessions, id)
			expired = append(expired, id)
		}
	}
	h.sessionMu.Unlock()

	for _, id := range expired {
		h.closeSessionStreams(id)
		if h.metrics != nil {
			h.metrics.SessionClosed()
		}
	}
	if len(expired) > 0 {
		h.logger.Info("evicted expired sessions", logging.Int("count", len(expired)))
	}
}

func (h *HTTPHandler) writeJSONResponse(w http.ResponseWriter, resp *protocol.Response, req *protocol.Request) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "error marshaling response", http.StatusInternalServerError)
		return
	}
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("write response failed",
			logging.String("method", req.Method), logging.Err(err))
	}
}

func (h *HTTPHandler) nextEventID() string {
	return eventIDFor(h.eventSeq.Add(1))
}

func eventIDFor(seq int64) string { return "evt-" + strconv.FormatInt(seq, 10) }

func parseEventID(id string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(id, "evt-"), 10, 64)
}

// originAllowed accepts configured origins plus any localhost variant.
func (h *HTTPHandler) originAllowed(origin string) bool {
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	for _, local := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
		"http://[::1]", "https://[::1]",
	} {
		if origin == local || strings.HasPrefix(origin, local+":") {
			return true
		}
	}
	return false
}

// wantsEventStream reports whether the Accept header asks for SSE.
func wantsEventStream(accept string) bool {
	return strings.Contains(accept, "text/event-stream")
}
