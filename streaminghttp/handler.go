package streaminghttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/arrenxxxxx/MultiServerMCP/internal/jsonrpc"
	"github.com/arrenxxxxx/MultiServerMCP/internal/logctx"
	"github.com/arrenxxxxx/MultiServerMCP/internal/metrics"
	"github.com/arrenxxxxx/MultiServerMCP/mcp"
	"github.com/arrenxxxxx/MultiServerMCP/permission"
	"github.com/arrenxxxxx/MultiServerMCP/server"
	"github.com/arrenxxxxx/MultiServerMCP/sessions"
)

const (
	ssePathSegment     = "/sse"
	messagePathSegment = "/message"

	// maxMessageBytes bounds a single POSTed frame.
	maxMessageBytes = 4 << 20

	defaultKeepAliveInterval = 30 * time.Second
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// Handler serves the classic SSE flavor of the MCP HTTP transport:
//
//	GET  <base>/sse[/<group...>]  upgrade to an event stream; the first
//	                              event names the message endpoint
//	POST <base>/message?sessionId=<id>  submit a JSON-RPC frame
//
// Path segments after /sse become the connection's permission scope, so a
// client connecting to <base>/sse/calc/advanced sees only capabilities
// grouped under calc/advanced (plus ungrouped ones).
type Handler struct {
	log       *slog.Logger
	srv       *server.Server
	metrics   *metrics.Metrics
	basePath  string
	keepAlive time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithBasePath mounts the transport under a path prefix, e.g. "/mcp".
func WithBasePath(base string) Option {
	return func(h *Handler) { h.basePath = strings.TrimRight(base, "/") }
}

// WithKeepAliveInterval sets the liveness probe interval. Each tick writes an
// SSE comment frame; a failed write tears the session down.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

// WithMetrics attaches session lifecycle collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New constructs a Handler serving the given router.
func New(srv *server.Server, opts ...Option) *Handler {
	h := &Handler{
		log:       slog.Default(),
		srv:       srv,
		keepAlive: defaultKeepAliveInterval,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if h.basePath != "" {
		if !strings.HasPrefix(path, h.basePath) {
			http.NotFound(w, r)
			return
		}
		path = strings.TrimPrefix(path, h.basePath)
	}

	switch {
	case path == ssePathSegment || strings.HasPrefix(path, ssePathSegment+"/"):
		h.handleSSE(w, r, strings.TrimPrefix(path, ssePathSegment))
	case path == messagePathSegment:
		h.handleMessage(w, r)
	default:
		http.NotFound(w, r)
	}
}

// handleSSE upgrades the request to an event stream and runs the connection
// until the client goes away or the liveness probe fails.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request, remainder string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		http.Error(w, "client must accept text/event-stream", http.StatusNotAcceptable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	scope := permission.Derive(strings.Trim(remainder, "/"))
	sessionID := uuid.NewString()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sessionID,
		Scope:     scope.String(),
	})

	wf := &lockedWriteFlusher{Writer: w, Flusher: flusher, ctx: ctx}
	writer := &sseWriter{wf: wf, cancel: cancel}
	sess := sessions.NewSession(sessionID, scope, r.URL.Query(), writer)

	h.srv.Sessions().Register(sess)
	h.countOpen()
	defer h.teardown(ctx, sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpoint := fmt.Sprintf("%s%s?sessionId=%s", h.basePath, messagePathSegment, sessionID)
	if err := writer.WriteEvent(ctx, "endpoint", []byte(endpoint)); err != nil {
		h.log.WarnContext(ctx, "endpoint event write failed", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "session connected")

	toolsSub := h.srv.Tools().Subscribe()
	defer toolsSub.Close()
	resourcesSub := h.srv.Resources().Subscribe()
	defer resourcesSub.Close()
	promptsSub := h.srv.Prompts().Subscribe()
	defer promptsSub.Close()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "session disconnected")
			return
		case <-ticker.C:
			// Probe the connection. The write fails once the peer is gone
			// even if the request context has not been canceled yet.
			if _, err := wf.Write([]byte(": keepalive\n\n")); err != nil {
				h.log.InfoContext(ctx, "keepalive probe failed, closing session")
				return
			}
			wf.Flush()
		case <-toolsSub.C:
			h.notify(ctx, writer, mcp.ToolsListChangedNotificationMethod)
		case <-resourcesSub.C:
			h.notify(ctx, writer, mcp.ResourcesListChangedNotificationMethod)
		case <-promptsSub.C:
			h.notify(ctx, writer, mcp.PromptsListChangedNotificationMethod)
		}
	}
}

func (h *Handler) notify(ctx context.Context, writer *sseWriter, method mcp.Method) {
	frame, err := json.Marshal(jsonrpc.NewNotification(string(method), nil))
	if err != nil {
		return
	}
	if err := writer.WriteEvent(ctx, "message", frame); err != nil {
		h.log.DebugContext(ctx, "notification write failed", slog.String("err", err.Error()))
	}
}

// handleMessage accepts one JSON-RPC frame, routes it, and pushes any
// response over the session's event stream. The HTTP response is always
// 202 Accepted once the frame has been routed.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ctype, err := contenttype.GetMediaType(r); err != nil || !ctype.Matches(jsonMediaType) {
		http.Error(w, "content type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId query parameter required", http.StatusBadRequest)
		return
	}
	sess, ok := h.srv.Sessions().Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})

	resp := h.srv.HandleMessage(ctx, sessionID, body)
	if resp != nil {
		frame, err := json.Marshal(resp)
		if err != nil {
			h.log.ErrorContext(ctx, "response marshaling failed", slog.String("err", err.Error()))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if err := sess.WriteEvent(ctx, "message", frame); err != nil {
			// The stream is gone; tear the session down so the client can't
			// keep POSTing into the void.
			h.log.WarnContext(ctx, "response write failed, closing session", slog.String("err", err.Error()))
			h.teardown(ctx, sessionID)
			http.Error(w, "session stream closed", http.StatusGone)
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}

// teardown removes and closes a session. Safe to call multiple times for the
// same ID; the probe failure path and the connection close path may race, and
// only the caller that wins the removal closes the writer and counts the
// session as closed.
func (h *Handler) teardown(ctx context.Context, sessionID string) {
	sess, ok := h.srv.Sessions().Remove(sessionID)
	if !ok {
		return
	}
	_ = sess.Close()
	if h.metrics != nil {
		h.metrics.SessionsClosed.Inc()
		h.metrics.SessionsActive.Dec()
	}
}

func (h *Handler) countOpen() {
	if h.metrics != nil {
		h.metrics.SessionsOpened.Inc()
		h.metrics.SessionsActive.Inc()
	}
}

// Shutdown closes every live session. In-flight SSE handlers observe their
// canceled contexts and return.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.srv.Sessions().Range(func(s *sessions.Session) bool {
		h.teardown(ctx, s.ID())
		return true
	})
	return nil
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an
// optional context. It serializes concurrent writes/flushes and avoids
// writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after acquiring the lock to minimize races with cancellation
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// sseWriter frames payloads as named server-sent events over a shared
// lockedWriteFlusher. It implements sessions.MessageWriter.
type sseWriter struct {
	wf        *lockedWriteFlusher
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (w *sseWriter) WriteEvent(ctx context.Context, event string, data []byte) error {
	var frame strings.Builder
	if event != "" {
		frame.WriteString("event: ")
		frame.WriteString(event)
		frame.WriteString("\n")
	}
	// SSE data fields cannot contain raw newlines; multi-line payloads span
	// multiple data lines.
	for _, line := range strings.Split(string(data), "\n") {
		frame.WriteString("data: ")
		frame.WriteString(line)
		frame.WriteString("\n")
	}
	frame.WriteString("\n")

	if _, err := w.wf.Write([]byte(frame.String())); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	w.wf.Flush()
	return nil
}

func (w *sseWriter) Close() error {
	w.closeOnce.Do(w.cancel)
	return nil
}
