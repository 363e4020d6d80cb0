package streaminghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmaxmax/go-sse"

	"github.com/arrenxxxxx/MultiServerMCP/internal/jsonrpc"
	"github.com/arrenxxxxx/MultiServerMCP/internal/metrics"
	"github.com/arrenxxxxx/MultiServerMCP/mcp"
	"github.com/arrenxxxxx/MultiServerMCP/mcpservice"
	"github.com/arrenxxxxx/MultiServerMCP/server"
	"github.com/arrenxxxxx/MultiServerMCP/sessions"
)

type addArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	srv := server.New(server.WithServerInfo("test-server", "0.0.1"))

	cfg, handler := mcpservice.NewTool("adds two numbers", func(ctx context.Context, _ *sessions.Session, args addArgs) (*mcp.CallToolResult, error) {
		return mcpservice.TextResult(fmt.Sprintf("%g", args.A+args.B)), nil
	})
	require.NoError(t, srv.RegisterTool("calc/add", cfg, handler))
	return srv
}

type streamClient struct {
	events   <-chan sse.Event
	endpoint string
}

// dialStream opens an SSE connection and waits for the endpoint event.
func dialStream(t *testing.T, baseURL, path string) *streamClient {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	t.Cleanup(func() {
		cancel()
		_ = resp.Body.Close()
	})

	events := make(chan sse.Event, 16)
	go func() {
		defer close(events)
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				return
			}
			events <- ev
		}
	}()

	ev := waitEvent(t, events)
	require.Equal(t, "endpoint", ev.Type)
	require.NotEmpty(t, ev.Data)
	return &streamClient{events: events, endpoint: ev.Data}
}

func waitEvent(t *testing.T, events <-chan sse.Event) sse.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event stream closed unexpectedly")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for SSE event")
		return sse.Event{}
	}
}

func postFrame(t *testing.T, url string, frame any) *http.Response {
	t.Helper()
	body, err := json.Marshal(frame)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// call posts a request frame and returns the response delivered over the
// stream.
func call(t *testing.T, ts *httptest.Server, c *streamClient, method string, params any) *jsonrpc.Response {
	t.Helper()
	frame := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		frame["params"] = params
	}
	resp := postFrame(t, ts.URL+c.endpoint, frame)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ev := waitEvent(t, c.events)
	require.Equal(t, "message", ev.Type)
	var out jsonrpc.Response
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &out))
	return &out
}

func TestStreamLifecycle(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	h := New(srv, WithKeepAliveInterval(time.Hour))
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	c := dialStream(t, ts.URL, "/sse")
	assert.Contains(t, c.endpoint, "/message?sessionId=")
	assert.Equal(t, 1, srv.Sessions().Len())

	init := call(t, ts, c, "initialize", mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "test-client", Version: "0.1"},
	})
	require.Nil(t, init.Error)
	var initRes mcp.InitializeResult
	require.NoError(t, json.Unmarshal(init.Result, &initRes))
	assert.Equal(t, "test-server", initRes.ServerInfo.Name)
}

func TestToolCallOverStream(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	ts := httptest.NewServer(New(srv, WithKeepAliveInterval(time.Hour)))
	t.Cleanup(ts.Close)

	c := dialStream(t, ts.URL, "/sse")
	resp := call(t, ts, c, "tools/call", map[string]any{
		"name":      "calc_add",
		"arguments": map[string]any{"a": 2, "b": 3},
	})
	require.Nil(t, resp.Error)

	var res mcp.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	require.False(t, res.IsError)
	assert.Equal(t, "5", res.Content[0].Text)
}

func TestScopeFromStreamPath(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	ts := httptest.NewServer(New(srv, WithKeepAliveInterval(time.Hour)))
	t.Cleanup(ts.Close)

	scoped := dialStream(t, ts.URL, "/sse/calc")
	resp := call(t, ts, scoped, "tools/list", nil)
	require.Nil(t, resp.Error)
	var res mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	require.Len(t, res.Tools, 1)
	assert.Equal(t, "calc_add", res.Tools[0].Name)

	other := dialStream(t, ts.URL, "/sse/other")
	resp = call(t, ts, other, "tools/list", nil)
	require.Nil(t, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.Empty(t, res.Tools)
}

func TestQuerySnapshotAugmentsToolCalls(t *testing.T) {
	t.Parallel()

	srv := server.New()
	var got map[string]any
	require.NoError(t, srv.RegisterTool("calc/add", mcpservice.ToolConfig{},
		func(ctx context.Context, _ *sessions.Session, req *mcpservice.ToolRequest) (*mcp.CallToolResult, error) {
			got = req.Arguments
			return mcpservice.TextResult("ok"), nil
		}))
	ts := httptest.NewServer(New(srv, WithKeepAliveInterval(time.Hour)))
	t.Cleanup(ts.Close)

	c := dialStream(t, ts.URL, "/sse?precision=2")
	resp := call(t, ts, c, "tools/call", map[string]any{
		"name":      "calc_add",
		"arguments": map[string]any{"a": 1},
	})
	require.Nil(t, resp.Error)
	assert.Equal(t, "2", got["precision"])
	assert.Equal(t, 1.0, got["a"])
}

func TestListChangedForwarding(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	ts := httptest.NewServer(New(srv, WithKeepAliveInterval(time.Hour)))
	t.Cleanup(ts.Close)

	c := dialStream(t, ts.URL, "/sse")

	require.NoError(t, srv.RegisterTool("calc/sub", mcpservice.ToolConfig{},
		func(ctx context.Context, _ *sessions.Session, req *mcpservice.ToolRequest) (*mcp.CallToolResult, error) {
			return mcpservice.TextResult("x"), nil
		}))

	ev := waitEvent(t, c.events)
	require.Equal(t, "message", ev.Type)
	var note struct {
		Method string `json:"method"`
	}
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &note))
	assert.Equal(t, string(mcp.ToolsListChangedNotificationMethod), note.Method)
}

func TestMessageEndpointErrors(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	ts := httptest.NewServer(New(srv, WithKeepAliveInterval(time.Hour)))
	t.Cleanup(ts.Close)

	// Missing session ID.
	resp, err := http.Post(ts.URL+"/message", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown session.
	resp, err = http.Post(ts.URL+"/message?sessionId=ghost", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Wrong content type.
	resp, err = http.Post(ts.URL+"/message?sessionId=ghost", "text/plain", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestStreamRequiresEventStreamAccept(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	ts := httptest.NewServer(New(srv, WithKeepAliveInterval(time.Hour)))
	t.Cleanup(ts.Close)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/sse", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
}

func TestDisconnectRemovesSession(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	ts := httptest.NewServer(New(srv, WithKeepAliveInterval(time.Hour)))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return srv.Sessions().Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return srv.Sessions().Len() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestDisconnectReleasesSubscriptions(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	ts := httptest.NewServer(New(srv, WithKeepAliveInterval(time.Hour)))
	t.Cleanup(ts.Close)

	require.Equal(t, 0, srv.Tools().SubscriberCount())

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return srv.Tools().SubscriberCount() == 1 &&
			srv.Resources().SubscriberCount() == 1 &&
			srv.Prompts().SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		return srv.Tools().SubscriberCount() == 0 &&
			srv.Resources().SubscriberCount() == 0 &&
			srv.Prompts().SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTeardownCountsSessionOnce(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	srv := newTestServer(t)
	h := New(srv, WithKeepAliveInterval(time.Hour), WithMetrics(m))
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	dialStream(t, ts.URL, "/sse")
	var id string
	srv.Sessions().Range(func(s *sessions.Session) bool {
		id = s.ID()
		return false
	})
	require.NotEmpty(t, id)

	// The probe-failure path and the write-failure path may both reach
	// teardown; only the first take counts.
	h.teardown(context.Background(), id)
	h.teardown(context.Background(), id)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsClosed))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SessionsActive))
}

func TestBasePathMounting(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	ts := httptest.NewServer(New(srv, WithBasePath("/mcp"), WithKeepAliveInterval(time.Hour)))
	t.Cleanup(ts.Close)

	c := dialStream(t, ts.URL, "/mcp/sse")
	assert.Contains(t, c.endpoint, "/mcp/message?sessionId=")

	resp := call(t, ts, c, "ping", nil)
	assert.Nil(t, resp.Error)
}

func TestShutdownClosesSessions(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	h := New(srv, WithKeepAliveInterval(time.Hour))
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	dialStream(t, ts.URL, "/sse")
	require.Equal(t, 1, srv.Sessions().Len())

	require.NoError(t, h.Shutdown(context.Background()))
	assert.Equal(t, 0, srv.Sessions().Len())
}
