// Package streaminghttp implements the SSE flavor of the MCP HTTP transport.
// It mounts as a standard net/http handler exposing two endpoints: a GET
// stream endpoint that upgrades to text/event-stream, and a POST message
// endpoint that accepts client JSON-RPC frames and answers 202 Accepted once
// they are routed. Responses and server notifications travel back over the
// event stream.
//
// The path remainder after the stream endpoint becomes the connection's
// permission scope: a client connecting to /sse/calc/advanced is scoped to
// the calc/advanced group. The first event on every stream is an "endpoint"
// event naming the message URL, which carries the generated session ID as a
// query parameter.
//
// # Connection lifetime
//
// Each connection owns one context shared by the request, the keep-alive
// probe and the close path. A probe tick writes an SSE comment frame; when
// the write fails, or the request context is canceled, the session is
// removed from the registry and the stream writer is closed. Removal is
// idempotent, so the probe and the close path may race freely.
package streaminghttp
