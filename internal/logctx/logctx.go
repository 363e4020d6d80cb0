// Package logctx enriches slog records with request, session and rpc
// attributes carried on the context, so call sites log plain messages and
// still produce correlated output.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("scope", sd.Scope),
		))
	}

	if msg, ok := ctx.Value(rpcMsg{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
		))
	}

	if cd, ok := ctx.Value(capabilityDataKey{}).(*CapabilityData); ok {
		r.AddAttrs(slog.Group("capability",
			slog.String("kind", cd.Kind),
			slog.String("name", cd.Name),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

// RequestData describes the HTTP request that opened or carried a frame.
type RequestData struct {
	RequestID  string
	Method     string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type sessionDataKey struct{}

// SessionData identifies the session a record belongs to, including its
// permission scope in address form.
type SessionData struct {
	SessionID string
	Scope     string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type rpcMsg struct{}

// RPCMessage identifies the JSON-RPC frame being handled.
type RPCMessage struct {
	Method string
	ID     string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsg{}, msg)
}

type capabilityDataKey struct{}

// CapabilityData names the capability a record concerns, e.g. the tool being
// invoked or the resource being read.
type CapabilityData struct {
	Kind string
	Name string
}

func WithCapabilityData(ctx context.Context, data *CapabilityData) context.Context {
	return context.WithValue(ctx, capabilityDataKey{}, data)
}
