package sessions

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/arrenxxxxx/MultiServerMCP/permission"
)

// MessageWriter is the exclusive handle a session holds on its outbound event
// stream. Implementations serialize concurrent writes; a failed write means
// the underlying connection is gone and the session should be torn down.
type MessageWriter interface {
	// WriteEvent frames data as a server-sent event with the given event
	// name and flushes it to the client.
	WriteEvent(ctx context.Context, event string, data []byte) error
	// Close releases the underlying stream. Safe to call more than once.
	Close() error
}

// Session represents one live client connection. It carries the identity,
// permission scope and request context captured when the connection was
// opened, plus the writer used to push server-to-client messages.
//
// The scope and query snapshot are fixed at accept time; handlers read them
// but never mutate them. ClearScope is the one exception, used when an
// operator widens a connection to unrestricted visibility.
type Session struct {
	id        string
	query     url.Values
	writer    MessageWriter
	createdAt time.Time

	mu      sync.RWMutex
	scope   permission.Path
	runtime any
}

// NewSession builds a session from the parameters of an accepted connection.
// The query values are copied so later mutation of the request URL cannot
// leak into the session.
func NewSession(id string, scope permission.Path, query url.Values, w MessageWriter) *Session {
	q := make(url.Values, len(query))
	for k, vs := range query {
		q[k] = append([]string(nil), vs...)
	}
	return &Session{
		id:        id,
		scope:     scope,
		query:     q,
		writer:    w,
		createdAt: time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Scope returns the permission path derived from the connection URL.
func (s *Session) Scope() permission.Path {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

// ClearScope drops the session's permission path, making every capability
// visible to it.
func (s *Session) ClearScope() {
	s.mu.Lock()
	s.scope = nil
	s.mu.Unlock()
}

// Query returns the query parameters captured from the opening request.
// Callers must treat the returned values as read-only.
func (s *Session) Query() url.Values { return s.query }

// CreatedAt returns when the session was accepted.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// WriteEvent pushes a server-sent event to the session's client.
func (s *Session) WriteEvent(ctx context.Context, event string, data []byte) error {
	return s.writer.WriteEvent(ctx, event, data)
}

// Close releases the session's stream writer. Idempotent.
func (s *Session) Close() error {
	return s.writer.Close()
}

// SetRuntime attaches an optional back-reference to the runtime that owns
// this session. The registry never dereferences it; it exists for lookup by
// embedding applications.
func (s *Session) SetRuntime(rt any) {
	s.mu.Lock()
	s.runtime = rt
	s.mu.Unlock()
}

// Runtime returns the value set by SetRuntime, or nil.
func (s *Session) Runtime() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runtime
}
