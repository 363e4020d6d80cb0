// Package server implements the JSON-RPC request router. It owns the
// capability containers and the session registry, applies permission
// filtering per session scope, and maps handler outcomes onto protocol
// results and error codes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arrenxxxxx/MultiServerMCP/internal/jsonrpc"
	"github.com/arrenxxxxx/MultiServerMCP/internal/logctx"
	"github.com/arrenxxxxx/MultiServerMCP/internal/metrics"
	"github.com/arrenxxxxx/MultiServerMCP/internal/validation"
	"github.com/arrenxxxxx/MultiServerMCP/mcp"
	"github.com/arrenxxxxx/MultiServerMCP/mcpservice"
	"github.com/arrenxxxxx/MultiServerMCP/permission"
	"github.com/arrenxxxxx/MultiServerMCP/sessions"
)

// Server routes incoming JSON-RPC frames against the registered capability
// containers. Construct with New; register capabilities before or after
// serving, containers are safe for concurrent mutation.
type Server struct {
	log      *slog.Logger
	info     mcp.ImplementationInfo
	instr    string
	enforce  bool
	pageSize int
	metrics  *metrics.Metrics

	tools     *mcpservice.ToolsContainer
	resources *mcpservice.ResourcesContainer
	prompts   *mcpservice.PromptsContainer
	sessions  *sessions.Registry
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithServerInfo sets the implementation info reported during initialize.
func WithServerInfo(name, version string) Option {
	return func(s *Server) { s.info = mcp.ImplementationInfo{Name: name, Version: version} }
}

// WithInstructions sets the instructions string reported during initialize.
func WithInstructions(instr string) Option {
	return func(s *Server) { s.instr = instr }
}

// WithPermissionEnforcement toggles group-based visibility filtering.
// Enabled by default; with enforcement off every session sees every
// capability regardless of scope.
func WithPermissionEnforcement(enforce bool) Option {
	return func(s *Server) { s.enforce = enforce }
}

// WithPageSize sets the page size for list operations.
func WithPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithMetrics attaches request and tool-call collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New constructs a Server with empty capability containers and a fresh
// session registry.
func New(opts ...Option) *Server {
	s := &Server{
		log:       slog.Default(),
		info:      mcp.ImplementationInfo{Name: "mcp-server", Version: "0.0.0"},
		enforce:   true,
		pageSize:  mcpservice.DefaultPageSize,
		tools:     mcpservice.NewToolsContainer(),
		resources: mcpservice.NewResourcesContainer(),
		prompts:   mcpservice.NewPromptsContainer(),
		sessions:  sessions.NewRegistry(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sessions returns the session registry. The transport registers and removes
// sessions; the router only reads it.
func (s *Server) Sessions() *sessions.Registry { return s.sessions }

// Tools returns the tool container.
func (s *Server) Tools() *mcpservice.ToolsContainer { return s.tools }

// Resources returns the resource container.
func (s *Server) Resources() *mcpservice.ResourcesContainer { return s.resources }

// Prompts returns the prompt container.
func (s *Server) Prompts() *mcpservice.PromptsContainer { return s.prompts }

// PermissionEnforced reports whether group filtering is active.
func (s *Server) PermissionEnforced() bool { return s.enforce }

// RegisterTool registers a tool under a hierarchical name such as "calc/add".
func (s *Server) RegisterTool(name string, cfg mcpservice.ToolConfig, h mcpservice.ToolHandler) error {
	return s.tools.Register(name, cfg, h)
}

// RegisterResource registers a resource. A URI containing a {placeholder} is
// registered as a template.
func (s *Server) RegisterResource(name string, cfg mcpservice.ResourceConfig, h mcpservice.ResourceHandler) error {
	if cfg.Template == "" && strings.Contains(cfg.URI, "{") {
		cfg.Template = cfg.URI
		cfg.URI = ""
	}
	return s.resources.Register(name, cfg, h)
}

// RegisterPrompt registers a prompt under a hierarchical name.
func (s *Server) RegisterPrompt(name string, cfg mcpservice.PromptConfig, h mcpservice.PromptHandler) error {
	return s.prompts.Register(name, cfg, h)
}

// HandleMessage routes a single raw frame for the given session. It returns
// the response to deliver, or nil when the frame was a notification.
func (s *Server) HandleMessage(ctx context.Context, sessionID string, raw []byte) *jsonrpc.Response {
	req, perr := jsonrpc.ParseRequest(raw)
	if perr != nil {
		return jsonrpc.NewErrorResponse(nil, perr.Code, perr.Message, nil)
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String()})

	if req.IsNotification() {
		// The only client notifications this server speaks are lifecycle
		// signals; nothing to do beyond acknowledging receipt.
		s.log.DebugContext(ctx, "notification received")
		return nil
	}

	sess, _ := s.sessions.Get(sessionID)
	if sess != nil {
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
			SessionID: sess.ID(),
			Scope:     sess.Scope().String(),
		})
	}

	result, rpcErr := s.dispatch(ctx, sess, req)
	s.countRequest(req.Method, rpcErr == nil)
	if rpcErr != nil {
		return jsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		s.log.ErrorContext(ctx, "result marshaling failed", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return s.handleInitialize(ctx, req)
	case mcp.PingMethod:
		return &mcp.EmptyResult{}, nil
	case mcp.ToolsListMethod:
		return s.handleToolsList(ctx, sess, req)
	case mcp.ToolsCallMethod:
		return s.handleToolsCall(ctx, sess, req)
	case mcp.ResourcesListMethod:
		return s.handleResourcesList(ctx, sess, req)
	case mcp.ResourcesTemplatesListMethod:
		return s.handleResourceTemplatesList(ctx, sess, req)
	case mcp.ResourcesReadMethod:
		return s.handleResourcesRead(ctx, sess, req)
	case mcp.PromptsListMethod:
		return s.handlePromptsList(ctx, sess, req)
	case mcp.PromptsGetMethod:
		return s.handlePromptsGet(ctx, sess, req)
	default:
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(ctx context.Context, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid initialize params: %s", err))
		}
	}
	s.log.InfoContext(ctx, "session initializing",
		slog.String("client", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.String("protocol_version", params.ProtocolVersion))

	listChanged := struct {
		ListChanged bool `json:"listChanged"`
	}{ListChanged: true}

	return &mcp.InitializeResult{
		ProtocolVersion: mcp.LatestProtocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools:     &listChanged,
			Resources: &listChanged,
			Prompts:   &listChanged,
		},
		ServerInfo:   s.info,
		Instructions: s.instr,
	}, nil
}

// sessionScope resolves the scope for listing. A missing session lists
// nothing rather than failing, so a client racing its own teardown gets an
// empty result instead of an error.
func (s *Server) sessionScope(sess *sessions.Session) (permission.Path, bool) {
	if sess == nil {
		return nil, false
	}
	return sess.Scope(), true
}

func parseCursor(params json.RawMessage) (string, *jsonrpc.Error) {
	if len(params) == 0 {
		return "", nil
	}
	var p mcp.PaginatedRequest
	if err := json.Unmarshal(params, &p); err != nil {
		return "", jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid params: %s", err))
	}
	return p.Cursor, nil
}

func (s *Server) handleToolsList(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	cursor, perr := parseCursor(req.Params)
	if perr != nil {
		return nil, perr
	}
	scope, ok := s.sessionScope(sess)
	if !ok {
		return &mcp.ListToolsResult{Tools: []mcp.Tool{}}, nil
	}
	items, next := mcpservice.Paginate(s.tools.ListFor(scope, s.enforce), s.pageSize, cursor)
	return &mcp.ListToolsResult{
		Tools:           items,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	if sess == nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "unknown session")
	}
	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid params: %s", err))
	}
	if params.Name == "" {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "tool call requires a name")
	}

	ctx = logctx.WithCapabilityData(ctx, &logctx.CapabilityData{Kind: "tool", Name: params.Name})

	tool, found := s.tools.Get(params.Name)
	if !found {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name))
	}
	// Denied invocations fail before the callback runs.
	if !permission.Allowed(tool.Group, sess.Scope(), s.enforce) {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("access denied: %s", params.Name))
	}

	args := map[string]any{}
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid arguments: %s", err))
		}
	}
	if err := validation.Arguments(tool.Schema, args); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, err.Error())
	}

	// Connection-level query parameters fill in argument keys the client
	// left out. Client-supplied values always win.
	for key, values := range sess.Query() {
		if _, present := args[key]; !present && len(values) > 0 {
			args[key] = values[0]
		}
	}

	res, err := tool.Handler(ctx, sess, &mcpservice.ToolRequest{
		Name:      params.Name,
		Arguments: args,
		Raw:       params.Arguments,
	})
	if err != nil {
		// Callback failures surface to the client as tool-level errors, not
		// protocol errors, so the conversation can continue.
		s.log.WarnContext(ctx, "tool callback failed", slog.String("err", err.Error()))
		s.countToolCall(false)
		return mcpservice.Errorf("%s", err.Error()), nil
	}
	if res == nil {
		res = &mcp.CallToolResult{}
	}
	s.countToolCall(!res.IsError)
	return res, nil
}

func (s *Server) handleResourcesList(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	cursor, perr := parseCursor(req.Params)
	if perr != nil {
		return nil, perr
	}
	scope, ok := s.sessionScope(sess)
	if !ok {
		return &mcp.ListResourcesResult{Resources: []mcp.Resource{}}, nil
	}
	items, next := mcpservice.Paginate(s.resources.ListFor(scope, s.enforce), s.pageSize, cursor)
	return &mcp.ListResourcesResult{
		Resources:       items,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	}, nil
}

func (s *Server) handleResourceTemplatesList(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	cursor, perr := parseCursor(req.Params)
	if perr != nil {
		return nil, perr
	}
	scope, ok := s.sessionScope(sess)
	if !ok {
		return &mcp.ListResourceTemplatesResult{ResourceTemplates: []mcp.ResourceTemplate{}}, nil
	}
	items, next := mcpservice.Paginate(s.resources.ListTemplatesFor(scope, s.enforce), s.pageSize, cursor)
	return &mcp.ListResourceTemplatesResult{
		ResourceTemplates: items,
		PaginatedResult:   mcp.PaginatedResult{NextCursor: next},
	}, nil
}

func (s *Server) handleResourcesRead(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	if sess == nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "unknown session")
	}
	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid params: %s", err))
	}
	if params.URI == "" {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "resource read requires a uri")
	}

	ctx = logctx.WithCapabilityData(ctx, &logctx.CapabilityData{Kind: "resource", Name: params.URI})

	resolved, found := s.resources.Resolve(params.URI)
	if !found {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("resource not found: %s", params.URI))
	}
	if !permission.Allowed(resolved.Group, sess.Scope(), s.enforce) {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("access denied: %s", params.URI))
	}

	contents, err := resolved.Handler(ctx, sess, params.URI, resolved.Params)
	if err != nil {
		s.log.ErrorContext(ctx, "resource read failed", slog.String("err", err.Error()))
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, fmt.Sprintf("resource read failed: %s", err))
	}
	return &mcp.ReadResourceResult{Contents: contents}, nil
}

func (s *Server) handlePromptsList(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	cursor, perr := parseCursor(req.Params)
	if perr != nil {
		return nil, perr
	}
	scope, ok := s.sessionScope(sess)
	if !ok {
		return &mcp.ListPromptsResult{Prompts: []mcp.Prompt{}}, nil
	}
	items, next := mcpservice.Paginate(s.prompts.ListFor(scope, s.enforce), s.pageSize, cursor)
	return &mcp.ListPromptsResult{
		Prompts:         items,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	}, nil
}

func (s *Server) handlePromptsGet(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	if sess == nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "unknown session")
	}
	var params mcp.GetPromptRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid params: %s", err))
	}
	if params.Name == "" {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "prompt get requires a name")
	}

	ctx = logctx.WithCapabilityData(ctx, &logctx.CapabilityData{Kind: "prompt", Name: params.Name})

	prompt, found := s.prompts.Get(params.Name)
	if !found {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("unknown prompt: %s", params.Name))
	}
	if !permission.Allowed(prompt.Group, sess.Scope(), s.enforce) {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("access denied: %s", params.Name))
	}

	args := make(map[string]string, len(params.Arguments))
	for key, raw := range params.Arguments {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("argument %s: expected string", key))
		}
		args[key] = v
	}
	if err := validation.PromptArguments(prompt.Descriptor.Arguments, args); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, err.Error())
	}

	res, err := prompt.Handler(ctx, sess, args)
	if err != nil {
		s.log.ErrorContext(ctx, "prompt rendering failed", slog.String("err", err.Error()))
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, fmt.Sprintf("prompt rendering failed: %s", err))
	}
	if res == nil {
		res = &mcp.GetPromptResult{Messages: []mcp.PromptMessage{}}
	}
	return res, nil
}

func (s *Server) countRequest(method string, ok bool) {
	if s.metrics == nil {
		return
	}
	outcome := metrics.OutcomeOK
	if !ok {
		outcome = metrics.OutcomeError
	}
	s.metrics.Requests.WithLabelValues(method, outcome).Inc()
}

func (s *Server) countToolCall(ok bool) {
	if s.metrics == nil {
		return
	}
	outcome := metrics.OutcomeOK
	if !ok {
		outcome = metrics.OutcomeError
	}
	s.metrics.ToolCalls.WithLabelValues(outcome).Inc()
}
