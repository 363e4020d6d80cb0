package mcpservice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/arrenxxxxx/MultiServerMCP/mcp"
	"github.com/arrenxxxxx/MultiServerMCP/permission"
	"github.com/arrenxxxxx/MultiServerMCP/sessions"
)

// ToolRequest carries a validated tool invocation to its handler. Arguments
// holds the decoded argument map after validation and query-snapshot
// augmentation; Raw preserves the client's original bytes.
type ToolRequest struct {
	Name      string
	Arguments map[string]any
	Raw       json.RawMessage
}

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, session *sessions.Session, req *ToolRequest) (*mcp.CallToolResult, error)

// ToolConfig describes a tool registration. The registration name is passed
// separately so it can carry the group hierarchy.
type ToolConfig struct {
	Description string
	InputSchema *mcp.ToolInputSchema
}

// RegisteredTool is a resolved registration as the dispatcher sees it.
type RegisteredTool struct {
	Descriptor mcp.Tool
	Group      permission.Path
	Schema     *mcp.ToolInputSchema
	Handler    ToolHandler
}

type toolRecord struct {
	registeredName string
	group          permission.Path
	descriptor     mcp.Tool
	schema         *mcp.ToolInputSchema
	handler        ToolHandler
}

// ToolsContainer owns a mutable, threadsafe, insertion-ordered set of tool
// registrations. Records are keyed by their flattened visible name; a second
// registration under the same key replaces the first in place, keeping the
// original listing position.
type ToolsContainer struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*toolRecord

	notifier ChangeNotifier
}

// NewToolsContainer constructs an empty container.
func NewToolsContainer() *ToolsContainer {
	return &ToolsContainer{records: make(map[string]*toolRecord)}
}

// Register adds a tool under a hierarchical registration name such as
// "calc/add". The group is everything before the last separator; the
// published identifier is the flattened name.
func (c *ToolsContainer) Register(name string, cfg ToolConfig, handler ToolHandler) error {
	if name == "" {
		return fmt.Errorf("tool registration requires a name")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: registration requires a handler", name)
	}
	if cfg.InputSchema != nil && cfg.InputSchema.Type != "object" {
		return fmt.Errorf("tool %s: input schema type must be object, got %q", name, cfg.InputSchema.Type)
	}

	visible := permission.FlattenName(name)
	advertised := cfg.InputSchema
	if advertised == nil {
		// A schema-less tool declares no structured input. The stored schema
		// stays nil so invocation arguments pass through unvalidated.
		advertised = &mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}
	rec := &toolRecord{
		registeredName: name,
		group:          permission.GroupOf(name),
		descriptor: mcp.Tool{
			Name:        visible,
			Description: cfg.Description,
			InputSchema: *advertised,
		},
		schema:  cfg.InputSchema,
		handler: handler,
	}

	c.mu.Lock()
	if _, exists := c.records[visible]; !exists {
		c.order = append(c.order, visible)
	}
	c.records[visible] = rec
	c.mu.Unlock()

	go func() { _ = c.notifier.Notify(context.Background()) }()
	return nil
}

// Get resolves a tool by its flattened visible name.
func (c *ToolsContainer) Get(visibleName string) (RegisteredTool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[visibleName]
	if !ok {
		return RegisteredTool{}, false
	}
	return RegisteredTool{
		Descriptor: rec.descriptor,
		Group:      rec.group,
		Schema:     rec.schema,
		Handler:    rec.handler,
	}, true
}

// Group returns the permission path of a registered tool by visible name.
func (c *ToolsContainer) Group(visibleName string) (permission.Path, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[visibleName]
	if !ok {
		return nil, false
	}
	return rec.group, true
}

// ListFor returns the descriptors visible to the given scope, in registration
// order.
func (c *ToolsContainer) ListFor(scope permission.Path, enforce bool) []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(c.order))
	for _, key := range c.order {
		rec := c.records[key]
		if permission.Allowed(rec.group, scope, enforce) {
			out = append(out, rec.descriptor)
		}
	}
	return out
}

// Len returns the number of registered tools.
func (c *ToolsContainer) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Subscribe registers interest in tool set changes. Callers must Close the
// subscription when done.
func (c *ToolsContainer) Subscribe() *Subscription {
	return c.notifier.Subscribe()
}

// SubscriberCount returns the number of live change subscriptions.
func (c *ToolsContainer) SubscriberCount() int {
	return c.notifier.SubscriberCount()
}

// NewTool builds a ToolConfig and handler from a typed argument struct. The
// schema is reflected from A; the handler re-decodes the augmented argument
// map into A. Decoding is lenient about unknown keys because augmentation may
// merge connection query values the struct does not model.
func NewTool[A any](description string, fn func(ctx context.Context, session *sessions.Session, args A) (*mcp.CallToolResult, error)) (ToolConfig, ToolHandler) {
	schema := reflectInputSchema[A]()
	handler := func(ctx context.Context, session *sessions.Session, req *ToolRequest) (*mcp.CallToolResult, error) {
		var a A
		if len(req.Arguments) > 0 {
			b, err := json.Marshal(req.Arguments)
			if err != nil {
				return Errorf("invalid arguments: %v", err), nil
			}
			if err := json.Unmarshal(b, &a); err != nil {
				return Errorf("invalid arguments: %v", err), nil
			}
		}
		return fn(ctx, session, a)
	}
	return ToolConfig{Description: description, InputSchema: schema}, handler
}

// reflectInputSchema reflects a Go type A into a jsonschema.Schema and
// converts it to the simplified mcp.ToolInputSchema.
func reflectInputSchema[A any]() *mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
	}
	s := r.Reflect(new(A))

	// Only object schemas map cleanly to the simplified shape. Anything else
	// becomes an open object.
	if s == nil || s.Type != "object" {
		return &mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: true,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}
	return &mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
		// Augmented query keys must survive validation.
		AdditionalProperties: true,
	}
}

// toSchemaProperty recursively maps a jsonschema.Schema to the simplified
// SchemaProperty shape.
func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: msg}}, IsError: true}
}
