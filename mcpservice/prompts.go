package mcpservice

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/arrenxxxxx/MultiServerMCP/mcp"
	"github.com/arrenxxxxx/MultiServerMCP/permission"
	"github.com/arrenxxxxx/MultiServerMCP/sessions"
)

// PromptHandler renders a prompt with the given string-valued arguments.
type PromptHandler func(ctx context.Context, session *sessions.Session, args map[string]string) (*mcp.GetPromptResult, error)

// PromptConfig describes a prompt registration. The schema's string-typed
// properties become the advertised argument list; property membership in
// Required marks an argument required.
type PromptConfig struct {
	Description string
	Schema      *mcp.ToolInputSchema
}

// RegisteredPrompt is a resolved registration as the dispatcher sees it.
type RegisteredPrompt struct {
	Descriptor mcp.Prompt
	Group      permission.Path
	Handler    PromptHandler
}

type promptRecord struct {
	registeredName string
	group          permission.Path
	descriptor     mcp.Prompt
	handler        PromptHandler
}

// PromptsContainer owns a mutable, threadsafe, insertion-ordered set of
// prompt registrations. Like tools, records are keyed by their flattened
// visible name and a repeated key replaces in place.
type PromptsContainer struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*promptRecord

	notifier ChangeNotifier
}

// NewPromptsContainer constructs an empty container.
func NewPromptsContainer() *PromptsContainer {
	return &PromptsContainer{records: make(map[string]*promptRecord)}
}

// Register adds a prompt under a hierarchical registration name.
func (c *PromptsContainer) Register(name string, cfg PromptConfig, handler PromptHandler) error {
	if name == "" {
		return fmt.Errorf("prompt registration requires a name")
	}
	if handler == nil {
		return fmt.Errorf("prompt %s: registration requires a handler", name)
	}
	if cfg.Schema != nil && cfg.Schema.Type != "object" {
		return fmt.Errorf("prompt %s: schema type must be object, got %q", name, cfg.Schema.Type)
	}

	visible := permission.FlattenName(name)
	rec := &promptRecord{
		registeredName: name,
		group:          permission.GroupOf(name),
		descriptor: mcp.Prompt{
			Name:        visible,
			Description: cfg.Description,
			Arguments:   promptArguments(cfg.Schema),
		},
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

// Get resolves a prompt by its flattened visible name.
func (c *PromptsContainer) Get(visibleName string) (RegisteredPrompt, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[visibleName]
	if !ok {
		return RegisteredPrompt{}, false
	}
	return RegisteredPrompt{
		Descriptor: rec.descriptor,
		Group:      rec.group,
		Handler:    rec.handler,
	}, true
}

// ListFor returns the descriptors visible to the given scope, in registration
// order.
func (c *PromptsContainer) ListFor(scope permission.Path, enforce bool) []mcp.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.Prompt, 0, len(c.order))
	for _, key := range c.order {
		rec := c.records[key]
		if permission.Allowed(rec.group, scope, enforce) {
			out = append(out, rec.descriptor)
		}
	}
	return out
}

// Len returns the number of registered prompts.
func (c *PromptsContainer) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Subscribe registers interest in prompt set changes. Callers must Close the
// subscription when done.
func (c *PromptsContainer) Subscribe() *Subscription {
	return c.notifier.Subscribe()
}

// SubscriberCount returns the number of live change subscriptions.
func (c *PromptsContainer) SubscriberCount() int {
	return c.notifier.SubscriberCount()
}

// promptArguments derives the advertised argument list from a schema. Names
// are sorted so the listing is deterministic regardless of map iteration.
func promptArguments(schema *mcp.ToolInputSchema) []mcp.PromptArgument {
	if schema == nil || len(schema.Properties) == 0 {
		return nil
	}
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]mcp.PromptArgument, 0, len(names))
	for _, name := range names {
		out = append(out, mcp.PromptArgument{
			Name:        name,
			Description: schema.Properties[name].Description,
			Required:    required[name],
		})
	}
	return out
}
