package mcpservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/arrenxxxxx/MultiServerMCP/mcp"
	"github.com/arrenxxxxx/MultiServerMCP/permission"
	"github.com/arrenxxxxx/MultiServerMCP/sessions"
)

// ResourceHandler produces the contents of a resource. For template-backed
// resources, params carries the values extracted from the URI; for concrete
// resources it is empty.
type ResourceHandler func(ctx context.Context, session *sessions.Session, uri string, params map[string]string) ([]mcp.ResourceContents, error)

// ResourceConfig describes a resource registration. Exactly one of URI and
// Template must be set: URI registers a concrete resource, Template registers
// a parameterized family matched with {name} placeholders.
type ResourceConfig struct {
	URI         string
	Template    string
	Description string
	MimeType    string
}

// ResolvedResource is the outcome of resolving a read URI against the
// container.
type ResolvedResource struct {
	Group   permission.Path
	Handler ResourceHandler
	// Params holds template placeholder values; nil for concrete resources.
	Params map[string]string
}

type resourceRecord struct {
	registeredName string
	group          permission.Path
	descriptor     mcp.Resource
	handler        ResourceHandler
}

type templateRecord struct {
	registeredName string
	group          permission.Path
	descriptor     mcp.ResourceTemplate
	template       *URITemplate
	handler        ResourceHandler
}

// ResourcesContainer owns a mutable, threadsafe, insertion-ordered set of
// concrete resources and resource templates. Concrete records are keyed by
// URI, templates by their template text; re-registering a key replaces the
// record in place, keeping the original listing position.
type ResourcesContainer struct {
	mu sync.RWMutex

	uriOrder []string
	byURI    map[string]*resourceRecord

	tmplOrder []string
	byTmpl    map[string]*templateRecord

	notifier ChangeNotifier
}

// NewResourcesContainer constructs an empty container.
func NewResourcesContainer() *ResourcesContainer {
	return &ResourcesContainer{
		byURI:  make(map[string]*resourceRecord),
		byTmpl: make(map[string]*templateRecord),
	}
}

// Register adds a resource under a hierarchical registration name. The group
// is everything before the last separator; the final segment becomes the
// display name.
func (c *ResourcesContainer) Register(name string, cfg ResourceConfig, handler ResourceHandler) error {
	if name == "" {
		return fmt.Errorf("resource registration requires a name")
	}
	if handler == nil {
		return fmt.Errorf("resource %s: registration requires a handler", name)
	}
	if (cfg.URI == "") == (cfg.Template == "") {
		return fmt.Errorf("resource %s: exactly one of URI and Template must be set", name)
	}

	group := permission.GroupOf(name)
	leaf := permission.Leaf(name)

	if cfg.URI != "" {
		rec := &resourceRecord{
			registeredName: name,
			group:          group,
			descriptor: mcp.Resource{
				URI:         cfg.URI,
				Name:        leaf,
				Description: cfg.Description,
				MimeType:    cfg.MimeType,
			},
			handler: handler,
		}
		c.mu.Lock()
		if _, exists := c.byURI[cfg.URI]; !exists {
			c.uriOrder = append(c.uriOrder, cfg.URI)
		}
		c.byURI[cfg.URI] = rec
		c.mu.Unlock()
	} else {
		tmpl, err := ParseURITemplate(cfg.Template)
		if err != nil {
			return fmt.Errorf("resource %s: %w", name, err)
		}
		rec := &templateRecord{
			registeredName: name,
			group:          group,
			descriptor: mcp.ResourceTemplate{
				URITemplate: cfg.Template,
				Name:        leaf,
				Description: cfg.Description,
				MimeType:    cfg.MimeType,
			},
			template: tmpl,
			handler:  handler,
		}
		c.mu.Lock()
		if _, exists := c.byTmpl[cfg.Template]; !exists {
			c.tmplOrder = append(c.tmplOrder, cfg.Template)
		}
		c.byTmpl[cfg.Template] = rec
		c.mu.Unlock()
	}

	go func() { _ = c.notifier.Notify(context.Background()) }()
	return nil
}

// Unregister removes a concrete resource by URI. It reports whether a record
// was removed.
func (c *ResourcesContainer) Unregister(uri string) bool {
	c.mu.Lock()
	_, ok := c.byURI[uri]
	if ok {
		delete(c.byURI, uri)
		for i, u := range c.uriOrder {
			if u == uri {
				c.uriOrder = append(c.uriOrder[:i], c.uriOrder[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()
	if ok {
		go func() { _ = c.notifier.Notify(context.Background()) }()
	}
	return ok
}

// ListFor returns the concrete resource descriptors visible to the given
// scope, in registration order.
func (c *ResourcesContainer) ListFor(scope permission.Path, enforce bool) []mcp.Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.Resource, 0, len(c.uriOrder))
	for _, uri := range c.uriOrder {
		rec := c.byURI[uri]
		if permission.Allowed(rec.group, scope, enforce) {
			out = append(out, rec.descriptor)
		}
	}
	return out
}

// ListTemplatesFor returns the template descriptors visible to the given
// scope, in registration order.
func (c *ResourcesContainer) ListTemplatesFor(scope permission.Path, enforce bool) []mcp.ResourceTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.ResourceTemplate, 0, len(c.tmplOrder))
	for _, key := range c.tmplOrder {
		rec := c.byTmpl[key]
		if permission.Allowed(rec.group, scope, enforce) {
			out = append(out, rec.descriptor)
		}
	}
	return out
}

// Resolve maps a read URI to its registration. Concrete resources win over
// templates; templates are tried in registration order.
func (c *ResourcesContainer) Resolve(uri string) (ResolvedResource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rec, ok := c.byURI[uri]; ok {
		return ResolvedResource{Group: rec.group, Handler: rec.handler}, true
	}
	for _, key := range c.tmplOrder {
		rec := c.byTmpl[key]
		if params, ok := rec.template.Match(uri); ok {
			return ResolvedResource{Group: rec.group, Handler: rec.handler, Params: params}, true
		}
	}
	return ResolvedResource{}, false
}

// Len returns the number of registered concrete resources and templates.
func (c *ResourcesContainer) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byURI) + len(c.byTmpl)
}

// Subscribe registers interest in resource set changes. Callers must Close
// the subscription when done.
func (c *ResourcesContainer) Subscribe() *Subscription {
	return c.notifier.Subscribe()
}

// SubscriberCount returns the number of live change subscriptions.
func (c *ResourcesContainer) SubscriberCount() int {
	return c.notifier.SubscriberCount()
}

// TextContents is a small helper to build single-item text contents.
func TextContents(uri, mimeType, text string) []mcp.ResourceContents {
	return []mcp.ResourceContents{{URI: uri, MimeType: mimeType, Text: text}}
}
