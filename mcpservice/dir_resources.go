package mcpservice

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	"github.com/arrenxxxxx/MultiServerMCP/mcp"
	"github.com/arrenxxxxx/MultiServerMCP/sessions"
)

// DirResources mirrors the regular files under an OS directory into a
// ResourcesContainer as concrete resources. Each file is registered under
// "<prefix>/<relative path>", so directory structure becomes group structure
// and a connection scoped to a subdirectory's group sees only that subtree.
//
// Watch keeps the container in sync with the directory using fsnotify:
// created files are registered, removed files unregistered, and every change
// ticks the container's change notifier so clients receive list_changed.
type DirResources struct {
	container *ResourcesContainer
	root      string // absolute, symlink-resolved
	baseURI   string
	prefix    string
	log       *slog.Logger

	mu    sync.Mutex
	known map[string]struct{} // registered relative paths
}

// DirOption configures DirResources.
type DirOption func(*DirResources)

// WithDirBaseURI sets the URI prefix used for registered resources.
// Defaults to "file://".
func WithDirBaseURI(base string) DirOption {
	return func(d *DirResources) { d.baseURI = base }
}

// WithDirGroupPrefix sets the registration-name prefix, and with it the
// permission group the mirrored files live under.
func WithDirGroupPrefix(prefix string) DirOption {
	return func(d *DirResources) { d.prefix = strings.Trim(prefix, "/") }
}

// WithDirLogger sets the logger used for watch diagnostics.
func WithDirLogger(log *slog.Logger) DirOption {
	return func(d *DirResources) { d.log = log }
}

// NewDirResources builds a mirror for root and performs the initial sync into
// the container. Symlinks in root are resolved once; reads are constrained to
// the resolved root.
func NewDirResources(container *ResourcesContainer, root string, opts ...DirOption) (*DirResources, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}

	d := &DirResources{
		container: container,
		root:      real,
		baseURI:   "file://",
		log:       slog.Default(),
		known:     make(map[string]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if err := d.Sync(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

// Sync walks the directory and reconciles the container with its current
// contents.
func (d *DirResources) Sync(ctx context.Context) error {
	current := make(map[string]struct{})
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable nodes
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return nil
		}
		current[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for rel := range d.known {
		if _, ok := current[rel]; !ok {
			d.container.Unregister(d.uriFor(rel))
			delete(d.known, rel)
		}
	}
	for rel := range current {
		if _, ok := d.known[rel]; ok {
			continue
		}
		if err := d.register(rel); err != nil {
			d.log.Warn("dir resource registration failed",
				slog.String("path", rel), slog.String("err", err.Error()))
			continue
		}
		d.known[rel] = struct{}{}
	}
	return nil
}

func (d *DirResources) register(rel string) error {
	uri := d.uriFor(rel)
	name := rel
	if d.prefix != "" {
		name = d.prefix + "/" + rel
	}
	mimeType := mime.TypeByExtension(strings.ToLower(path.Ext(rel)))
	handler := func(ctx context.Context, _ *sessions.Session, uri string, _ map[string]string) ([]mcp.ResourceContents, error) {
		return d.read(uri, rel)
	}
	return d.container.Register(name, ResourceConfig{URI: uri, MimeType: mimeType}, handler)
}

func (d *DirResources) read(uri, rel string) ([]mcp.ResourceContents, error) {
	abs := filepath.Join(d.root, filepath.FromSlash(rel))
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	if !within(real, d.root) {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	data, err := os.ReadFile(real)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(real)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if utf8.Valid(data) {
		return []mcp.ResourceContents{{URI: uri, MimeType: mimeType, Text: string(data)}}, nil
	}
	return []mcp.ResourceContents{{URI: uri, MimeType: mimeType, Blob: base64.StdEncoding.EncodeToString(data)}}, nil
}

func (d *DirResources) uriFor(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	base := d.baseURI
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + strings.Join(segs, "/")
}

// Watch blocks, re-syncing the container as the directory changes, until ctx
// is canceled or the watcher fails.
func (d *DirResources) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	addDirs := func() {
		_ = filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
			if err != nil || !entry.IsDir() {
				return nil
			}
			return w.Add(p)
		})
	}
	addDirs()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := d.Sync(ctx); err != nil {
					d.log.Warn("dir resource sync failed", slog.String("err", err.Error()))
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.log.Debug("watcher error", slog.String("err", err.Error()))
		}
	}
}

// within reports whether target is root itself or a descendant of root.
func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && !strings.HasPrefix(rel, "../")
}
