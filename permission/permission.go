// Package permission implements the hierarchical, prefix-based access model
// used to scope capability visibility to individual connections.
//
// A Path is an ordered list of group segments derived from a `/`-separated
// address. Connections carry the path derived from their connection URL;
// registered capabilities carry the path derived from the group portion of
// their registration name. A connection may see a capability when the
// connection's path is a literal prefix of the capability's group.
package permission

import "strings"

// Separator splits hierarchical addresses and registration names into
// group segments.
const Separator = "/"

// flattenedSeparator replaces Separator in protocol-visible identifiers so
// that published tool and prompt names carry no hierarchy.
const flattenedSeparator = "_"

// Path is an ordered sequence of group segments. The zero value (nil) is the
// empty path, which matches everything. Paths are treated as immutable once
// derived; callers must not mutate the backing slice.
type Path []string

// Derive splits a raw address into a Path. The empty address yields the empty
// path. Segment order and duplicates are preserved as-is; no normalization is
// applied.
func Derive(address string) Path {
	if address == "" {
		return nil
	}
	return Path(strings.Split(address, Separator))
}

// String renders the path in its address form.
func (p Path) String() string {
	return strings.Join(p, Separator)
}

// IsEmpty reports whether the path has no segments.
func (p Path) IsEmpty() bool { return len(p) == 0 }

// Equal reports segment-wise equality.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// isPrefixOf reports whether every segment of p matches the segment at the
// same index in other. The empty path is a prefix of everything.
func (p Path) isPrefixOf(other Path) bool {
	if len(p) > len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Allowed decides whether a capability grouped under group is visible to a
// connection scoped to scope.
//
// The decision is total and side-effect free:
//   - enforcement disabled: always allow
//   - empty scope: allow (an unscoped connection sees everything)
//   - empty group: allow (an ungrouped capability is visible to everyone)
//   - scope longer than group: deny (a connection cannot be scoped more
//     specifically than the capability it addresses)
//   - otherwise: allow iff scope is a literal prefix of group
func Allowed(group, scope Path, enforce bool) bool {
	if !enforce {
		return true
	}
	if scope.IsEmpty() || group.IsEmpty() {
		return true
	}
	if len(group) < len(scope) {
		return false
	}
	return scope.isPrefixOf(group)
}

// GroupOf returns the permission path embedded in a hierarchical registration
// name: every segment but the last. A name without a separator carries the
// empty group.
func GroupOf(name string) Path {
	idx := strings.LastIndex(name, Separator)
	if idx < 0 {
		return nil
	}
	return Derive(name[:idx])
}

// Leaf returns the final segment of a hierarchical registration name.
func Leaf(name string) string {
	idx := strings.LastIndex(name, Separator)
	if idx < 0 {
		return name
	}
	return name[idx+len(Separator):]
}

// FlattenName returns the protocol-visible identifier for a hierarchical
// registration name. The group hierarchy is retained separately (see GroupOf);
// the visible name is a single opaque identifier.
func FlattenName(name string) string {
	return strings.ReplaceAll(name, Separator, flattenedSeparator)
}
