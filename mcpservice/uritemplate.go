package mcpservice

import (
	"fmt"
	"regexp"
	"strings"
)

var templateVarPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// URITemplate matches concrete URIs against a template containing {name}
// placeholders. Each placeholder captures one path segment: any run of
// characters except `/`. The whole URI must match; there is no partial or
// prefix matching.
type URITemplate struct {
	raw   string
	names []string
	re    *regexp.Regexp
}

// ParseURITemplate compiles a template such as "greeting://{name}" into a
// matcher. Literal portions match byte-for-byte; regex metacharacters in the
// template carry no special meaning.
func ParseURITemplate(template string) (*URITemplate, error) {
	if template == "" {
		return nil, fmt.Errorf("empty uri template")
	}

	var (
		pattern strings.Builder
		names   []string
	)
	pattern.WriteString("^")
	rest := template
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			pattern.WriteString(regexp.QuoteMeta(rest))
			break
		}
		closing := strings.Index(rest[open:], "}")
		if closing < 0 {
			return nil, fmt.Errorf("uri template %q: unterminated placeholder", template)
		}
		name := rest[open+1 : open+closing]
		if !templateVarPattern.MatchString(name) {
			return nil, fmt.Errorf("uri template %q: invalid placeholder name %q", template, name)
		}
		pattern.WriteString(regexp.QuoteMeta(rest[:open]))
		pattern.WriteString("([^/]+)")
		names = append(names, name)
		rest = rest[open+closing+1:]
	}
	pattern.WriteString("$")

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, fmt.Errorf("uri template %q: %w", template, err)
	}
	return &URITemplate{raw: template, names: names, re: re}, nil
}

// String returns the original template text.
func (t *URITemplate) String() string { return t.raw }

// Names returns the placeholder names in order of appearance.
func (t *URITemplate) Names() []string {
	return append([]string(nil), t.names...)
}

// Match extracts placeholder values from a concrete URI. A repeated
// placeholder name keeps the last captured value.
func (t *URITemplate) Match(uri string) (map[string]string, bool) {
	m := t.re.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}
	params := make(map[string]string, len(t.names))
	for i, name := range t.names {
		params[name] = m[i+1]
	}
	return params, true
}
