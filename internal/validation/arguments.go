// Package validation checks incoming arguments against the simplified
// schemas capabilities declare at registration time. Validation happens
// before augmentation and before any callback runs, so handlers see only
// structurally valid input.
package validation

import (
	"fmt"

	"github.com/arrenxxxxx/MultiServerMCP/mcp"
)

// Arguments validates a decoded argument map against a tool input schema.
// A nil schema or a schema without properties accepts anything.
func Arguments(schema *mcp.ToolInputSchema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument: %s", name)
		}
	}
	if len(schema.Properties) == 0 {
		return nil
	}
	for name, value := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			if !schema.AdditionalProperties {
				return fmt.Errorf("unexpected argument: %s", name)
			}
			continue
		}
		if err := checkProperty(name, prop, value); err != nil {
			return err
		}
	}
	return nil
}

// PromptArguments validates prompt arguments, which are string-valued, against
// the declared argument list.
func PromptArguments(declared []mcp.PromptArgument, args map[string]string) error {
	for _, arg := range declared {
		if !arg.Required {
			continue
		}
		if _, ok := args[arg.Name]; !ok {
			return fmt.Errorf("missing required argument: %s", arg.Name)
		}
	}
	return nil
}

func checkProperty(name string, prop mcp.SchemaProperty, value any) error {
	if value == nil {
		return nil
	}
	switch prop.Type {
	case "", "object":
		// Nested objects are passed through; leaf types are enforced.
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("argument %s: expected string, got %T", name, value)
		}
	case "number", "integer":
		// encoding/json decodes every JSON number to float64.
		f, ok := value.(float64)
		if !ok {
			return fmt.Errorf("argument %s: expected %s, got %T", name, prop.Type, value)
		}
		if prop.Type == "integer" && f != float64(int64(f)) {
			return fmt.Errorf("argument %s: expected integer, got %v", name, f)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %s: expected boolean, got %T", name, value)
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("argument %s: expected array, got %T", name, value)
		}
		if prop.Items != nil {
			for i, item := range items {
				if err := checkProperty(fmt.Sprintf("%s[%d]", name, i), *prop.Items, item); err != nil {
					return err
				}
			}
		}
	default:
		return fmt.Errorf("argument %s: unsupported schema type %q", name, prop.Type)
	}
	if len(prop.Enum) > 0 {
		for _, allowed := range prop.Enum {
			if value == allowed {
				return nil
			}
		}
		return fmt.Errorf("argument %s: value %v not in enum", name, value)
	}
	return nil
}
