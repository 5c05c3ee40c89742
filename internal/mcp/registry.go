package mcp

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is returned when a tools/call names an unknown tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArguments is returned when arguments fail schema validation.
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrNotConfigured is returned when no LangSmith credentials are set.
	ErrNotConfigured = errors.New("langsmith client not configured; set LANGSMITH_API_KEY")
)

// HandlerFunc executes one tool call with already-validated arguments.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Registry is the static tool catalog plus the handler bound to each name.
// It is populated once at startup and read-only afterwards, so validation
// rules stay consistent for the lifetime of the process.
type Registry struct {
	tools    []Tool
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a tool descriptor and its handler. Registering the same
// name twice replaces the handler but keeps the original catalog position.
func (r *Registry) Register(tool Tool, handler HandlerFunc) {
	if _, exists := r.handlers[tool.Name]; !exists {
		r.tools = append(r.tools, tool)
	}
	r.handlers[tool.Name] = handler
}

// List returns the catalog in declaration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Get looks up a tool and its handler by exact name.
func (r *Registry) Get(name string) (Tool, HandlerFunc, bool) {
	handler, ok := r.handlers[name]
	if !ok {
		return Tool{}, nil, false
	}
	for _, tool := range r.tools {
		if tool.Name == name {
			return tool, handler, true
		}
	}
	return Tool{}, nil, false
}

// ValidateArguments checks the arguments against the tool's input schema:
// every required field must be present, and supplied values must match the
// declared JSON type. Runs before the handler is invoked.
func ValidateArguments(tool Tool, args map[string]interface{}) error {
	for _, required := range tool.InputSchema.Required {
		if value, ok := args[required]; !ok || value == nil {
			return fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, required)
		}
	}

	for name, value := range args {
		prop, ok := tool.InputSchema.Properties[name].(map[string]interface{})
		if !ok {
			continue
		}
		declared, ok := prop["type"].(string)
		if !ok {
			continue
		}
		if !kindMatches(value, declared) {
			return fmt.Errorf("%w: argument %q must be of type %s", ErrInvalidArguments, name, declared)
		}
	}

	return nil
}

// kindMatches reports whether a decoded JSON value matches a schema type.
// JSON null passes through to the handler.
func kindMatches(value interface{}, declared string) bool {
	if value == nil {
		return true
	}
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		_, ok := value.(float64)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	default:
		return true
	}
}
