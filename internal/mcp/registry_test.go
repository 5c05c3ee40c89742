package mcp

import (
	"context"
	"errors"
	"testing"
)

func sampleTool() Tool {
	return Tool{
		Name:        "sample_tool",
		Description: "A tool for registry tests",
		InputSchema: ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name":     map[string]interface{}{"type": "string"},
				"count":    map[string]interface{}{"type": "number"},
				"enabled":  map[string]interface{}{"type": "boolean"},
				"metadata": map[string]interface{}{"type": "object"},
				"tags":     map[string]interface{}{"type": "array"},
			},
			Required: []string{"name"},
		},
	}
}

func noopHandler(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return nil, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(sampleTool(), noopHandler)

	tool, handler, ok := r.Get("sample_tool")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if tool.Name != "sample_tool" {
		t.Errorf("tool.Name = %q, want sample_tool", tool.Name)
	}
	if handler == nil {
		t.Error("Get() handler is nil")
	}

	if _, _, ok := r.Get("unknown_tool"); ok {
		t.Error("Get(unknown_tool) ok = true, want false")
	}
}

func TestRegistry_ListPreservesDeclarationOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"first", "second", "third"}
	for _, name := range names {
		r.Register(Tool{Name: name}, noopHandler)
	}

	list := r.List()
	if len(list) != len(names) {
		t.Fatalf("List() returned %d tools, want %d", len(list), len(names))
	}
	for i, name := range names {
		if list[i].Name != name {
			t.Errorf("List()[%d].Name = %q, want %q", i, list[i].Name, name)
		}
	}
}

func TestValidateArguments_MissingRequired(t *testing.T) {
	err := ValidateArguments(sampleTool(), map[string]interface{}{})
	if !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("error = %v, want ErrInvalidArguments", err)
	}
}

func TestValidateArguments_NullRequired(t *testing.T) {
	err := ValidateArguments(sampleTool(), map[string]interface{}{"name": nil})
	if !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("error = %v, want ErrInvalidArguments for null required value", err)
	}
}

func TestValidateArguments_WrongKind(t *testing.T) {
	cases := map[string]interface{}{
		"count":    "not-a-number",
		"enabled":  "yes",
		"metadata": "not-an-object",
		"tags":     "not-an-array",
	}
	for arg, value := range cases {
		args := map[string]interface{}{"name": "ok", arg: value}
		if err := ValidateArguments(sampleTool(), args); !errors.Is(err, ErrInvalidArguments) {
			t.Errorf("arg %q: error = %v, want ErrInvalidArguments", arg, err)
		}
	}
}

func TestValidateArguments_Valid(t *testing.T) {
	args := map[string]interface{}{
		"name":     "forecast",
		"count":    float64(3),
		"enabled":  true,
		"metadata": map[string]interface{}{"company_code": "1000"},
		"tags":     []interface{}{"a", "b"},
	}
	if err := ValidateArguments(sampleTool(), args); err != nil {
		t.Fatalf("error = %v, want nil", err)
	}
}

func TestValidateArguments_UndeclaredArgumentAllowed(t *testing.T) {
	args := map[string]interface{}{"name": "forecast", "extra": 42}
	if err := ValidateArguments(sampleTool(), args); err != nil {
		t.Fatalf("error = %v, want nil for undeclared argument", err)
	}
}
