package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// stubTool is a configurable Tool for registry tests.
type stubTool struct {
	name   string
	schema InputSchema
	fn     func(ctx context.Context, params map[string]any) (any, error)
}

func (s *stubTool) Name() string             { return s.name }
func (s *stubTool) Description() string      { return "stub " + s.name }
func (s *stubTool) InputSchema() InputSchema { return s.schema }
func (s *stubTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	if s.fn == nil {
		return map[string]any{"ok": true}, nil
	}
	return s.fn(ctx, params)
}

func newStub(name string) *stubTool {
	return &stubTool{
		name: name,
		schema: ObjectSchema(map[string]Property{
			"q": {Type: "string", Description: "query"},
		}, "q"),
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	tool := newStub("alpha")
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Failed to register tool: %v", err)
	}

	if err := registry.Register(newStub("alpha")); err == nil {
		t.Error("Duplicate registration should return error")
	}

	got, exists := registry.Find("alpha")
	if !exists {
		t.Fatal("Should be able to find registered tool")
	}
	if got != Tool(tool) {
		t.Error("Find should return the registered instance")
	}

	if _, exists := registry.Find("not_exist"); exists {
		t.Error("Should not find unregistered tool")
	}
	if _, exists := registry.Find("Alpha"); exists {
		t.Error("Lookup should be exact")
	}
}

func TestRegistry_ListOrder(t *testing.T) {
	registry := NewRegistry()
	names := []string{"zeta", "alpha", "mid"}
	for _, n := range names {
		if err := registry.Register(newStub(n)); err != nil {
			t.Fatalf("Register(%s): %v", n, err)
		}
	}

	for round := 0; round < 3; round++ {
		list := registry.List()
		if len(list) != len(names) {
			t.Fatalf("List() returned %d tools", len(list))
		}
		for i, tool := range list {
			if tool.Name() != names[i] {
				t.Errorf("List()[%d] = %s, want %s", i, tool.Name(), names[i])
			}
		}
	}
	if registry.Len() != 3 {
		t.Errorf("Len() = %d", registry.Len())
	}
}

func TestRegistry_RegisterRejects(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(newStub("")); err == nil {
		t.Error("empty name should be rejected")
	}

	bad := newStub("bad")
	bad.schema = InputSchema{Type: "object", Properties: map[string]Property{"x": {Type: "strng"}}}
	if err := registry.Register(bad); err == nil {
		t.Error("uncompilable schema should be rejected")
	}

	registry.Seal()
	err := registry.Register(newStub("late"))
	if !errors.Is(err, ErrRegistrySealed) {
		t.Errorf("expected ErrRegistrySealed, got %v", err)
	}
}

func TestRegistry_Execute(t *testing.T) {
	registry := NewRegistry()

	var seen map[string]any
	echo := newStub("echo")
	echo.fn = func(ctx context.Context, params map[string]any) (any, error) {
		seen = params
		return map[string]any{"echo": params["q"]}, nil
	}
	failing := newStub("failing")
	failing.fn = func(ctx context.Context, params map[string]any) (any, error) {
		return nil, errors.New("disk on fire")
	}
	panicking := newStub("panicking")
	panicking.fn = func(ctx context.Context, params map[string]any) (any, error) {
		panic("unexpected nil")
	}
	soft := newStub("soft")
	soft.fn = func(ctx context.Context, params map[string]any) (any, error) {
		return SoftError("no data"), nil
	}
	for _, tool := range []Tool{echo, failing, panicking, soft} {
		if err := registry.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	ctx := context.Background()

	result, err := registry.Execute(ctx, "echo", map[string]any{"q": "hi"})
	if err != nil {
		t.Fatalf("Execute(echo): %v", err)
	}
	if result.(map[string]any)["echo"] != "hi" {
		t.Errorf("unexpected result %v", result)
	}

	if _, err := registry.Execute(ctx, "echo", nil); err != nil || seen == nil {
		t.Errorf("nil params should reach the tool as an empty map, got %v (err %v)", seen, err)
	}

	_, err = registry.Execute(ctx, "missing", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}

	_, err = registry.Execute(ctx, "failing", nil)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Panic || execErr.Tool != "failing" {
		t.Errorf("expected ExecutionError, got %v", err)
	}

	_, err = registry.Execute(ctx, "panicking", nil)
	if !errors.As(err, &execErr) || !execErr.Panic {
		t.Errorf("expected panic ExecutionError, got %v", err)
	}

	result, err = registry.Execute(ctx, "soft", nil)
	if err != nil {
		t.Errorf("soft error should not be a Go error: %v", err)
	}
	if !IsSoftError(result) {
		t.Errorf("expected ErrorResult, got %T", result)
	}
}

func TestRegistry_ParameterValidation(t *testing.T) {
	called := 0
	tool := newStub("strict")
	tool.fn = func(ctx context.Context, params map[string]any) (any, error) {
		called++
		return "ok", nil
	}

	off := NewRegistry()
	off.Register(tool)
	if _, err := off.Execute(context.Background(), "strict", map[string]any{}); err != nil || called != 1 {
		t.Errorf("without validation the tool should run, called=%d err=%v", called, err)
	}

	on := NewRegistry(WithParameterValidation(true))
	on.Register(tool)
	result, err := on.Execute(context.Background(), "strict", map[string]any{"q": 42})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !IsSoftError(result) {
		t.Errorf("invalid params should produce a soft error, got %v", result)
	}
	if called != 1 {
		t.Error("tool must not run when validation fails")
	}

	if _, err := on.Execute(context.Background(), "strict", map[string]any{"q": "x"}); err != nil || called != 2 {
		t.Errorf("valid params should run the tool, called=%d err=%v", called, err)
	}
}

func TestDescribe(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewMathTool())
	registry.Register(newStub("other"))

	caps := registry.Describe()
	if len(caps) != 2 {
		t.Fatalf("Describe() returned %d entries", len(caps))
	}
	if caps[0].Name != "calculate_math" || caps[1].Name != "other" {
		t.Errorf("unexpected order: %s, %s", caps[0].Name, caps[1].Name)
	}
	if caps[0].Description != NewMathTool().Description() {
		t.Error("description should be copied verbatim")
	}
	if caps[0].Parameters["expression"].Type != "string" {
		t.Errorf("parameters = %+v", caps[0].Parameters)
	}
	if len(caps[0].Required) != 1 || caps[0].Required[0] != "expression" {
		t.Errorf("required = %v", caps[0].Required)
	}

	raw, err := json.Marshal(caps[0])
	if err != nil {
		t.Fatal(err)
	}
	var generic map[string]any
	json.Unmarshal(raw, &generic)
	for _, key := range []string{"name", "description", "parameters", "required"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("capability JSON missing %q", key)
		}
	}
}

func TestDescribe_Empty(t *testing.T) {
	caps := NewRegistry().Describe()
	if caps == nil || len(caps) != 0 {
		t.Errorf("empty registry should describe as an empty list, got %v", caps)
	}
}

func TestListings(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewMathTool())

	listings := registry.Listings()
	if len(listings) != 1 {
		t.Fatalf("Listings() returned %d", len(listings))
	}
	raw, _ := json.Marshal(listings[0])
	var generic map[string]any
	json.Unmarshal(raw, &generic)
	schema, ok := generic["inputSchema"].(map[string]any)
	if !ok || schema["type"] != "object" {
		t.Errorf("inputSchema = %v", generic["inputSchema"])
	}
}
