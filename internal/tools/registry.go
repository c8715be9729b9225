package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/hession/toolgate/internal/tracer"
)

// ErrRegistrySealed is returned by Register after Seal.
var ErrRegistrySealed = errors.New("registry is sealed")

// Registry holds tools in registration order. It is filled at startup,
// sealed, and only read afterwards.
type Registry struct {
	mu       sync.RWMutex
	tools    []Tool
	index    map[string]int
	schemas  map[string]*jsonschema.Schema
	sealed   bool
	validate bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithParameterValidation makes Execute check params against the tool's schema.
// Failures come back as an ErrorResult.
func WithParameterValidation(on bool) RegistryOption {
	return func(r *Registry) { r.validate = on }
}

// NewRegistry creates a new tool registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		index:   make(map[string]int),
		schemas: make(map[string]*jsonschema.Schema),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Duplicate names and uncompilable schemas are rejected.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}

	schema, err := compileSchema(name, tool.InputSchema())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %s: %w", name, ErrRegistrySealed)
	}
	if _, exists := r.index[name]; exists {
		return fmt.Errorf("tool %s already exists", name)
	}

	r.index[name] = len(r.tools)
	r.tools = append(r.tools, tool)
	r.schemas[name] = schema
	return nil
}

// Seal stops further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func compileSchema(name string, s InputSchema) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", name, err)
	}

	url := "mem://tools/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	return compiled, nil
}

// Find returns the tool registered under name.
func (r *Registry) Find(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.tools[i], true
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs the named tool. Unknown names return ErrToolNotFound; tool
// errors and panics come back as *ExecutionError. A nil params map is
// passed to the tool as an empty map.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (result any, err error) {
	tool, ok := r.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if params == nil {
		params = map[string]any{}
	}

	ctx, span := tracer.StartSpan(ctx, "tools.execute")
	span.SetAttributes(tracer.StringAttr("tool.name", name))
	defer func() {
		if err != nil {
			tracer.RecordError(span, err)
		} else {
			span.SetAttributes(tracer.BoolAttr("tool.soft_error", IsSoftError(result)))
			tracer.SetOK(span)
		}
		span.End()
	}()

	if r.validate {
		if verr := r.validateParams(name, params); verr != nil {
			return SoftError(fmt.Sprintf("invalid parameters: %v", verr)), nil
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &ExecutionError{Tool: name, Err: fmt.Errorf("%v", rec), Panic: true}
		}
	}()

	result, err = tool.Execute(ctx, params)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Err: err}
	}
	return result, nil
}

func (r *Registry) validateParams(name string, params map[string]any) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	// Normalize to the generic JSON shapes the validator expects
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}
