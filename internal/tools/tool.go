package tools

import (
	"context"
	"errors"
	"fmt"
)

// Tool is a named capability the dispatcher can invoke.
type Tool interface {
	// Name returns the unique registry key.
	Name() string
	// Description is shown to the decision model verbatim.
	Description() string
	// InputSchema describes the accepted parameters.
	InputSchema() InputSchema
	// Execute runs the tool. Domain-level failures should be returned as an
	// ErrorResult value; a non-nil error means the tool itself broke.
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// Property describes a single parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// InputSchema is the JSON-Schema-like parameter contract of a tool.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ObjectSchema builds an object schema.
func ObjectSchema(props map[string]Property, required ...string) InputSchema {
	return InputSchema{Type: "object", Properties: props, Required: required}
}

// ErrorResult is a soft failure: the tool ran but could not produce data.
// It is a successful execution as far as the registry is concerned.
type ErrorResult struct {
	Error string `json:"error"`
}

// SoftError builds an ErrorResult.
func SoftError(msg string) ErrorResult {
	return ErrorResult{Error: msg}
}

// IsSoftError reports whether v is an ErrorResult.
func IsSoftError(v any) bool {
	switch v.(type) {
	case ErrorResult, *ErrorResult:
		return true
	}
	return false
}

// ErrToolNotFound is returned when no tool has the requested name.
var ErrToolNotFound = errors.New("tool not found")

// ExecutionError is a tool that returned an error or panicked.
type ExecutionError struct {
	Tool  string
	Err   error
	Panic bool
}

func (e *ExecutionError) Error() string {
	if e.Panic {
		return fmt.Sprintf("tool %s panicked: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// stringParam reads a non-empty string parameter.
func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
