package dispatch

import (
	"context"
	"sync"

	"github.com/hession/toolgate/internal/llm"
	"github.com/hession/toolgate/internal/tools"
)

// scriptedModel replays canned replies and records every call.
type scriptedModel struct {
	mu      sync.Mutex
	replies []reply
	calls   [][]llm.Message
}

type reply struct {
	text string
	err  error
}

func newScriptedModel(replies ...reply) *scriptedModel {
	return &scriptedModel{replies: replies}
}

func (m *scriptedModel) Complete(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	if len(m.replies) == 0 {
		return "", &llm.APIError{Message: "no scripted reply"}
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r.text, r.err
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// countingTool records executions.
type countingTool struct {
	name   string
	result any
	err    error
	panics bool
	mu     sync.Mutex
	seen   []map[string]any
}

func (c *countingTool) Name() string        { return c.name }
func (c *countingTool) Description() string { return "test tool " + c.name }
func (c *countingTool) InputSchema() tools.InputSchema {
	return tools.ObjectSchema(map[string]tools.Property{
		"city": {Type: "string", Description: "city name"},
	}, "city")
}

func (c *countingTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	c.mu.Lock()
	c.seen = append(c.seen, params)
	c.mu.Unlock()
	if c.panics {
		panic("tool exploded")
	}
	return c.result, c.err
}

func (c *countingTool) executions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func newRegistry(ts ...tools.Tool) *tools.Registry {
	r := tools.NewRegistry()
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	r.Seal()
	return r
}
