package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hession/toolgate/internal/config"
	"github.com/hession/toolgate/internal/llm"
	"github.com/hession/toolgate/internal/logger"
	"github.com/hession/toolgate/internal/tools"
	"github.com/hession/toolgate/internal/tracer"
)

// Toolbox is the read side of the tool registry.
type Toolbox interface {
	Describer
	Find(name string) (tools.Tool, bool)
	Execute(ctx context.Context, name string, params map[string]any) (any, error)
	Listings() []tools.Listing
}

type requestIDKey struct{}

// WithRequestID attaches a request ID to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Dispatcher routes a user message to a direct answer or a tool call plus synthesis.
// It holds no per-request state and is safe for concurrent use.
type Dispatcher struct {
	decider   *Decider
	model     llm.Completer
	tools     Toolbox
	prompts   config.LanguagePrompts
	modelName string
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithModelName sets the model name reported by Model.
func WithModelName(name string) Option {
	return func(d *Dispatcher) { d.modelName = name }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a Dispatcher.
func New(model llm.Completer, toolbox Toolbox, prompts config.LanguagePrompts, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		model:   model,
		tools:   toolbox,
		prompts: prompts,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logger.OrDefault(d.log)
	d.decider = NewDecider(model, toolbox, prompts, d.log)
	return d
}

// Model returns the configured model name.
func (d *Dispatcher) Model() string { return d.modelName }

// Tools returns the public tool listings.
func (d *Dispatcher) Tools() []tools.Listing { return d.tools.Listings() }

// Now returns the dispatcher clock's current time.
func (d *Dispatcher) Now() time.Time { return d.now() }

// Handle answers a user message. It never panics and never returns an error:
// failures come back as a TypeError envelope.
func (d *Dispatcher) Handle(ctx context.Context, message string) (env Envelope) {
	if RequestIDFromContext(ctx) == "" {
		ctx = WithRequestID(ctx, uuid.NewString())
	}
	log := d.log.With("request_id", RequestIDFromContext(ctx))

	ctx, span := tracer.StartSpan(ctx, "dispatch.handle")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("request_id", RequestIDFromContext(ctx)))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("internal error: %v", r)
			log.Error("dispatch panicked", "panic", r)
			tracer.RecordError(span, err)
			env = d.failure(err)
		}
	}()

	decision := d.decider.Decide(ctx, message)

	var err error
	if decision.WantsTool() {
		env, err = d.toolPath(ctx, message, decision)
	} else {
		env, err = d.directPath(ctx, message, decision)
	}
	if err != nil {
		log.Error("dispatch failed", "error", err, "tool", decision.Tool())
		tracer.RecordError(span, err)
		return d.failure(err)
	}

	span.SetAttributes(tracer.StringAttr("dispatch.type", string(env.Type)))
	tracer.SetOK(span)
	log.Info("dispatch complete", "type", env.Type, "tool", decision.Tool())
	return env
}

func (d *Dispatcher) toolPath(ctx context.Context, message string, decision Decision) (Envelope, error) {
	name := decision.Tool()
	if _, ok := d.tools.Find(name); !ok {
		return Envelope{}, fmt.Errorf("%w: %s", tools.ErrToolNotFound, name)
	}

	params := decision.Parameters
	if params == nil {
		params = map[string]any{}
	}

	result, err := d.tools.Execute(ctx, name, params)
	if err != nil {
		return Envelope{}, err
	}

	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return Envelope{}, fmt.Errorf("serialize result of %s: %w", name, err)
	}
	prompt, err := d.prompts.RenderSynthesis(config.SynthesisData{Message: message, Result: string(raw)})
	if err != nil {
		return Envelope{}, err
	}

	content, err := d.model.Complete(ctx, []llm.Message{
		llm.System(d.prompts.SynthesisSystem),
		llm.User(prompt),
	})
	if err != nil {
		return Envelope{}, err
	}

	return ToolResponse(content, ToolUsage{Name: name, Parameters: params, Result: result}, decision.Reason), nil
}

func (d *Dispatcher) directPath(ctx context.Context, message string, decision Decision) (Envelope, error) {
	content, err := d.model.Complete(ctx, []llm.Message{
		llm.System(d.prompts.DirectSystem),
		llm.User(message),
	})
	if err != nil {
		return Envelope{}, err
	}
	return DirectResponse(content, decision.Reason), nil
}

func (d *Dispatcher) failure(err error) Envelope {
	return ErrorResponse(d.prompts.ErrorPrefix+err.Error(), d.prompts.ProcessingFailure)
}

// Invoke runs a tool directly without any model call.
// Unknown names return tools.ErrToolNotFound.
func (d *Dispatcher) Invoke(ctx context.Context, name string, params map[string]any) (any, error) {
	ctx, span := tracer.StartSpan(ctx, "dispatch.invoke")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("tool.name", name))

	result, err := d.tools.Execute(ctx, name, params)
	if err != nil {
		tracer.RecordError(span, err)
		if !errors.Is(err, tools.ErrToolNotFound) {
			d.log.Warn("tool invocation failed", "tool", name, "error", err, "request_id", RequestIDFromContext(ctx))
		}
		return nil, err
	}
	tracer.SetOK(span)
	return result, nil
}

// Operation is one item of a batch.
type Operation struct {
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`
}

// BatchResult is the outcome of one batch item.
type BatchResult struct {
	ToolName string `json:"toolName"`
	Success  bool   `json:"success"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Batch runs operations one after another. Each item succeeds or fails on
// its own; the output has the same length and order as ops.
func (d *Dispatcher) Batch(ctx context.Context, ops []Operation) []BatchResult {
	results := make([]BatchResult, 0, len(ops))
	for _, op := range ops {
		results = append(results, d.runOne(ctx, op))
	}
	return results
}

func (d *Dispatcher) runOne(ctx context.Context, op Operation) (res BatchResult) {
	res.ToolName = op.ToolName
	defer func() {
		if r := recover(); r != nil {
			res = BatchResult{ToolName: op.ToolName, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	result, err := d.Invoke(ctx, op.ToolName, op.Parameters)
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		res.Error = tools.ErrToolNotFound.Error()
	case err != nil:
		res.Error = err.Error()
	default:
		res.Success = true
		res.Result = result
	}
	return res
}
