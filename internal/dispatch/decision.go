package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/hession/toolgate/internal/config"
	"github.com/hession/toolgate/internal/llm"
	"github.com/hession/toolgate/internal/logger"
	"github.com/hession/toolgate/internal/tools"
	"github.com/hession/toolgate/internal/tracer"
)

// ErrDecisionParse means the model's decision text was not a valid decision object.
var ErrDecisionParse = errors.New("decision parse failure")

// Decision is the structured outcome of intent classification.
type Decision struct {
	NeedTool   bool           `json:"need_tool"`
	ToolName   *string        `json:"tool_name"`
	Reason     string         `json:"reason"`
	Parameters map[string]any `json:"parameters"`
}

// WantsTool reports whether the decision names a tool to call.
func (d Decision) WantsTool() bool {
	return d.NeedTool && d.ToolName != nil && *d.ToolName != ""
}

// Tool returns the tool name or "".
func (d Decision) Tool() string {
	if d.ToolName == nil {
		return ""
	}
	return *d.ToolName
}

// ParseDecision parses model output strictly. The whole text must be one
// JSON object with need_tool (bool), tool_name (string or null),
// reason (string) and parameters (object). Extra keys are ignored.
func ParseDecision(text string) (Decision, error) {
	if !gjson.Valid(text) {
		return Decision{}, fmt.Errorf("%w: not valid JSON", ErrDecisionParse)
	}
	root := gjson.Parse(text)
	if !root.IsObject() {
		return Decision{}, fmt.Errorf("%w: not a JSON object", ErrDecisionParse)
	}

	needTool := root.Get("need_tool")
	if needTool.Type != gjson.True && needTool.Type != gjson.False {
		return Decision{}, fmt.Errorf("%w: need_tool must be a boolean", ErrDecisionParse)
	}

	toolName := root.Get("tool_name")
	if !toolName.Exists() || (toolName.Type != gjson.String && toolName.Type != gjson.Null) {
		return Decision{}, fmt.Errorf("%w: tool_name must be a string or null", ErrDecisionParse)
	}

	reason := root.Get("reason")
	if reason.Type != gjson.String {
		return Decision{}, fmt.Errorf("%w: reason must be a string", ErrDecisionParse)
	}

	params := root.Get("parameters")
	if !params.IsObject() {
		return Decision{}, fmt.Errorf("%w: parameters must be an object", ErrDecisionParse)
	}
	parameters := map[string]any{}
	if err := json.Unmarshal([]byte(params.Raw), &parameters); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrDecisionParse, err)
	}

	d := Decision{
		NeedTool:   needTool.Bool(),
		Reason:     reason.String(),
		Parameters: parameters,
	}
	if toolName.Type == gjson.String {
		name := toolName.String()
		d.ToolName = &name
	}
	return d, nil
}

// Describer lists tool capabilities for the decision prompt.
type Describer interface {
	Describe() []tools.Capability
}

// Decider asks the model whether a tool is needed.
type Decider struct {
	model   llm.Completer
	tools   Describer
	prompts config.LanguagePrompts
	log     *slog.Logger
}

// NewDecider creates a Decider.
func NewDecider(model llm.Completer, tools Describer, prompts config.LanguagePrompts, log *slog.Logger) *Decider {
	return &Decider{model: model, tools: tools, prompts: prompts, log: logger.OrDefault(log)}
}

// Fallback is the decision used when the model's answer cannot be used.
func (d *Decider) Fallback() Decision {
	return Decision{
		NeedTool:   false,
		ToolName:   nil,
		Reason:     d.prompts.DecisionFallback,
		Parameters: map[string]any{},
	}
}

// Prompt renders the decision prompt for message. Capabilities are read fresh.
func (d *Decider) Prompt(message string) (string, error) {
	caps, err := json.MarshalIndent(d.tools.Describe(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize capabilities: %w", err)
	}
	return d.prompts.RenderDecision(config.DecisionData{Tools: string(caps), Message: message})
}

// Decide makes one model call and never fails: any problem yields Fallback.
func (d *Decider) Decide(ctx context.Context, message string) Decision {
	ctx, span := tracer.StartSpan(ctx, "dispatch.decide")
	defer span.End()

	log := d.log.With("request_id", RequestIDFromContext(ctx))

	prompt, err := d.Prompt(message)
	if err != nil {
		log.Warn("decision prompt failed, answering directly", "error", err)
		tracer.RecordError(span, err)
		return d.Fallback()
	}

	text, err := d.model.Complete(ctx, []llm.Message{llm.User(prompt)})
	if err != nil {
		log.Warn("decision call failed, answering directly", "error", err)
		tracer.RecordError(span, err)
		return d.Fallback()
	}

	decision, err := ParseDecision(text)
	if err != nil {
		log.Warn("decision parse failed, answering directly", "error", err, "raw", truncate(text, 200))
		tracer.RecordError(span, err)
		return d.Fallback()
	}

	span.SetAttributes(
		tracer.BoolAttr("decision.need_tool", decision.NeedTool),
		tracer.StringAttr("decision.tool", decision.Tool()),
	)
	tracer.SetOK(span)
	log.Debug("decision", "need_tool", decision.NeedTool, "tool", decision.Tool(), "reason", decision.Reason)
	return decision
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
