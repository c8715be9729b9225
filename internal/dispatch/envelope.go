package dispatch

import "time"

// EnvelopeType tags which path produced a response.
type EnvelopeType string

const (
	TypeDirect EnvelopeType = "direct_response"
	TypeTool   EnvelopeType = "tool_response"
	TypeError  EnvelopeType = "error"
)

// ToolUsage records the tool call behind a tool_response.
type ToolUsage struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Result     any            `json:"result"`
}

// Envelope is the outcome of Handle. ToolUsed is set only for TypeTool;
// build envelopes through the constructors to keep that true.
type Envelope struct {
	Type           EnvelopeType
	Content        string
	ToolUsed       *ToolUsage
	DecisionReason string
}

// DirectResponse is an answer produced without a tool.
func DirectResponse(content, reason string) Envelope {
	return Envelope{Type: TypeDirect, Content: content, DecisionReason: reason}
}

// ToolResponse is an answer synthesized from a tool result.
func ToolResponse(content string, usage ToolUsage, reason string) Envelope {
	if usage.Parameters == nil {
		usage.Parameters = map[string]any{}
	}
	return Envelope{Type: TypeTool, Content: content, ToolUsed: &usage, DecisionReason: reason}
}

// ErrorResponse is a failed request rendered for the user.
func ErrorResponse(content, reason string) Envelope {
	return Envelope{Type: TypeError, Content: content, DecisionReason: reason}
}

// ChatResponse is the wire shape of a chat answer.
type ChatResponse struct {
	Success        bool         `json:"success"`
	Type           EnvelopeType `json:"type"`
	Content        string       `json:"content"`
	ToolUsed       *ToolUsage   `json:"tool_used"`
	DecisionReason string       `json:"decision_reason"`
	Timestamp      string       `json:"timestamp"`
}

// BuildChatResponse maps an envelope to its wire shape.
// Error envelopes are still a successful HTTP exchange.
func BuildChatResponse(env Envelope, now time.Time) ChatResponse {
	return ChatResponse{
		Success:        true,
		Type:           env.Type,
		Content:        env.Content,
		ToolUsed:       env.ToolUsed,
		DecisionReason: env.DecisionReason,
		Timestamp:      Timestamp(now),
	}
}

// InvokeResponse is the wire shape of a direct tool invocation.
type InvokeResponse struct {
	Success   bool   `json:"success"`
	Tool      string `json:"tool"`
	Result    any    `json:"result"`
	Timestamp string `json:"timestamp"`
}

// BuildInvokeResponse maps a direct invocation result to its wire shape.
func BuildInvokeResponse(tool string, result any, now time.Time) InvokeResponse {
	return InvokeResponse{Success: true, Tool: tool, Result: result, Timestamp: Timestamp(now)}
}

// Timestamp formats t as UTC ISO-8601 with milliseconds.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
