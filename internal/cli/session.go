package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hession/toolgate/internal/config"
	"github.com/hession/toolgate/internal/dispatch"
	"github.com/hession/toolgate/internal/tools"
)

// Service is what the REPL needs from the dispatcher.
type Service interface {
	Handle(ctx context.Context, message string) dispatch.Envelope
	Invoke(ctx context.Context, name string, params map[string]any) (any, error)
	Tools() []tools.Listing
}

// CommandSuggestion is a built-in command offered for completion.
type CommandSuggestion struct {
	Text        string
	Description string
}

// GetCommandSuggestions lists the built-in commands.
func GetCommandSuggestions() []CommandSuggestion {
	return []CommandSuggestion{
		{Text: "/help", Description: "Show this help message"},
		{Text: "/tools", Description: "List available tools"},
		{Text: "/invoke", Description: "Run a tool directly: /invoke <tool> <json>"},
		{Text: "/config", Description: "Show current configuration"},
		{Text: "/exit", Description: "Exit program"},
	}
}

// Session executes REPL input against a Service and writes to out.
type Session struct {
	svc Service
	cfg *config.Config
	out io.Writer
}

// NewSession creates a Session.
func NewSession(svc Service, cfg *config.Config, out io.Writer) *Session {
	return &Session{svc: svc, cfg: cfg, out: out}
}

// Execute runs one line of input. It returns false when the user asked to exit.
func (s *Session) Execute(ctx context.Context, input string) bool {
	if strings.HasPrefix(input, "/") {
		return s.handleCommand(ctx, input)
	}
	s.chat(ctx, input)
	return true
}

func (s *Session) chat(ctx context.Context, message string) {
	env := s.svc.Handle(ctx, message)

	if env.Type == dispatch.TypeError {
		fmt.Fprintf(s.out, "\n%s❌ %s%s\n\n", colorRed, env.Content, colorReset)
		return
	}

	if env.ToolUsed != nil {
		fmt.Fprintf(s.out, "\n%s🔧 %s%s", colorYellow, env.ToolUsed.Name, colorReset)
		if len(env.ToolUsed.Parameters) > 0 {
			fmt.Fprintf(s.out, " %s%s%s", colorGray, compactJSON(env.ToolUsed.Parameters), colorReset)
		}
		fmt.Fprintln(s.out)
	}
	fmt.Fprintf(s.out, "\n%stoolgate: %s%s\n", colorBlue, colorReset, env.Content)
	if env.DecisionReason != "" {
		fmt.Fprintf(s.out, "%s(%s)%s\n", colorGray, truncateForDisplay(env.DecisionReason, 120), colorReset)
	}
	fmt.Fprintln(s.out)
}

// handleCommand handles built-in commands, returns true to continue loop, false to exit
func (s *Session) handleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return true
	}

	switch strings.ToLower(parts[0]) {
	case "/help":
		s.printHelp()

	case "/tools":
		for _, l := range s.svc.Tools() {
			fmt.Fprintf(s.out, "  %s%-18s%s %s\n", colorCyan, l.Name, colorReset, truncateForDisplay(l.Description, 80))
		}

	case "/invoke":
		s.invoke(ctx, strings.TrimSpace(strings.TrimPrefix(input, parts[0])))

	case "/config":
		if s.cfg != nil {
			fmt.Fprintln(s.out, s.cfg.String())
		}

	case "/exit", "/quit", "/q":
		fmt.Fprintf(s.out, "%sGoodbye! 👋%s\n", colorCyan, colorReset)
		return false

	default:
		fmt.Fprintf(s.out, "%s❓ Unknown command: %s%s\n", colorYellow, input, colorReset)
		fmt.Fprintln(s.out, "Type /help for available commands")
	}
	return true
}

// invoke parses "<tool> [json]" and runs the tool directly.
func (s *Session) invoke(ctx context.Context, args string) {
	name, raw, _ := strings.Cut(args, " ")
	if name == "" {
		fmt.Fprintf(s.out, "%sUsage: /invoke <tool> <json>%s\n", colorYellow, colorReset)
		return
	}

	params, err := ParseParams(raw)
	if err != nil {
		fmt.Fprintf(s.out, "%s❌ %v%s\n", colorRed, err, colorReset)
		return
	}

	result, err := s.svc.Invoke(ctx, name, params)
	if err != nil {
		if errors.Is(err, tools.ErrToolNotFound) {
			fmt.Fprintf(s.out, "%s❌ Unknown tool: %s (see /tools)%s\n", colorRed, name, colorReset)
			return
		}
		fmt.Fprintf(s.out, "%s❌ %v%s\n", colorRed, err, colorReset)
		return
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(s.out, "%s❌ %v%s\n", colorRed, err, colorReset)
		return
	}
	fmt.Fprintln(s.out, string(out))
}

// ParseParams parses a JSON object argument. Blank input is an empty object.
func ParseParams(raw string) (map[string]any, error) {
	params := map[string]any{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("parameters must be a JSON object: %w", err)
	}
	return params, nil
}

func (s *Session) printHelp() {
	fmt.Fprintf(s.out, "\n%s📚 toolgate Help%s\n\n%sBuilt-in Commands:%s\n", colorCyan, colorReset, colorYellow, colorReset)
	for _, c := range GetCommandSuggestions() {
		fmt.Fprintf(s.out, "  %-10s - %s\n", c.Text, c.Description)
	}
	fmt.Fprintf(s.out, `
%sExamples:%s
  "北京今天天气怎么样？"
  "介绍一下量子计算"
  "帮我算一下 sqrt(16) + 2^3"
  /invoke calculate_math {"expression": "(5 + 3) * 2"}

`, colorYellow, colorReset)
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// truncateForDisplay flattens text to one line and cuts it at maxLen runes.
func truncateForDisplay(text string, maxLen int) string {
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.TrimSpace(text)

	r := []rune(text)
	if len(r) <= maxLen {
		return text
	}
	return string(r[:maxLen]) + "..."
}
