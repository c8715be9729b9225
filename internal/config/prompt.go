package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptConfig prompt configuration structure
type PromptConfig struct {
	Language string                     `yaml:"language"`
	Prompts  map[string]LanguagePrompts `yaml:"prompts"`
}

// LanguagePrompts prompts for a specific language.
// Decision and Synthesis are text/template sources.
type LanguagePrompts struct {
	// Decision is rendered with DecisionData.
	Decision         string `yaml:"decision"`
	DecisionFallback string `yaml:"decision_fallback"`
	SynthesisSystem  string `yaml:"synthesis_system"`
	// Synthesis is rendered with SynthesisData.
	Synthesis         string `yaml:"synthesis"`
	DirectSystem      string `yaml:"direct_system"`
	ErrorPrefix       string `yaml:"error_prefix"`
	ProcessingFailure string `yaml:"processing_failure"`
}

// DecisionData is the input of the decision template.
type DecisionData struct {
	Tools   string // pretty-printed JSON capability list
	Message string
}

// SynthesisData is the input of the synthesis template.
type SynthesisData struct {
	Message string
	Result  string // pretty-printed JSON tool result
}

const zhDecision = `你是一个智能助手，需要根据用户问题决定是否调用工具。

可用工具列表：
{{.Tools}}

用户问题："{{.Message}}"

请分析用户意图，严格按照以下JSON格式响应：
{
  "need_tool": true/false,
  "tool_name": "工具名称或null",
  "reason": "决策理由",
  "parameters": {"参数名": "参数值"} 或 {}
}

决策规则：
1. 只能从可用工具列表中选择工具，参数名必须与工具的 parameters 一致，参数值从问题中提取
2. 如果问题与所有工具都无关，need_tool设为false，tool_name设为null，parameters设为{}

示例：
- "北京今天天气怎么样" -> {"need_tool": true, "tool_name": "get_weather", "reason": "用户询问天气", "parameters": {"city": "北京"}}
- "介绍一下量子计算" -> {"need_tool": true, "tool_name": "search_wikipedia", "reason": "用户询问百科知识", "parameters": {"query": "Quantum computing"}}
- "帮我算一下 (3+5)*2" -> {"need_tool": true, "tool_name": "calculate_math", "reason": "用户需要数学计算", "parameters": {"expression": "(3+5)*2"}}
- "你好" -> {"need_tool": false, "tool_name": null, "reason": "普通问候，无需工具", "parameters": {}}

请严格按照JSON格式响应，不要添加其他内容。`

const enDecision = `You are an assistant that decides whether a user question needs a tool.

Available tools:
{{.Tools}}

User question: "{{.Message}}"

Analyse the intent and respond strictly in this JSON format:
{
  "need_tool": true/false,
  "tool_name": "tool name or null",
  "reason": "why",
  "parameters": {"name": "value"} or {}
}

Rules:
1. Only pick tools from the list above. Parameter names must match the tool's parameters; take values from the question.
2. If no tool is relevant, set need_tool to false, tool_name to null and parameters to {}.

Examples:
- "What's the weather in Paris?" -> {"need_tool": true, "tool_name": "get_weather", "reason": "weather question", "parameters": {"city": "Paris"}}
- "Tell me about quantum computing" -> {"need_tool": true, "tool_name": "search_wikipedia", "reason": "encyclopedic question", "parameters": {"query": "Quantum computing"}}
- "What is (3+5)*2?" -> {"need_tool": true, "tool_name": "calculate_math", "reason": "arithmetic", "parameters": {"expression": "(3+5)*2"}}
- "Hello" -> {"need_tool": false, "tool_name": null, "reason": "greeting, no tool needed", "parameters": {}}

Respond with the JSON object only.`

// DefaultPromptConfig returns default prompt configuration
func DefaultPromptConfig() *PromptConfig {
	return &PromptConfig{
		Language: "zh",
		Prompts: map[string]LanguagePrompts{
			"zh": {
				Decision:          zhDecision,
				DecisionFallback:  "决策解析失败，使用大模型直接回答",
				SynthesisSystem:   "你是一个有帮助的AI助手，能够根据工具返回的数据生成友好的回答。",
				Synthesis:         "用户原始问题: \"{{.Message}}\"\n\n工具调用结果: {{.Result}}\n\n请根据工具返回的数据，生成友好、自然的回答给用户。",
				DirectSystem:      "你是一个有帮助的AI助手，请直接回答用户的问题。",
				ErrorPrefix:       "抱歉，处理您的请求时出现了问题：",
				ProcessingFailure: "处理过程中发生错误",
			},
			"en": {
				Decision:          enDecision,
				DecisionFallback:  "decision could not be parsed, answering directly",
				SynthesisSystem:   "You are a helpful assistant that turns tool output into a friendly answer.",
				Synthesis:         "Original question: \"{{.Message}}\"\n\nTool result: {{.Result}}\n\nUsing the tool data, write a friendly, natural answer for the user.",
				DirectSystem:      "You are a helpful assistant. Answer the user's question directly.",
				ErrorPrefix:       "Sorry, something went wrong while handling your request: ",
				ProcessingFailure: "an error occurred during processing",
			},
		},
	}
}

// PromptConfigPath returns the prompt config file path
func PromptConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "prompt.yaml"), nil
}

// LoadPromptConfig loads prompt configuration from file.
// Missing prompt keys in the file keep their built-in values.
func LoadPromptConfig() (*PromptConfig, error) {
	configPath, err := PromptConfigPath()
	if err != nil {
		return DefaultPromptConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return DefaultPromptConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt config: %w", err)
	}

	var file PromptConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse prompt config: %w", err)
	}

	cfg := DefaultPromptConfig()
	if file.Language != "" {
		cfg.Language = file.Language
	}
	for lang, p := range file.Prompts {
		cfg.Prompts[lang] = mergePrompts(cfg.Prompts[lang], p)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergePrompts(base, over LanguagePrompts) LanguagePrompts {
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	pick(&base.Decision, over.Decision)
	pick(&base.DecisionFallback, over.DecisionFallback)
	pick(&base.SynthesisSystem, over.SynthesisSystem)
	pick(&base.Synthesis, over.Synthesis)
	pick(&base.DirectSystem, over.DirectSystem)
	pick(&base.ErrorPrefix, over.ErrorPrefix)
	pick(&base.ProcessingFailure, over.ProcessingFailure)
	return base
}

// Validate checks that the active templates parse.
func (p *PromptConfig) Validate() error {
	lp := p.GetPrompts()
	if _, err := template.New("decision").Parse(lp.Decision); err != nil {
		return fmt.Errorf("prompt config: decision template: %w", err)
	}
	if _, err := template.New("synthesis").Parse(lp.Synthesis); err != nil {
		return fmt.Errorf("prompt config: synthesis template: %w", err)
	}
	return nil
}

// GetPrompts returns prompts for the configured language
func (p *PromptConfig) GetPrompts() LanguagePrompts {
	if prompts, ok := p.Prompts[p.Language]; ok {
		return prompts
	}
	// Fall back to Chinese if configured language not found
	if prompts, ok := p.Prompts["zh"]; ok {
		return prompts
	}
	return LanguagePrompts{}
}

// RenderDecision renders the decision prompt.
func (lp LanguagePrompts) RenderDecision(data DecisionData) (string, error) {
	return render("decision", lp.Decision, data)
}

// RenderSynthesis renders the synthesis prompt.
func (lp LanguagePrompts) RenderSynthesis(data SynthesisData) (string, error) {
	return render("synthesis", lp.Synthesis, data)
}

func render(name, src string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}
