package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hession/toolgate/internal/config"
	"github.com/hession/toolgate/internal/tracer"
)

// Default DashScope generation parameters.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.8
	DefaultMaxTokens   = 2000
	DefaultTimeout     = 30 * time.Second
)

// Message message structure
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: "system", Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: "user", Content: content} }

// Completer sends a message list to a model and returns the generated text.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error)
}

// CallOption adjusts a single Complete call.
type CallOption func(*callOptions)

type callOptions struct {
	temperature float64
}

// WithTemperature overrides the sampling temperature for one call.
func WithTemperature(t float64) CallOption {
	return func(o *callOptions) { o.temperature = t }
}

// Client talks to the DashScope text-generation endpoint.
type Client struct {
	apiKey      string
	endpoint    string
	model       string
	temperature float64
	topP        float64
	maxTokens   int
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithDefaultTemperature sets the temperature used when a call does not override it.
func WithDefaultTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithTopP sets top_p.
func WithTopP(p float64) Option {
	return func(c *Client) { c.topP = p }
}

// WithMaxTokens sets max_tokens.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// New creates a DashScope client.
func New(apiKey, endpoint, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		endpoint:    strings.TrimSuffix(endpoint, "/"),
		model:       model,
		temperature: DefaultTemperature,
		topP:        DefaultTopP,
		maxTokens:   DefaultMaxTokens,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a client from the model section of the config.
func NewFromConfig(cfg config.ModelConfig) *Client {
	return New(cfg.APIKey, cfg.Endpoint, cfg.Model,
		WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second),
		WithDefaultTemperature(cfg.Temperature),
		WithTopP(cfg.TopP),
		WithMaxTokens(cfg.MaxTokens),
	)
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type generationRequest struct {
	Model      string               `json:"model"`
	Input      generationInput      `json:"input"`
	Parameters generationParameters `json:"parameters"`
}

type generationInput struct {
	Messages []Message `json:"messages"`
}

type generationParameters struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

type generationResponse struct {
	Output *struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Complete implements Completer. Every failure is returned as *APIError.
func (c *Client) Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	co := callOptions{temperature: c.temperature}
	for _, opt := range opts {
		opt(&co)
	}

	ctx, span := tracer.StartSpan(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("llm.model", c.model),
		tracer.IntAttr("llm.messages", len(messages)),
	)

	text, err := c.complete(ctx, messages, co)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	tracer.SetOK(span)
	return text, nil
}

func (c *Client) complete(ctx context.Context, messages []Message, co callOptions) (string, error) {
	if c.apiKey == "" {
		return "", &APIError{Message: "API key not configured", Err: ErrNoAPIKey}
	}

	reqBody := generationRequest{
		Model: c.model,
		Input: generationInput{Messages: messages},
		Parameters: generationParameters{
			Temperature: co.temperature,
			TopP:        c.topP,
			MaxTokens:   c.maxTokens,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &APIError{Message: "failed to serialize request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", &APIError{Message: "failed to create request", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &APIError{Message: "failed to send request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	var gr generationResponse
	decodeErr := json.Unmarshal(body, &gr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		if decodeErr == nil {
			apiErr.Code = gr.Code
			apiErr.RequestID = gr.RequestID
			if gr.Message != "" {
				apiErr.Message = gr.Message
			}
		}
		return "", apiErr
	}

	if decodeErr != nil {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "failed to parse response", Err: decodeErr}
	}
	if gr.Code != "" {
		return "", &APIError{StatusCode: resp.StatusCode, Code: gr.Code, Message: gr.Message, RequestID: gr.RequestID}
	}
	if gr.Output == nil {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "response has no output", RequestID: gr.RequestID, Err: ErrEmptyOutput}
	}

	return gr.Output.Text, nil
}

// Sentinel causes carried inside APIError.
var (
	ErrNoAPIKey    = errors.New("missing API key")
	ErrEmptyOutput = errors.New("empty model output")
)

// APIError is any failure talking to the model service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("model API error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

var _ Completer = (*Client)(nil)
