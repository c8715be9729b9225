package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hession/toolgate/internal/config"
)

func TestNew(t *testing.T) {
	client := New("test-api-key", "https://api.test.com/gen/", "qwen-max")

	if client.apiKey != "test-api-key" {
		t.Errorf("Expected apiKey 'test-api-key', got '%s'", client.apiKey)
	}
	if client.endpoint != "https://api.test.com/gen" {
		t.Errorf("Expected endpoint without trailing slash, got '%s'", client.endpoint)
	}
	if client.temperature != DefaultTemperature || client.topP != DefaultTopP || client.maxTokens != DefaultMaxTokens {
		t.Errorf("unexpected defaults: %v %v %d", client.temperature, client.topP, client.maxTokens)
	}
	if client.httpClient.Timeout != DefaultTimeout {
		t.Errorf("Expected timeout %v, got %v", DefaultTimeout, client.httpClient.Timeout)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Model
	cfg.APIKey = "k"
	cfg.TimeoutSeconds = 5
	cfg.Temperature = 0.2

	client := NewFromConfig(cfg)
	if client.httpClient.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", client.httpClient.Timeout)
	}
	if client.temperature != 0.2 {
		t.Errorf("temperature = %v", client.temperature)
	}
	if client.Model() != "qwen-max" {
		t.Errorf("model = %s", client.Model())
	}
}

func TestClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header, got %s", r.Header.Get("Authorization"))
		}

		var reqBody generationRequest
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		if reqBody.Model != "qwen-max" {
			t.Errorf("Expected model 'qwen-max', got '%s'", reqBody.Model)
		}
		if len(reqBody.Input.Messages) != 2 || reqBody.Input.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", reqBody.Input.Messages)
		}
		if reqBody.Parameters.Temperature != 0.7 || reqBody.Parameters.TopP != 0.8 || reqBody.Parameters.MaxTokens != 2000 {
			t.Errorf("unexpected parameters: %+v", reqBody.Parameters)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output":{"text":"你好！","finish_reason":"stop"},"usage":{"input_tokens":3,"output_tokens":2},"request_id":"r-1"}`))
	}))
	defer server.Close()

	client := New("test-key", server.URL, "qwen-max")
	text, err := client.Complete(context.Background(), []Message{System("be nice"), User("hi")})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "你好！" {
		t.Errorf("Expected '你好！', got %q", text)
	}
}

func TestClient_Complete_TemperatureOverride(t *testing.T) {
	var got float64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody generationRequest
		json.NewDecoder(r.Body).Decode(&reqBody)
		got = reqBody.Parameters.Temperature
		w.Write([]byte(`{"output":{"text":"ok"}}`))
	}))
	defer server.Close()

	client := New("k", server.URL, "m")
	if _, err := client.Complete(context.Background(), []Message{User("x")}, WithTemperature(0.1)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != 0.1 {
		t.Errorf("temperature sent = %v, want 0.1", got)
	}
}

func TestClient_Complete_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "upstream error body",
			status:     http.StatusUnauthorized,
			body:       `{"code":"InvalidApiKey","message":"Invalid API-key provided.","request_id":"r-2"}`,
			wantStatus: 401,
			wantCode:   "InvalidApiKey",
			wantMsg:    "Invalid API-key provided.",
		},
		{
			name:       "non-json error body",
			status:     http.StatusBadGateway,
			body:       "bad gateway",
			wantStatus: 502,
			wantMsg:    "bad gateway",
		},
		{
			name:       "malformed success body",
			status:     http.StatusOK,
			body:       "not json",
			wantStatus: 200,
			wantMsg:    "failed to parse response",
		},
		{
			name:       "missing output",
			status:     http.StatusOK,
			body:       `{"request_id":"r-3"}`,
			wantStatus: 200,
			wantMsg:    "response has no output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := New("k", server.URL, "m").Complete(context.Background(), []Message{User("x")})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T %v", err, err)
			}
			if apiErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.wantStatus)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", apiErr.Code, tt.wantCode)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestClient_Complete_NoAPIKey(t *testing.T) {
	_, err := New("", "http://127.0.0.1:1", "m").Complete(context.Background(), []Message{User("x")})
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestClient_Complete_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"output":{"text":"late"}}`))
	}))
	defer server.Close()

	client := New("k", server.URL, "m", WithTimeout(20*time.Millisecond))
	_, err := client.Complete(context.Background(), []Message{User("x")})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != 0 || apiErr.Err == nil {
		t.Errorf("transport failure should carry cause and no status: %+v", apiErr)
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{StatusCode: 429, Code: "Throttling", Message: "slow down"}
	want := "model API error (status 429) [Throttling]: slow down"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := &APIError{Message: "failed to send request", Err: errors.New("dial tcp: refused")}
	if !strings.Contains(wrapped.Error(), "dial tcp: refused") {
		t.Errorf("Error() should include cause: %s", wrapped.Error())
	}
}
