package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeConstructors(t *testing.T) {
	direct := DirectResponse("hi", "greeting")
	assert.Equal(t, TypeDirect, direct.Type)
	assert.Nil(t, direct.ToolUsed)

	failed := ErrorResponse("oops", "failed")
	assert.Equal(t, TypeError, failed.Type)
	assert.Nil(t, failed.ToolUsed)

	tool := ToolResponse("sunny", ToolUsage{Name: "get_weather"}, "weather")
	assert.Equal(t, TypeTool, tool.Type)
	require.NotNil(t, tool.ToolUsed)
	assert.Equal(t, map[string]any{}, tool.ToolUsed.Parameters)
}

func TestBuildChatResponse(t *testing.T) {
	now := time.Date(2026, 5, 4, 3, 2, 1, 123_000_000, time.FixedZone("CST", 8*3600))

	raw, err := json.Marshal(BuildChatResponse(DirectResponse("hello", "greeting"), now))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": true,
		"type": "direct_response",
		"content": "hello",
		"tool_used": null,
		"decision_reason": "greeting",
		"timestamp": "2026-05-03T19:02:01.123Z"
	}`, string(raw))

	env := ToolResponse("21°C", ToolUsage{
		Name:       "get_weather",
		Parameters: map[string]any{"city": "北京"},
		Result:     map[string]any{"temperature": "21°C"},
	}, "weather")
	raw, err = json.Marshal(BuildChatResponse(env, now))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": true,
		"type": "tool_response",
		"content": "21°C",
		"tool_used": {"name": "get_weather", "parameters": {"city": "北京"}, "result": {"temperature": "21°C"}},
		"decision_reason": "weather",
		"timestamp": "2026-05-03T19:02:01.123Z"
	}`, string(raw))

	failed := BuildChatResponse(ErrorResponse("bad", "failed"), now)
	assert.True(t, failed.Success)
	assert.Equal(t, TypeError, failed.Type)
}

func TestBuildInvokeResponse(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := json.Marshal(BuildInvokeResponse("calculate_math", map[string]any{"result": "16"}, now))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success": true, "tool": "calculate_math", "result": {"result": "16"}, "timestamp": "2026-01-02T03:04:05.000Z"}`, string(raw))
}
