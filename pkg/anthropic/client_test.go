package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageServer(t *testing.T, check func(body map[string]any)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		if check != nil {
			check(body)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_test_001",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": `{"condition":"good",`},
				{"type": "text", "text": `"architectural_style":"andalusian"}`},
			},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":                120,
				"output_tokens":               40,
				"cache_creation_input_tokens": 0,
				"cache_read_input_tokens":     900,
			},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestCreateMessage(t *testing.T) {
	ts := messageServer(t, func(body map[string]any) {
		assert.Equal(t, "claude-haiku-4-5-20251001", body["model"])
		assert.EqualValues(t, 512, body["max_tokens"])
		system, ok := body["system"].([]any)
		require.True(t, ok)
		require.Len(t, system, 1)
		block := system[0].(map[string]any)
		assert.Equal(t, "You assess Spanish properties.", block["text"])
		assert.NotNil(t, block["cache_control"])
	})

	client := NewClient("test-key", WithBaseURL(ts.URL))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 512,
		System:    CachedSystem("You assess Spanish properties."),
		Messages:  []Message{{Role: "user", Content: "Villa in Marbella"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, `{"condition":"good","architectural_style":"andalusian"}`, resp.Text())
	assert.Equal(t, int64(120), resp.Usage.InputTokens)
	assert.Equal(t, int64(900), resp.Usage.CacheReadInputTokens)
}

func TestCreateMessage_StatusError(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
	assert.Equal(t, 1, calls, "client must not retry")
}

func TestStatusCode_NonAPIError(t *testing.T) {
	assert.Equal(t, 0, StatusCode(eris.New("dial tcp: refused")))
	assert.Equal(t, 0, StatusCode(nil))
}

func TestToSDKMessages(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "{"},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
}

func TestFromSDKMessage(t *testing.T) {
	resp := fromSDKMessage(&sdk.Message{
		ID:         "msg_1",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "max_tokens",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "Hello"},
			{Type: "tool_use"},
			{Type: "text", Text: " world"},
		},
		Usage: sdk.Usage{InputTokens: 10, OutputTokens: 5},
	})
	assert.Equal(t, "max_tokens", resp.StopReason)
	assert.Equal(t, "Hello world", resp.Text())
	assert.Equal(t, int64(5), resp.Usage.OutputTokens)
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		name  string
		model string
		usage TokenUsage
		want  float64
	}{
		{"haiku", "claude-haiku-4-5-20251001", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 6.00},
		{"sonnet", "claude-sonnet-4-5-20250929", TokenUsage{InputTokens: 1_000_000}, 3.00},
		{"cache read", "claude-haiku-4-5-20251001", TokenUsage{CacheReadInputTokens: 1_000_000}, 0.10},
		{"unknown", "gpt-4", TokenUsage{InputTokens: 1_000_000}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 1e-9)
		})
	}
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 10}.LogCost("claude-haiku-4-5-20251001", "summary")
	})
}
