package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, body string, seen *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestLLMAdapter_Complete_ParsesToolCalls(t *testing.T) {
	var seen openai.ChatCompletionRequest
	srv := chatServer(t, http.StatusOK, `{
		"id": "cmpl-1",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "bash", "arguments": "{\"command\":\"ls\"}"}},
					{"id": "", "type": "function", "function": {"name": "read_file", "arguments": "not json"}}
				]
			},
			"finish_reason": "tool_calls"
		}]
	}`, &seen)
	defer srv.Close()

	a := NewLLMAdapter("ollama", srv.URL, "", "llama3.2")
	history := []Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "list files"},
	}
	tools := []Tool{{Type: "function", Function: FunctionDefinition{Name: "bash", Description: "run", Parameters: map[string]interface{}{"type": "object"}}}}

	resp, err := a.Complete(context.Background(), history, tools)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 2)

	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "bash", resp.ToolCalls[0].Name)
	assert.Equal(t, "ls", resp.ToolCalls[0].Arguments["command"])

	// missing id is synthesised, unparseable arguments become empty
	assert.True(t, strings.HasPrefix(resp.ToolCalls[1].ID, "call_"))
	assert.Empty(t, resp.ToolCalls[1].Arguments)

	assert.Equal(t, "llama3.2", seen.Model)
	require.Len(t, seen.Messages, 2)
	require.Len(t, seen.Tools, 1)
	assert.Equal(t, "bash", seen.Tools[0].Function.Name)
}

func TestLLMAdapter_Complete_NoChoices(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"id":"x","choices":[]}`, nil)
	defer srv.Close()

	a := NewLLMAdapter("ollama", srv.URL, "", "m")
	_, err := a.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestLLMAdapter_Complete_ServerErrorIsRetryable(t *testing.T) {
	srv := chatServer(t, http.StatusServiceUnavailable, `{"error":{"message":"overloaded","type":"server_error"}}`, nil)
	defer srv.Close()

	a := NewLLMAdapter("ollama", srv.URL, "", "m")
	_, err := a.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestLLMAdapter_Complete_BadRequestIsNotRetryable(t *testing.T) {
	srv := chatServer(t, http.StatusBadRequest, `{"error":{"message":"bad tool schema","type":"invalid_request_error"}}`, nil)
	defer srv.Close()

	a := NewLLMAdapter("ollama", srv.URL, "", "m")
	_, err := a.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(&openai.APIError{HTTPStatusCode: 429}))
	assert.True(t, IsRetryable(&openai.APIError{HTTPStatusCode: 502}))
	assert.False(t, IsRetryable(&openai.APIError{HTTPStatusCode: 401}))
	assert.True(t, IsRetryable(errors.New("connection reset by peer")))
}

func TestToOpenAIMessages_CarriesToolCalls(t *testing.T) {
	msgs := toOpenAIMessages([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "bash", Arguments: map[string]interface{}{"command": "pwd"}}}},
		{Role: RoleTool, ToolCallID: "c1", Name: "bash", Content: "/tmp"},
	})

	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, openai.ToolTypeFunction, msgs[0].ToolCalls[0].Type)
	assert.JSONEq(t, `{"command":"pwd"}`, msgs[0].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "c1", msgs[1].ToolCallID)
}

func TestProviderBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:11434/v1", ProviderBaseURL("ollama"))
	assert.Equal(t, "https://openrouter.ai/api/v1", ProviderBaseURL("openrouter"))
	assert.Empty(t, ProviderBaseURL("unknown"))
}

// TestLLMAdapter_Live requires a running Ollama instance
func TestLLMAdapter_Live(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	a := NewLLMAdapter("ollama", "", "", "llama3.2")
	response, err := a.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "You are a helpful assistant."},
		{Role: RoleUser, Content: "Say hello in one sentence."},
	}, nil)
	if err != nil {
		t.Skipf("backend not reachable: %v", err)
	}
	if response.Content == "" {
		t.Error("Expected non-empty content in response")
	}
}
