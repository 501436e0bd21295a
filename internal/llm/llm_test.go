package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain JSON",
			input:    `{"type": "SINGLE"}`,
			expected: `{"type": "SINGLE"}`,
		},
		{
			name:     "fenced with language tag",
			input:    "```json\n{\"type\": \"COMPOSITE\"}\n```",
			expected: `{"type": "COMPOSITE"}`,
		},
		{
			name:     "fenced without language tag",
			input:    "```\n{\"candidates\": []}\n```",
			expected: `{"candidates": []}`,
		},
		{
			name:     "surrounding whitespace",
			input:    "  \n{\"score\": 85}\n  ",
			expected: `{"score": 85}`,
		},
		{
			name:     "fence without newline",
			input:    "```{}```",
			expected: `{}`,
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractJSON(tt.input))
		})
	}
}

func TestAPIError_IsTransient(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"network error", 0, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"not found", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &APIError{Provider: "anthropic", StatusCode: tt.status, Message: "boom"}
			assert.Equal(t, tt.transient, err.IsTransient())
		})
	}
}

func TestAnthropicClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-sonnet-4-20250514", req.Model)
		assert.Equal(t, "You classify construction work items.", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		resp := messagesResponse{
			ID:      "msg_01",
			Type:    "message",
			Role:    "assistant",
			Model:   "claude-sonnet-4-20250514",
			Content: []contentBlock{{Type: "text", Text: `{"type":"SINGLE"}`}},
			Usage:   anthropicUsage{InputTokens: 120, OutputTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewAnthropicClient(AnthropicConfig{
		APIKey:  "test-key",
		Model:   "claude-sonnet-4-20250514",
		BaseURL: server.URL,
	}, 0.1, 2048, 10*time.Second, 2)

	resp, err := client.Complete(context.Background(), Request{
		System: "You classify construction work items.",
		User:   "Beton C 25/30",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"SINGLE"}`, resp.Content)
	assert.Equal(t, "claude-sonnet-4-20250514", resp.Model)
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 15, resp.OutputTokens)
}

func TestAnthropicClient_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
			return
		}
		resp := messagesResponse{
			Model:   "claude-sonnet-4-20250514",
			Content: []contentBlock{{Type: "text", Text: "ok"}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewAnthropicClient(AnthropicConfig{
		APIKey:  "test-key",
		Model:   "claude-sonnet-4-20250514",
		BaseURL: server.URL,
	}, 0.1, 2048, 10*time.Second, 2)
	client.retryDelay = time.Millisecond

	resp, err := client.Complete(context.Background(), Request{User: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnthropicClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens required"}}`))
	}))
	defer server.Close()

	client := NewAnthropicClient(AnthropicConfig{
		APIKey:  "test-key",
		Model:   "claude-sonnet-4-20250514",
		BaseURL: server.URL,
	}, 0.1, 2048, 10*time.Second, 3)
	client.retryDelay = time.Millisecond

	_, err := client.Complete(context.Background(), Request{User: "hello"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid_request_error", apiErr.Type)
	assert.Equal(t, "max_tokens required", apiErr.Message)
}

func TestOpenAIClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		resp := chatResponse{
			ID:    "chatcmpl-01",
			Model: "gpt-4o-mini",
			Choices: []chatChoice{
				{Message: chatMessage{Role: "assistant", Content: `{"score":85}`}, FinishReason: "stop"},
			},
			Usage: chatUsage{PromptTokens: 200, CompletionTokens: 20},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		BaseURL: server.URL,
	}, 0.1, 2048, 10*time.Second, 2)

	resp, err := client.Complete(context.Background(), Request{
		System: "You rank catalog candidates.",
		User:   "Zdivo Porotherm 30",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"score":85}`, resp.Content)
	assert.Equal(t, 200, resp.InputTokens)
	assert.Equal(t, 20, resp.OutputTokens)
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{Model: "gpt-4o-mini"})
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	}, 0.1, 2048, 10*time.Second, 0)

	_, err := client.Complete(context.Background(), Request{User: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestNewClient(t *testing.T) {
	t.Run("anthropic", func(t *testing.T) {
		client, err := NewClient(FactoryConfig{
			Provider:  "anthropic",
			Anthropic: AnthropicConfig{APIKey: "key", Model: "claude-sonnet-4-20250514"},
		})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", client.Provider())
	})

	t.Run("openai", func(t *testing.T) {
		client, err := NewClient(FactoryConfig{
			Provider: "openai",
			OpenAI:   OpenAIConfig{APIKey: "key"},
		})
		require.NoError(t, err)
		assert.Equal(t, "openai", client.Provider())
		assert.Equal(t, defaultOpenAIModel, client.Model())
	})

	t.Run("unsupported provider", func(t *testing.T) {
		_, err := NewClient(FactoryConfig{Provider: "cohere"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported LLM provider")
	})
}
