// Package llm provides classification-service clients for the BOQ Matching Service.
//
// The splitter and reranker stages delegate their language understanding to a
// hosted LLM. This package defines the provider-neutral Client abstraction and
// implementations for the Anthropic Messages API and the OpenAI Chat
// Completions API. Callers build prompts, send a completion request, and parse
// the returned text as JSON.
//
// Example usage:
//
//	client, err := llm.NewClient(cfg)
//	resp, err := client.Complete(ctx, llm.Request{
//		System:    systemPrompt,
//		User:      userPrompt,
//		MaxTokens: 2048,
//	})
package llm

import (
	"context"
	"strings"
)

// Request contains parameters for a single completion call.
type Request struct {
	// System is the system-level instruction for the model.
	System string

	// User is the user-level prompt content.
	User string

	// MaxTokens caps the response length. Zero means the client default.
	MaxTokens int
}

// Response contains the completion text and usage metadata.
type Response struct {
	// Content is the raw text returned by the model.
	Content string

	// Model is the model that produced the response.
	Model string

	// InputTokens is the number of input tokens consumed.
	InputTokens int

	// OutputTokens is the number of output tokens produced.
	OutputTokens int
}

// Client defines the interface for LLM completion providers.
//
// Implementations handle provider-specific API calls, retries on transient
// failures, and error handling while conforming to this unified interface.
type Client interface {
	// Complete sends a completion request and returns the model's response.
	// The context should be used for cancellation and deadline propagation.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Provider returns the name of the LLM provider (e.g., "anthropic", "openai").
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}

// ExtractJSON strips markdown code fences from model output so the remainder
// can be parsed as JSON. Models occasionally wrap JSON responses in ```json
// fences despite instructions not to.
func ExtractJSON(content string) string {
	trimmed := strings.TrimSpace(content)

	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	// Drop the opening fence line, including an optional language tag.
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	} else {
		trimmed = strings.TrimPrefix(trimmed, "```")
	}

	// Drop the closing fence.
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}

	return strings.TrimSpace(trimmed)
}
