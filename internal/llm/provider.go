// Package llm defines the portable chat-completion/embeddings contract that
// the workers program against; internal/llm/openai and internal/llm/anthropic
// each implement Provider against a concrete vendor SDK.
package llm

import (
	"context"
	"encoding/json"
)

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	Name string
	Args json.RawMessage
	ID   string
}

// Message is one entry of a chat history, portable across providers.
type Message struct {
	Role      string // "system" | "user" | "assistant" | "tool"
	Content   string
	ToolID    string
	ToolCalls []ToolCall // only set on assistant messages
}

// ToolSchema describes a callable tool's name, description, and JSON Schema parameters.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ResponseSchema requests a strict JSON-schema-constrained completion instead
// of free text, used by the memory worker for structured extraction.
type ResponseSchema struct {
	Name   string
	Schema map[string]any
	Strict bool
}

// ChatOptions tunes a single Chat/ChatStream call.
type ChatOptions struct {
	Model          string
	Temperature    *float64
	MaxTokens      int
	ResponseSchema *ResponseSchema
}

// StreamHandler receives incremental output from a ChatStream call. OnDelta is
// invoked once per content chunk as the provider emits it, in order. OnToolCall
// is invoked once per fully-reassembled tool call after the stream ends (or a
// finish_reason arrives), never mid-reassembly.
type StreamHandler interface {
	OnDelta(content string)
	OnToolCall(tc ToolCall)
}

// Provider is the portable surface every LLM backend implements.
type Provider interface {
	// Chat performs a single non-streaming completion, used for structured
	// extraction (ChatOptions.ResponseSchema) and short generations like title synthesis.
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, opts ChatOptions) (Message, error)
	// ChatStream performs a streaming completion, forwarding content deltas
	// and fully-reassembled tool calls to handler as they become available.
	ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, opts ChatOptions, handler StreamHandler) error
	// Embed returns one fixed-dimension vector per input string, in order.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}
