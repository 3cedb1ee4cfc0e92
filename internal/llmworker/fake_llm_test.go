package llmworker

import (
	"context"
	"encoding/json"

	"github.com/tkubica12/scalable-ai-chat/internal/llm"
)

// fakeLLM replays a scripted sequence of turns, one per ChatStream call, so
// tests can drive multi-round tool loops deterministically.
type fakeLLM struct {
	turns []fakeTurn
	calls int
}

type fakeTurn struct {
	deltas    []string
	toolCalls []llm.ToolCall
}

func (f *fakeLLM) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, opts llm.ChatOptions) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: "fake"}, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, opts llm.ChatOptions, h llm.StreamHandler) error {
	turn := f.turns[f.calls]
	f.calls++
	for _, d := range turn.deltas {
		h.OnDelta(d)
	}
	for _, tc := range turn.toolCalls {
		h.OnToolCall(tc)
	}
	return nil
}

func (f *fakeLLM) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
