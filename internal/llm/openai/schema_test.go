package openai

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tkubica12/scalable-ai-chat/internal/llm"
)

func TestAdaptMessages_AssistantWithToolCalls(t *testing.T) {
	msgs := []llm.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "", ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "search_conversation_history", Args: []byte(`{"search_query":"vacation"}`)}}},
		{Role: "tool", ToolID: "call_1", Content: `{"conversations":[]}`},
	}
	out := AdaptMessages(msgs)
	require.Len(t, out, 3)
	require.NotNil(t, out[1].OfAssistant)
	require.Len(t, out[1].OfAssistant.ToolCalls, 1)
	require.Equal(t, "search_conversation_history", out[1].OfAssistant.ToolCalls[0].OfFunction.Function.Name)
}

func TestAdaptMessages_EmptyToolContentDefaultsToError(t *testing.T) {
	out := AdaptMessages([]llm.Message{{Role: "tool", ToolID: "call_1", Content: ""}})
	require.Len(t, out, 1)
}

func TestAdaptSchemas(t *testing.T) {
	schemas := []llm.ToolSchema{{
		Name:        "search_conversation_history",
		Description: "search past conversations",
		Parameters:  map[string]any{"type": "object"},
	}}
	out := AdaptSchemas(schemas)
	require.Len(t, out, 1)
}
