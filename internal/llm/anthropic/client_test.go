package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tkubica12/scalable-ai-chat/internal/llm"
)

func TestAdaptMessages_SystemUserAssistantTool(t *testing.T) {
	sys, msgs, err := adaptMessages([]llm.Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "search_conversation_history", Args: []byte(`{"search_query":"trip"}`)}}},
		{Role: "tool", ToolID: "call_1", Content: `{"conversations":[]}`},
	})
	require.NoError(t, err)
	require.Len(t, sys, 1)
	require.Len(t, msgs, 3)
}

func TestAdaptMessages_UnsupportedRole(t *testing.T) {
	_, _, err := adaptMessages([]llm.Message{{Role: "narrator", Content: "x"}})
	require.Error(t, err)
}

func TestAdaptMessages_EmptyRequiresAtLeastOne(t *testing.T) {
	_, _, err := adaptMessages(nil)
	require.Error(t, err)
}

func TestAdaptTools_RequiresName(t *testing.T) {
	_, err := adaptTools([]llm.ToolSchema{{Name: "", Parameters: map[string]any{}}})
	require.Error(t, err)
}

func TestAdaptTools_SplitsPropertiesAndRequired(t *testing.T) {
	out, err := adaptTools([]llm.ToolSchema{{
		Name:        "search_conversation_history",
		Description: "search past conversations",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"search_query": map[string]any{"type": "string"}},
			"required":   []string{"search_query"},
		},
	}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "search_conversation_history", out[0].OfTool.Name)
}

func TestToolBuffer_ReassemblesFragmentedJSON(t *testing.T) {
	tb := &toolBuffer{name: "search_conversation_history", id: "call_1"}
	tb.appendInitial(json.RawMessage("{}"))
	tb.appendPartial(`{"search_`)
	tb.appendPartial(`query":"vacation"}`)

	tc := tb.toToolCall()
	require.Equal(t, "search_conversation_history", tc.Name)
	require.True(t, json.Valid(tc.Args))

	var parsed map[string]string
	require.NoError(t, json.Unmarshal(tc.Args, &parsed))
	require.Equal(t, "vacation", parsed["search_query"])
}

func TestToolBuffer_EmptyDefaultsToEmptyObject(t *testing.T) {
	tb := &toolBuffer{name: "noop", id: "call_2"}
	tc := tb.toToolCall()
	require.JSONEq(t, "{}", string(tc.Args))
}

func TestMessageFromResponse_Nil(t *testing.T) {
	out := messageFromResponse(nil)
	require.Equal(t, llm.Message{}, out)
}
