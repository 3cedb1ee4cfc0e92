package llmworker

import (
	"fmt"

	"github.com/tkubica12/scalable-ai-chat/internal/conversation"
	"github.com/tkubica12/scalable-ai-chat/internal/llm"
)

func toLLMMessages(msgs []conversation.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		lm := llm.Message{Role: string(m.Role), Content: m.Content, ToolID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Args: []byte(tc.Args)})
		}
		out = append(out, lm)
	}
	return out
}

// filterValidToolCalls drops tool calls with an empty name (the model
// started emitting a call but never named it) and synthesizes a stable id
// for any call whose id never arrived in a delta.
func filterValidToolCalls(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(calls))
	for i, tc := range calls {
		if tc.Name == "" {
			continue
		}
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("call_index_%d", i)
		}
		out = append(out, tc)
	}
	return out
}
