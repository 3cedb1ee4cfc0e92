package llmworker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tkubica12/scalable-ai-chat/internal/llm"
	"github.com/tkubica12/scalable-ai-chat/internal/memoryapi"
)

const searchConversationHistoryTool = "search_conversation_history"

func toolSchemas() []llm.ToolSchema {
	return []llm.ToolSchema{
		{
			Name:        searchConversationHistoryTool,
			Description: "Search this user's prior conversations for relevant context. Use it when the user references something from an earlier session that isn't already in your memory.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"search_query": map[string]any{
						"type":        "string",
						"description": "What to search for, in the user's own words.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results to return (1-10).",
						"minimum":     1,
						"maximum":     10,
					},
				},
				"required": []string{"search_query"},
			},
		},
	}
}

type searchConversationHistoryArgs struct {
	SearchQuery string `json:"search_query"`
	Limit       int    `json:"limit"`
}

// invokeTool dispatches a reassembled tool call and returns its JSON result
// string for the follow-up "tool" message. It never returns a Go error,
// since tool failures are not fatal to the turn: an argument parse failure
// becomes an `{"error": ...}` payload, and a Memory API failure comes back
// as a search result with empty conversations and a `message`.
func invokeTool(ctx context.Context, mem *memoryapi.Client, userID string, tc llm.ToolCall) string {
	switch tc.Name {
	case searchConversationHistoryTool:
		var args searchConversationHistoryArgs
		raw := tc.Args
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Sprintf(`{"error":%q}`, "invalid tool arguments: "+err.Error())
		}
		result := mem.SearchConversations(ctx, userID, args.SearchQuery, args.Limit)
		out, err := json.Marshal(result)
		if err != nil {
			return fmt.Sprintf(`{"error":%q}`, err.Error())
		}
		return string(out)
	default:
		return fmt.Sprintf(`{"error":"unknown tool %s"}`, tc.Name)
	}
}
