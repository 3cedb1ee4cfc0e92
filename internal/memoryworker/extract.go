package memoryworker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tkubica12/scalable-ai-chat/internal/conversation"
	"github.com/tkubica12/scalable-ai-chat/internal/llm"
	"github.com/tkubica12/scalable-ai-chat/internal/observability"
)

type summaryExtraction struct {
	Summary       string   `json:"summary"`
	Themes        []string `json:"themes"`
	Persons       []string `json:"persons"`
	Places        []string `json:"places"`
	UserSentiment string   `json:"user_sentiment"`
}

func neutralSummary() summaryExtraction {
	return summaryExtraction{UserSentiment: string(conversation.SentimentNeutral)}
}

// userMemoryExtraction mirrors conversation.UserMemoryDocument's nine array
// fields as returned by the LLM: each populated field is the fully merged
// view the caller should replace the stored field with; an empty field means
// "no update" and leaves the stored value untouched.
type userMemoryExtraction struct {
	OutputPreferences    []string `json:"output_preferences"`
	PersonalPreferences  []string `json:"personal_preferences"`
	AssistantPreferences []string `json:"assistant_preferences"`
	Knowledge            []string `json:"knowledge"`
	Interests            []string `json:"interests"`
	Dislikes             []string `json:"dislikes"`
	FamilyAndFriends     []string `json:"family_and_friends"`
	WorkProfile          []string `json:"work_profile"`
	Goals                []string `json:"goals"`
}

func renderConversationForSummary(conv conversation.Conversation) string {
	var b strings.Builder
	for _, m := range conv.Messages {
		if m.Role == conversation.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func renderProfileAndConversation(existing conversation.UserMemoryDocument, conv conversation.Conversation) string {
	profile, _ := json.Marshal(existing)
	var b strings.Builder
	b.WriteString("Existing profile:\n")
	b.Write(profile)
	b.WriteString("\n\nNew conversation:\n")
	b.WriteString(renderConversationForSummary(conv))
	return b.String()
}

// summarize never fails the turn: any LLM or schema-validation error is
// caught and replaced with a neutral default.
func summarize(ctx context.Context, provider llm.Provider, conv conversation.Conversation) summaryExtraction {
	log := observability.LoggerWithTrace(ctx)
	msgs := []llm.Message{
		{Role: "system", Content: "Summarize this conversation turn. Respond only through the given schema."},
		{Role: "user", Content: renderConversationForSummary(conv)},
	}
	resp, err := provider.Chat(ctx, msgs, nil, llm.ChatOptions{
		ResponseSchema: &llm.ResponseSchema{Name: "conversation_summary", Schema: summarySchema(), Strict: true},
	})
	if err != nil {
		log.Warn().Err(err).Msg("conversation_summary_llm_call_failed_using_neutral_default")
		return neutralSummary()
	}
	var out summaryExtraction
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		log.Warn().Err(err).Msg("conversation_summary_schema_validation_failed_using_neutral_default")
		return neutralSummary()
	}
	if out.UserSentiment != string(conversation.SentimentPositive) &&
		out.UserSentiment != string(conversation.SentimentNegative) &&
		out.UserSentiment != string(conversation.SentimentNeutral) {
		out.UserSentiment = string(conversation.SentimentNeutral)
	}
	if len(out.Themes) > 5 {
		out.Themes = out.Themes[:5]
	}
	return out
}

// embedSummary concatenates the summary fields into one string and embeds
// it; any failure yields an empty vector rather than failing the turn.
func embedSummary(ctx context.Context, provider llm.Provider, sum summaryExtraction) []float32 {
	log := observability.LoggerWithTrace(ctx)
	parts := append([]string{sum.Summary}, sum.Themes...)
	parts = append(parts, sum.Persons...)
	parts = append(parts, sum.Places...)
	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		return []float32{}
	}
	vecs, err := provider.Embed(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		log.Warn().Err(err).Msg("conversation_summary_embedding_failed_using_empty_vector")
		return []float32{}
	}
	return vecs[0]
}

// extractUserMemoryUpdates never fails the turn: any LLM or schema-validation
// error yields an all-empty extraction, which applyUserMemoryUpdates treats
// as "no field updated".
func extractUserMemoryUpdates(ctx context.Context, provider llm.Provider, existing conversation.UserMemoryDocument, conv conversation.Conversation) userMemoryExtraction {
	log := observability.LoggerWithTrace(ctx)
	msgs := []llm.Message{
		{Role: "system", Content: "Given the user's existing memory profile and this new conversation, return the fully merged value for every field that should change. Union and deduplicate values yourself; return a field empty only if it should not change."},
		{Role: "user", Content: renderProfileAndConversation(existing, conv)},
	}
	resp, err := provider.Chat(ctx, msgs, nil, llm.ChatOptions{
		ResponseSchema: &llm.ResponseSchema{Name: "user_memory_update", Schema: userMemorySchema(), Strict: true},
	})
	if err != nil {
		log.Warn().Err(err).Msg("user_memory_extraction_llm_call_failed_no_update")
		return userMemoryExtraction{}
	}
	var out userMemoryExtraction
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		log.Warn().Err(err).Msg("user_memory_extraction_schema_validation_failed_no_update")
		return userMemoryExtraction{}
	}
	return out
}

// applyUserMemoryUpdates replaces each field the extraction returned
// non-empty, leaving every other field exactly as stored. This is a
// replace, never a union — the LLM has already done the merging.
func applyUserMemoryUpdates(existing conversation.UserMemoryDocument, updates userMemoryExtraction) conversation.UserMemoryDocument {
	merged := existing
	replace := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	replace(&merged.OutputPreferences, updates.OutputPreferences)
	replace(&merged.PersonalPreferences, updates.PersonalPreferences)
	replace(&merged.AssistantPreferences, updates.AssistantPreferences)
	replace(&merged.Knowledge, updates.Knowledge)
	replace(&merged.Interests, updates.Interests)
	replace(&merged.Dislikes, updates.Dislikes)
	replace(&merged.FamilyAndFriends, updates.FamilyAndFriends)
	replace(&merged.WorkProfile, updates.WorkProfile)
	replace(&merged.Goals, updates.Goals)
	return merged
}
