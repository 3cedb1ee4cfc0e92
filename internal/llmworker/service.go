// Package llmworker implements the LLM Worker: for each chat request it
// streams a reply (with tool use), persists the resulting turn to the
// session cache, and announces completion on the bus.
package llmworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tkubica12/scalable-ai-chat/internal/bus"
	"github.com/tkubica12/scalable-ai-chat/internal/cache"
	"github.com/tkubica12/scalable-ai-chat/internal/conversation"
	"github.com/tkubica12/scalable-ai-chat/internal/llm"
	"github.com/tkubica12/scalable-ai-chat/internal/memoryapi"
	"github.com/tkubica12/scalable-ai-chat/internal/observability"
)

// Service wires the dependencies one LLM Worker task needs.
type Service struct {
	LLM          llm.Provider
	Cache        cache.Store
	Tokens       bus.Publisher
	Completions  bus.Publisher
	MemoryAPI    *memoryapi.Client
	ToolMaxDepth int
}

// Handle implements engine.Handler for the user-messages topic.
func (s *Service) Handle(ctx context.Context, d bus.Delivery) error {
	var req conversation.ChatRequest
	if err := json.Unmarshal(d.Value, &req); err != nil || !req.Valid() {
		s.bestEffortEndOfStream(ctx, req)
		return fmt.Errorf("llmworker: decode chat request: %w", bus.ErrMalformed)
	}

	log := observability.LoggerWithTrace(ctx).With().
		Str("session_id", req.SessionID).Str("user_id", req.UserID).Str("chat_message_id", req.ChatMessageID).Logger()

	conv, isNew, err := s.loadConversation(ctx, req)
	if err != nil {
		return fmt.Errorf("llmworker: load conversation: %w", err)
	}

	var systemMsg *conversation.Message
	if !conv.HasSystemMessage() {
		mem, err := s.MemoryAPI.GetUserMemory(ctx, req.UserID)
		if err != nil {
			log.Warn().Err(err).Msg("user_memory_lookup_failed_using_empty_profile")
			mem = memoryapi.UserMemory{}
		}
		prompt, err := renderSystemPrompt(mem)
		if err != nil {
			return fmt.Errorf("llmworker: render system prompt: %w", err)
		}
		systemMsg = &conversation.Message{MessageID: uuid.NewString(), Role: conversation.RoleSystem, Content: prompt, Timestamp: time.Now().UTC()}
	}

	userMsg := conversation.Message{MessageID: req.ChatMessageID, Role: conversation.RoleUser, Content: req.Text, Timestamp: time.Now().UTC()}

	working := append([]conversation.Message{}, conv.Messages...)
	if systemMsg != nil {
		working = append([]conversation.Message{*systemMsg}, working...)
	}
	working = append(working, userMsg)

	llmMessages := toLLMMessages(working)
	tools := toolSchemas()

	assistantContent, err := s.runToolLoop(ctx, req, &llmMessages, tools)
	if err != nil {
		return fmt.Errorf("llmworker: tool loop: %w", err)
	}

	if err := publishTokenEvent(ctx, s.Tokens, conversation.TokenEvent{SessionID: req.SessionID, ChatMessageID: req.ChatMessageID, EndOfStream: true}); err != nil {
		return fmt.Errorf("llmworker: publish end of stream: %w", err)
	}

	assistantMsg := conversation.Message{MessageID: uuid.NewString(), Role: conversation.RoleAssistant, Content: assistantContent, Timestamp: time.Now().UTC()}
	finalMessages := append([]conversation.Message{}, conv.Messages...)
	if systemMsg != nil {
		finalMessages = append([]conversation.Message{*systemMsg}, finalMessages...)
	}
	finalMessages = append(finalMessages, userMsg, assistantMsg)

	now := time.Now().UTC()
	conv.Messages = finalMessages
	conv.LastActivity = now
	conv.UserID = req.UserID
	if isNew {
		conv.SessionID = req.SessionID
		conv.CreatedAt = now
		conv.Title = nil
	}

	if payload, merr := json.Marshal(conv); merr != nil {
		log.Error().Err(merr).Msg("marshal_conversation_failed")
	} else if err := s.Cache.Set(ctx, req.SessionID, payload); err != nil {
		// Cache persistence failure does not fail the turn; the history
		// worker will find no cache entry on its own retry path and fail
		// there instead, per the spec's documented degraded path.
		log.Error().Err(err).Msg("cache_persist_failed")
	}

	completed := conversation.NewCompletionEvent(req.SessionID, req.UserID, req.ChatMessageID, now)
	payload, err := marshalEvent(completed)
	if err != nil {
		return fmt.Errorf("llmworker: marshal completion event: %w", err)
	}
	if err := s.Completions.Publish(ctx, req.SessionID, req.ChatMessageID+"_completed", payload); err != nil {
		return fmt.Errorf("llmworker: publish completion event: %w", err)
	}
	return nil
}

// loadConversation reads the cached conversation for req.SessionID. A
// missing entry or a userId mismatch are both treated as "no history" —
// the mismatch case is the cross-user isolation guarantee.
func (s *Service) loadConversation(ctx context.Context, req conversation.ChatRequest) (conversation.Conversation, bool, error) {
	raw, found, err := s.Cache.Get(ctx, req.SessionID)
	if err != nil {
		return conversation.Conversation{}, false, fmt.Errorf("cache get: %w", err)
	}
	if !found {
		return conversation.Conversation{SessionID: req.SessionID, UserID: req.UserID}, true, nil
	}
	var conv conversation.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return conversation.Conversation{SessionID: req.SessionID, UserID: req.UserID}, true, nil
	}
	if conv.UserID != req.UserID {
		return conversation.Conversation{SessionID: req.SessionID, UserID: req.UserID}, true, nil
	}
	return conv, false, nil
}

// runToolLoop drives the first streaming completion plus up to
// ToolMaxDepth-1 additional rounds triggered by tool calls (at most
// ToolMaxDepth completions in all; tool calls from the last allowed round
// are not executed), returning the concatenated assistant text across all
// rounds.
func (s *Service) runToolLoop(ctx context.Context, req conversation.ChatRequest, llmMessages *[]llm.Message, tools []llm.ToolSchema) (string, error) {
	maxDepth := s.ToolMaxDepth
	if maxDepth <= 0 {
		maxDepth = 4
	}
	var fullText string

	for round := 0; ; round++ {
		streamer := &tokenStreamer{ctx: ctx, publisher: s.Tokens, sessionID: req.SessionID, chatMessageID: req.ChatMessageID}
		if err := s.LLM.ChatStream(ctx, *llmMessages, tools, llm.ChatOptions{}, streamer); err != nil {
			return "", fmt.Errorf("chat stream (round %d): %w", round, err)
		}
		if streamer.publishErr != nil {
			return "", fmt.Errorf("publish token (round %d): %w", round, streamer.publishErr)
		}
		fullText += streamer.content.String()

		valid := filterValidToolCalls(streamer.toolCalls)
		if len(valid) == 0 {
			return fullText, nil
		}
		if round >= maxDepth-1 {
			return fullText, nil
		}

		assistantTurn := llm.Message{Role: "assistant", Content: streamer.content.String(), ToolCalls: valid}
		*llmMessages = append(*llmMessages, assistantTurn)
		for _, tc := range valid {
			result := invokeTool(ctx, s.MemoryAPI, req.UserID, tc)
			*llmMessages = append(*llmMessages, llm.Message{Role: "tool", Content: result, ToolID: tc.ID})
		}
	}
}

// bestEffortEndOfStream emits the end-of-stream sentinel for a malformed
// request so a listening client isn't left hanging, per §4.A step 1. It
// never returns an error: publish failure here is logged, not propagated,
// since the message is already being completed as terminal either way.
func (s *Service) bestEffortEndOfStream(ctx context.Context, req conversation.ChatRequest) {
	if req.SessionID == "" {
		return
	}
	if err := publishTokenEvent(ctx, s.Tokens, conversation.TokenEvent{SessionID: req.SessionID, ChatMessageID: req.ChatMessageID, EndOfStream: true}); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("session_id", req.SessionID).Msg("malformed_request_end_of_stream_publish_failed")
	}
}
