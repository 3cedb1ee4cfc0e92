// Package memoryworker implements the Memory Worker: on every completion
// event it derives a conversation summary and embedding, and incrementally
// updates the user's consolidated memory profile.
package memoryworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkubica12/scalable-ai-chat/internal/bus"
	"github.com/tkubica12/scalable-ai-chat/internal/cache"
	"github.com/tkubica12/scalable-ai-chat/internal/conversation"
	"github.com/tkubica12/scalable-ai-chat/internal/llm"
	"github.com/tkubica12/scalable-ai-chat/internal/observability"
	"github.com/tkubica12/scalable-ai-chat/internal/store"
)

// Service wires the dependencies one Memory Worker task needs.
type Service struct {
	Cache cache.Store
	Store store.DocumentStore
	LLM   llm.Provider

	// VectorIndex backs similarity search over conversation-memory summaries
	// (pgvector). Indexing is best-effort and never fails the turn.
	VectorIndex store.VectorIndex
}

// Handle implements engine.Handler for the message-completed/memory subscription.
func (s *Service) Handle(ctx context.Context, d bus.Delivery) error {
	var evt conversation.CompletionEvent
	if err := json.Unmarshal(d.Value, &evt); err != nil || evt.SessionID == "" || evt.UserID == "" {
		return fmt.Errorf("memoryworker: decode completion event: %w", bus.ErrMalformed)
	}

	log := observability.LoggerWithTrace(ctx).With().
		Str("session_id", evt.SessionID).Str("user_id", evt.UserID).Logger()

	raw, found, err := s.Cache.Get(ctx, evt.SessionID)
	if err != nil {
		return fmt.Errorf("memoryworker: cache get: %w", err)
	}
	if !found {
		return fmt.Errorf("memoryworker: cache entry missing for session %s", evt.SessionID)
	}
	var conv conversation.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return fmt.Errorf("memoryworker: decode cached conversation: %w", bus.ErrMalformed)
	}

	now := time.Now().UTC()

	summary := summarize(ctx, s.LLM, conv)
	vector := embedSummary(ctx, s.LLM, summary)

	convMemDoc := conversation.ConversationMemoryDocument{
		ID:              evt.SessionID + "_" + evt.UserID,
		SessionID:       evt.SessionID,
		UserID:          evt.UserID,
		Summary:         summary.Summary,
		Themes:          summary.Themes,
		Persons:         summary.Persons,
		Places:          summary.Places,
		UserSentiment:   conversation.Sentiment(summary.UserSentiment),
		Timestamp:       now,
		VectorEmbedding: vector,
	}
	if err := s.Store.UpsertConversationMemory(ctx, convMemDoc); err != nil {
		return fmt.Errorf("memoryworker: upsert conversation memory: %w", err)
	}
	s.indexVector(ctx, log, convMemDoc.ID, vector, evt)

	existing, _, err := s.Store.GetUserMemory(ctx, evt.UserID)
	if err != nil {
		return fmt.Errorf("memoryworker: get user memory: %w", err)
	}

	updates := extractUserMemoryUpdates(ctx, s.LLM, existing, conv)
	merged := applyUserMemoryUpdates(existing, updates)
	merged.UserID = evt.UserID
	merged.Timestamp = now

	if err := s.Store.UpsertUserMemory(ctx, merged); err != nil {
		return fmt.Errorf("memoryworker: upsert user memory: %w", err)
	}

	log.Debug().Msg("memory_worker_turn_processed")
	return nil
}

// indexVector writes the embedding into the vector index keyed by the same
// conversation-memory document id, so similarity search (served outside
// these workers by the Memory API) can find it. A zero-length vector means
// embedSummary already fell back, so there is nothing to index; indexing
// failures are logged and never fail the turn.
func (s *Service) indexVector(ctx context.Context, log zerolog.Logger, id string, vector []float32, evt conversation.CompletionEvent) {
	if len(vector) == 0 || s.VectorIndex == nil {
		return
	}
	if err := s.VectorIndex.Upsert(ctx, id, vector, evt.UserID, evt.SessionID); err != nil {
		log.Warn().Err(err).Msg("vector_index_upsert_failed")
	}
}
