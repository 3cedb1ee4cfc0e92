// Package historyworker implements the History Worker: on every completion
// event it persists the cached conversation as a durable history document,
// synthesizing a short title the first time one is missing.
package historyworker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tkubica12/scalable-ai-chat/internal/bus"
	"github.com/tkubica12/scalable-ai-chat/internal/cache"
	"github.com/tkubica12/scalable-ai-chat/internal/conversation"
	"github.com/tkubica12/scalable-ai-chat/internal/llm"
	"github.com/tkubica12/scalable-ai-chat/internal/observability"
	"github.com/tkubica12/scalable-ai-chat/internal/store"
)

const (
	titleMaxContentChars = 150
	titleMaxMessages     = 6
	titleMaxChars        = 50
	titleFallback        = "New Conversation"
)

// Service wires the dependencies one History Worker task needs.
type Service struct {
	Cache         cache.Store
	Store         store.DocumentStore
	LLM           llm.Provider
	ThrottleSleep func(ctx context.Context, d time.Duration) error
}

// Handle implements engine.Handler for the message-completed/history subscription.
func (s *Service) Handle(ctx context.Context, d bus.Delivery) error {
	var evt conversation.CompletionEvent
	if err := json.Unmarshal(d.Value, &evt); err != nil || evt.SessionID == "" {
		return fmt.Errorf("historyworker: decode completion event: %w", bus.ErrMalformed)
	}

	log := observability.LoggerWithTrace(ctx).With().
		Str("session_id", evt.SessionID).Str("user_id", evt.UserID).Str("chat_message_id", evt.ChatMessageID).Logger()

	raw, found, err := s.Cache.Get(ctx, evt.SessionID)
	if err != nil {
		return fmt.Errorf("historyworker: cache get: %w", err)
	}
	if !found {
		return fmt.Errorf("historyworker: cache entry missing for session %s", evt.SessionID)
	}
	var conv conversation.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return fmt.Errorf("historyworker: decode cached conversation: %w", bus.ErrMalformed)
	}

	existingTitle, _, err := s.Store.GetHistoryTitle(ctx, evt.SessionID)
	if err != nil {
		log.Warn().Err(err).Msg("history_title_lookup_failed_will_synthesize")
	}

	title := existingTitle
	if title == nil || *title == "" {
		t := s.synthesizeTitle(ctx, conv)
		title = &t
	}

	doc := conversation.HistoryDocument{
		SessionID:    conv.SessionID,
		UserID:       conv.UserID,
		CreatedAt:    conv.CreatedAt,
		LastActivity: conv.LastActivity,
		PersistedAt:  time.Now().UTC(),
		Title:        title,
		Messages:     conv.Messages,
	}

	if err := s.upsertWithThrottleRetry(ctx, doc); err != nil {
		return fmt.Errorf("historyworker: upsert history: %w", err)
	}
	return nil
}

// synthesizeTitle never fails the turn: any LLM error or an empty result
// falls back to a fixed placeholder.
func (s *Service) synthesizeTitle(ctx context.Context, conv conversation.Conversation) string {
	log := observability.LoggerWithTrace(ctx)
	if s.LLM == nil {
		return titleFallback
	}

	n := len(conv.Messages)
	if n > titleMaxMessages {
		n = titleMaxMessages
	}
	var b strings.Builder
	for _, m := range conv.Messages[:n] {
		content := m.Content
		if len(content) > titleMaxContentChars {
			content = content[:titleMaxContentChars]
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
	}

	temp := 0.3
	prompt := []llm.Message{
		{Role: "system", Content: "Write a short title (3-6 words) summarizing this conversation. Respond with only the title, no punctuation around it."},
		{Role: "user", Content: b.String()},
	}
	resp, err := s.LLM.Chat(ctx, prompt, nil, llm.ChatOptions{Temperature: &temp, MaxTokens: 25})
	if err != nil {
		log.Warn().Err(err).Msg("title_synthesis_failed")
		return titleFallback
	}

	title := strings.TrimSpace(resp.Content)
	title = strings.NewReplacer(`"`, "", "'", "", ":", "").Replace(title)
	if len(title) > titleMaxChars {
		title = title[:titleMaxChars]
	}
	if title == "" {
		return titleFallback
	}
	return title
}

func (s *Service) upsertWithThrottleRetry(ctx context.Context, doc conversation.HistoryDocument) error {
	backoffs := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		err := s.Store.UpsertHistory(ctx, doc)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isThrottled(err) || attempt == len(backoffs) {
			return err
		}
		if sleepErr := s.sleep(ctx, backoffs[attempt]); sleepErr != nil {
			return sleepErr
		}
	}
	return lastErr
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if s.ThrottleSleep != nil {
		return s.ThrottleSleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// throttled is a sentinel a DocumentStore implementation can wrap its
// rate-limit errors in so the worker distinguishes "retry with backoff"
// from "retryable at the bus level only".
type throttled struct{ err error }

func (t *throttled) Error() string { return t.err.Error() }
func (t *throttled) Unwrap() error { return t.err }

// Throttled wraps err to mark it as a store rate-limit response, triggering
// the worker's local linear-backoff retry instead of an immediate abandon.
func Throttled(err error) error {
	if err == nil {
		return nil
	}
	return &throttled{err: err}
}

func isThrottled(err error) bool {
	_, ok := err.(*throttled)
	if ok {
		return true
	}
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
		if _, ok := err.(*throttled); ok {
			return true
		}
	}
}
