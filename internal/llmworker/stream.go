package llmworker

import (
	"context"
	"strings"

	"github.com/tkubica12/scalable-ai-chat/internal/bus"
	"github.com/tkubica12/scalable-ai-chat/internal/conversation"
	"github.com/tkubica12/scalable-ai-chat/internal/llm"
)

// tokenStreamer implements llm.StreamHandler: it republishes every content
// delta as a Token event (preserving chunk boundaries, per the spec) and
// accumulates both the full text and any reassembled tool calls for the
// caller to inspect once the stream ends.
type tokenStreamer struct {
	ctx           context.Context
	publisher     bus.Publisher
	sessionID     string
	chatMessageID string

	content   strings.Builder
	toolCalls []llm.ToolCall
	publishErr error
}

func (s *tokenStreamer) OnDelta(content string) {
	if content == "" {
		return
	}
	s.content.WriteString(content)
	evt := conversation.TokenEvent{SessionID: s.sessionID, ChatMessageID: s.chatMessageID, Token: content}
	if err := publishTokenEvent(s.ctx, s.publisher, evt); err != nil && s.publishErr == nil {
		s.publishErr = err
	}
}

func (s *tokenStreamer) OnToolCall(tc llm.ToolCall) {
	s.toolCalls = append(s.toolCalls, tc)
}

func publishTokenEvent(ctx context.Context, pub bus.Publisher, evt conversation.TokenEvent) error {
	payload, err := marshalEvent(evt)
	if err != nil {
		return err
	}
	return pub.Publish(ctx, evt.SessionID, evt.ChatMessageID, payload)
}
