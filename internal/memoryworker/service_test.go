package memoryworker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tkubica12/scalable-ai-chat/internal/bus"
	"github.com/tkubica12/scalable-ai-chat/internal/cache"
	"github.com/tkubica12/scalable-ai-chat/internal/conversation"
	"github.com/tkubica12/scalable-ai-chat/internal/llm"
	"github.com/tkubica12/scalable-ai-chat/internal/store"
)

type scriptedLLM struct {
	summaryResp string
	summaryErr  error
	memoryResp  string
	memoryErr   error
	embedVec    []float32
	embedErr    error
	chatCalls   int
}

func (f *scriptedLLM) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, opts llm.ChatOptions) (llm.Message, error) {
	f.chatCalls++
	if f.chatCalls == 1 {
		if f.summaryErr != nil {
			return llm.Message{}, f.summaryErr
		}
		return llm.Message{Content: f.summaryResp}, nil
	}
	if f.memoryErr != nil {
		return llm.Message{}, f.memoryErr
	}
	return llm.Message{Content: f.memoryResp}, nil
}

func (f *scriptedLLM) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, opts llm.ChatOptions, h llm.StreamHandler) error {
	return errors.New("not used")
}

func (f *scriptedLLM) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return [][]float32{f.embedVec}, nil
}

func seedCache(t *testing.T, c cache.Store, conv conversation.Conversation) {
	t.Helper()
	payload, err := json.Marshal(conv)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), conv.SessionID, payload))
}

func TestHandle_SummarizesAndStoresConversationMemory(t *testing.T) {
	c := cache.NewFakeStore()
	seedCache(t, c, conversation.Conversation{
		SessionID: "s1", UserID: "u1",
		Messages: []conversation.Message{{Role: conversation.RoleUser, Content: "I love hiking"}, {Role: conversation.RoleAssistant, Content: "Nice!"}},
	})
	docStore := store.NewFakeDocumentStore()
	llmProvider := &scriptedLLM{
		summaryResp: `{"summary":"User talked about hiking","themes":["hiking"],"persons":[],"places":[],"user_sentiment":"positive"}`,
		memoryResp:  `{"output_preferences":[],"personal_preferences":[],"assistant_preferences":[],"knowledge":[],"interests":["hiking"],"dislikes":[],"family_and_friends":[],"work_profile":[],"goals":[]}`,
		embedVec:    []float32{0.1, 0.2, 0.3},
	}
	svc := &Service{Cache: c, Store: docStore, LLM: llmProvider}

	evt := conversation.NewCompletionEvent("s1", "u1", "m1", time.Now())
	payload, _ := json.Marshal(evt)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: payload}))

	doc, ok := docStore.ConversationMemoryDoc("s1_u1")
	require.True(t, ok)
	require.Equal(t, "User talked about hiking", doc.Summary)
	require.Equal(t, []string{"hiking"}, doc.Themes)
	require.Equal(t, conversation.SentimentPositive, doc.UserSentiment)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, doc.VectorEmbedding)

	mem, found, err := docStore.GetUserMemory(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"hiking"}, mem.Interests)
}

func TestHandle_SchemaFailureFallsBackToNeutralSummary(t *testing.T) {
	c := cache.NewFakeStore()
	seedCache(t, c, conversation.Conversation{SessionID: "s1", UserID: "u1", Messages: []conversation.Message{{Role: conversation.RoleUser, Content: "hi"}}})
	docStore := store.NewFakeDocumentStore()
	llmProvider := &scriptedLLM{summaryResp: `not json`, memoryResp: `{}`}
	svc := &Service{Cache: c, Store: docStore, LLM: llmProvider}

	evt := conversation.NewCompletionEvent("s1", "u1", "m1", time.Now())
	payload, _ := json.Marshal(evt)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: payload}))

	doc, ok := docStore.ConversationMemoryDoc("s1_u1")
	require.True(t, ok)
	require.Equal(t, conversation.SentimentNeutral, doc.UserSentiment)
	require.Empty(t, doc.Summary)
}

func TestHandle_UserMemoryReplacesOnlyReturnedFields(t *testing.T) {
	c := cache.NewFakeStore()
	seedCache(t, c, conversation.Conversation{SessionID: "s1", UserID: "u1", Messages: []conversation.Message{{Role: conversation.RoleUser, Content: "hi"}}})
	docStore := store.NewFakeDocumentStore()
	require.NoError(t, docStore.UpsertUserMemory(context.Background(), conversation.UserMemoryDocument{
		UserID: "u1", Interests: []string{"old-interest"}, Goals: []string{"old-goal"},
	}))
	llmProvider := &scriptedLLM{
		summaryResp: `{"summary":"s","themes":[],"persons":[],"places":[],"user_sentiment":"neutral"}`,
		memoryResp:  `{"output_preferences":[],"personal_preferences":[],"assistant_preferences":[],"knowledge":[],"interests":["new-interest"],"dislikes":[],"family_and_friends":[],"work_profile":[],"goals":[]}`,
	}
	svc := &Service{Cache: c, Store: docStore, LLM: llmProvider}

	evt := conversation.NewCompletionEvent("s1", "u1", "m1", time.Now())
	payload, _ := json.Marshal(evt)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: payload}))

	mem, _, err := docStore.GetUserMemory(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"new-interest"}, mem.Interests) // replaced exactly, not unioned
	require.Equal(t, []string{"old-goal"}, mem.Goals)          // untouched: extraction returned empty
}

func TestHandle_EmbeddingFailureUsesEmptyVector(t *testing.T) {
	c := cache.NewFakeStore()
	seedCache(t, c, conversation.Conversation{SessionID: "s1", UserID: "u1", Messages: []conversation.Message{{Role: conversation.RoleUser, Content: "hi"}}})
	docStore := store.NewFakeDocumentStore()
	llmProvider := &scriptedLLM{
		summaryResp: `{"summary":"s","themes":[],"persons":[],"places":[],"user_sentiment":"neutral"}`,
		memoryResp:  `{}`,
		embedErr:    errors.New("embedding service down"),
	}
	svc := &Service{Cache: c, Store: docStore, LLM: llmProvider}

	evt := conversation.NewCompletionEvent("s1", "u1", "m1", time.Now())
	payload, _ := json.Marshal(evt)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: payload}))

	doc, _ := docStore.ConversationMemoryDoc("s1_u1")
	require.Empty(t, doc.VectorEmbedding)
}

func TestHandle_MissingCacheIsRetryable(t *testing.T) {
	svc := &Service{Cache: cache.NewFakeStore(), Store: store.NewFakeDocumentStore(), LLM: &scriptedLLM{}}
	evt := conversation.NewCompletionEvent("missing", "u1", "m1", time.Now())
	payload, _ := json.Marshal(evt)
	err := svc.Handle(context.Background(), bus.Delivery{SessionID: "missing", Value: payload})
	require.Error(t, err)
	require.False(t, errors.Is(err, bus.ErrMalformed))
}

func TestHandle_MalformedEventIsTerminal(t *testing.T) {
	svc := &Service{Cache: cache.NewFakeStore(), Store: store.NewFakeDocumentStore(), LLM: &scriptedLLM{}}
	err := svc.Handle(context.Background(), bus.Delivery{Value: []byte(`{"sessionId":"s1"}`)})
	require.ErrorIs(t, err, bus.ErrMalformed)
}
