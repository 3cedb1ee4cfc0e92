package historyworker

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

type fakeTitleLLM struct {
	title string
	err   error
}

func (f *fakeTitleLLM) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, opts llm.ChatOptions) (llm.Message, error) {
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: "assistant", Content: f.title}, nil
}
func (f *fakeTitleLLM) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, opts llm.ChatOptions, h llm.StreamHandler) error {
	return errors.New("not used")
}
func (f *fakeTitleLLM) Embed(ctx context.Context, inputs []string) ([][]float32, error) { return nil, nil }

func seedCache(t *testing.T, c cache.Store, conv conversation.Conversation) {
	t.Helper()
	payload, err := json.Marshal(conv)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), conv.SessionID, payload))
}

func TestHandle_SynthesizesTitleWhenMissing(t *testing.T) {
	c := cache.NewFakeStore()
	seedCache(t, c, conversation.Conversation{
		SessionID: "s1", UserID: "u1",
		Messages: []conversation.Message{{Role: conversation.RoleUser, Content: "Hello"}, {Role: conversation.RoleAssistant, Content: "Hi!"}},
	})
	docStore := store.NewFakeDocumentStore()
	svc := &Service{Cache: c, Store: docStore, LLM: &fakeTitleLLM{title: `"Greeting: Chat"`}}

	evt := conversation.NewCompletionEvent("s1", "u1", "m1", time.Now())
	payload, _ := json.Marshal(evt)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: payload}))

	doc, ok := docStore.HistoryDoc("s1")
	require.True(t, ok)
	require.NotNil(t, doc.Title)
	require.Equal(t, "Greeting Chat", *doc.Title)
}

func TestHandle_TitleSynthesisFailureFallsBack(t *testing.T) {
	c := cache.NewFakeStore()
	seedCache(t, c, conversation.Conversation{SessionID: "s1", UserID: "u1", Messages: []conversation.Message{{Role: conversation.RoleUser, Content: "Hi"}}})
	docStore := store.NewFakeDocumentStore()
	svc := &Service{Cache: c, Store: docStore, LLM: &fakeTitleLLM{err: errors.New("boom")}}

	evt := conversation.NewCompletionEvent("s1", "u1", "m1", time.Now())
	payload, _ := json.Marshal(evt)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: payload}))

	doc, ok := docStore.HistoryDoc("s1")
	require.True(t, ok)
	require.Equal(t, titleFallback, *doc.Title)
}

func TestHandle_ExistingTitlePreserved(t *testing.T) {
	c := cache.NewFakeStore()
	seedCache(t, c, conversation.Conversation{SessionID: "s1", UserID: "u1", Messages: []conversation.Message{{Role: conversation.RoleUser, Content: "Hi"}}})
	docStore := store.NewFakeDocumentStore()
	existing := "Already Titled"
	require.NoError(t, docStore.UpsertHistory(context.Background(), conversation.HistoryDocument{SessionID: "s1", UserID: "u1", Title: &existing}))

	svc := &Service{Cache: c, Store: docStore, LLM: &fakeTitleLLM{title: "Should Not Be Used"}}
	evt := conversation.NewCompletionEvent("s1", "u1", "m1", time.Now())
	payload, _ := json.Marshal(evt)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: payload}))

	doc, _ := docStore.HistoryDoc("s1")
	require.Equal(t, "Already Titled", *doc.Title)
}

func TestHandle_MissingCacheIsRetryable(t *testing.T) {
	svc := &Service{Cache: cache.NewFakeStore(), Store: store.NewFakeDocumentStore()}
	evt := conversation.NewCompletionEvent("missing", "u1", "m1", time.Now())
	payload, _ := json.Marshal(evt)
	err := svc.Handle(context.Background(), bus.Delivery{SessionID: "missing", Value: payload})
	require.Error(t, err)
	require.False(t, errors.Is(err, bus.ErrMalformed))
}

func TestHandle_MalformedEventIsTerminal(t *testing.T) {
	svc := &Service{Cache: cache.NewFakeStore(), Store: store.NewFakeDocumentStore()}
	err := svc.Handle(context.Background(), bus.Delivery{Value: []byte(`{}`)})
	require.ErrorIs(t, err, bus.ErrMalformed)
}

type throttledOnceStore struct {
	*store.FakeDocumentStore
	remaining int
}

func (s *throttledOnceStore) UpsertHistory(ctx context.Context, doc conversation.HistoryDocument) error {
	if s.remaining > 0 {
		s.remaining--
		return Throttled(errors.New("rate limited"))
	}
	return s.FakeDocumentStore.UpsertHistory(ctx, doc)
}

func TestHandle_RetriesOnThrottleThenSucceeds(t *testing.T) {
	c := cache.NewFakeStore()
	seedCache(t, c, conversation.Conversation{SessionID: "s1", UserID: "u1", Messages: []conversation.Message{{Role: conversation.RoleUser, Content: "Hi"}}})
	inner := store.NewFakeDocumentStore()
	docStore := &throttledOnceStore{FakeDocumentStore: inner, remaining: 2}

	svc := &Service{
		Cache: c, Store: docStore, LLM: &fakeTitleLLM{title: "Title"},
		ThrottleSleep: func(ctx context.Context, d time.Duration) error { return nil },
	}
	evt := conversation.NewCompletionEvent("s1", "u1", "m1", time.Now())
	payload, _ := json.Marshal(evt)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: payload}))

	_, ok := inner.HistoryDoc("s1")
	require.True(t, ok)
	require.Equal(t, 1, inner.UpsertCalls)
}
