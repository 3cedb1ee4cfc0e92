package llmworker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tkubica12/scalable-ai-chat/internal/bus"
	"github.com/tkubica12/scalable-ai-chat/internal/cache"
	"github.com/tkubica12/scalable-ai-chat/internal/config"
	"github.com/tkubica12/scalable-ai-chat/internal/conversation"
	"github.com/tkubica12/scalable-ai-chat/internal/llm"
	"github.com/tkubica12/scalable-ai-chat/internal/memoryapi"
)

func newTestService(t *testing.T, llmProvider llm.Provider, memHandler http.HandlerFunc) (*Service, *bus.FakeBus, *bus.FakeBus, *cache.FakeStore) {
	t.Helper()
	if memHandler == nil {
		memHandler = func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }
	}
	srv := httptest.NewServer(memHandler)
	t.Cleanup(srv.Close)

	tokens := bus.NewFakeBus()
	completions := bus.NewFakeBus()
	store := cache.NewFakeStore()
	svc := &Service{
		LLM:          llmProvider,
		Cache:        store,
		Tokens:       tokens,
		Completions:  completions,
		MemoryAPI:    memoryapi.New(config.MemoryAPIConfig{BaseURL: srv.URL, Timeout: time.Second}, srv.Client()),
		ToolMaxDepth: 4,
	}
	return svc, tokens, completions, store
}

func drainTokens(t *testing.T, b *bus.FakeBus) []conversation.TokenEvent {
	t.Helper()
	var out []conversation.TokenEvent
	for b.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		d, err := b.Receive(ctx)
		cancel()
		require.NoError(t, err)
		var evt conversation.TokenEvent
		require.NoError(t, json.Unmarshal(d.Value, &evt))
		out = append(out, evt)
	}
	return out
}

func TestHandle_NewSessionNoTools(t *testing.T) {
	fake := &fakeLLM{turns: []fakeTurn{{deltas: []string{"Hi ", "there!"}}}}
	svc, tokens, completions, store := newTestService(t, fake, nil)

	req := conversation.ChatRequest{Text: "Hello", SessionID: "s1", ChatMessageID: "m1", UserID: "u1"}
	payload, _ := json.Marshal(req)
	err := svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: payload})
	require.NoError(t, err)

	toks := drainTokens(t, tokens)
	require.True(t, len(toks) >= 2)
	require.True(t, toks[len(toks)-1].EndOfStream)

	raw, found, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, found)
	var conv conversation.Conversation
	require.NoError(t, json.Unmarshal(raw, &conv))
	require.Len(t, conv.Messages, 3)
	require.Equal(t, conversation.RoleSystem, conv.Messages[0].Role)
	require.Equal(t, conversation.RoleUser, conv.Messages[1].Role)
	require.Equal(t, conversation.RoleAssistant, conv.Messages[2].Role)
	require.Equal(t, "Hi there!", conv.Messages[2].Content)

	require.Equal(t, 1, completions.Len())
}

func TestHandle_SecondTurnSameSession_NoDuplicateSystemMessage(t *testing.T) {
	fake := &fakeLLM{turns: []fakeTurn{{deltas: []string{"ok"}}, {deltas: []string{"sure"}}}}
	svc, _, _, store := newTestService(t, fake, nil)

	first := conversation.ChatRequest{Text: "Hello", SessionID: "s1", ChatMessageID: "m1", UserID: "u1"}
	p1, _ := json.Marshal(first)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: p1}))

	second := conversation.ChatRequest{Text: "And then?", SessionID: "s1", ChatMessageID: "m2", UserID: "u1"}
	p2, _ := json.Marshal(second)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: p2}))

	raw, _, _ := store.Get(context.Background(), "s1")
	var conv conversation.Conversation
	require.NoError(t, json.Unmarshal(raw, &conv))
	require.Len(t, conv.Messages, 5)
	require.Equal(t, conversation.RoleSystem, conv.Messages[0].Role)
}

func TestHandle_CrossUserIsolation(t *testing.T) {
	fake := &fakeLLM{turns: []fakeTurn{{deltas: []string{"hi"}}, {deltas: []string{"hi again"}}}}
	svc, _, _, store := newTestService(t, fake, nil)

	first := conversation.ChatRequest{Text: "Hello", SessionID: "s1", ChatMessageID: "m1", UserID: "u1"}
	p1, _ := json.Marshal(first)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: p1}))

	// Same sessionId, different userId: must not see u1's history.
	second := conversation.ChatRequest{Text: "Hi", SessionID: "s1", ChatMessageID: "m2", UserID: "u2"}
	p2, _ := json.Marshal(second)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: p2}))

	raw, _, _ := store.Get(context.Background(), "s1")
	var conv conversation.Conversation
	require.NoError(t, json.Unmarshal(raw, &conv))
	require.Equal(t, "u2", conv.UserID)
	require.Len(t, conv.Messages, 3) // fresh system+user+assistant, not 5
}

func TestHandle_ToolCallRoundTrip(t *testing.T) {
	searched := false
	memHandler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/u1/conversations/search" {
			searched = true
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			require.Equal(t, "vacation", body["search_query"])
			require.Equal(t, float64(3), body["limit"])
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"conversations":[],"total_found":0,"search_query":"vacation"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}

	fake := &fakeLLM{turns: []fakeTurn{
		{deltas: []string{"let me check"}, toolCalls: []llm.ToolCall{{ID: "call_1", Name: searchConversationHistoryTool, Args: mustJSON(map[string]any{"search_query": "vacation", "limit": 3})}}},
		{deltas: []string{"found nothing"}},
	}}
	svc, _, _, _ := newTestService(t, fake, memHandler)

	req := conversation.ChatRequest{Text: "what did I say about vacation", SessionID: "s1", ChatMessageID: "m1", UserID: "u1"}
	payload, _ := json.Marshal(req)
	require.NoError(t, svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: payload}))
	require.True(t, searched)
}

func TestHandle_MalformedRequestIsTerminal(t *testing.T) {
	fake := &fakeLLM{}
	svc, tokens, _, _ := newTestService(t, fake, nil)

	err := svc.Handle(context.Background(), bus.Delivery{SessionID: "s1", Value: []byte(`{"sessionId":"s1"}`)})
	require.Error(t, err)
	require.ErrorIs(t, err, bus.ErrMalformed)
	require.Equal(t, 0, fake.calls)
	_ = tokens
}
