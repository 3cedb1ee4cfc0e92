package store

import (
	"context"
	"sync"

	"github.com/tkubica12/scalable-ai-chat/internal/conversation"
)

// FakeDocumentStore is an in-memory DocumentStore for tests.
type FakeDocumentStore struct {
	mu          sync.Mutex
	history     map[string]conversation.HistoryDocument
	convMemory  map[string]conversation.ConversationMemoryDocument
	userMemory  map[string]conversation.UserMemoryDocument
	UpsertCalls int
}

func NewFakeDocumentStore() *FakeDocumentStore {
	return &FakeDocumentStore{
		history:    make(map[string]conversation.HistoryDocument),
		convMemory: make(map[string]conversation.ConversationMemoryDocument),
		userMemory: make(map[string]conversation.UserMemoryDocument),
	}
}

func (s *FakeDocumentStore) UpsertHistory(ctx context.Context, doc conversation.HistoryDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls++
	if existing, ok := s.history[doc.SessionID]; ok && doc.Title == nil {
		doc.Title = existing.Title
	}
	s.history[doc.SessionID] = doc
	return nil
}

func (s *FakeDocumentStore) GetHistoryTitle(ctx context.Context, sessionID string) (*string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.history[sessionID]
	if !ok {
		return nil, false, nil
	}
	return doc.Title, true, nil
}

func (s *FakeDocumentStore) HistoryDoc(sessionID string) (conversation.HistoryDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.history[sessionID]
	return d, ok
}

func (s *FakeDocumentStore) UpsertConversationMemory(ctx context.Context, doc conversation.ConversationMemoryDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convMemory[doc.ID] = doc
	return nil
}

func (s *FakeDocumentStore) ConversationMemoryDoc(id string) (conversation.ConversationMemoryDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.convMemory[id]
	return d, ok
}

func (s *FakeDocumentStore) GetUserMemory(ctx context.Context, userID string) (conversation.UserMemoryDocument, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.userMemory[userID]
	if !ok {
		return conversation.ZeroUserMemory(userID), false, nil
	}
	return d, true, nil
}

func (s *FakeDocumentStore) UpsertUserMemory(ctx context.Context, doc conversation.UserMemoryDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userMemory[doc.UserID] = doc
	return nil
}

func (s *FakeDocumentStore) Close() error { return nil }
