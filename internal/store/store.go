// Package store persists the three durable document kinds that survive a
// session cache TTL expiry: history (one per session), conversation memory
// (one per turn), and user memory (one per user, replace-not-merge).
package store

import (
	"context"

	"github.com/tkubica12/scalable-ai-chat/internal/conversation"
)

// VectorResult is one similarity-search hit: the conversation-memory
// document id and the session it came from, so a caller can join back to the
// document store without a second generic metadata lookup.
type VectorResult struct {
	ID        string
	Score     float64
	SessionID string
}

// VectorIndex is the portable similarity-search contract for
// conversation-memory embeddings. Every embedding in this system belongs to
// exactly one user and one session, so those are first-class parameters
// rather than a generic metadata map: similarity search is always scoped to
// the requesting user's own history (the Memory API never searches across
// users), and the session id is the only attribute callers join back on.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, userID, sessionID string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, userID string) ([]VectorResult, error)
	Dimension() int
	Close() error
}

// DocumentStore is the portable document-persistence contract used by all
// three workers: idempotent upserts keyed so that at-least-once delivery
// converges to the same stored state as a single successful write.
type DocumentStore interface {
	// UpsertHistory replaces the history document for doc.SessionID, keeping
	// the stored title when doc.Title is nil.
	UpsertHistory(ctx context.Context, doc conversation.HistoryDocument) error
	// GetHistoryTitle returns the current title, or nil if the document is
	// absent or has none yet.
	GetHistoryTitle(ctx context.Context, sessionID string) (*string, bool, error)

	// UpsertConversationMemory replaces the conversation-memory document keyed
	// by doc.ID (`{sessionId}_{userId}`).
	UpsertConversationMemory(ctx context.Context, doc conversation.ConversationMemoryDocument) error

	// GetUserMemory returns the stored profile for userID, or a zero profile
	// with found=false if none exists yet.
	GetUserMemory(ctx context.Context, userID string) (conversation.UserMemoryDocument, bool, error)
	// UpsertUserMemory replaces the stored profile for doc.UserID in full.
	UpsertUserMemory(ctx context.Context, doc conversation.UserMemoryDocument) error

	Close() error
}
