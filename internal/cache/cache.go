// Package cache stores the ephemeral per-session conversation view that the
// LLM Worker writes and the History/Memory Workers read, keyed by
// session:{sessionId} with a sliding TTL refreshed on every write.
package cache

import "context"

// Store is the portable session-cache contract.
type Store interface {
	// Get returns the raw JSON conversation document for sessionID, or
	// (nil, false, nil) if the key is absent or expired.
	Get(ctx context.Context, sessionID string) ([]byte, bool, error)
	// Set writes payload under sessionID, resetting the TTL.
	Set(ctx context.Context, sessionID string, payload []byte) error
	Close() error
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}
