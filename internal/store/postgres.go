package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tkubica12/scalable-ai-chat/internal/config"
	"github.com/tkubica12/scalable-ai-chat/internal/conversation"
)

// PostgresStore implements DocumentStore against three Postgres tables:
// history (one row per session), conversation memory (one row per session
// and user, rewritten every turn),
// and user memory (one row per user, replaced in full on every write).
type PostgresStore struct {
	pool         *pgxpool.Pool
	historyTable string
	convMemTable string
	userMemTable string
}

// NewPostgresStore opens (but does not itself dial) against pool and ensures
// all three tables exist.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, cfg config.PostgresConfig) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:         pool,
		historyTable: identifier(cfg.HistoryTable),
		convMemTable: identifier(cfg.ConversationMemoryTable),
		userMemTable: identifier(cfg.UserMemoryTable),
	}
	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

// identifier defends against accidental SQL injection through misconfigured
// table-name env vars by keeping only characters valid in an unquoted
// Postgres identifier.
func identifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *PostgresStore) init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    session_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    last_activity TIMESTAMPTZ NOT NULL,
    persisted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    title TEXT,
    messages JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    summary TEXT NOT NULL,
    themes JSONB NOT NULL DEFAULT '[]',
    persons JSONB NOT NULL DEFAULT '[]',
    places JSONB NOT NULL DEFAULT '[]',
    user_sentiment TEXT NOT NULL,
    ts TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %s_user_idx ON %s(user_id);
CREATE TABLE IF NOT EXISTS %s (
    user_id TEXT PRIMARY KEY,
    output_preferences JSONB NOT NULL DEFAULT '[]',
    personal_preferences JSONB NOT NULL DEFAULT '[]',
    assistant_preferences JSONB NOT NULL DEFAULT '[]',
    knowledge JSONB NOT NULL DEFAULT '[]',
    interests JSONB NOT NULL DEFAULT '[]',
    dislikes JSONB NOT NULL DEFAULT '[]',
    family_and_friends JSONB NOT NULL DEFAULT '[]',
    work_profile JSONB NOT NULL DEFAULT '[]',
    goals JSONB NOT NULL DEFAULT '[]',
    ts TIMESTAMPTZ NOT NULL
);
`, s.historyTable, s.convMemTable, s.convMemTable, s.convMemTable, s.userMemTable))
	return err
}

func (s *PostgresStore) UpsertHistory(ctx context.Context, doc conversation.HistoryDocument) error {
	messages, err := json.Marshal(doc.Messages)
	if err != nil {
		return fmt.Errorf("store: marshal history messages: %w", err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (session_id, user_id, created_at, last_activity, persisted_at, title, messages)
VALUES ($1, $2, $3, $4, NOW(), $5, $6)
ON CONFLICT (session_id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    last_activity = EXCLUDED.last_activity,
    persisted_at = NOW(),
    title = COALESCE(EXCLUDED.title, %s.title),
    messages = EXCLUDED.messages
`, s.historyTable, s.historyTable), doc.SessionID, doc.UserID, doc.CreatedAt, doc.LastActivity, doc.Title, messages)
	if err != nil {
		return fmt.Errorf("store: upsert history %s: %w", doc.SessionID, err)
	}
	return nil
}

func (s *PostgresStore) GetHistoryTitle(ctx context.Context, sessionID string) (*string, bool, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT title FROM %s WHERE session_id = $1`, s.historyTable), sessionID)
	var title *string
	if err := row.Scan(&title); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: get history title %s: %w", sessionID, err)
	}
	return title, true, nil
}

func (s *PostgresStore) UpsertConversationMemory(ctx context.Context, doc conversation.ConversationMemoryDocument) error {
	themes, _ := json.Marshal(doc.Themes)
	persons, _ := json.Marshal(doc.Persons)
	places, _ := json.Marshal(doc.Places)
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (id, session_id, user_id, summary, themes, persons, places, user_sentiment, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    summary = EXCLUDED.summary,
    themes = EXCLUDED.themes,
    persons = EXCLUDED.persons,
    places = EXCLUDED.places,
    user_sentiment = EXCLUDED.user_sentiment,
    ts = EXCLUDED.ts
`, s.convMemTable), doc.ID, doc.SessionID, doc.UserID, doc.Summary, themes, persons, places, string(doc.UserSentiment), doc.Timestamp)
	if err != nil {
		return fmt.Errorf("store: upsert conversation memory %s: %w", doc.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetUserMemory(ctx context.Context, userID string) (conversation.UserMemoryDocument, bool, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT output_preferences, personal_preferences, assistant_preferences, knowledge,
       interests, dislikes, family_and_friends, work_profile, goals, ts
FROM %s WHERE user_id = $1`, s.userMemTable), userID)

	var outputPrefs, personalPrefs, assistantPrefs, knowledge, interests, dislikes, family, work, goals []byte
	doc := conversation.UserMemoryDocument{UserID: userID}
	if err := row.Scan(&outputPrefs, &personalPrefs, &assistantPrefs, &knowledge, &interests, &dislikes, &family, &work, &goals, &doc.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return conversation.ZeroUserMemory(userID), false, nil
		}
		return conversation.UserMemoryDocument{}, false, fmt.Errorf("store: get user memory %s: %w", userID, err)
	}
	for _, pair := range []struct {
		raw []byte
		dst *[]string
	}{
		{outputPrefs, &doc.OutputPreferences},
		{personalPrefs, &doc.PersonalPreferences},
		{assistantPrefs, &doc.AssistantPreferences},
		{knowledge, &doc.Knowledge},
		{interests, &doc.Interests},
		{dislikes, &doc.Dislikes},
		{family, &doc.FamilyAndFriends},
		{work, &doc.WorkProfile},
		{goals, &doc.Goals},
	} {
		_ = json.Unmarshal(pair.raw, pair.dst)
	}
	return doc, true, nil
}

func (s *PostgresStore) UpsertUserMemory(ctx context.Context, doc conversation.UserMemoryDocument) error {
	fields := []struct {
		name string
		val  []string
	}{
		{"output_preferences", doc.OutputPreferences},
		{"personal_preferences", doc.PersonalPreferences},
		{"assistant_preferences", doc.AssistantPreferences},
		{"knowledge", doc.Knowledge},
		{"interests", doc.Interests},
		{"dislikes", doc.Dislikes},
		{"family_and_friends", doc.FamilyAndFriends},
		{"work_profile", doc.WorkProfile},
		{"goals", doc.Goals},
	}
	marshaled := make([][]byte, len(fields))
	for i, f := range fields {
		v := f.val
		if v == nil {
			v = []string{}
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("store: marshal user memory field %s: %w", f.name, err)
		}
		marshaled[i] = b
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (user_id, output_preferences, personal_preferences, assistant_preferences,
                 knowledge, interests, dislikes, family_and_friends, work_profile, goals, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (user_id) DO UPDATE SET
    output_preferences = EXCLUDED.output_preferences,
    personal_preferences = EXCLUDED.personal_preferences,
    assistant_preferences = EXCLUDED.assistant_preferences,
    knowledge = EXCLUDED.knowledge,
    interests = EXCLUDED.interests,
    dislikes = EXCLUDED.dislikes,
    family_and_friends = EXCLUDED.family_and_friends,
    work_profile = EXCLUDED.work_profile,
    goals = EXCLUDED.goals,
    ts = EXCLUDED.ts
`, s.userMemTable), doc.UserID, marshaled[0], marshaled[1], marshaled[2], marshaled[3],
		marshaled[4], marshaled[5], marshaled[6], marshaled[7], marshaled[8], doc.Timestamp)
	if err != nil {
		return fmt.Errorf("store: upsert user memory %s: %w", doc.UserID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
