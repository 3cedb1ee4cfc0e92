// Package conversation holds the shared data model for the session cache,
// the history/memory documents, and the bus events that flow between workers.
package conversation

import "time"

// Role is the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single function-call the assistant asked to invoke.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Args string `json:"args"`
}

// Message is one turn element in a Conversation's message list.
type Message struct {
	MessageID  string     `json:"messageId"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Conversation is the cache-resident, per-session state.
type Conversation struct {
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Title        *string   `json:"title"`
	Messages     []Message `json:"messages"`
}

// HasSystemMessage reports whether the first message is the pinned system prompt.
func (c *Conversation) HasSystemMessage() bool {
	return len(c.Messages) > 0 && c.Messages[0].Role == RoleSystem
}

// HistoryDocument is the durable, sessionId-partitioned persistence of a Conversation.
type HistoryDocument struct {
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	PersistedAt  time.Time `json:"persistedAt"`
	Title        *string   `json:"title"`
	Messages     []Message `json:"messages"`
}

// Sentiment is the coarse emotional read of a conversation, as classified by the LLM.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ConversationMemoryDocument is a per-session semantic summary, rewritten on
// every turn and partitioned by userId.
type ConversationMemoryDocument struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"sessionId"`
	UserID          string    `json:"userId"`
	Summary         string    `json:"summary"`
	Themes          []string  `json:"themes"`
	Persons         []string  `json:"persons"`
	Places          []string  `json:"places"`
	UserSentiment   Sentiment `json:"user_sentiment"`
	Timestamp       time.Time `json:"timestamp"`
	VectorEmbedding []float32 `json:"vector_embedding"`
}

// UserMemoryDocument is the consolidated, per-user profile. Every array field is
// replaced in full by whatever the extractor last returned for it, never merged
// in-process.
type UserMemoryDocument struct {
	UserID               string    `json:"userId"`
	OutputPreferences    []string  `json:"output_preferences"`
	PersonalPreferences  []string  `json:"personal_preferences"`
	AssistantPreferences []string  `json:"assistant_preferences"`
	Knowledge            []string  `json:"knowledge"`
	Interests            []string  `json:"interests"`
	Dislikes             []string  `json:"dislikes"`
	FamilyAndFriends     []string  `json:"family_and_friends"`
	WorkProfile          []string  `json:"work_profile"`
	Goals                []string  `json:"goals"`
	Timestamp            time.Time `json:"timestamp"`
}

// ZeroUserMemory returns a freshly initialized, empty profile for userID.
func ZeroUserMemory(userID string) UserMemoryDocument {
	return UserMemoryDocument{UserID: userID}
}

// ChatRequest is the Event on the user-messages topic.
type ChatRequest struct {
	Text          string `json:"text"`
	SessionID     string `json:"sessionId"`
	ChatMessageID string `json:"chatMessageId"`
	UserID        string `json:"userId"`
}

// Valid reports whether all required fields of a ChatRequest are present.
func (r ChatRequest) Valid() bool {
	return r.Text != "" && r.SessionID != "" && r.ChatMessageID != ""
}

// TokenEvent is one chunk (or the closing sentinel) on the token-streams topic.
type TokenEvent struct {
	SessionID     string `json:"sessionId"`
	ChatMessageID string `json:"chatMessageId"`
	Token         string `json:"token,omitempty"`
	EndOfStream   bool   `json:"end_of_stream,omitempty"`
}

// CompletionEvent is the Event on the message-completed topic.
type CompletionEvent struct {
	SessionID     string    `json:"sessionId"`
	UserID        string    `json:"userId"`
	ChatMessageID string    `json:"chatMessageId"`
	CompletedAt   time.Time `json:"completedAt"`
	EventType     string    `json:"eventType"`
}

// NewCompletionEvent builds a well-formed Completion event.
func NewCompletionEvent(sessionID, userID, chatMessageID string, completedAt time.Time) CompletionEvent {
	return CompletionEvent{
		SessionID:     sessionID,
		UserID:        userID,
		ChatMessageID: chatMessageID,
		CompletedAt:   completedAt,
		EventType:     "message_completed",
	}
}
