// Package memoryapi is an HTTP client for the external Memory read API: the
// LLM Worker's system-prompt construction reads a user's consolidated
// profile from it, and its search_conversation_history tool queries it for
// semantically related prior turns. Both calls are bounded by a short
// per-call timeout; callers are expected to degrade gracefully on failure
// rather than fail the turn.
package memoryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tkubica12/scalable-ai-chat/internal/config"
)

// UserMemory mirrors the consolidated profile fields the Memory API returns
// for system-prompt construction.
type UserMemory struct {
	OutputPreferences    []string `json:"output_preferences"`
	PersonalPreferences  []string `json:"personal_preferences"`
	AssistantPreferences []string `json:"assistant_preferences"`
	Knowledge            []string `json:"knowledge"`
	Interests            []string `json:"interests"`
	Dislikes             []string `json:"dislikes"`
	FamilyAndFriends     []string `json:"family_and_friends"`
	WorkProfile          []string `json:"work_profile"`
	Goals                []string `json:"goals"`
}

// ConversationHit is one result of a conversation-history search.
type ConversationHit struct {
	Summary          string   `json:"summary"`
	Themes           []string `json:"themes"`
	Timestamp        string   `json:"timestamp"`
	RelevanceScore   float64  `json:"relevance_score"`
	UserSentiment    string   `json:"user_sentiment"`
	PersonsMentioned []string `json:"persons_mentioned"`
	PlacesMentioned  []string `json:"places_mentioned"`
}

// SearchResult is the search_conversation_history tool's output shape.
type SearchResult struct {
	Conversations []ConversationHit `json:"conversations"`
	TotalFound    int               `json:"total_found"`
	SearchQuery   string            `json:"search_query"`
	Message       string            `json:"message,omitempty"`
}

// Client talks to the external Memory read API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
}

func New(cfg config.MemoryAPIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
	}
}

// GetUserMemory fetches userID's consolidated profile. Callers should treat
// any error (including timeout) as "render the system prompt with empty
// memory", per the LLM Worker's system-prompt construction step.
func (c *Client) GetUserMemory(ctx context.Context, userID string) (UserMemory, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+userID+"/memory", nil)
	if err != nil {
		return UserMemory{}, fmt.Errorf("memoryapi: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UserMemory{}, fmt.Errorf("memoryapi: user memory request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return UserMemory{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return UserMemory{}, fmt.Errorf("memoryapi: user memory status %d", resp.StatusCode)
	}
	var out UserMemory
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UserMemory{}, fmt.Errorf("memoryapi: decode user memory: %w", err)
	}
	return out, nil
}

// SearchConversations implements the search_conversation_history tool
// contract: an empty query short-circuits locally; a 404 or any transport
// error is folded into SearchResult.Message rather than returned as an
// error, since the tool result is always delivered back to the model as a
// well-formed JSON string.
func (c *Client) SearchConversations(ctx context.Context, userID, query string, limit int) SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResult{Conversations: []ConversationHit{}, SearchQuery: query, Message: "Empty search query provided"}
	}
	if limit <= 0 {
		limit = 5
	}
	if limit > 10 {
		limit = 10
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, _ := json.Marshal(map[string]any{"search_query": query, "limit": limit})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/"+userID+"/conversations/search", bytes.NewReader(body))
	if err != nil {
		return SearchResult{Conversations: []ConversationHit{}, SearchQuery: query, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SearchResult{Conversations: []ConversationHit{}, SearchQuery: query, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return SearchResult{Conversations: []ConversationHit{}, SearchQuery: query, Message: "No previous conversations found"}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SearchResult{Conversations: []ConversationHit{}, SearchQuery: query, Message: fmt.Sprintf("search failed: status %d: %s", resp.StatusCode, string(msg))}
	}
	var out SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SearchResult{Conversations: []ConversationHit{}, SearchQuery: query, Message: err.Error()}
	}
	out.SearchQuery = query
	return out
}
