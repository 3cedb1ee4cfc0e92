// Package config loads worker configuration from the environment, following
// the flat env-var-driven pattern used throughout this codebase.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// KafkaConfig describes how to reach the Message Bus.
type KafkaConfig struct {
	Brokers              string
	UserMessagesTopic    string
	UserMessagesGroup    string
	TokenStreamsTopic    string
	MessageCompletedTopic string
	HistoryGroup         string
	MemoryGroup          string
}

func (k KafkaConfig) BrokerList() []string {
	parts := strings.Split(k.Brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RedisConfig describes how to reach the Session Cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
	TTL      time.Duration
}

// PostgresConfig describes how to reach the Document Store.
type PostgresConfig struct {
	DSN                     string
	HistoryTable            string
	ConversationMemoryTable string
	UserMemoryTable         string
}

// LLMConfig describes the chat-completions and embeddings service.
type LLMConfig struct {
	Provider            string // "openai" or "anthropic"
	APIKey              string
	BaseURL             string
	ChatModel           string
	EmbeddingsModel     string
	EmbeddingDimensions int
	ToolLoopMaxDepth    int
}

// MemoryAPIConfig describes the external Memory read API used by the LLM worker's
// system-prompt construction and search_conversation_history tool.
type MemoryAPIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ObsConfig describes the OpenTelemetry exporter endpoint.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string
}

// Config is the full set of settings shared by all three worker binaries; each
// main uses the subset relevant to its role but the struct is common so that
// the loader logic lives in one place.
type Config struct {
	Kafka              KafkaConfig
	Redis              RedisConfig
	Postgres           PostgresConfig
	LLM                LLMConfig
	MemoryAPI          MemoryAPIConfig
	Obs                ObsConfig
	LogPath            string
	LogLevel           string
	MaxConcurrency     int
	RecordMemoryContent bool
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func getenvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Load reads configuration from the environment, overlaying a local .env file
// when present (development convenience; absent in production images).
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Kafka: KafkaConfig{
			Brokers:               firstNonEmpty(os.Getenv("KAFKA_BROKERS"), os.Getenv("KAFKA_BOOTSTRAP_SERVERS"), "localhost:9092"),
			UserMessagesTopic:     getenv("KAFKA_USER_MESSAGES_TOPIC", "user-messages"),
			UserMessagesGroup:     getenv("KAFKA_USER_MESSAGES_SUBSCRIPTION", "user-messages-sub"),
			TokenStreamsTopic:     getenv("KAFKA_TOKEN_STREAMS_TOPIC", "token-streams"),
			MessageCompletedTopic: getenv("KAFKA_MESSAGE_COMPLETED_TOPIC", "message-completed"),
			HistoryGroup:          getenv("KAFKA_HISTORY_SUBSCRIPTION", "history"),
			MemoryGroup:           getenv("KAFKA_MEMORY_SUBSCRIPTION", "memory"),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getenvInt("REDIS_DB", 0),
			TLS:      getenvBool("REDIS_TLS", false),
			TTL:      getenvDuration("SESSION_CACHE_TTL", 24*time.Hour),
		},
		Postgres: PostgresConfig{
			DSN:                     getenv("POSTGRES_DSN", "postgres://localhost:5432/chat"),
			HistoryTable:            getenv("POSTGRES_HISTORY_TABLE", "history"),
			ConversationMemoryTable: getenv("POSTGRES_CONVERSATION_MEMORY_TABLE", "memory_conversations"),
			UserMemoryTable:         getenv("POSTGRES_USER_MEMORY_TABLE", "memory_user_profiles"),
		},
		LLM: LLMConfig{
			Provider:            getenv("LLM_PROVIDER", "openai"),
			APIKey:              os.Getenv("LLM_API_KEY"),
			BaseURL:             os.Getenv("LLM_BASE_URL"),
			ChatModel:           getenv("LLM_CHAT_MODEL", "gpt-4o-mini"),
			EmbeddingsModel:     getenv("LLM_EMBEDDINGS_MODEL", "text-embedding-3-small"),
			EmbeddingDimensions: getenvInt("LLM_EMBEDDING_DIMENSIONS", 1536),
			ToolLoopMaxDepth:    getenvInt("LLM_TOOL_LOOP_MAX_DEPTH", 4),
		},
		MemoryAPI: MemoryAPIConfig{
			BaseURL: getenv("MEMORY_API_BASE_URL", "http://localhost:8081"),
			Timeout: getenvDuration("MEMORY_API_TIMEOUT", 2*time.Second),
		},
		Obs: ObsConfig{
			ServiceName:    getenv("OTEL_SERVICE_NAME", "scalable-ai-chat-worker"),
			ServiceVersion: getenv("OTEL_SERVICE_VERSION", "dev"),
			Environment:    getenv("OTEL_ENVIRONMENT", "development"),
			OTLP:           os.Getenv("OTLP_ENDPOINT"),
		},
		LogPath:             os.Getenv("LOG_PATH"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		MaxConcurrency:      getenvInt("MAX_CONCURRENCY", 10),
		RecordMemoryContent: getenvBool("RECORD_MEMORY_CONTENT", false),
	}

	return cfg, nil
}
