// Package providers selects a concrete llm.Provider implementation from
// worker configuration.
package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tkubica12/scalable-ai-chat/internal/config"
	"github.com/tkubica12/scalable-ai-chat/internal/llm"
	"github.com/tkubica12/scalable-ai-chat/internal/llm/anthropic"
	"github.com/tkubica12/scalable-ai-chat/internal/llm/openai"
)

// New constructs the llm.Provider named by cfg.Provider ("openai" or
// "anthropic"). httpClient, when non-nil, is shared with the provider so
// OTel instrumentation and connection pooling apply uniformly.
func New(cfg config.LLMConfig, httpClient *http.Client) (llm.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return openai.New(cfg, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg, httpClient), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
