package llm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tkubica12/scalable-ai-chat/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	mu                   sync.RWMutex
	enablePayloadLogging = false
	truncateBytes        = 0 // 0 means no truncation
)

// ConfigureLogging sets global behavior for prompt/response logging.
// Call this once at startup with values from the main config.
func ConfigureLogging(enable bool, truncate int) {
	mu.Lock()
	defer mu.Unlock()
	enablePayloadLogging = enable
	truncateBytes = truncate
}

// StartRequestSpan starts a tracer span for an LLM request and sets common attributes.
func StartRequestSpan(ctx context.Context, operation string, model string, tools int, messages int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("internal/llm").Start(ctx, operation)
	span.SetAttributes(attribute.String("llm.model", model), attribute.Int("llm.tools", tools), attribute.Int("llm.messages", messages))
	return ctx, span
}

func shouldLog() (bool, int) {
	mu.RLock()
	defer mu.RUnlock()
	return enablePayloadLogging, truncateBytes
}

// LogRedactedPrompt logs a redacted copy of the prompt/messages at debug level.
// If payload logging is disabled (the default, matching RECORD_MEMORY_CONTENT=false)
// this is a no-op.
func LogRedactedPrompt(ctx context.Context, msgs []Message) {
	logRedacted(ctx, "llm_request", "prompt", msgs)
}

// LogRedactedResponse logs a redacted copy of the response payload at debug level.
func LogRedactedResponse(ctx context.Context, resp any) {
	logRedacted(ctx, "llm_response", "response", resp)
}

func logRedacted(ctx context.Context, event, field string, payload any) {
	ok, t := shouldLog()
	if !ok {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	red := observability.RedactJSON(b)
	log := observability.LoggerWithTrace(ctx)
	if t > 0 && len(red) > t {
		preview := map[string]any{"truncated": true, "preview": string(red[:t])}
		if pb, err := json.Marshal(preview); err == nil {
			red = pb
		}
	}
	tmp := log.With().RawJSON(field, red).Logger()
	tmp.Debug().Msg(event)
}

// RecordTokenAttributes sets token count attributes on the provided span.
func RecordTokenAttributes(span trace.Span, promptTokens, completionTokens, totalTokens int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", promptTokens),
		attribute.Int("llm.completion_tokens", completionTokens),
		attribute.Int("llm.total_tokens", totalTokens),
	)
}

// RecordTokenMetrics records token usage for a model via the global OTel meter.
func RecordTokenMetrics(ctx context.Context, model string, promptTokens, completionTokens int) {
	if model == "" || (promptTokens == 0 && completionTokens == 0) {
		return
	}
	m := otel.Meter("internal/llm")
	attrs := otelmetric.WithAttributes(attribute.String("llm.model", model))
	if c, err := m.Int64Counter("llm.prompt_tokens"); err == nil && promptTokens > 0 {
		c.Add(ctx, int64(promptTokens), attrs)
	}
	if c, err := m.Int64Counter("llm.completion_tokens"); err == nil && completionTokens > 0 {
		c.Add(ctx, int64(completionTokens), attrs)
	}
}
