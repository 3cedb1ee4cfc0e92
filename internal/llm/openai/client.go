// Package openai adapts the OpenAI Chat Completions API to the portable
// llm.Provider contract: non-streaming and streaming chat, strict JSON-schema
// structured output, and batch embeddings.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/tkubica12/scalable-ai-chat/internal/config"
	"github.com/tkubica12/scalable-ai-chat/internal/llm"
	"github.com/tkubica12/scalable-ai-chat/internal/observability"
)

// Client implements llm.Provider against the OpenAI Chat Completions and
// Embeddings APIs.
type Client struct {
	sdk             sdk.Client
	model           string
	embeddingsModel string
}

// New constructs a Client from config.LLMConfig. httpClient, when non-nil, is
// reused so the caller's OTel instrumentation and connection pooling apply to
// every outbound call.
func New(cfg config.LLMConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		sdk:             sdk.NewClient(opts...),
		model:           cfg.ChatModel,
		embeddingsModel: cfg.EmbeddingsModel,
	}
}

func (c *Client) buildParams(msgs []llm.Message, tools []llm.ToolSchema, opts llm.ChatOptions) sdk.ChatCompletionNewParams {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: AdaptMessages(msgs),
	}
	if len(tools) > 0 {
		params.Tools = AdaptSchemas(tools)
	}
	if opts.Temperature != nil {
		params.Temperature = sdk.Float(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(opts.MaxTokens))
	}
	if opts.ResponseSchema != nil {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &sdk.ResponseFormatJSONSchemaParam{
				JSONSchema: sdk.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   opts.ResponseSchema.Name,
					Schema: opts.ResponseSchema.Schema,
					Strict: sdk.Bool(opts.ResponseSchema.Strict),
				},
			},
		}
	}
	return params
}

// Chat performs a single non-streaming completion.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, opts llm.ChatOptions) (llm.Message, error) {
	log := observability.LoggerWithTrace(ctx)
	params := c.buildParams(msgs, tools, opts)

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI Chat", string(params.Model), len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("chat_completion_error")
		span.RecordError(err)
		return llm.Message{}, err
	}
	if len(comp.Choices) == 0 {
		return llm.Message{}, errEmptyCompletion
	}
	out := llm.Message{Role: "assistant", Content: comp.Choices[0].Message.Content}
	for _, tc := range comp.Choices[0].Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	promptTokens, completionTokens := int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens)
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, int(comp.Usage.TotalTokens))
	llm.RecordTokenMetrics(ctx, string(params.Model), promptTokens, completionTokens)
	llm.LogRedactedResponse(ctx, out)
	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).Msg("chat_completion_ok")
	return out, nil
}

// ChatStream performs a streaming completion, reassembling tool-call deltas by
// their stable index (never by id, which may arrive only on a later chunk).
func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, opts llm.ChatOptions, h llm.StreamHandler) error {
	log := observability.LoggerWithTrace(ctx)
	params := c.buildParams(msgs, tools, opts)
	params.StreamOptions.IncludeUsage = sdk.Bool(true)

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI ChatStream", string(params.Model), len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	start := time.Now()
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	// Reassembled by tc.Index, the API-provided stable position, never the
	// range-iteration index and never tc.ID (which may arrive on a later chunk
	// than the one that first introduces this tool call).
	toolCalls := make(map[int]*llm.ToolCall)
	toolCallsFlushed := false
	var promptTokens, completionTokens, totalTokens int

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			if chunk.Usage.TotalTokens > 0 {
				promptTokens = int(chunk.Usage.PromptTokens)
				completionTokens = int(chunk.Usage.CompletionTokens)
				totalTokens = int(chunk.Usage.TotalTokens)
			}
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			h.OnDelta(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			if toolCalls[idx] == nil {
				toolCalls[idx] = &llm.ToolCall{ID: tc.ID}
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args = json.RawMessage(string(toolCalls[idx].Args) + tc.Function.Arguments)
			}
		}
		if chunk.Choices[0].FinishReason != "" && !toolCallsFlushed {
			for _, tc := range toolCalls {
				if tc != nil && tc.Name != "" {
					h.OnToolCall(*tc)
				}
			}
			toolCallsFlushed = true
		}
	}

	err := stream.Err()
	dur := time.Since(start)
	base := log.With().Str("model", string(params.Model)).Dur("duration", dur).
		Int("prompt_tokens", promptTokens).Int("completion_tokens", completionTokens).Logger()
	if err != nil {
		base.Error().Err(err).Msg("chat_stream_error")
		span.RecordError(err)
		return err
	}
	if !toolCallsFlushed {
		for _, tc := range toolCalls {
			if tc != nil && tc.Name != "" {
				h.OnToolCall(*tc)
			}
		}
	}
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, totalTokens)
	llm.RecordTokenMetrics(ctx, string(params.Model), promptTokens, completionTokens)
	base.Debug().Msg("chat_stream_ok")
	return nil
}

// Embed requests a fixed-dimension vector per input string.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	log := observability.LoggerWithTrace(ctx)
	params := sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(c.embeddingsModel),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
	}
	resp, err := c.sdk.Embeddings.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("model", c.embeddingsModel).Int("inputs", len(inputs)).Msg("embeddings_error")
		return nil, err
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[int(d.Index)] = vec
	}
	return out, nil
}

var errEmptyCompletion = &emptyCompletionError{}

type emptyCompletionError struct{}

func (e *emptyCompletionError) Error() string { return "openai: completion returned no choices" }
