package services

import (
	"context"
	"fmt"

	"github.com/inkframe/inkframe/internal/apperr"
	"github.com/inkframe/inkframe/internal/models"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// ChatCompleter is the ProviderGateway's chat_completion capability. Every
// OpenAI-wire-compatible variant (OpenAICompatible, DeepSeek, Volcengine,
// Custom, Siliconflow) implements it by pointing go-openai at a different
// base URL — the request/response shape never changes, only the host and
// default model do.
type ChatCompleter struct {
	client *openai.Client
}

// NewChatCompleter builds a go-openai client configured for the given
// provider variant. baseURL overrides the variant's default endpoint when
// non-empty (used by ProviderCustom, which has no fixed endpoint of its
// own).
func NewChatCompleter(provider models.Provider, apiKey string, baseURL *string) *ChatCompleter {
	cfg := openai.DefaultConfig(apiKey)

	if baseURL != nil && *baseURL != "" {
		cfg.BaseURL = *baseURL
	} else if defaultURL := defaultBaseURLFor(provider); defaultURL != "" {
		cfg.BaseURL = defaultURL
	}

	return &ChatCompleter{client: openai.NewClientWithConfig(cfg)}
}

// defaultBaseURLFor returns the wire endpoint for provider variants that
// have one fixed home; OpenAICompatible and Custom rely on the caller's
// base_url instead.
func defaultBaseURLFor(provider models.Provider) string {
	switch provider {
	case models.ProviderDeepSeek:
		return "https://api.deepseek.com/v1"
	case models.ProviderVolcengine:
		return "https://ark.cn-beijing.volces.com/api/v3"
	case models.ProviderSiliconflow:
		return "https://api.siliconflow.cn/v1"
	default:
		return ""
	}
}

// Complete runs a single system+user chat completion through gw's
// concurrency permit and 429 backoff for apiKeyID, returning the first
// choice's message content.
func (c *ChatCompleter) Complete(ctx context.Context, gw *Gateway, apiKeyID uuid.UUID, model, systemPrompt, userPrompt string, temperature float32) (string, error) {
	var content string

	err := gw.Call(ctx, apiKeyID, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			Temperature: temperature,
		})
		if err != nil {
			if looksRateLimited(err) {
				return apperr.RateLimitedErr("provider rate limited: %v", err)
			}
			return apperr.ExternalErr(err, "chat completion request failed")
		}
		if len(resp.Choices) == 0 {
			return apperr.ExternalErr(fmt.Errorf("empty choices"), "chat completion returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})

	return content, err
}
