package services

import (
	"context"
	"fmt"
	"io"

	"github.com/inkframe/inkframe/internal/apperr"
	"github.com/inkframe/inkframe/internal/models"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

const defaultTTSModel = "tts-1"

// TTSGenerator is the ProviderGateway's tts capability for every
// OpenAI-wire-compatible variant (OpenAICompatible, DeepSeek, Volcengine,
// Custom, Siliconflow) — same go-openai client shape as ChatCompleter,
// pointed at the same base URL, just a different endpoint. AudioStage calls
// this once per sentence to produce the sentence's narration audio.
type TTSGenerator struct {
	client *openai.Client
}

// NewTTSGenerator builds a go-openai client configured for the given
// provider variant, the same base-URL selection ChatCompleter uses.
func NewTTSGenerator(provider models.Provider, apiKey string, baseURL *string) *TTSGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != nil && *baseURL != "" {
		cfg.BaseURL = *baseURL
	} else if defaultURL := defaultBaseURLFor(provider); defaultURL != "" {
		cfg.BaseURL = defaultURL
	}
	return &TTSGenerator{client: openai.NewClientWithConfig(cfg)}
}

// Generate synthesizes speech for text through gw's concurrency permit and
// backoff for apiKeyID. voice is the provider's voice identifier (e.g.
// "alloy", "nova"); model defaults to "tts-1" when empty. Returns raw audio
// bytes (mp3).
func (g *TTSGenerator) Generate(ctx context.Context, gw *Gateway, apiKeyID uuid.UUID, model, voice, text string) ([]byte, error) {
	if model == "" {
		model = defaultTTSModel
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}

	var audio []byte

	err := gw.Call(ctx, apiKeyID, func(ctx context.Context) error {
		resp, err := g.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(model),
			Input:          text,
			Voice:          openai.SpeechVoice(voice),
			ResponseFormat: openai.SpeechResponseFormatMp3,
		})
		if err != nil {
			if looksRateLimited(err) {
				return apperr.RateLimitedErr("tts provider rate limited: %v", err)
			}
			return apperr.ExternalErr(err, "tts request failed")
		}
		defer resp.Close()

		data, err := io.ReadAll(resp)
		if err != nil {
			return apperr.ExternalErr(err, "failed to read tts response body")
		}
		if len(data) == 0 {
			return apperr.ExternalErr(fmt.Errorf("empty audio"), "tts provider returned 0 bytes")
		}
		audio = data
		return nil
	})

	return audio, err
}
