package services

import (
	"context"
	"fmt"
	"log"

	"github.com/inkframe/inkframe/internal/apperr"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

const defaultImageModel = "gemini-3-pro-image-preview"

// ImageGenerator is the ProviderGateway's image capability for the
// gemini_image provider variant. Unlike the chat-completion variants it
// does not speak the OpenAI wire protocol, so it goes through the genai SDK
// directly rather than ChatCompleter.
type ImageGenerator struct {
	apiKey string
	model  string
}

func NewImageGenerator(apiKey string) *ImageGenerator {
	return &ImageGenerator{apiKey: apiKey, model: defaultImageModel}
}

// StyleReference is an optional reference image that steers the generated
// image toward a consistent visual style across a chapter's sentences.
type StyleReference struct {
	Data     []byte
	MIMEType string
}

// Generate produces one image from prompt, optionally anchored to a style
// reference image, through gw's concurrency permit and backoff for
// apiKeyID. Returns the raw image bytes and the MIME type reported by the
// model.
func (g *ImageGenerator) Generate(ctx context.Context, gw *Gateway, apiKeyID uuid.UUID, prompt string, ref *StyleReference) ([]byte, string, error) {
	var (
		imageData []byte
		mimeType  string
	)

	err := gw.Call(ctx, apiKeyID, func(ctx context.Context) error {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return apperr.TransportErr(err, "failed to create genai client")
		}

		parts := []*genai.Part{{Text: prompt}}
		if ref != nil && len(ref.Data) > 0 {
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: ref.MIMEType, Data: ref.Data},
			})
		}

		contents := []*genai.Content{{Role: "user", Parts: parts}}
		config := &genai.GenerateContentConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		}

		resp, err := client.Models.GenerateContent(ctx, g.model, contents, config)
		if err != nil {
			if looksRateLimited(err) {
				return apperr.RateLimitedErr("image provider rate limited: %v", err)
			}
			return apperr.ExternalErr(err, "image generation request failed")
		}

		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return apperr.ExternalErr(fmt.Errorf("no candidates"), "image generation returned no candidates")
		}

		for _, part := range resp.Candidates[0].Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				imageData = part.InlineData.Data
				mimeType = part.InlineData.MIMEType
				return nil
			}
		}

		return apperr.ExternalErr(fmt.Errorf("no inline image data"), "image generation returned no image data")
	})

	if err != nil {
		return nil, "", err
	}

	log.Printf("[image] generated %d bytes (%s)", len(imageData), mimeType)
	return imageData, mimeType, nil
}
