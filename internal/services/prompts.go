package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/inkframe/inkframe/internal/models"
	"github.com/google/uuid"
)

// PromptGenerator is PromptStage's chat-completion capability: it turns one
// sentence's narration text into a still-image generation prompt, styled by
// a chapter-level preset so a chapter's sentences render with a consistent
// visual identity.
type PromptGenerator struct {
	completer *ChatCompleter
}

func NewPromptGenerator(completer *ChatCompleter) *PromptGenerator {
	return &PromptGenerator{completer: completer}
}

const promptGeneratorSystemPrompt = `You write prompts for a text-to-image model that illustrates narrated stories one sentence at a time.

Given one sentence of narration and a style preset, write a single image-generation prompt describing what the illustration for that sentence should show: subject, setting, mood, lighting, composition. Stay faithful to what the sentence actually describes — do not invent characters or events it doesn't mention.

Respond with only the prompt text, no preamble, no quotation marks, no commentary.`

// Generate produces one sentence's image_prompt. stylePreset is free-form
// guidance ("watercolor storybook illustration", "flat vector minimalism")
// folded into the user prompt; it may be empty.
func (g *PromptGenerator) Generate(ctx context.Context, gw *Gateway, apiKeyID uuid.UUID, provider models.Provider, model, sentenceText, stylePreset string) (string, error) {
	if model == "" {
		model = provider.DefaultModelFor()
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Sentence: %s\n", sentenceText)
	if stylePreset != "" {
		fmt.Fprintf(&user, "Style preset: %s\n", stylePreset)
	}

	prompt, err := g.completer.Complete(ctx, gw, apiKeyID, model, promptGeneratorSystemPrompt, user.String(), 0.7)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(prompt), nil
}
