package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/inkframe/inkframe/internal/models"
	"github.com/google/uuid"
)

// TranscriptSegment is one ASR segment: a contiguous span of words with a
// shared start/end time.
type TranscriptSegment struct {
	Text  string `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word `json:"words,omitempty"`
}

// Transcript is the corrector's unit of work: the whole sentence's ASR
// output, segmented.
type Transcript struct {
	Segments []TranscriptSegment `json:"segments"`
}

const subtitleCorrectorSystemPrompt = `You correct automatic speech recognition errors in a transcript.

You will be given the original narration text and a JSON transcript produced by an ASR system. Fix any mistranscribed words so the transcript matches what was actually said, following these five rules exactly:

1. Never add or remove segments. The corrected transcript must have exactly the same number of segments as the input.
2. Never add or remove words within a segment's "words" array. Only replace a word's "word" text; the array length must stay identical.
3. Never change any "start" or "end" timestamp. Copy them through unchanged.
4. Only fix words that are clearly ASR mistranscriptions of the original narration — do not paraphrase, rewrite, or improve the wording.
5. Respond with only the corrected JSON transcript, no commentary.`

// SubtitleCorrector fixes ASR mistranscriptions while preserving the
// word-count and timestamp invariants SubtitleRenderer depends on.
// Correction failures are never fatal: Correct always returns a usable
// transcript, falling back to the original on any problem.
type SubtitleCorrector struct {
	completer *ChatCompleter
	gateway   *Gateway
}

func NewSubtitleCorrector(completer *ChatCompleter, gateway *Gateway) *SubtitleCorrector {
	return &SubtitleCorrector{completer: completer, gateway: gateway}
}

// Correct asks the LLM to fix mistranscriptions in original against
// provider's default model (or model, when non-empty), then validates and
// merges the result segment-by-segment against the input transcript.
func (c *SubtitleCorrector) Correct(ctx context.Context, apiKeyID uuid.UUID, provider models.Provider, model, sentenceText string, transcript Transcript) Transcript {
	if model == "" {
		model = provider.DefaultModelFor()
	}

	inputJSON, err := json.Marshal(transcript)
	if err != nil {
		log.Printf("[subtitle-corrector] failed to marshal transcript, using original: %v", err)
		return transcript
	}

	userPrompt := fmt.Sprintf("Original narration:\n%s\n\nTranscript JSON:\n%s", sentenceText, string(inputJSON))

	raw, err := c.completer.Complete(ctx, c.gateway, apiKeyID, model, subtitleCorrectorSystemPrompt, userPrompt, 0.2)
	if err != nil {
		log.Printf("[subtitle-corrector] llm call failed, using original transcript: %v", err)
		return transcript
	}
	if raw == "" {
		log.Printf("[subtitle-corrector] empty llm response, using original transcript")
		return transcript
	}

	var corrected Transcript
	if err := json.Unmarshal([]byte(stripJSONFence(raw)), &corrected); err != nil {
		log.Printf("[subtitle-corrector] unparseable llm response, using original transcript: %v", err)
		return transcript
	}

	return mergeCorrected(transcript, corrected)
}

// mergeCorrected applies rule 1–3: same segment count required or the whole
// correction is rejected; per segment, the corrected words array is used
// only if its length matches the original; timestamps always come from the
// original.
func mergeCorrected(original, corrected Transcript) Transcript {
	if len(corrected.Segments) != len(original.Segments) {
		log.Printf("[subtitle-corrector] segment count mismatch (original=%d corrected=%d), using original transcript",
			len(original.Segments), len(corrected.Segments))
		return original
	}

	merged := Transcript{Segments: make([]TranscriptSegment, len(original.Segments))}
	for i, orig := range original.Segments {
		seg := orig
		corr := corrected.Segments[i]

		if len(orig.Words) > 0 {
			if len(corr.Words) == len(orig.Words) {
				seg.Words = make([]Word, len(orig.Words))
				for j, w := range orig.Words {
					seg.Words[j] = Word{Text: corr.Words[j].Text, Start: w.Start, End: w.End}
				}
			}
			// word-array length mismatch: keep original words untouched, but
			// the segment text correction still applies on its own.
			if corr.Text != "" {
				seg.Text = corr.Text
			}
		} else if corr.Text != "" {
			seg.Text = corr.Text
		}

		// start/end always come from orig — never overwritten.
		merged.Segments[i] = seg
	}

	return merged
}

func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
