package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/inkframe/inkframe/internal/apperr"
	openai "github.com/sashabaranov/go-openai"
)

// Transcriber is the Whisper-backed word-level-timestamp capability used to
// align a sentence's synthesized audio with its subtitle track before
// SubtitleCorrector and SubtitleRenderer run.
type Transcriber struct {
	client *openai.Client
}

func NewTranscriber(apiKey string) *Transcriber {
	return &Transcriber{client: openai.NewClient(apiKey)}
}

// Word is a single transcribed word with its precise start/end timing.
type Word struct {
	Text  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcribe sends audio to Whisper and returns word-level timestamps. The
// caller is responsible for any time offset the audio carries (e.g.
// prepended silence) — Transcribe reports timestamps relative to the start
// of audioData.
func (t *Transcriber) Transcribe(ctx context.Context, audioData []byte, language string) ([]Word, error) {
	if language == "" {
		language = "en"
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audioData),
		FilePath: "audio.mp3",
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: language,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, apperr.ExternalErr(err, "whisper transcription failed")
	}

	if len(resp.Words) == 0 {
		return nil, apperr.ExternalErr(fmt.Errorf("no words"), "whisper returned no word timestamps for %q", truncateString(resp.Text, 80))
	}

	words := make([]Word, len(resp.Words))
	for i, w := range resp.Words {
		words[i] = Word{
			Text:  strings.TrimSpace(w.Word),
			Start: w.Start,
			End:   w.End,
		}
	}

	log.Printf("[transcriber] transcribed %d words (duration=%.1fs)", len(words), resp.Duration)

	return words, nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
