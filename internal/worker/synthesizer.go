package worker

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/inkframe/inkframe/internal/models"
	"github.com/inkframe/inkframe/internal/services"
	"github.com/google/uuid"
)

// synthesisLanguage is fixed: the pipeline narrates in Chinese (Simplified).
const synthesisLanguage = "zh"

// ---------------------------------------------------------------------------
// SentenceSynthesizer
//
// Produces one sentence's finished MP4 clip: resolve its image and audio
// materials, transcribe the audio for word timing, optionally correct the
// transcript, render subtitle overlays, and composite into a clip via
// Compositor (or a motion provider, when configured).
// ---------------------------------------------------------------------------

type SentenceSynthesizer struct {
	deps *Deps
}

func NewSentenceSynthesizer(deps *Deps) *SentenceSynthesizer {
	return &SentenceSynthesizer{deps: deps}
}

// CorrectionKey carries the optional LLM credentials Synthesize uses
// for ASR correction. A nil CorrectionKey skips correction entirely and
// renders straight off Whisper's own word timings.
type CorrectionKey struct {
	APIKeyID uuid.UUID
	Provider models.Provider
	Model    string
}

// Synthesize resolves sentence's materials, transcribes and (optionally)
// corrects the narration, renders subtitles, and writes the composed clip
// to outputPath. workDir is a scratch directory for intermediate image and
// audio files; the caller owns its cleanup.
func (s *SentenceSynthesizer) Synthesize(ctx context.Context, sentence models.Sentence, settings models.GenerationSettings, workDir, outputPath string, correction *CorrectionKey) error {
	if sentence.ImageURL == nil || *sentence.ImageURL == "" {
		return fmt.Errorf("sentence %s has no image_url", sentence.ID)
	}
	if sentence.AudioURL == nil || *sentence.AudioURL == "" {
		return fmt.Errorf("sentence %s has no audio_url", sentence.ID)
	}

	imageData, err := s.deps.Resolver.Resolve(ctx, *sentence.ImageURL)
	if err != nil {
		return fmt.Errorf("resolve image: %w", err)
	}
	audioData, err := s.deps.Resolver.Resolve(ctx, *sentence.AudioURL)
	if err != nil {
		return fmt.Errorf("resolve audio: %w", err)
	}

	imagePath := filepath.Join(workDir, sentence.ID.String()+"-image.png")
	audioPath := filepath.Join(workDir, sentence.ID.String()+"-audio.mp3")
	if err := writeFile(imagePath, imageData); err != nil {
		return fmt.Errorf("write image scratch file: %w", err)
	}
	if err := writeFile(audioPath, audioData); err != nil {
		return fmt.Errorf("write audio scratch file: %w", err)
	}

	audioSeconds, err := s.deps.Ffmpeg.GetAudioDuration(ctx, audioPath)
	if err != nil {
		return fmt.Errorf("probe audio duration: %w", err)
	}

	words, err := s.deps.Transcriber.Transcribe(ctx, audioData, synthesisLanguage)
	if err != nil {
		return fmt.Errorf("transcribe audio: %w", err)
	}

	transcript := services.Transcript{
		Segments: []services.TranscriptSegment{{
			Text:  sentence.Content,
			Start: words[0].Start,
			End:   words[len(words)-1].End,
			Words: words,
		}},
	}

	if correction != nil {
		key, err := s.deps.loadAPIKey(ctx, correction.APIKeyID)
		if err != nil {
			return fmt.Errorf("load correction api key: %w", err)
		}
		corrector := services.NewSubtitleCorrector(chatCompleterFor(key), s.deps.Gateway)
		transcript = corrector.Correct(ctx, correction.APIKeyID, correction.Provider, correction.Model, sentence.Content, transcript)
	}

	width, height, err := parseResolutionForStyle(settings.Resolution)
	if err != nil {
		return fmt.Errorf("parse resolution: %w", err)
	}
	style := services.RenderStyle{
		FontSize:  settings.SubtitleStyle.FontSize,
		FontColor: settings.SubtitleStyle.Color,
		Width:     width,
		Height:    height,
	}
	overlays := s.deps.Renderer.Render(transcript, style)

	if s.deps.Motion != nil && sentence.ImagePrompt != nil && *sentence.ImagePrompt != "" {
		if motionPath, motionErr := s.renderWithMotion(ctx, *sentence.ImagePrompt, imageData, audioPath, workDir, outputPath, audioSeconds, overlays, settings); motionErr == nil {
			_ = motionPath
			return nil
		}
		// Motion generation is best-effort — any failure falls through to the
		// zoompan still-image path below rather than failing the sentence.
	}

	return s.deps.Ffmpeg.RenderSentenceClip(ctx, services.ClipInputs{
		ImagePath:    imagePath,
		AudioPath:    audioPath,
		OutputPath:   outputPath,
		AudioSeconds: audioSeconds,
		Overlays:     overlays,
		Settings:     settings,
	})
}

// renderWithMotion asks the configured MotionProvider for an image-to-video
// clip and composites it in place of the zoompan still-image path.
func (s *SentenceSynthesizer) renderWithMotion(ctx context.Context, prompt string, imageData []byte, audioPath, workDir, outputPath string, audioSeconds float64, overlays []services.OverlayCommand, settings models.GenerationSettings) (string, error) {
	videoData, err := s.deps.Motion.GenerateVideo(ctx, prompt, imageData, "image/png")
	if err != nil {
		return "", err
	}

	videoPath := filepath.Join(workDir, uuid.New().String()+"-motion.mp4")
	if err := writeFile(videoPath, videoData); err != nil {
		return "", err
	}

	if err := s.deps.Ffmpeg.RenderSentenceClipFromVideo(ctx, services.MotionClipInputs{
		VideoPath:    videoPath,
		AudioPath:    audioPath,
		OutputPath:   outputPath,
		AudioSeconds: audioSeconds,
		Overlays:     overlays,
		Settings:     settings,
	}); err != nil {
		return "", err
	}

	return outputPath, nil
}

func parseResolutionForStyle(res string) (int, int, error) {
	var width, height int
	if _, err := fmt.Sscanf(res, "%dx%d", &width, &height); err != nil {
		return 0, 0, err
	}
	return width, height, nil
}
