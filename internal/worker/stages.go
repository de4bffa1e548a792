package worker

import (
	"context"
	"log"
	"sync"

	"github.com/inkframe/inkframe/internal/apperr"
	"github.com/inkframe/inkframe/internal/models"
	"github.com/inkframe/inkframe/internal/services"
	"github.com/inkframe/inkframe/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// stageConcurrency bounds how many sentences one stage dispatch processes
// at once, on top of the Gateway's own per-key permit — a stage handed 200
// sentences should not open 200 goroutines against the provider at once.
const stageConcurrency = 8

// stageOutcome accumulates results from a stage's concurrent per-sentence
// goroutines behind a mutex — errgroup only serializes the error return,
// not any other shared state the goroutines touch.
type stageOutcome struct {
	mu              sync.Mutex
	successes       int
	touchedChapters map[uuid.UUID]struct{}
}

func newStageOutcome() *stageOutcome {
	return &stageOutcome{touchedChapters: map[uuid.UUID]struct{}{}}
}

func (o *stageOutcome) recordSuccess(chapterID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.successes++
	if chapterID != uuid.Nil {
		o.touchedChapters[chapterID] = struct{}{}
	}
}

func (o *stageOutcome) snapshot() (int, []uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	chapters := make([]uuid.UUID, 0, len(o.touchedChapters))
	for id := range o.touchedChapters {
		chapters = append(chapters, id)
	}
	return o.successes, chapters
}

// ---------------------------------------------------------------------------
// PromptStage
//
// Turns each sentence's narration into an image_prompt via PromptGenerator.
// Grounded in internal/services/prompts.go and the chapter-status machine
// in internal/models/models.go (ChapterStatusGeneratingPrompts/
// ChapterStatusGeneratedPrompts).
// ---------------------------------------------------------------------------

type PromptStage struct {
	deps *Deps
}

func NewPromptStage(deps *Deps) *PromptStage {
	return &PromptStage{deps: deps}
}

// RunForChapter is the generate_prompts task: chapter must be confirmed,
// transitions it to generating_prompts immediately, then dispatches every
// sentence in the chapter.
func (s *PromptStage) RunForChapter(ctx context.Context, chapterID, apiKeyID uuid.UUID, style string) error {
	chapter, err := s.deps.DB.GetChapter(ctx, chapterID)
	if err != nil {
		return err
	}
	if chapter.Status != models.ChapterStatusConfirmed {
		return apperr.BusinessRuleErr("chapter %s must be confirmed before prompts can be generated (status=%s)", chapterID, chapter.Status)
	}

	if err := s.deps.DB.UpdateChapterStatus(ctx, chapterID, models.ChapterStatusGeneratingPrompts); err != nil {
		return err
	}

	sentences, err := s.deps.DB.GetChapterSentences(ctx, chapterID)
	if err != nil {
		return err
	}

	ids := make([]uuid.UUID, len(sentences))
	for i, sent := range sentences {
		ids[i] = sent.ID
	}

	return s.run(ctx, ids, apiKeyID, style)
}

// RunForSentenceIDs is the generate_prompts_by_ids task: an arbitrary
// sentence subset, e.g. a targeted regeneration of sentences the user
// edited after the first pass.
func (s *PromptStage) RunForSentenceIDs(ctx context.Context, sentenceIDs []uuid.UUID, apiKeyID uuid.UUID, style string) error {
	return s.run(ctx, sentenceIDs, apiKeyID, style)
}

func (s *PromptStage) run(ctx context.Context, sentenceIDs []uuid.UUID, apiKeyID uuid.UUID, style string) error {
	key, err := s.deps.loadAPIKey(ctx, apiKeyID)
	if err != nil {
		return err
	}
	generator := services.NewPromptGenerator(chatCompleterFor(key))

	outcome := newStageOutcome()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stageConcurrency)

	for _, sentenceID := range sentenceIDs {
		sentenceID := sentenceID
		g.Go(func() error {
			sentence, err := s.deps.DB.GetSentence(gctx, sentenceID)
			if err != nil {
				return nil // sentence gone; nothing to mark failed against
			}

			prompt, err := generator.Generate(gctx, s.deps.Gateway, apiKeyID, key.row.Provider, "", sentence.Content, style)
			if err != nil {
				log.Printf("[prompt-stage] sentence %s failed: %v", sentenceID, err)
				_ = s.deps.DB.MarkSentenceFailed(gctx, sentenceID, err.Error())
				return nil
			}

			if err := s.deps.DB.UpdateSentencePrompt(gctx, sentenceID, prompt); err != nil {
				return err
			}

			chapterID := uuid.Nil
			paragraph, err := s.deps.DB.GetParagraph(gctx, sentence.ParagraphID)
			if err == nil {
				chapterID = paragraph.ChapterID
			}
			outcome.recordSuccess(chapterID)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	successes, touchedChapters := outcome.snapshot()
	if successes > 0 {
		_ = s.deps.DB.IncrementAPIKeyUsage(ctx, apiKeyID, int64(successes))
	}

	for _, chapterID := range touchedChapters {
		total, withPrompt, err := s.deps.DB.CountChapterSentencesWithPrompt(ctx, chapterID)
		if err != nil {
			log.Printf("[prompt-stage] failed to count chapter %s prompts: %v", chapterID, err)
			continue
		}
		if total > 0 && total == withPrompt {
			if err := advanceChapterStatus(ctx, s.deps.DB, chapterID, models.ChapterStatusGeneratedPrompts); err != nil {
				log.Printf("[prompt-stage] failed to advance chapter %s status: %v", chapterID, err)
			}
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// ImageStage
//
// Renders each sentence's image_prompt into a still image via
// ImageGenerator (gemini_image only) and uploads it to the object store.
// ---------------------------------------------------------------------------

type ImageStage struct {
	deps *Deps
}

func NewImageStage(deps *Deps) *ImageStage {
	return &ImageStage{deps: deps}
}

func (s *ImageStage) Run(ctx context.Context, sentenceIDs []uuid.UUID, apiKeyID uuid.UUID) error {
	key, err := s.deps.loadAPIKey(ctx, apiKeyID)
	if err != nil {
		return err
	}
	generator, err := imageGeneratorFor(key)
	if err != nil {
		return err
	}

	outcome := newStageOutcome()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stageConcurrency)

	for _, sentenceID := range sentenceIDs {
		sentenceID := sentenceID
		g.Go(func() error {
			sentence, err := s.deps.DB.GetSentence(gctx, sentenceID)
			if err != nil {
				return nil
			}
			if sentence.ImagePrompt == nil || *sentence.ImagePrompt == "" {
				_ = s.deps.DB.MarkSentenceFailed(gctx, sentenceID, "sentence has no image_prompt")
				return nil
			}

			paragraph, err := s.deps.DB.GetParagraph(gctx, sentence.ParagraphID)
			if err != nil {
				return nil
			}

			imageData, mimeType, err := generator.Generate(gctx, s.deps.Gateway, apiKeyID, *sentence.ImagePrompt, s.deps.StyleReference)
			if err != nil {
				log.Printf("[image-stage] sentence %s failed: %v", sentenceID, err)
				_ = s.deps.DB.MarkSentenceFailed(gctx, sentenceID, err.Error())
				return nil
			}

			ownerID, err := s.deps.ownerForChapter(gctx, paragraph.ChapterID)
			if err != nil {
				return nil
			}
			storageKey := storage.DatedKey(storage.PurposeImages, ownerID, extensionForMIME(mimeType))
			if err := s.deps.Store.Put(gctx, storageKey, imageData, mimeType); err != nil {
				log.Printf("[image-stage] sentence %s upload failed: %v", sentenceID, err)
				_ = s.deps.DB.MarkSentenceFailed(gctx, sentenceID, err.Error())
				return nil
			}

			if err := s.deps.DB.UpdateSentenceImage(gctx, sentenceID, storageKey); err != nil {
				return err
			}
			outcome.recordSuccess(uuid.Nil)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	successes, _ := outcome.snapshot()
	if successes > 0 {
		_ = s.deps.DB.IncrementAPIKeyUsage(ctx, apiKeyID, int64(successes))
	}

	return nil
}

// ---------------------------------------------------------------------------
// AudioStage
//
// Synthesizes each sentence's narration audio via TTSGenerator and uploads
// it. When every participating sentence in a touched chapter has both an
// image and audio, the chapter advances to materials_prepared — the last of
// the three dispatch stages to run is whichever finishes last, but in the
// pipeline's normal ordering that's always this one.
// ---------------------------------------------------------------------------

type AudioStage struct {
	deps *Deps
}

func NewAudioStage(deps *Deps) *AudioStage {
	return &AudioStage{deps: deps}
}

func (s *AudioStage) Run(ctx context.Context, sentenceIDs []uuid.UUID, apiKeyID uuid.UUID, model string) error {
	key, err := s.deps.loadAPIKey(ctx, apiKeyID)
	if err != nil {
		return err
	}
	generator, err := ttsGeneratorFor(key)
	if err != nil {
		return err
	}

	outcome := newStageOutcome()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stageConcurrency)

	for _, sentenceID := range sentenceIDs {
		sentenceID := sentenceID
		g.Go(func() error {
			sentence, err := s.deps.DB.GetSentence(gctx, sentenceID)
			if err != nil {
				return nil
			}

			voice := ""
			if sentence.VoiceID != nil {
				voice = *sentence.VoiceID
			}

			audioData, err := generator.Generate(gctx, s.deps.Gateway, apiKeyID, model, voice, sentence.Content)
			if err != nil {
				log.Printf("[audio-stage] sentence %s failed: %v", sentenceID, err)
				_ = s.deps.DB.MarkSentenceFailed(gctx, sentenceID, err.Error())
				return nil
			}

			paragraph, err := s.deps.DB.GetParagraph(gctx, sentence.ParagraphID)
			if err != nil {
				return nil
			}

			ownerID, err := s.deps.ownerForChapter(gctx, paragraph.ChapterID)
			if err != nil {
				return nil
			}
			storageKey := storage.DatedKey(storage.PurposeAudio, ownerID, "mp3")
			if err := s.deps.Store.Put(gctx, storageKey, audioData, "audio/mpeg"); err != nil {
				log.Printf("[audio-stage] sentence %s upload failed: %v", sentenceID, err)
				_ = s.deps.DB.MarkSentenceFailed(gctx, sentenceID, err.Error())
				return nil
			}

			duration, err := s.probeAudioDuration(gctx, audioData)
			if err != nil {
				log.Printf("[audio-stage] sentence %s duration probe failed, using 0: %v", sentenceID, err)
			}

			if err := s.deps.DB.UpdateSentenceAudio(gctx, sentenceID, storageKey, 0, duration, duration); err != nil {
				return err
			}

			outcome.recordSuccess(paragraph.ChapterID)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	successes, touchedChapters := outcome.snapshot()
	if successes > 0 {
		_ = s.deps.DB.IncrementAPIKeyUsage(ctx, apiKeyID, int64(successes))
	}

	for _, chapterID := range touchedChapters {
		sentences, err := s.deps.DB.GetChapterSentences(ctx, chapterID)
		if err != nil {
			continue
		}
		allReady := len(sentences) > 0
		for i := range sentences {
			if !sentences[i].ReadyForVideo() {
				allReady = false
				break
			}
		}
		if allReady {
			if err := advanceChapterStatus(ctx, s.deps.DB, chapterID, models.ChapterStatusMaterialsPrepared); err != nil {
				log.Printf("[audio-stage] failed to advance chapter %s status: %v", chapterID, err)
			}
		}
	}

	return nil
}

// probeAudioDuration writes audioData to a scratch file so ffprobe can
// measure it, mirroring how SentenceSynthesizer measures resolved audio.
func (s *AudioStage) probeAudioDuration(ctx context.Context, audioData []byte) (float64, error) {
	path := s.deps.Ffmpeg.CreateTempFile(uuid.New().String() + ".mp3")
	defer s.deps.Ffmpeg.Cleanup(path)

	if err := writeFile(path, audioData); err != nil {
		return 0, err
	}
	return s.deps.Ffmpeg.GetAudioDuration(ctx, path)
}
