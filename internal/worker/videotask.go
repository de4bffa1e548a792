package worker

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/inkframe/inkframe/internal/apperr"
	"github.com/inkframe/inkframe/internal/models"
	"github.com/inkframe/inkframe/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// maxMissingMaterialsReported caps how many missing-sentence ids a
// validation failure surfaces, so a chapter with hundreds of unready
// sentences doesn't produce an unreadable error message.
const maxMissingMaterialsReported = 5

// ---------------------------------------------------------------------------
// VideoTaskRunner
//
// Drives one VideoTask through its state machine:
//   pending -> validating -> downloading_materials -> synthesizing_videos ->
//   concatenating -> uploading -> completed
// with any state able to fall to failed, and failed -> pending a resumable
// retry that preserves current_sentence_index.
// ---------------------------------------------------------------------------

type VideoTaskRunner struct {
	deps *Deps
}

func NewVideoTaskRunner(deps *Deps) *VideoTaskRunner {
	return &VideoTaskRunner{deps: deps}
}

// Run executes (or resumes) taskID to completion or failure. Sentence-level
// and pipeline failures are recorded on the task itself via
// MarkVideoTaskFailed rather than returned. Run returns an error only when
// the task cannot be loaded or reset, and a BusinessRule error when a failed
// task has no checkpoint to resume from.
func (r *VideoTaskRunner) Run(ctx context.Context, taskID uuid.UUID) error {
	task, err := r.deps.DB.GetVideoTask(ctx, taskID)
	if err != nil {
		return err
	}

	if task.Status == models.VideoTaskFailed {
		if !task.CanResume() {
			return apperr.BusinessRuleErr("video task %s is failed and has no checkpoint to resume from", taskID)
		}
		task.ResetForRetry()
		if err := r.deps.DB.ResetVideoTaskForRetry(ctx, taskID); err != nil {
			return err
		}
	}

	workDir := filepath.Join(os.TempDir(), "inkframe-task-"+taskID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		r.fail(ctx, task, fmt.Sprintf("failed to create scratch dir: %v", err), nil)
		return nil
	}
	defer os.RemoveAll(workDir)

	sentences, err := r.validate(ctx, task)
	if err != nil {
		r.fail(ctx, task, err.Error(), nil)
		return nil
	}

	clipPaths, err := r.synthesize(ctx, task, sentences, workDir)
	if err != nil {
		if apperr.KindOf(err) == apperr.Cancelled || ctx.Err() != nil {
			r.fail(context.Background(), task, "cancelled", nil)
			return nil
		}
		return nil // already marked failed with the offending sentence id
	}

	finalPath, err := r.concatenate(ctx, task, clipPaths, workDir)
	if err != nil {
		r.fail(ctx, task, err.Error(), nil)
		return nil
	}

	if err := r.upload(ctx, task, finalPath); err != nil {
		r.fail(ctx, task, err.Error(), nil)
		return nil
	}

	return nil
}

// validate checks every participating sentence in the task's chapter is
// ready for video (has both image_url and audio_url); returns the
// participating sentence set in order on success.
func (r *VideoTaskRunner) validate(ctx context.Context, task *models.VideoTask) ([]models.Sentence, error) {
	if err := r.deps.DB.CheckpointVideoTask(ctx, task.ID, models.VideoTaskValidating, 0, 0, 0); err != nil {
		return nil, err
	}
	r.deps.notify(task.ID, string(models.VideoTaskValidating), 0, nil)

	sentences, err := r.deps.DB.GetChapterSentences(ctx, task.ChapterID)
	if err != nil {
		return nil, err
	}
	if len(sentences) == 0 {
		return nil, apperr.ValidationErr("chapter %s has no participating sentences", task.ChapterID)
	}

	var missing []uuid.UUID
	for i := range sentences {
		if !sentences[i].ReadyForVideo() {
			missing = append(missing, sentences[i].ID)
			if len(missing) >= maxMissingMaterialsReported {
				break
			}
		}
	}
	if len(missing) > 0 {
		return nil, apperr.ValidationErr("chapter %s has sentences missing image/audio materials (showing up to %d): %v", task.ChapterID, maxMissingMaterialsReported, missing)
	}

	total := len(sentences)
	if err := r.deps.DB.CheckpointVideoTask(ctx, task.ID, models.VideoTaskDownloadingMaterials, 0, 0, total); err != nil {
		return nil, err
	}
	r.deps.notify(task.ID, string(models.VideoTaskDownloadingMaterials), 0, map[string]int{"total_sentences": total})

	return sentences, nil
}

// synthesize renders every sentence's clip with a bounded worker pool,
// resuming from task.CurrentSentenceIndex when set, and checkpoints
// progress as floor(i/N*80) after each completed sentence.
func (r *VideoTaskRunner) synthesize(ctx context.Context, task *models.VideoTask, sentences []models.Sentence, workDir string) ([]string, error) {
	startIndex := 0
	if task.CurrentSentenceIndex != nil && *task.CurrentSentenceIndex > 0 {
		startIndex = *task.CurrentSentenceIndex
	}

	total := len(sentences)
	clipPaths := make([]string, total)
	for i := 0; i < startIndex && i < total; i++ {
		clipPaths[i] = filepath.Join(workDir, fmt.Sprintf("clip-%04d.mp4", i))
	}

	synthesizer := NewSentenceSynthesizer(r.deps)

	poolSize := r.deps.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 3
	}

	var correction *CorrectionKey
	if task.APIKeyID != nil {
		key, err := r.deps.loadAPIKey(ctx, *task.APIKeyID)
		if err == nil {
			correction = &CorrectionKey{APIKeyID: *task.APIKeyID, Provider: key.row.Provider, Model: task.GenerationSettings.LLMModel}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)

	outcome := newStageOutcome()

	for i := startIndex; i < total; i++ {
		i := i
		sentence := sentences[i]
		g.Go(func() error {
			outputPath := filepath.Join(workDir, fmt.Sprintf("clip-%04d.mp4", i))
			if err := synthesizer.Synthesize(gctx, sentence, task.GenerationSettings, workDir, outputPath, correction); err != nil {
				if ctx.Err() != nil {
					// The task root was cancelled, not a genuine synthesis
					// failure — report it as such rather than blaming this
					// sentence. current_sentence_index stays at the last
					// sentence whose checkpoint above actually landed.
					return apperr.CancelledErr()
				}
				sentenceID := sentence.ID
				r.fail(gctx, task, fmt.Sprintf("sentence %d/%d synthesis failed: %v", i+1, total, err), &sentenceID)
				return fmt.Errorf("sentence %s: %w", sentenceID, err)
			}
			clipPaths[i] = outputPath
			outcome.recordSuccess(uuid.Nil)

			progress := models.ClampProgress(int(math.Floor(float64(i+1) / float64(total) * 80)))
			if err := r.deps.DB.CheckpointVideoTask(gctx, task.ID, models.VideoTaskSynthesizingVideos, progress, i+1, total); err != nil {
				log.Printf("[video-task] checkpoint failed for task %s: %v", task.ID, err)
			}
			r.deps.notify(task.ID, string(models.VideoTaskSynthesizingVideos), progress, map[string]int{"current_sentence_index": i + 1, "total_sentences": total})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Every successful synthesis ran one subtitle-correction LLM call
	// against correction.APIKeyID (§4.9) — billed here as a single batched
	// increment rather than per-goroutine, the same as the dispatch stages.
	successes, _ := outcome.snapshot()
	if correction != nil && successes > 0 {
		_ = r.deps.DB.IncrementAPIKeyUsage(ctx, correction.APIKeyID, int64(successes))
	}

	return clipPaths, nil
}

func (r *VideoTaskRunner) concatenate(ctx context.Context, task *models.VideoTask, clipPaths []string, workDir string) (string, error) {
	if err := r.deps.DB.CheckpointVideoTask(ctx, task.ID, models.VideoTaskConcatenating, 85, len(clipPaths), len(clipPaths)); err != nil {
		return "", err
	}
	r.deps.notify(task.ID, string(models.VideoTaskConcatenating), 85, nil)

	finalPath := filepath.Join(workDir, "final.mp4")
	if err := r.deps.Ffmpeg.ConcatenateClips(ctx, clipPaths, finalPath); err != nil {
		return "", fmt.Errorf("concatenate clips: %w", err)
	}
	return finalPath, nil
}

func (r *VideoTaskRunner) upload(ctx context.Context, task *models.VideoTask, finalPath string) error {
	if err := r.deps.DB.CheckpointVideoTask(ctx, task.ID, models.VideoTaskUploading, 90, 0, 0); err != nil {
		return err
	}
	r.deps.notify(task.ID, string(models.VideoTaskUploading), 90, nil)

	data, err := os.ReadFile(finalPath)
	if err != nil {
		return fmt.Errorf("read final clip: %w", err)
	}

	durationSeconds, err := r.deps.Ffmpeg.GetVideoDuration(ctx, finalPath)
	if err != nil {
		log.Printf("[video-task] duration probe failed for task %s: %v", task.ID, err)
	}

	key := storageKeyForVideo(task)
	if err := r.deps.Store.Put(ctx, key, data, "video/mp4"); err != nil {
		return fmt.Errorf("upload final video: %w", err)
	}

	if err := r.deps.DB.MarkVideoTaskCompleted(ctx, task.ID, key, int(durationSeconds)); err != nil {
		return err
	}
	if err := r.deps.DB.SetChapterVideo(ctx, task.ChapterID, key, int(durationSeconds)); err != nil {
		log.Printf("[video-task] failed to record chapter video for task %s: %v", task.ID, err)
	}
	if err := advanceChapterStatus(ctx, r.deps.DB, task.ChapterID, models.ChapterStatusCompleted); err != nil {
		log.Printf("[video-task] failed to advance chapter %s status: %v", task.ChapterID, err)
	}
	r.deps.notify(task.ID, string(models.VideoTaskCompleted), 100, map[string]interface{}{"video_key": key, "video_duration": int(durationSeconds)})

	return nil
}

func storageKeyForVideo(task *models.VideoTask) string {
	return storage.DatedKey(storage.PurposeVideos, task.UserID, "mp4")
}

func (r *VideoTaskRunner) fail(ctx context.Context, task *models.VideoTask, message string, sentenceID *uuid.UUID) {
	if err := r.deps.DB.MarkVideoTaskFailed(ctx, task.ID, message, sentenceID); err != nil {
		log.Printf("[video-task] failed to record failure for task %s: %v", task.ID, err)
	}
	if err := advanceChapterStatus(ctx, r.deps.DB, task.ChapterID, models.ChapterStatusFailed); err != nil {
		log.Printf("[video-task] failed to mark chapter %s failed: %v", task.ChapterID, err)
	}
	r.deps.notify(task.ID, string(models.VideoTaskFailed), task.Progress, map[string]interface{}{"error_message": message})
}
