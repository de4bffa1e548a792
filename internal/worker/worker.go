package worker

import (
	"context"
	"log"
	"time"

	"github.com/inkframe/inkframe/internal/apperr"
	"github.com/inkframe/inkframe/internal/models"
	"github.com/inkframe/inkframe/internal/parser"
	"github.com/inkframe/inkframe/internal/queue"
	"github.com/google/uuid"
)

// dequeueTimeout is how long each Dispatcher loop blocks on BRPopLPush
// before looping back to check ctx.Done(), mirroring the teacher's
// processQueue poll interval.
const dequeueTimeout = 5 * time.Second

// Dispatcher pulls Task values off the Scheduler and routes each to its
// stage handler, acking on success and retrying (with the Scheduler's own
// backoff) on infrastructure failure. Validation and business-rule failures
// are never retried — the task is malformed or the precondition will never
// become true on its own, so retrying would just burn attempts.
type Dispatcher struct {
	deps            *Deps
	workerID        string
	promptStage     *PromptStage
	imageStage      *ImageStage
	audioStage      *AudioStage
	videoTaskRunner *VideoTaskRunner
}

func NewDispatcher(deps *Deps, workerID string) *Dispatcher {
	return &Dispatcher{
		deps:            deps,
		workerID:        workerID,
		promptStage:     NewPromptStage(deps),
		imageStage:      NewImageStage(deps),
		audioStage:      NewAudioStage(deps),
		videoTaskRunner: NewVideoTaskRunner(deps),
	}
}

// Start runs numWorkers dequeue loops until ctx is cancelled. It first
// recovers any task left in this workerID's processing list by a prior
// crash.
func (d *Dispatcher) Start(ctx context.Context, numWorkers int) {
	if n, err := d.deps.Queue.Recover(ctx, d.workerID); err != nil {
		log.Printf("[dispatcher] recover failed: %v", err)
	} else if n > 0 {
		log.Printf("[dispatcher] recovered %d orphaned task(s)", n)
	}

	if numWorkers <= 0 {
		numWorkers = 1
	}
	for i := 0; i < numWorkers; i++ {
		go d.loop(ctx)
	}
	<-ctx.Done()
	log.Println("[dispatcher] shutting down")
}

func (d *Dispatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := d.deps.Queue.Dequeue(ctx, d.workerID, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[dispatcher] dequeue failed: %v", err)
			continue
		}
		if task == nil {
			continue
		}

		d.handle(ctx, task)
	}
}

func (d *Dispatcher) handle(ctx context.Context, task *queue.Task) {
	err := d.dispatch(ctx, task)
	if err == nil {
		if ackErr := d.deps.Queue.Ack(ctx, d.workerID, task); ackErr != nil {
			log.Printf("[dispatcher] ack failed for task %s: %v", task.ID, ackErr)
		}
		return
	}

	switch apperr.KindOf(err) {
	case apperr.Validation, apperr.BusinessRule:
		log.Printf("[dispatcher] task %s (%s) rejected, not retrying: %v", task.ID, task.Type, err)
		if ackErr := d.deps.Queue.Ack(ctx, d.workerID, task); ackErr != nil {
			log.Printf("[dispatcher] ack failed for task %s: %v", task.ID, ackErr)
		}
		return
	}

	retried, retryErr := d.deps.Queue.Retry(ctx, d.workerID, task)
	if retryErr != nil {
		log.Printf("[dispatcher] retry scheduling failed for task %s: %v", task.ID, retryErr)
		return
	}
	if !retried {
		log.Printf("[dispatcher] task %s (%s) exhausted retries, giving up: %v", task.ID, task.Type, err)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, task *queue.Task) error {
	switch task.Type {
	case queue.TaskParseDocument:
		return d.handleParseDocument(ctx, task)
	case queue.TaskRetryFailedProject:
		return d.handleRetryFailedProject(ctx, task)
	case queue.TaskGeneratePrompts:
		return d.handleGeneratePrompts(ctx, task)
	case queue.TaskGeneratePromptsByIDs:
		return d.handleGeneratePromptsByIDs(ctx, task)
	case queue.TaskGenerateImages:
		return d.handleGenerateImages(ctx, task)
	case queue.TaskGenerateAudio:
		return d.handleGenerateAudio(ctx, task)
	case queue.TaskSynthesizeVideo:
		return d.handleSynthesizeVideo(ctx, task)
	default:
		return apperr.ValidationErr("unknown task type %q", task.Type)
	}
}

func (d *Dispatcher) handleParseDocument(ctx context.Context, task *queue.Task) error {
	text, ok := dataString(task.Data, "text")
	if !ok || text == "" {
		return apperr.ValidationErr("parse_document task %s missing \"text\"", task.ID)
	}

	result := parser.Parse(task.ProjectID, text, parser.DefaultOptions())
	if len(result.Chapters) == 0 {
		return apperr.ValidationErr("parse_document task %s produced no chapters", task.ID)
	}

	if err := d.deps.DB.CreateChapters(ctx, result.Chapters); err != nil {
		return err
	}
	if len(result.Paragraphs) > 0 {
		if err := d.deps.DB.CreateParagraphs(ctx, result.Paragraphs); err != nil {
			return err
		}
	}
	if len(result.Sentences) > 0 {
		if err := d.deps.DB.CreateSentences(ctx, result.Sentences); err != nil {
			return err
		}
	}
	return nil
}

// handleRetryFailedProject re-queues recoverable work across a project:
// failed chapters are reset to pending for reconfirmation, and failed video
// tasks with a resumable checkpoint get a fresh synthesize_video task.
func (d *Dispatcher) handleRetryFailedProject(ctx context.Context, task *queue.Task) error {
	chapters, err := d.deps.DB.GetProjectChapters(ctx, task.ProjectID)
	if err != nil {
		return err
	}

	for _, chapter := range chapters {
		if chapter.Status == models.ChapterStatusFailed {
			if err := d.deps.DB.UpdateChapterStatus(ctx, chapter.ID, models.ChapterStatusPending); err != nil {
				log.Printf("[dispatcher] failed to reset chapter %s: %v", chapter.ID, err)
			}
		}

		videoTasks, err := d.deps.DB.GetChapterVideoTasks(ctx, chapter.ID)
		if err != nil {
			log.Printf("[dispatcher] failed to list video tasks for chapter %s: %v", chapter.ID, err)
			continue
		}
		for i := range videoTasks {
			vt := videoTasks[i]
			if vt.Status != models.VideoTaskFailed || !vt.CanResume() {
				continue
			}
			chapterID := chapter.ID
			vtID := vt.ID
			if err := d.deps.Queue.Enqueue(ctx, &queue.Task{
				Type:        queue.TaskSynthesizeVideo,
				ProjectID:   task.ProjectID,
				ChapterID:   &chapterID,
				VideoTaskID: &vtID,
			}); err != nil {
				log.Printf("[dispatcher] failed to re-enqueue video task %s: %v", vtID, err)
			}
		}
	}

	return nil
}

func (d *Dispatcher) handleGeneratePrompts(ctx context.Context, task *queue.Task) error {
	if task.ChapterID == nil {
		return apperr.ValidationErr("generate_prompts task %s missing chapter_id", task.ID)
	}
	apiKeyID, ok := dataUUID(task.Data, "api_key_id")
	if !ok {
		return apperr.ValidationErr("generate_prompts task %s missing api_key_id", task.ID)
	}
	style, _ := dataString(task.Data, "style")

	return d.promptStage.RunForChapter(ctx, *task.ChapterID, apiKeyID, style)
}

func (d *Dispatcher) handleGeneratePromptsByIDs(ctx context.Context, task *queue.Task) error {
	sentenceIDs, ok := dataUUIDSlice(task.Data, "sentence_ids")
	if !ok {
		return apperr.ValidationErr("generate_prompts_by_ids task %s missing sentence_ids", task.ID)
	}
	apiKeyID, ok := dataUUID(task.Data, "api_key_id")
	if !ok {
		return apperr.ValidationErr("generate_prompts_by_ids task %s missing api_key_id", task.ID)
	}
	style, _ := dataString(task.Data, "style")

	return d.promptStage.RunForSentenceIDs(ctx, sentenceIDs, apiKeyID, style)
}

func (d *Dispatcher) handleGenerateImages(ctx context.Context, task *queue.Task) error {
	sentenceIDs, ok := dataUUIDSlice(task.Data, "sentence_ids")
	if !ok {
		return apperr.ValidationErr("generate_images task %s missing sentence_ids", task.ID)
	}
	apiKeyID, ok := dataUUID(task.Data, "api_key_id")
	if !ok {
		return apperr.ValidationErr("generate_images task %s missing api_key_id", task.ID)
	}

	return d.imageStage.Run(ctx, sentenceIDs, apiKeyID)
}

func (d *Dispatcher) handleGenerateAudio(ctx context.Context, task *queue.Task) error {
	sentenceIDs, ok := dataUUIDSlice(task.Data, "sentence_ids")
	if !ok {
		return apperr.ValidationErr("generate_audio task %s missing sentence_ids", task.ID)
	}
	apiKeyID, ok := dataUUID(task.Data, "api_key_id")
	if !ok {
		return apperr.ValidationErr("generate_audio task %s missing api_key_id", task.ID)
	}
	model, _ := dataString(task.Data, "model")

	return d.audioStage.Run(ctx, sentenceIDs, apiKeyID, model)
}

func (d *Dispatcher) handleSynthesizeVideo(ctx context.Context, task *queue.Task) error {
	if task.VideoTaskID == nil {
		return apperr.ValidationErr("synthesize_video task %s missing video_task_id", task.ID)
	}
	return d.videoTaskRunner.Run(ctx, *task.VideoTaskID)
}

// --- task.Data extraction helpers -------------------------------------------

func dataString(data map[string]interface{}, key string) (string, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func dataUUID(data map[string]interface{}, key string) (uuid.UUID, bool) {
	s, ok := dataString(data, key)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func dataUUIDSlice(data map[string]interface{}, key string) ([]uuid.UUID, bool) {
	v, ok := data[key]
	if !ok {
		return nil, false
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	ids := make([]uuid.UUID, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, len(ids) > 0
}
