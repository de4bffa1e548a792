// Package worker hosts the Scheduler-side pipeline: the stage handlers
// (PromptStage, ImageStage, AudioStage), the per-sentence synthesizer, the
// VideoTaskRunner state machine, and the Dispatcher loop that pulls Task
// values off the queue.Scheduler and routes them to the right handler.
//
// Grounded in internal/worker/worker.go's original shape (processQueue
// dequeue loop, withSemaphore bounding, errgroup fan-out for independent
// pipelines) — generalized here from the teacher's clip-rendering pipeline
// to this pipeline's sentence/chapter/video-task stages.
package worker

import (
	"context"
	"fmt"
	"os"

	"github.com/inkframe/inkframe/internal/apperr"
	"github.com/inkframe/inkframe/internal/crypto"
	"github.com/inkframe/inkframe/internal/db"
	"github.com/inkframe/inkframe/internal/models"
	"github.com/inkframe/inkframe/internal/queue"
	"github.com/inkframe/inkframe/internal/services"
	"github.com/inkframe/inkframe/internal/storage"
	"github.com/google/uuid"
)

// Deps is the shared dependency bag every stage, the synthesizer, and the
// video task runner are built from. A single Deps is constructed once at
// startup and handed to each.
type Deps struct {
	DB       *db.DB
	Queue    *queue.Scheduler
	Store    *storage.Store
	Resolver *storage.Resolver
	Gateway  *services.Gateway
	Ffmpeg   *services.Compositor
	Transcriber *services.Transcriber
	Renderer    *services.SubtitleRenderer
	Motion      services.MotionProvider // optional; nil falls back to zoompan

	// Notifier pushes task_update frames (§6.2) as the VideoTaskRunner
	// checkpoints progress. Optional — nil means no WebSocket surface is
	// wired (e.g. under test), and checkpoints simply aren't broadcast.
	Notifier Notifier

	EncryptionKey []byte

	// StyleReference anchors gemini_image generation to a consistent visual
	// identity across a chapter's sentences. Nil when no reference image was
	// configured.
	StyleReference *services.ImageStyleRef

	WorkerPoolSize      int
	BackgroundMusicPath string
}

// Notifier is the narrow surface VideoTaskRunner needs from the WebSocket
// hub (internal/ws.Hub satisfies it) — kept as an interface here so worker
// never imports the transport package directly, just the capability.
type Notifier interface {
	Publish(taskID uuid.UUID, status string, progress int, details interface{})
}

// ImageStyleRef is a type alias wrapper so deps.go doesn't need to import
// services.StyleReference under a different name at every call site; it is
// exactly services.StyleReference.
type ImageStyleRef = services.StyleReference

// decryptedKey is an APIKey row plus its one-time-decrypted plaintext
// secret. Callers discard the plaintext as soon as the provider client is
// constructed.
type decryptedKey struct {
	row       *models.APIKey
	plaintext string
}

// loadAPIKey fetches apiKeyID and decrypts its ciphertext. This is the only
// place outside internal/crypto that ever sees a provider secret in the
// clear.
func (d *Deps) loadAPIKey(ctx context.Context, apiKeyID uuid.UUID) (*decryptedKey, error) {
	row, err := d.DB.GetAPIKey(ctx, apiKeyID)
	if err != nil {
		return nil, err
	}

	plaintext, err := crypto.Decrypt(d.EncryptionKey, row.Ciphertext)
	if err != nil {
		return nil, apperr.Wrap(apperr.External, "decrypt api key", err)
	}

	return &decryptedKey{row: row, plaintext: plaintext}, nil
}

// chatCompleterFor builds a ChatCompleter for key — the shared constructor
// PromptStage and SentenceSynthesizer's subtitle correction step both need.
func chatCompleterFor(key *decryptedKey) *services.ChatCompleter {
	return services.NewChatCompleter(key.row.Provider, key.plaintext, key.row.BaseURL)
}

// ttsGeneratorFor builds a TTSGenerator for key, rejecting the gemini_image
// variant, which has no TTS endpoint in this implementation.
func ttsGeneratorFor(key *decryptedKey) (*services.TTSGenerator, error) {
	if key.row.Provider == models.ProviderGeminiImage {
		return nil, apperr.ValidationErr("provider %q does not support text-to-speech", key.row.Provider)
	}
	return services.NewTTSGenerator(key.row.Provider, key.plaintext, key.row.BaseURL), nil
}

// imageGeneratorFor builds an ImageGenerator for key, rejecting every
// variant except gemini_image, which is the only one wired to an actual
// image-generation endpoint.
func imageGeneratorFor(key *decryptedKey) (*services.ImageGenerator, error) {
	if key.row.Provider != models.ProviderGeminiImage {
		return nil, apperr.ValidationErr("provider %q does not support image generation", key.row.Provider)
	}
	return services.NewImageGenerator(key.plaintext), nil
}

// extensionForMIME maps the handful of MIME types the providers in this
// pipeline actually return to a file extension for storage keys.
func extensionForMIME(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	default:
		return "bin"
	}
}

// ownerForChapter resolves the user id a chapter's generated materials are
// scoped to, for the owner/date-partitioned storage keys (§6.3) — chapters
// don't carry a user id directly, only a project id, so this is one extra
// hop through the owning project.
func (d *Deps) ownerForChapter(ctx context.Context, chapterID uuid.UUID) (uuid.UUID, error) {
	chapter, err := d.DB.GetChapter(ctx, chapterID)
	if err != nil {
		return uuid.Nil, err
	}
	project, err := d.DB.GetProject(ctx, chapter.ProjectID)
	if err != nil {
		return uuid.Nil, err
	}
	return project.OwnerID, nil
}

// advanceChapterStatus moves chapter forward to target if the transition is
// legal and isn't already at or past it — a no-op guard so concurrent
// stages racing to close out a chapter never fight each other or regress a
// chapter that another stage has already moved further along.
func advanceChapterStatus(ctx context.Context, database *db.DB, chapterID uuid.UUID, target models.ChapterStatus) error {
	chapter, err := database.GetChapter(ctx, chapterID)
	if err != nil {
		return err
	}
	if chapter.Status == target {
		return nil
	}
	if !models.CanTransitionChapter(chapter.Status, target) {
		return nil
	}
	return database.UpdateChapterStatus(ctx, chapterID, target)
}

func fmtErr(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// notify pushes a task_update frame if a Notifier is wired; a no-op
// otherwise, so the VideoTaskRunner never has to nil-check at every
// checkpoint call site.
func (d *Deps) notify(taskID uuid.UUID, status string, progress int, details interface{}) {
	if d.Notifier == nil {
		return
	}
	d.Notifier.Publish(taskID, status, progress, details)
}

// writeFile is a small os.WriteFile wrapper used wherever a stage or the
// synthesizer needs a scratch file for a tool (ffprobe/ffmpeg) that only
// takes paths, not byte slices.
func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}
