// Package api implements the HTTP and WebSocket surfaces (§6.1, §6.2):
// catalog CRUD thin enough to get a project into the pipeline, the three
// fan-out stage trigger endpoints, video-task lifecycle endpoints, and the
// WebSocket push channel. The generation pipeline itself (PromptStage,
// ImageStage, AudioStage, VideoTaskRunner) lives in internal/worker and is
// reached only via internal/queue.Scheduler — handlers never call a stage
// directly, they enqueue a Task and return.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/inkframe/inkframe/internal/apperr"
	"github.com/inkframe/inkframe/internal/crypto"
	"github.com/inkframe/inkframe/internal/db"
	"github.com/inkframe/inkframe/internal/models"
	"github.com/inkframe/inkframe/internal/queue"
	"github.com/inkframe/inkframe/internal/storage"
	"github.com/inkframe/inkframe/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers issuing the WS handshake send an Origin header that doesn't
	// match the API's own host, so every origin is accepted. Connect only
	// requires a non-empty token query parameter; the token is not verified
	// and the /v1 API-key middleware does not apply to this route.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	db            *db.DB
	queue         *queue.Scheduler
	storage       *storage.Store
	hub           *ws.Hub
	encryptionKey []byte
}

func NewHandler(database *db.DB, q *queue.Scheduler, store *storage.Store, hub *ws.Hub, encryptionKey []byte) *Handler {
	return &Handler{
		db:            database,
		queue:         q,
		storage:       store,
		hub:           hub,
		encryptionKey: encryptionKey,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- projects -----------------------------------------------------------------

// CreateProject handles POST /v1/projects: creates the catalog row and
// enqueues a parse_document task. The Parser itself is an external
// collaborator (§1) — this only hands it the extracted text and the project
// id it should attach chapters/paragraphs/sentences to.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.ValidationErr("invalid request body: %v", err))
		return
	}
	if req.Title == "" || req.Text == "" {
		respondError(w, apperr.ValidationErr("title and text are required"))
		return
	}

	project := &models.Project{
		ID:          uuid.New(),
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Description: req.Description,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		FileType:    req.FileType,
		FilePath:    req.FilePath,
		FileHash:    req.FileHash,
		Status:      models.ProjectStatusUploaded,
	}
	if err := h.db.CreateProject(r.Context(), project); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "create project", err))
		return
	}

	if err := h.db.UpdateProjectStatus(r.Context(), project.ID, models.ProjectStatusParsing); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "mark project parsing", err))
		return
	}
	project.Status = models.ProjectStatusParsing

	if err := h.queue.Enqueue(r.Context(), &queue.Task{
		Type:      queue.TaskParseDocument,
		ProjectID: project.ID,
		Data:      map[string]interface{}{"text": req.Text},
	}); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "enqueue parse_document", err))
		return
	}

	respondJSON(w, http.StatusCreated, project)
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(r.URL.Query().Get("owner_id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("owner_id query parameter is required and must be a uuid"))
		return
	}
	status := r.URL.Query().Get("status")

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}
	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	total, err := h.db.CountProjectsByOwner(r.Context(), ownerID, status)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "count projects", err))
		return
	}
	projects, err := h.db.ListProjectsByOwner(r.Context(), ownerID, status, limit, offset)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "list projects", err))
		return
	}

	respondJSON(w, http.StatusOK, models.ListProjectsResponse{
		Projects: projects,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid project id"))
		return
	}
	project, err := h.db.GetProject(r.Context(), id)
	if err != nil {
		respondError(w, mapDBError(err, "project"))
		return
	}
	respondJSON(w, http.StatusOK, project)
}

// ArchiveProject handles POST /v1/projects/{id}/archive: the terminal,
// irreversible state that blocks further work (§3).
func (h *Handler) ArchiveProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid project id"))
		return
	}
	project, err := h.db.GetProject(r.Context(), id)
	if err != nil {
		respondError(w, mapDBError(err, "project"))
		return
	}
	if project.Archived() {
		respondError(w, apperr.BusinessRuleErr("project %s is already archived", id))
		return
	}
	if err := h.db.ArchiveProject(r.Context(), id); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "archive project", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(models.ProjectStatusArchived)})
}

// --- chapters -----------------------------------------------------------------

func (h *Handler) ListProjectChapters(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid project id"))
		return
	}
	chapters, err := h.db.GetProjectChapters(r.Context(), projectID)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "list chapters", err))
		return
	}
	respondJSON(w, http.StatusOK, chapters)
}

func (h *Handler) GetChapter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid chapter id"))
		return
	}
	chapter, err := h.db.GetChapter(r.Context(), id)
	if err != nil {
		respondError(w, mapDBError(err, "chapter"))
		return
	}

	paragraphs, err := h.db.GetChapterParagraphs(r.Context(), id)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "list paragraphs", err))
		return
	}
	sentences, err := h.db.GetChapterSentences(r.Context(), id)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "list sentences", err))
		return
	}

	respondJSON(w, http.StatusOK, struct {
		*models.Chapter
		Paragraphs []models.Paragraph `json:"paragraphs"`
		Sentences  []models.Sentence  `json:"sentences"`
	}{chapter, paragraphs, sentences})
}

// ConfirmChapter handles the user-triggered irreversible freeze (§3, §4.7
// precondition for PromptStage): pending -> confirmed.
func (h *Handler) ConfirmChapter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid chapter id"))
		return
	}
	chapter, err := h.db.GetChapter(r.Context(), id)
	if err != nil {
		respondError(w, mapDBError(err, "chapter"))
		return
	}
	if chapter.Status != models.ChapterStatusPending {
		respondError(w, apperr.BusinessRuleErr("chapter %s must be pending to confirm (status=%s)", id, chapter.Status))
		return
	}
	if err := h.db.ConfirmChapter(r.Context(), id); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "confirm chapter", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(models.ChapterStatusConfirmed)})
}

// ResetChapter handles the explicit failed -> pending reset (§3).
func (h *Handler) ResetChapter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid chapter id"))
		return
	}
	chapter, err := h.db.GetChapter(r.Context(), id)
	if err != nil {
		respondError(w, mapDBError(err, "chapter"))
		return
	}
	if chapter.Status != models.ChapterStatusFailed {
		respondError(w, apperr.BusinessRuleErr("chapter %s is not failed (status=%s)", id, chapter.Status))
		return
	}
	if err := h.db.UpdateChapterStatus(r.Context(), id, models.ChapterStatusPending); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "reset chapter", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(models.ChapterStatusPending)})
}

// DeleteChapter handles DELETE /v1/chapters/{id}: removes a chapter and
// cascades to its paragraphs, sentences, and video tasks (§3).
func (h *Handler) DeleteChapter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid chapter id"))
		return
	}
	if _, err := h.db.GetChapter(r.Context(), id); err != nil {
		respondError(w, mapDBError(err, "chapter"))
		return
	}
	if err := h.db.DeleteChapter(r.Context(), id); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "delete chapter", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- paragraphs -----------------------------------------------------------------

// UpdateParagraph handles PATCH /v1/paragraphs/{id}: sets which paragraphs
// participate in generation (§3 action). Rejected once the owning chapter
// is confirmed — confirmed chapters are immutable (§3).
func (h *Handler) UpdateParagraph(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid paragraph id"))
		return
	}
	var req models.UpdateParagraphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.ValidationErr("invalid request body: %v", err))
		return
	}

	paragraph, err := h.db.GetParagraph(r.Context(), id)
	if err != nil {
		respondError(w, mapDBError(err, "paragraph"))
		return
	}
	chapter, err := h.db.GetChapter(r.Context(), paragraph.ChapterID)
	if err != nil {
		respondError(w, mapDBError(err, "chapter"))
		return
	}
	if chapter.IsConfirmed {
		respondError(w, apperr.BusinessRuleErr("chapter %s is confirmed; paragraphs are immutable", chapter.ID))
		return
	}

	if err := h.db.UpdateParagraphAction(r.Context(), id, req.Action, req.Content); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "update paragraph", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"action": string(req.Action)})
}

// --- api keys -----------------------------------------------------------------

func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.ValidationErr("invalid request body: %v", err))
		return
	}
	if req.Secret == "" {
		respondError(w, apperr.ValidationErr("secret is required"))
		return
	}

	ciphertext, err := crypto.Encrypt(h.encryptionKey, req.Secret)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.External, "encrypt api key", err))
		return
	}

	key := &models.APIKey{
		ID:         uuid.New(),
		UserID:     req.UserID,
		Name:       req.Name,
		Provider:   req.Provider,
		Ciphertext: ciphertext,
		BaseURL:    req.BaseURL,
		Status:     models.APIKeyStatusActive,
	}
	if err := h.db.CreateAPIKey(r.Context(), key); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "create api key", err))
		return
	}
	respondJSON(w, http.StatusCreated, key)
}

func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("user_id query parameter is required and must be a uuid"))
		return
	}
	provider := models.Provider(r.URL.Query().Get("provider"))
	keys, err := h.db.ListUserAPIKeys(r.Context(), userID, provider)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "list api keys", err))
		return
	}
	respondJSON(w, http.StatusOK, keys)
}

func (h *Handler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid api key id"))
		return
	}
	if err := h.db.DeleteAPIKey(r.Context(), id); err != nil {
		respondError(w, mapDBError(err, "api key"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- prompt / image / audio stages (§6.1, §4.7) --------------------------------

// GeneratePrompts handles POST /v1/prompt/generate-prompts: enqueues
// PromptStage for every sentence in a confirmed chapter.
func (h *Handler) GeneratePrompts(w http.ResponseWriter, r *http.Request) {
	var req models.GeneratePromptsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.ValidationErr("invalid request body: %v", err))
		return
	}
	if req.ChapterID == uuid.Nil || req.APIKeyID == uuid.Nil {
		respondError(w, apperr.ValidationErr("chapter_id and api_key_id are required"))
		return
	}

	chapter, err := h.db.GetChapter(r.Context(), req.ChapterID)
	if err != nil {
		respondError(w, mapDBError(err, "chapter"))
		return
	}
	if chapter.Status != models.ChapterStatusConfirmed {
		respondError(w, apperr.BusinessRuleErr("chapter %s must be confirmed before generating prompts (status=%s)", req.ChapterID, chapter.Status))
		return
	}

	if err := h.queue.Enqueue(r.Context(), &queue.Task{
		Type:      queue.TaskGeneratePrompts,
		ProjectID: chapter.ProjectID,
		ChapterID: &req.ChapterID,
		Data:      map[string]interface{}{"api_key_id": req.APIKeyID.String(), "style": req.Style},
	}); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "enqueue generate_prompts", err))
		return
	}

	respondJSON(w, http.StatusOK, models.StageAcceptedResponse{Success: true, Message: "prompt generation enqueued"})
}

// GeneratePromptsByIDs handles POST /v1/prompt/generate-prompts-ids: a
// targeted regeneration over an arbitrary sentence subset.
func (h *Handler) GeneratePromptsByIDs(w http.ResponseWriter, r *http.Request) {
	var req models.GeneratePromptsByIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.ValidationErr("invalid request body: %v", err))
		return
	}
	if len(req.SentenceIDs) == 0 || req.APIKeyID == uuid.Nil {
		respondError(w, apperr.ValidationErr("sentence_ids and api_key_id are required"))
		return
	}

	projectID, err := h.projectForSentence(r, req.SentenceIDs[0])
	if err != nil {
		respondError(w, err)
		return
	}

	if err := h.queue.Enqueue(r.Context(), &queue.Task{
		Type:      queue.TaskGeneratePromptsByIDs,
		ProjectID: projectID,
		Data:      map[string]interface{}{"sentence_ids": idStrings(req.SentenceIDs), "api_key_id": req.APIKeyID.String(), "style": req.Style},
	}); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "enqueue generate_prompts_by_ids", err))
		return
	}

	respondJSON(w, http.StatusOK, models.StageAcceptedResponse{Success: true, Message: "prompt generation enqueued"})
}

// GenerateImages handles POST /v1/generate-images: every listed sentence
// must already have image_prompt set (§4.7 precondition); the stage itself
// re-validates and fails individual sentences rather than the whole batch.
func (h *Handler) GenerateImages(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.ValidationErr("invalid request body: %v", err))
		return
	}
	if len(req.SentenceIDs) == 0 || req.APIKeyID == uuid.Nil {
		respondError(w, apperr.ValidationErr("sentences_ids and api_key_id are required"))
		return
	}

	projectID, err := h.projectForSentence(r, req.SentenceIDs[0])
	if err != nil {
		respondError(w, err)
		return
	}

	data := map[string]interface{}{"sentence_ids": idStrings(req.SentenceIDs), "api_key_id": req.APIKeyID.String()}
	if req.Model != "" {
		data["model"] = req.Model
	}
	if err := h.queue.Enqueue(r.Context(), &queue.Task{
		Type:      queue.TaskGenerateImages,
		ProjectID: projectID,
		Data:      data,
	}); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "enqueue generate_images", err))
		return
	}

	respondJSON(w, http.StatusOK, models.StageAcceptedResponse{Success: true, Message: "image generation enqueued"})
}

// GenerateAudio handles POST /v1/generate-audio.
func (h *Handler) GenerateAudio(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.ValidationErr("invalid request body: %v", err))
		return
	}
	if len(req.SentenceIDs) == 0 || req.APIKeyID == uuid.Nil {
		respondError(w, apperr.ValidationErr("sentences_ids and api_key_id are required"))
		return
	}

	projectID, err := h.projectForSentence(r, req.SentenceIDs[0])
	if err != nil {
		respondError(w, err)
		return
	}

	data := map[string]interface{}{"sentence_ids": idStrings(req.SentenceIDs), "api_key_id": req.APIKeyID.String()}
	if req.Model != "" {
		data["model"] = req.Model
	}
	if err := h.queue.Enqueue(r.Context(), &queue.Task{
		Type:      queue.TaskGenerateAudio,
		ProjectID: projectID,
		Data:      data,
	}); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "enqueue generate_audio", err))
		return
	}

	respondJSON(w, http.StatusOK, models.StageAcceptedResponse{Success: true, Message: "audio generation enqueued"})
}

// projectForSentence walks sentence -> paragraph -> chapter to recover the
// project id a Task needs, since the by-ids stage endpoints are only ever
// handed sentence ids.
func (h *Handler) projectForSentence(r *http.Request, sentenceID uuid.UUID) (uuid.UUID, error) {
	sentence, err := h.db.GetSentence(r.Context(), sentenceID)
	if err != nil {
		return uuid.Nil, mapDBError(err, "sentence")
	}
	paragraph, err := h.db.GetParagraph(r.Context(), sentence.ParagraphID)
	if err != nil {
		return uuid.Nil, mapDBError(err, "paragraph")
	}
	chapter, err := h.db.GetChapter(r.Context(), paragraph.ChapterID)
	if err != nil {
		return uuid.Nil, mapDBError(err, "chapter")
	}
	return chapter.ProjectID, nil
}

// --- video tasks -----------------------------------------------------------------

// CreateVideoTask handles POST /v1/video-tasks: the chapter must be
// materials_prepared (§6.1).
func (h *Handler) CreateVideoTask(w http.ResponseWriter, r *http.Request) {
	var req models.CreateVideoTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.ValidationErr("invalid request body: %v", err))
		return
	}
	if req.ChapterID == uuid.Nil || req.ProjectID == uuid.Nil {
		respondError(w, apperr.ValidationErr("project_id and chapter_id are required"))
		return
	}

	chapter, err := h.db.GetChapter(r.Context(), req.ChapterID)
	if err != nil {
		respondError(w, mapDBError(err, "chapter"))
		return
	}
	if chapter.Status != models.ChapterStatusMaterialsPrepared {
		respondError(w, apperr.BusinessRuleErr("chapter %s must be materials_prepared to start a video task (status=%s)", req.ChapterID, chapter.Status))
		return
	}

	settings := models.DefaultGenerationSettings()
	if req.GenerationSettings != nil {
		settings = *req.GenerationSettings
	}

	task := &models.VideoTask{
		ID:                 uuid.New(),
		UserID:             req.UserID,
		ProjectID:          req.ProjectID,
		ChapterID:          req.ChapterID,
		APIKeyID:           req.APIKeyID,
		BackgroundID:       req.BackgroundID,
		GenerationSettings: settings,
		Status:             models.VideoTaskPending,
	}
	if err := h.db.CreateVideoTask(r.Context(), task); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "create video task", err))
		return
	}

	if err := advanceChapterToGeneratingVideo(r, h.db, req.ChapterID); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "advance chapter status", err))
		return
	}

	taskID := task.ID
	if err := h.queue.Enqueue(r.Context(), &queue.Task{
		Type:        queue.TaskSynthesizeVideo,
		ProjectID:   req.ProjectID,
		ChapterID:   &req.ChapterID,
		VideoTaskID: &taskID,
	}); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "enqueue synthesize_video", err))
		return
	}

	respondJSON(w, http.StatusAccepted, task)
}

func (h *Handler) GetVideoTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid video task id"))
		return
	}
	task, err := h.db.GetVideoTask(r.Context(), id)
	if err != nil {
		respondError(w, mapDBError(err, "video task"))
		return
	}
	respondJSON(w, http.StatusOK, task)
}

// RetryVideoTask handles POST /v1/video-tasks/{id}/retry: the explicit
// failed -> pending reset that preserves current_sentence_index (§4.9,
// supplemented rule: only legal when the task is failed — SPEC_FULL.md
// §12.1).
func (h *Handler) RetryVideoTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid video task id"))
		return
	}
	task, err := h.db.GetVideoTask(r.Context(), id)
	if err != nil {
		respondError(w, mapDBError(err, "video task"))
		return
	}
	if task.Status != models.VideoTaskFailed {
		respondError(w, apperr.BusinessRuleErr("video task %s must be failed to retry (status=%s)", id, task.Status))
		return
	}

	if err := h.db.ResetVideoTaskForRetry(r.Context(), id); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "reset video task", err))
		return
	}

	if err := h.queue.Enqueue(r.Context(), &queue.Task{
		Type:        queue.TaskSynthesizeVideo,
		ProjectID:   task.ProjectID,
		ChapterID:   &task.ChapterID,
		VideoTaskID: &id,
	}); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "enqueue synthesize_video retry", err))
		return
	}

	respondJSON(w, http.StatusAccepted, models.StageAcceptedResponse{Success: true, Message: "video task retry enqueued"})
}

// DeleteVideoTask handles DELETE /v1/video-tasks/{id}. Refused while the
// task is actively processing (SPEC_FULL.md §12.1) — cancel it first, or
// let it reach a terminal state, before deleting.
func (h *Handler) DeleteVideoTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid video task id"))
		return
	}
	task, err := h.db.GetVideoTask(r.Context(), id)
	if err != nil {
		respondError(w, mapDBError(err, "video task"))
		return
	}
	if task.Status.IsActivelyProcessing() {
		respondError(w, apperr.BusinessRuleErr("video task %s is actively processing (status=%s); cannot delete", id, task.Status))
		return
	}
	if err := h.db.DeleteVideoTask(r.Context(), id); err != nil {
		respondError(w, apperr.Wrap(apperr.Transport, "delete video task", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTaskStatus handles GET /v1/tasks/{task_id} (§6.1): the generic task
// status endpoint. VideoTask is the only task type the catalog tracks
// durably end-to-end (the Scheduler's own queue entries are ephemeral
// Redis payloads, not rows with a lookup-by-id story), so task_id here is a
// VideoTask id — see DESIGN.md's Open Question resolution.
func (h *Handler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "task_id"))
	if err != nil {
		respondError(w, apperr.ValidationErr("invalid task id"))
		return
	}
	task, err := h.db.GetVideoTask(r.Context(), id)
	if err != nil {
		respondError(w, mapDBError(err, "task"))
		return
	}

	resp := models.TaskStatusResponse{TaskID: task.ID.String(), Status: string(task.Status)}
	if task.Status == models.VideoTaskCompleted {
		resp.Result = map[string]interface{}{"video_key": task.VideoKey, "video_duration": task.VideoDuration}
	} else if task.Status == models.VideoTaskFailed {
		resp.Result = map[string]interface{}{"error_message": task.ErrorMessage, "error_sentence_id": task.ErrorSentenceID, "current_sentence_index": task.CurrentSentenceIndex}
	}
	respondJSON(w, http.StatusOK, resp)
}

// --- WebSocket (§6.2) -----------------------------------------------------------

// Connect handles GET /ws/connect?token=...: upgrades and registers the
// connection with the hub. The hub itself enforces at-most-once delivery
// (subscribers only see updates published after they subscribe).
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, apperr.New(apperr.Auth, "missing token query parameter"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // the upgrader already wrote its own error response
	}
	h.hub.Register(conn)
}

// --- helpers -----------------------------------------------------------------

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func advanceChapterToGeneratingVideo(r *http.Request, database *db.DB, chapterID uuid.UUID) error {
	return database.UpdateChapterStatus(r.Context(), chapterID, models.ChapterStatusGeneratingVideo)
}

func mapDBError(err error, entity string) *apperr.Error {
	if strings.Contains(err.Error(), "not found") {
		return apperr.NotFoundf("%s not found", entity)
	}
	return apperr.Wrap(apperr.Transport, "load "+entity, err)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes the canonical error envelope (§6.1), mapping the
// apperr.Kind to an HTTP status the way §7 defines.
func respondError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := httpStatusFor(kind)

	respondJSON(w, status, models.ErrorEnvelope{
		Error:     true,
		Code:      string(kind),
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

func httpStatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.BusinessRule:
		return http.StatusConflict
	case apperr.Auth:
		return http.StatusUnauthorized
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.Cancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
