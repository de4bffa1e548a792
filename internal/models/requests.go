package models

import (
	"time"

	"github.com/google/uuid"
)

// --- error envelope (§6.1) ---------------------------------------------------

// ErrorEnvelope is the canonical shape every HTTP error response carries.
type ErrorEnvelope struct {
	Error     bool        `json:"error"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// --- projects -----------------------------------------------------------------

type CreateProjectRequest struct {
	OwnerID     uuid.UUID `json:"owner_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	FileType    FileType  `json:"file_type"`
	FilePath    string    `json:"file_path"`
	FileHash    string    `json:"file_hash"`
	// Text is the already-extracted document body handed to the Parser
	// (§6.7). Extraction from FileType-specific formats is the upload
	// wrapper's job, out of scope here.
	Text string `json:"text"`
}

type ListProjectsResponse struct {
	Projects []Project `json:"projects"`
	Total    int       `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}

// --- paragraphs -----------------------------------------------------------------

type UpdateParagraphRequest struct {
	Action  ParagraphAction `json:"action"`
	Content *string         `json:"content,omitempty"`
}

// --- api keys -----------------------------------------------------------------

type CreateAPIKeyRequest struct {
	UserID  uuid.UUID `json:"user_id"`
	Name    string    `json:"name"`
	Provider Provider `json:"provider"`
	Secret  string    `json:"secret"`
	BaseURL *string   `json:"base_url,omitempty"`
}

// --- prompt / image / audio stages (§6.1) --------------------------------------

type GeneratePromptsRequest struct {
	ChapterID uuid.UUID `json:"chapter_id"`
	APIKeyID  uuid.UUID `json:"api_key_id"`
	Style     string    `json:"style"`
}

type GeneratePromptsByIDsRequest struct {
	SentenceIDs []uuid.UUID `json:"sentence_ids"`
	APIKeyID    uuid.UUID   `json:"api_key_id"`
	Style       string      `json:"style"`
}

type GenerateImagesRequest struct {
	SentenceIDs []uuid.UUID `json:"sentences_ids"`
	APIKeyID    uuid.UUID   `json:"api_key_id"`
	Model       string      `json:"model,omitempty"`
}

type GenerateAudioRequest struct {
	SentenceIDs []uuid.UUID `json:"sentences_ids"`
	APIKeyID    uuid.UUID   `json:"api_key_id"`
	Model       string      `json:"model,omitempty"`
}

// StageAcceptedResponse is the {success, message} envelope §6.1 specifies
// for the three fan-out stage endpoints.
type StageAcceptedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// --- video tasks -----------------------------------------------------------------

type CreateVideoTaskRequest struct {
	UserID             uuid.UUID           `json:"user_id"`
	ProjectID          uuid.UUID           `json:"project_id"`
	ChapterID          uuid.UUID           `json:"chapter_id"`
	APIKeyID           *uuid.UUID          `json:"api_key_id,omitempty"`
	BackgroundID       *uuid.UUID          `json:"background_id,omitempty"`
	GenerationSettings *GenerationSettings `json:"generation_settings,omitempty"`
}

// TaskStatusResponse is the {task_id, status, result?} shape §6.1 specifies
// for GET /tasks/{task_id}.
type TaskStatusResponse struct {
	TaskID string      `json:"task_id"`
	Status string      `json:"status"`
	Result interface{} `json:"result,omitempty"`
}
