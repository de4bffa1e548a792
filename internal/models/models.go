package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JSONB is a generic JSON-object column type, round-tripping through
// database/sql via Value/Scan. Used for Project.Statistics.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("models: JSONB.Scan: unsupported type")
	}
	if len(b) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(b, j)
}

// --- Project ----------------------------------------------------------------

type ProjectStatus string

const (
	ProjectStatusUploaded   ProjectStatus = "uploaded"
	ProjectStatusParsing    ProjectStatus = "parsing"
	ProjectStatusParsed     ProjectStatus = "parsed"
	ProjectStatusGenerating ProjectStatus = "generating"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusFailed     ProjectStatus = "failed"
	ProjectStatusArchived   ProjectStatus = "archived"
)

type FileType string

const (
	FileTypeTXT  FileType = "txt"
	FileTypeMD   FileType = "md"
	FileTypeDOCX FileType = "docx"
	FileTypeEPUB FileType = "epub"
)

// Project is the top-level uploaded document. Ownership is expressed as a
// bare id (no FK constraint) — lookups are by indexed owner_id.
type Project struct {
	ID                 uuid.UUID     `json:"id"`
	OwnerID            uuid.UUID     `json:"owner_id"`
	Title              string        `json:"title"`
	Description        *string       `json:"description,omitempty"`
	FileName           string        `json:"file_name"`
	FileSize           int64         `json:"file_size"`
	FileType           FileType      `json:"file_type"`
	FilePath           string        `json:"file_path"`
	FileHash           string        `json:"file_hash"`
	Statistics         JSONB         `json:"statistics,omitempty"`
	Status             ProjectStatus `json:"status"`
	ProcessingProgress int           `json:"processing_progress"`
	ErrorMessage       *string       `json:"error_message,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Archived is irreversible and blocks further work.
func (p *Project) Archived() bool { return p.Status == ProjectStatusArchived }

// --- Chapter ------------------------------------------------------------------

type ChapterStatus string

const (
	ChapterStatusPending           ChapterStatus = "pending"
	ChapterStatusConfirmed         ChapterStatus = "confirmed"
	ChapterStatusGeneratingPrompts ChapterStatus = "generating_prompts"
	ChapterStatusGeneratedPrompts  ChapterStatus = "generated_prompts"
	ChapterStatusMaterialsPrepared ChapterStatus = "materials_prepared"
	ChapterStatusGeneratingVideo   ChapterStatus = "generating_video"
	ChapterStatusCompleted         ChapterStatus = "completed"
	ChapterStatusFailed            ChapterStatus = "failed"
)

// chapterForwardOrder gives each status's monotone rank for backward-
// transition rejection: status only moves forward.
var chapterForwardOrder = map[ChapterStatus]int{
	ChapterStatusPending:           0,
	ChapterStatusConfirmed:         1,
	ChapterStatusGeneratingPrompts: 2,
	ChapterStatusGeneratedPrompts:  3,
	ChapterStatusMaterialsPrepared: 4,
	ChapterStatusGeneratingVideo:   5,
	ChapterStatusCompleted:         6,
}

// CanTransitionChapter reports whether from -> to is a forward move, the
// one sanctioned backward move (failed -> pending via explicit reset), or a
// move to failed (always allowed from any state).
func CanTransitionChapter(from, to ChapterStatus) bool {
	if to == ChapterStatusFailed {
		return true
	}
	if from == ChapterStatusFailed && to == ChapterStatusPending {
		return true
	}
	fromRank, fromOK := chapterForwardOrder[from]
	toRank, toOK := chapterForwardOrder[to]
	if !fromOK || !toOK {
		return false
	}
	return toRank >= fromRank
}

type Chapter struct {
	ID             uuid.UUID     `json:"id"`
	ProjectID      uuid.UUID     `json:"project_id"`
	Title          string        `json:"title"`
	Content        string        `json:"content"`
	ChapterNumber  int           `json:"chapter_number"`
	WordCount      int           `json:"word_count"`
	ParagraphCount int           `json:"paragraph_count"`
	SentenceCount  int           `json:"sentence_count"`
	Status         ChapterStatus `json:"status"`
	IsConfirmed    bool          `json:"is_confirmed"`
	ConfirmedAt    *time.Time    `json:"confirmed_at,omitempty"`
	VideoURL       *string       `json:"video_url,omitempty"`
	VideoDuration  *int          `json:"video_duration,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// --- Paragraph ----------------------------------------------------------------

type ParagraphAction string

const (
	ParagraphActionKeep   ParagraphAction = "keep"
	ParagraphActionEdit   ParagraphAction = "edit"
	ParagraphActionDelete ParagraphAction = "delete"
	ParagraphActionIgnore ParagraphAction = "ignore"
)

// Participates reports whether this action's sentences are included in
// downstream generation.
func (a ParagraphAction) Participates() bool {
	return a == ParagraphActionKeep || a == ParagraphActionEdit
}

type Paragraph struct {
	ID            uuid.UUID       `json:"id"`
	ChapterID     uuid.UUID       `json:"chapter_id"`
	OrderIndex    int             `json:"order_index"`
	Content       string          `json:"content"`
	WordCount     int             `json:"word_count"`
	SentenceCount int             `json:"sentence_count"`
	Action        ParagraphAction `json:"action"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// --- Sentence -----------------------------------------------------------------

type SentenceStatus string

const (
	SentenceStatusPending          SentenceStatus = "pending"
	SentenceStatusProcessing       SentenceStatus = "processing"
	SentenceStatusGeneratedPrompts SentenceStatus = "generated_prompts"
	SentenceStatusCompleted        SentenceStatus = "completed"
	SentenceStatusFailed           SentenceStatus = "failed"
)

type Sentence struct {
	ID             uuid.UUID      `json:"id"`
	ParagraphID    uuid.UUID      `json:"paragraph_id"`
	OrderIndex     int            `json:"order_index"`
	Content        string         `json:"content"`
	WordCount      int            `json:"word_count"`
	CharacterCount int            `json:"character_count"`
	ImagePrompt    *string        `json:"image_prompt,omitempty"`
	ImageURL       *string        `json:"image_url,omitempty"`
	AudioURL       *string        `json:"audio_url,omitempty"`
	StartTime      *float64       `json:"start_time,omitempty"`
	EndTime        *float64       `json:"end_time,omitempty"`
	Duration       *float64       `json:"duration,omitempty"`
	VoiceID        *string        `json:"voice_id,omitempty"`
	VoiceStyle     *string        `json:"voice_style,omitempty"`
	Status         SentenceStatus `json:"status"`
	RetryCount     int            `json:"retry_count"`
	IsManualEdited bool           `json:"is_manual_edited"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ReadyForVideo reports whether both image_url and audio_url are set.
func (s *Sentence) ReadyForVideo() bool {
	return s.ImageURL != nil && *s.ImageURL != "" && s.AudioURL != nil && *s.AudioURL != ""
}

// --- APIKey -------------------------------------------------------------------

type APIKeyStatus string

const (
	APIKeyStatusActive    APIKeyStatus = "active"
	APIKeyStatusInactive  APIKeyStatus = "inactive"
	APIKeyStatusExhausted APIKeyStatus = "exhausted"
)

// Provider identifies a ProviderGateway variant.
type Provider string

const (
	ProviderOpenAICompatible Provider = "openai_compatible"
	ProviderDeepSeek         Provider = "deepseek"
	ProviderVolcengine       Provider = "volcengine"
	ProviderCustom           Provider = "custom"
	ProviderSiliconflow      Provider = "siliconflow"
	ProviderGeminiImage      Provider = "gemini_image"
)

// DefaultModelFor returns the per-provider default chat model used by the
// SubtitleCorrector when none is specified, grounded in
// original_source/services/subtitle_service.py: correct_subtitle_with_llm.
func (p Provider) DefaultModelFor() string {
	switch p {
	case ProviderDeepSeek:
		return "deepseek-chat"
	case ProviderVolcengine:
		return "doubao-pro"
	case ProviderSiliconflow:
		return "deepseek-ai/DeepSeek-V3.1-Terminus"
	default:
		return "gpt-4o-mini"
	}
}

// APIKey stores only the ciphertext of the secret; plaintext is decrypted by
// the gateway at call time and never persisted.
type APIKey struct {
	ID         uuid.UUID    `json:"id"`
	UserID     uuid.UUID    `json:"user_id"`
	Name       string       `json:"name"`
	Provider   Provider     `json:"provider"`
	Ciphertext []byte       `json:"-"`
	BaseURL    *string      `json:"base_url,omitempty"`
	Status     APIKeyStatus `json:"status"`
	UsageCount int64        `json:"usage_count"`
	LastUsedAt *time.Time   `json:"last_used_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// --- VideoTask ------------------------------------------------------------------

type VideoTaskStatus string

const (
	VideoTaskPending              VideoTaskStatus = "pending"
	VideoTaskValidating           VideoTaskStatus = "validating"
	VideoTaskDownloadingMaterials VideoTaskStatus = "downloading_materials"
	VideoTaskGeneratingSubtitles  VideoTaskStatus = "generating_subtitles"
	VideoTaskSynthesizingVideos   VideoTaskStatus = "synthesizing_videos"
	VideoTaskConcatenating        VideoTaskStatus = "concatenating"
	VideoTaskUploading            VideoTaskStatus = "uploading"
	VideoTaskCompleted            VideoTaskStatus = "completed"
	VideoTaskFailed               VideoTaskStatus = "failed"
)

// activeProcessingStatuses are the states during which deletion is rejected
// (supplemented from original_source/services/video_task.py: delete_task).
var activeProcessingStatuses = map[VideoTaskStatus]bool{
	VideoTaskValidating:           true,
	VideoTaskDownloadingMaterials: true,
	VideoTaskGeneratingSubtitles:  true,
	VideoTaskSynthesizingVideos:   true,
	VideoTaskConcatenating:        true,
	VideoTaskUploading:            true,
}

// IsActivelyProcessing reports whether deleting a task in this state should
// be rejected.
func (s VideoTaskStatus) IsActivelyProcessing() bool {
	return activeProcessingStatuses[s]
}

// GenerationSettings is the VideoTask configuration bag.
type GenerationSettings struct {
	Resolution    string        `json:"resolution"`
	FPS           int           `json:"fps"`
	VideoCodec    string        `json:"video_codec"`
	AudioCodec    string        `json:"audio_codec"`
	AudioBitrate  string        `json:"audio_bitrate"`
	ZoomSpeed     float64       `json:"zoom_speed"`
	SubtitleStyle SubtitleStyle `json:"subtitle_style"`
	LLMModel      string        `json:"llm_model,omitempty"`
}

type SubtitleStyle struct {
	Font     string `json:"font"`
	FontSize int    `json:"font_size"`
	Color    string `json:"color"`
	Position string `json:"position"`
}

// DefaultGenerationSettings returns the baked-in encode and subtitle defaults.
func DefaultGenerationSettings() GenerationSettings {
	return GenerationSettings{
		Resolution:   "1920x1080",
		FPS:          25,
		VideoCodec:   "libx264",
		AudioCodec:   "aac",
		AudioBitrate: "192k",
		ZoomSpeed:    0.0005,
		SubtitleStyle: SubtitleStyle{
			Font:     "Arial",
			FontSize: 48,
			Color:    "white",
			Position: "bottom",
		},
	}
}

type VideoTask struct {
	ID                   uuid.UUID          `json:"id"`
	UserID               uuid.UUID          `json:"user_id"`
	ProjectID            uuid.UUID          `json:"project_id"`
	ChapterID            uuid.UUID          `json:"chapter_id"`
	APIKeyID             *uuid.UUID         `json:"api_key_id,omitempty"`
	BackgroundID         *uuid.UUID         `json:"background_id,omitempty"`
	GenerationSettings   GenerationSettings `json:"generation_settings"`
	Status               VideoTaskStatus    `json:"status"`
	Progress             int                `json:"progress"`
	CurrentSentenceIndex *int               `json:"current_sentence_index,omitempty"`
	TotalSentences       *int               `json:"total_sentences,omitempty"`
	VideoKey             *string            `json:"video_key,omitempty"`
	VideoDuration        *int               `json:"video_duration,omitempty"`
	ErrorMessage         *string            `json:"error_message,omitempty"`
	ErrorSentenceID      *uuid.UUID         `json:"error_sentence_id,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// CanResume reports whether this task is a failed
// run with a checkpoint to resume from: status = failed and
// current_sentence_index ≥ 0.
func (t *VideoTask) CanResume() bool {
	return t.Status == VideoTaskFailed && t.CurrentSentenceIndex != nil && *t.CurrentSentenceIndex >= 0
}

// ResetForRetry implements the failed → pending transition, preserving the
// checkpoint (current_sentence_index survives).
func (t *VideoTask) ResetForRetry() {
	t.Status = VideoTaskPending
	t.ErrorMessage = nil
	t.ErrorSentenceID = nil
}

// MarkCompleted sets the terminal-success fields.
func (t *VideoTask) MarkCompleted(videoKey string, durationSeconds int) {
	t.Status = VideoTaskCompleted
	t.VideoKey = &videoKey
	t.VideoDuration = &durationSeconds
	t.Progress = 100
	t.ErrorMessage = nil
	t.ErrorSentenceID = nil
}

// MarkFailed sets the terminal-failure fields, preserving
// CurrentSentenceIndex so a subsequent resume knows where it stopped.
func (t *VideoTask) MarkFailed(message string, sentenceID *uuid.UUID) {
	t.Status = VideoTaskFailed
	t.ErrorMessage = &message
	t.ErrorSentenceID = sentenceID
}

// ClampProgress clamps a progress value to [0, 100], matching original_source's update_progress.
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
