package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inkframe/inkframe/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateVideoTask(ctx context.Context, task *models.VideoTask) error {
	query := `
		INSERT INTO video_tasks (
			id, user_id, project_id, chapter_id, api_key_id, background_id,
			generation_settings, status, progress
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	settings, err := marshalSettings(task.GenerationSettings)
	if err != nil {
		return fmt.Errorf("failed to marshal generation settings: %w", err)
	}

	return db.QueryRowContext(
		ctx, query,
		task.ID, task.UserID, task.ProjectID, task.ChapterID, task.APIKeyID,
		task.BackgroundID, settings, task.Status, task.Progress,
	).Scan(&task.CreatedAt, &task.UpdatedAt)
}

func (db *DB) GetVideoTask(ctx context.Context, id uuid.UUID) (*models.VideoTask, error) {
	query := `
		SELECT
			id, user_id, project_id, chapter_id, api_key_id, background_id,
			generation_settings, status, progress, current_sentence_index,
			total_sentences, video_key, video_duration, error_message,
			error_sentence_id, created_at, updated_at
		FROM video_tasks
		WHERE id = $1
	`

	task, settingsRaw, err := scanVideoTaskRow(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("video task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video task: %w", err)
	}
	if err := unmarshalSettings(settingsRaw, &task.GenerationSettings); err != nil {
		return nil, fmt.Errorf("failed to decode generation settings: %w", err)
	}

	return task, nil
}

func (db *DB) GetChapterVideoTasks(ctx context.Context, chapterID uuid.UUID) ([]models.VideoTask, error) {
	query := `
		SELECT
			id, user_id, project_id, chapter_id, api_key_id, background_id,
			generation_settings, status, progress, current_sentence_index,
			total_sentences, video_key, video_duration, error_message,
			error_sentence_id, created_at, updated_at
		FROM video_tasks
		WHERE chapter_id = $1
		ORDER BY created_at DESC
	`

	rows, err := db.QueryContext(ctx, query, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query video tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.VideoTask
	for rows.Next() {
		task, settingsRaw, err := scanVideoTaskRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video task: %w", err)
		}
		if err := unmarshalSettings(settingsRaw, &task.GenerationSettings); err != nil {
			return nil, fmt.Errorf("failed to decode generation settings: %w", err)
		}
		tasks = append(tasks, *task)
	}

	return tasks, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows so the scan shape
// is written once.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVideoTaskRow(row rowScanner) (*models.VideoTask, []byte, error) {
	t := &models.VideoTask{}
	var settingsRaw []byte
	err := row.Scan(
		&t.ID, &t.UserID, &t.ProjectID, &t.ChapterID, &t.APIKeyID, &t.BackgroundID,
		&settingsRaw, &t.Status, &t.Progress, &t.CurrentSentenceIndex,
		&t.TotalSentences, &t.VideoKey, &t.VideoDuration, &t.ErrorMessage,
		&t.ErrorSentenceID, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, settingsRaw, err
}

func marshalSettings(s models.GenerationSettings) ([]byte, error) {
	return jsonMarshal(s)
}

func unmarshalSettings(raw []byte, dst *models.GenerationSettings) error {
	if len(raw) == 0 {
		*dst = models.DefaultGenerationSettings()
		return nil
	}
	return jsonUnmarshal(raw, dst)
}

func (db *DB) UpdateVideoTaskStatus(ctx context.Context, id uuid.UUID, status models.VideoTaskStatus) error {
	query := `UPDATE video_tasks SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

// CheckpointVideoTask persists progress and the current sentence index so a
// crashed worker can be resumed without losing its place.
func (db *DB) CheckpointVideoTask(ctx context.Context, id uuid.UUID, status models.VideoTaskStatus, progress, currentSentenceIndex, totalSentences int) error {
	query := `
		UPDATE video_tasks
		SET status = $1, progress = $2, current_sentence_index = $3,
			total_sentences = $4, updated_at = NOW()
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, status, models.ClampProgress(progress), currentSentenceIndex, totalSentences, id)
	return err
}

func (db *DB) MarkVideoTaskCompleted(ctx context.Context, id uuid.UUID, videoKey string, durationSeconds int) error {
	query := `
		UPDATE video_tasks
		SET status = $1, video_key = $2, video_duration = $3, progress = 100,
			error_message = NULL, error_sentence_id = NULL, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.VideoTaskCompleted, videoKey, durationSeconds, id)
	return err
}

func (db *DB) MarkVideoTaskFailed(ctx context.Context, id uuid.UUID, errorMessage string, sentenceID *uuid.UUID) error {
	query := `
		UPDATE video_tasks
		SET status = $1, error_message = $2, error_sentence_id = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.VideoTaskFailed, errorMessage, sentenceID, id)
	return err
}

// ResetVideoTaskForRetry moves a failed task back to pending while keeping
// the checkpoint fields, matching models.VideoTask.ResetForRetry.
func (db *DB) ResetVideoTaskForRetry(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE video_tasks
		SET status = $1, error_message = NULL, error_sentence_id = NULL, updated_at = NOW()
		WHERE id = $2
	`
	_, err := db.ExecContext(ctx, query, models.VideoTaskPending, id)
	return err
}

// DeleteVideoTask removes a task. Callers must check
// VideoTaskStatus.IsActivelyProcessing before calling this — the guard
// lives in the service layer so it can return a business-rule error instead
// of a generic SQL failure.
func (db *DB) DeleteVideoTask(ctx context.Context, id uuid.UUID) error {
	result, err := db.ExecContext(ctx, `DELETE FROM video_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("video task not found")
	}
	return nil
}
