package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inkframe/inkframe/internal/models"
	"github.com/google/uuid"
)

// CreateSentences batch-inserts a paragraph's sentence splits in one
// transaction, same shape as CreateParagraphs. The uniqueness constraint on
// (paragraph_id, order_index) rejects a duplicate split.
func (db *DB) CreateSentences(ctx context.Context, sentences []models.Sentence) error {
	if len(sentences) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sentences (
			id, paragraph_id, order_index, content, word_count, character_count, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sentence insert: %w", err)
	}
	defer stmt.Close()

	for i := range sentences {
		s := &sentences[i]
		if _, err := stmt.ExecContext(
			ctx, s.ID, s.ParagraphID, s.OrderIndex, s.Content,
			s.WordCount, s.CharacterCount, s.Status,
		); err != nil {
			return fmt.Errorf("failed to insert sentence %d: %w", s.OrderIndex, err)
		}
	}

	return tx.Commit()
}

func (db *DB) GetSentence(ctx context.Context, id uuid.UUID) (*models.Sentence, error) {
	query := `
		SELECT
			id, paragraph_id, order_index, content, word_count, character_count,
			image_prompt, image_url, audio_url, start_time, end_time, duration,
			voice_id, voice_style, status, retry_count, is_manual_edited,
			error_message, created_at, updated_at
		FROM sentences
		WHERE id = $1
	`

	s := &models.Sentence{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.ParagraphID, &s.OrderIndex, &s.Content, &s.WordCount,
		&s.CharacterCount, &s.ImagePrompt, &s.ImageURL, &s.AudioURL,
		&s.StartTime, &s.EndTime, &s.Duration, &s.VoiceID, &s.VoiceStyle,
		&s.Status, &s.RetryCount, &s.IsManualEdited, &s.ErrorMessage,
		&s.CreatedAt, &s.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sentence not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sentence: %w", err)
	}

	return s, nil
}

func (db *DB) GetParagraphSentences(ctx context.Context, paragraphID uuid.UUID) ([]models.Sentence, error) {
	query := `
		SELECT
			id, paragraph_id, order_index, content, word_count, character_count,
			image_prompt, image_url, audio_url, start_time, end_time, duration,
			voice_id, voice_style, status, retry_count, is_manual_edited,
			error_message, created_at, updated_at
		FROM sentences
		WHERE paragraph_id = $1
		ORDER BY order_index
	`

	rows, err := db.QueryContext(ctx, query, paragraphID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentences: %w", err)
	}
	defer rows.Close()

	return scanSentenceRows(rows)
}

// GetChapterSentences returns every sentence belonging to the chapter's
// participating paragraphs (keep/edit), ordered by paragraph then sentence
// index, which is the iteration order the video pipeline walks.
func (db *DB) GetChapterSentences(ctx context.Context, chapterID uuid.UUID) ([]models.Sentence, error) {
	query := `
		SELECT
			s.id, s.paragraph_id, s.order_index, s.content, s.word_count, s.character_count,
			s.image_prompt, s.image_url, s.audio_url, s.start_time, s.end_time, s.duration,
			s.voice_id, s.voice_style, s.status, s.retry_count, s.is_manual_edited,
			s.error_message, s.created_at, s.updated_at
		FROM sentences s
		JOIN paragraphs p ON p.id = s.paragraph_id
		WHERE p.chapter_id = $1 AND p.action IN ('keep', 'edit')
		ORDER BY p.order_index, s.order_index
	`

	rows, err := db.QueryContext(ctx, query, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chapter sentences: %w", err)
	}
	defer rows.Close()

	return scanSentenceRows(rows)
}

func scanSentenceRows(rows *sql.Rows) ([]models.Sentence, error) {
	var sentences []models.Sentence
	for rows.Next() {
		var s models.Sentence
		err := rows.Scan(
			&s.ID, &s.ParagraphID, &s.OrderIndex, &s.Content, &s.WordCount,
			&s.CharacterCount, &s.ImagePrompt, &s.ImageURL, &s.AudioURL,
			&s.StartTime, &s.EndTime, &s.Duration, &s.VoiceID, &s.VoiceStyle,
			&s.Status, &s.RetryCount, &s.IsManualEdited, &s.ErrorMessage,
			&s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sentence: %w", err)
		}
		sentences = append(sentences, s)
	}
	return sentences, nil
}

func (db *DB) UpdateSentenceStatus(ctx context.Context, id uuid.UUID, status models.SentenceStatus) error {
	query := `UPDATE sentences SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

func (db *DB) UpdateSentencePrompt(ctx context.Context, id uuid.UUID, prompt string) error {
	query := `
		UPDATE sentences
		SET image_prompt = $1, status = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, prompt, models.SentenceStatusGeneratedPrompts, id)
	return err
}

func (db *DB) UpdateSentenceImage(ctx context.Context, id uuid.UUID, imageURL string) error {
	query := `UPDATE sentences SET image_url = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, imageURL, id)
	return err
}

func (db *DB) UpdateSentenceAudio(ctx context.Context, id uuid.UUID, audioURL string, startTime, endTime, duration float64) error {
	query := `
		UPDATE sentences
		SET audio_url = $1, start_time = $2, end_time = $3, duration = $4, updated_at = NOW()
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, audioURL, startTime, endTime, duration, id)
	return err
}

func (db *DB) UpdateSentenceVoice(ctx context.Context, id uuid.UUID, voiceID, voiceStyle string) error {
	query := `
		UPDATE sentences
		SET voice_id = $1, voice_style = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, voiceID, voiceStyle, id)
	return err
}

func (db *DB) MarkSentenceCompleted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE sentences
		SET status = $1, error_message = NULL, updated_at = NOW()
		WHERE id = $2
	`
	_, err := db.ExecContext(ctx, query, models.SentenceStatusCompleted, id)
	return err
}

func (db *DB) MarkSentenceFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE sentences
		SET status = $1, error_message = $2, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, models.SentenceStatusFailed, errorMessage, id)
	return err
}

// CountChapterSentencesWithPrompt supports the "all sentences have
// image_prompt" check PromptStage uses before advancing chapter status.
func (db *DB) CountChapterSentencesWithPrompt(ctx context.Context, chapterID uuid.UUID) (total, withPrompt int, err error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE s.image_prompt IS NOT NULL AND s.image_prompt != '')
		FROM sentences s
		JOIN paragraphs p ON p.id = s.paragraph_id
		WHERE p.chapter_id = $1 AND p.action IN ('keep', 'edit')
	`
	err = db.QueryRowContext(ctx, query, chapterID).Scan(&total, &withPrompt)
	return total, withPrompt, err
}
