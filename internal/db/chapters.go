package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inkframe/inkframe/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateChapter(ctx context.Context, chapter *models.Chapter) error {
	query := `
		INSERT INTO chapters (
			id, project_id, title, content, chapter_number, word_count,
			paragraph_count, sentence_count, status, is_confirmed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		chapter.ID, chapter.ProjectID, chapter.Title, chapter.Content,
		chapter.ChapterNumber, chapter.WordCount, chapter.ParagraphCount,
		chapter.SentenceCount, chapter.Status, chapter.IsConfirmed,
	).Scan(&chapter.CreatedAt, &chapter.UpdatedAt)
}

// CreateChapters inserts a document's whole chapter set in a single
// transaction, grounded in the same batch-insert shape used for paragraphs
// and sentences below. The uniqueness constraint on (project_id,
// chapter_number) catches a re-parse of the same document.
func (db *DB) CreateChapters(ctx context.Context, chapters []models.Chapter) error {
	if len(chapters) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chapters (
			id, project_id, title, content, chapter_number, word_count,
			paragraph_count, sentence_count, status, is_confirmed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chapter insert: %w", err)
	}
	defer stmt.Close()

	for i := range chapters {
		c := &chapters[i]
		if _, err := stmt.ExecContext(
			ctx, c.ID, c.ProjectID, c.Title, c.Content, c.ChapterNumber,
			c.WordCount, c.ParagraphCount, c.SentenceCount, c.Status, c.IsConfirmed,
		); err != nil {
			return fmt.Errorf("failed to insert chapter %d: %w", c.ChapterNumber, err)
		}
	}

	return tx.Commit()
}

func (db *DB) GetChapter(ctx context.Context, id uuid.UUID) (*models.Chapter, error) {
	query := `
		SELECT
			id, project_id, title, content, chapter_number, word_count,
			paragraph_count, sentence_count, status, is_confirmed, confirmed_at,
			video_url, video_duration, created_at, updated_at
		FROM chapters
		WHERE id = $1
	`

	chapter := &models.Chapter{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&chapter.ID, &chapter.ProjectID, &chapter.Title, &chapter.Content,
		&chapter.ChapterNumber, &chapter.WordCount, &chapter.ParagraphCount,
		&chapter.SentenceCount, &chapter.Status, &chapter.IsConfirmed,
		&chapter.ConfirmedAt, &chapter.VideoURL, &chapter.VideoDuration,
		&chapter.CreatedAt, &chapter.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chapter not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}

	return chapter, nil
}

func (db *DB) GetProjectChapters(ctx context.Context, projectID uuid.UUID) ([]models.Chapter, error) {
	query := `
		SELECT
			id, project_id, title, content, chapter_number, word_count,
			paragraph_count, sentence_count, status, is_confirmed, confirmed_at,
			video_url, video_duration, created_at, updated_at
		FROM chapters
		WHERE project_id = $1
		ORDER BY chapter_number
	`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chapters: %w", err)
	}
	defer rows.Close()

	var chapters []models.Chapter
	for rows.Next() {
		var c models.Chapter
		err := rows.Scan(
			&c.ID, &c.ProjectID, &c.Title, &c.Content, &c.ChapterNumber,
			&c.WordCount, &c.ParagraphCount, &c.SentenceCount, &c.Status,
			&c.IsConfirmed, &c.ConfirmedAt, &c.VideoURL, &c.VideoDuration,
			&c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chapter: %w", err)
		}
		chapters = append(chapters, c)
	}

	return chapters, nil
}

func (db *DB) UpdateChapterStatus(ctx context.Context, id uuid.UUID, status models.ChapterStatus) error {
	query := `UPDATE chapters SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

func (db *DB) ConfirmChapter(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE chapters
		SET status = $1, is_confirmed = true, confirmed_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`
	_, err := db.ExecContext(ctx, query, models.ChapterStatusConfirmed, id)
	return err
}

func (db *DB) SetChapterVideo(ctx context.Context, id uuid.UUID, videoURL string, durationSeconds int) error {
	query := `
		UPDATE chapters
		SET video_url = $1, video_duration = $2, status = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, videoURL, durationSeconds, models.ChapterStatusCompleted, id)
	return err
}

// DeleteChapter removes a chapter and cascades to its paragraphs and
// sentences within a single transaction, since ownership for those rows is
// a bare foreign id with no database-level ON DELETE CASCADE.
func (db *DB) DeleteChapter(ctx context.Context, id uuid.UUID) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM sentences WHERE paragraph_id IN (
			SELECT id FROM paragraphs WHERE chapter_id = $1
		)
	`, id); err != nil {
		return fmt.Errorf("failed to delete chapter sentences: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM paragraphs WHERE chapter_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete chapter paragraphs: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM video_tasks WHERE chapter_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete chapter video tasks: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM chapters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chapter: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("chapter not found")
	}

	return tx.Commit()
}
