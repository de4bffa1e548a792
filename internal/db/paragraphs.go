package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inkframe/inkframe/internal/models"
	"github.com/google/uuid"
)

// CreateParagraphs batch-inserts a chapter's parsed paragraphs in one
// transaction. The uniqueness constraint on (chapter_id, order_index)
// rejects a duplicate parse of the same chapter.
func (db *DB) CreateParagraphs(ctx context.Context, paragraphs []models.Paragraph) error {
	if len(paragraphs) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO paragraphs (
			id, chapter_id, order_index, content, word_count, sentence_count, action
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare paragraph insert: %w", err)
	}
	defer stmt.Close()

	for i := range paragraphs {
		p := &paragraphs[i]
		if _, err := stmt.ExecContext(
			ctx, p.ID, p.ChapterID, p.OrderIndex, p.Content,
			p.WordCount, p.SentenceCount, p.Action,
		); err != nil {
			return fmt.Errorf("failed to insert paragraph %d: %w", p.OrderIndex, err)
		}
	}

	return tx.Commit()
}

func (db *DB) GetParagraph(ctx context.Context, id uuid.UUID) (*models.Paragraph, error) {
	query := `
		SELECT id, chapter_id, order_index, content, word_count, sentence_count,
			action, created_at, updated_at
		FROM paragraphs
		WHERE id = $1
	`

	p := &models.Paragraph{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.ChapterID, &p.OrderIndex, &p.Content, &p.WordCount,
		&p.SentenceCount, &p.Action, &p.CreatedAt, &p.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("paragraph not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get paragraph: %w", err)
	}

	return p, nil
}

func (db *DB) GetChapterParagraphs(ctx context.Context, chapterID uuid.UUID) ([]models.Paragraph, error) {
	query := `
		SELECT id, chapter_id, order_index, content, word_count, sentence_count,
			action, created_at, updated_at
		FROM paragraphs
		WHERE chapter_id = $1
		ORDER BY order_index
	`

	rows, err := db.QueryContext(ctx, query, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query paragraphs: %w", err)
	}
	defer rows.Close()

	var paragraphs []models.Paragraph
	for rows.Next() {
		var p models.Paragraph
		err := rows.Scan(
			&p.ID, &p.ChapterID, &p.OrderIndex, &p.Content, &p.WordCount,
			&p.SentenceCount, &p.Action, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan paragraph: %w", err)
		}
		paragraphs = append(paragraphs, p)
	}

	return paragraphs, nil
}

// UpdateParagraphAction applies a user edit (keep/edit/delete/ignore),
// optionally rewriting the content when the action is edit.
func (db *DB) UpdateParagraphAction(ctx context.Context, id uuid.UUID, action models.ParagraphAction, content *string) error {
	if content != nil {
		query := `
			UPDATE paragraphs
			SET action = $1, content = $2, word_count = $3, updated_at = NOW()
			WHERE id = $4
		`
		_, err := db.ExecContext(ctx, query, action, *content, wordCount(*content), id)
		return err
	}

	query := `UPDATE paragraphs SET action = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, action, id)
	return err
}

func wordCount(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if !isSpace && !inWord {
			count++
			inWord = true
		} else if isSpace {
			inWord = false
		}
	}
	return count
}
