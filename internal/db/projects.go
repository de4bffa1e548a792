package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inkframe/inkframe/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateProject(ctx context.Context, project *models.Project) error {
	query := `
		INSERT INTO projects (
			id, owner_id, title, description, file_name, file_size, file_type,
			file_path, file_hash, statistics, status, processing_progress
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		project.ID, project.OwnerID, project.Title, project.Description,
		project.FileName, project.FileSize, project.FileType, project.FilePath,
		project.FileHash, project.Statistics, project.Status, project.ProcessingProgress,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
}

func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `
		SELECT
			id, owner_id, title, description, file_name, file_size, file_type,
			file_path, file_hash, statistics, status, processing_progress,
			error_message, completed_at, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	project := &models.Project{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&project.ID, &project.OwnerID, &project.Title, &project.Description,
		&project.FileName, &project.FileSize, &project.FileType, &project.FilePath,
		&project.FileHash, &project.Statistics, &project.Status, &project.ProcessingProgress,
		&project.ErrorMessage, &project.CompletedAt, &project.CreatedAt, &project.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// ListProjectsByOwner returns projects owned by ownerID, newest first.
// Supports an optional status filter, limit, and offset for pagination.
func (db *DB) ListProjectsByOwner(ctx context.Context, ownerID uuid.UUID, status string, limit, offset int) ([]models.Project, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `
		SELECT
			id, owner_id, title, description, file_name, file_size, file_type,
			file_path, file_hash, statistics, status, processing_progress,
			error_message, completed_at, created_at, updated_at
		FROM projects
		WHERE owner_id = $1
	`

	if status != "" {
		query := baseSelect + ` AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		rows, err = db.QueryContext(ctx, query, ownerID, status, limit, offset)
	} else {
		query := baseSelect + ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = db.QueryContext(ctx, query, ownerID, limit, offset)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(
			&p.ID, &p.OwnerID, &p.Title, &p.Description, &p.FileName, &p.FileSize,
			&p.FileType, &p.FilePath, &p.FileHash, &p.Statistics, &p.Status,
			&p.ProcessingProgress, &p.ErrorMessage, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}

	return projects, nil
}

func (db *DB) CountProjectsByOwner(ctx context.Context, ownerID uuid.UUID, status string) (int, error) {
	var count int
	if status != "" {
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE owner_id = $1 AND status = $2`, ownerID, status).Scan(&count)
		return count, err
	}
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE owner_id = $1`, ownerID).Scan(&count)
	return count, err
}

func (db *DB) UpdateProjectStatus(ctx context.Context, id uuid.UUID, status models.ProjectStatus) error {
	query := `UPDATE projects SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

// UpdateProjectProgress updates the processing progress gauge while a
// document is being parsed into chapters.
func (db *DB) UpdateProjectProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `UPDATE projects SET processing_progress = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, models.ClampProgress(progress), id)
	return err
}

func (db *DB) UpdateProjectStatistics(ctx context.Context, id uuid.UUID, stats models.JSONB) error {
	query := `UPDATE projects SET statistics = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, stats, id)
	return err
}

func (db *DB) UpdateProjectError(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE projects
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, models.ProjectStatusFailed, errorMessage, id)
	return err
}

func (db *DB) MarkProjectCompleted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE projects
		SET status = $1, processing_progress = 100, completed_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`
	_, err := db.ExecContext(ctx, query, models.ProjectStatusCompleted, id)
	return err
}

// ArchiveProject marks a project archived, which is irreversible.
func (db *DB) ArchiveProject(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE projects SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, models.ProjectStatusArchived, id)
	return err
}
