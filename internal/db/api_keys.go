package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inkframe/inkframe/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (id, user_id, name, provider, ciphertext, base_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		key.ID, key.UserID, key.Name, key.Provider, key.Ciphertext, key.BaseURL, key.Status,
	).Scan(&key.CreatedAt, &key.UpdatedAt)
}

func (db *DB) GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	query := `
		SELECT id, user_id, name, provider, ciphertext, base_url, status,
			usage_count, last_used_at, created_at, updated_at
		FROM api_keys
		WHERE id = $1
	`

	key := &models.APIKey{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&key.ID, &key.UserID, &key.Name, &key.Provider, &key.Ciphertext,
		&key.BaseURL, &key.Status, &key.UsageCount, &key.LastUsedAt,
		&key.CreatedAt, &key.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("api key not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}

	return key, nil
}

func (db *DB) ListUserAPIKeys(ctx context.Context, userID uuid.UUID, provider models.Provider) ([]models.APIKey, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `
		SELECT id, user_id, name, provider, ciphertext, base_url, status,
			usage_count, last_used_at, created_at, updated_at
		FROM api_keys
		WHERE user_id = $1
	`

	if provider != "" {
		rows, err = db.QueryContext(ctx, baseSelect+` AND provider = $2 ORDER BY created_at`, userID, provider)
	} else {
		rows, err = db.QueryContext(ctx, baseSelect+` ORDER BY created_at`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		var k models.APIKey
		err := rows.Scan(
			&k.ID, &k.UserID, &k.Name, &k.Provider, &k.Ciphertext, &k.BaseURL,
			&k.Status, &k.UsageCount, &k.LastUsedAt, &k.CreatedAt, &k.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, k)
	}

	return keys, nil
}

// ListActiveAPIKeysByProvider lists a user's active keys for provider, least
// used first. The gateway does not rotate keys; every stage call pins one
// api_key_id.
func (db *DB) ListActiveAPIKeysByProvider(ctx context.Context, userID uuid.UUID, provider models.Provider) ([]models.APIKey, error) {
	query := `
		SELECT id, user_id, name, provider, ciphertext, base_url, status,
			usage_count, last_used_at, created_at, updated_at
		FROM api_keys
		WHERE user_id = $1 AND provider = $2 AND status = $3
		ORDER BY usage_count ASC
	`

	rows, err := db.QueryContext(ctx, query, userID, provider, models.APIKeyStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active api keys: %w", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		var k models.APIKey
		err := rows.Scan(
			&k.ID, &k.UserID, &k.Name, &k.Provider, &k.Ciphertext, &k.BaseURL,
			&k.Status, &k.UsageCount, &k.LastUsedAt, &k.CreatedAt, &k.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, k)
	}

	return keys, nil
}

// IncrementAPIKeyUsage batches a usage_count bump with last_used_at in a
// single round trip. Stages and the video task runner call it once per run,
// with delta = the number of sentences that succeeded.
func (db *DB) IncrementAPIKeyUsage(ctx context.Context, id uuid.UUID, delta int64) error {
	query := `
		UPDATE api_keys
		SET usage_count = usage_count + $1, last_used_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`
	_, err := db.ExecContext(ctx, query, delta, id)
	return err
}

func (db *DB) SetAPIKeyStatus(ctx context.Context, id uuid.UUID, status models.APIKeyStatus) error {
	query := `UPDATE api_keys SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

func (db *DB) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	result, err := db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("api key not found")
	}
	return nil
}
