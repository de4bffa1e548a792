// Package db provides the Postgres-backed Store/Catalog (lib/pq driver via
// database/sql). Each domain type (Project, Chapter, Paragraph, Sentence,
// APIKey, VideoTask) gets its own file of CRUD methods on *DB.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// DB wraps a sql.DB connection pool so domain queries can hang methods off
// a single receiver type across files.
type DB struct {
	*sql.DB
}

// New opens a Postgres connection pool and verifies it with a ping.
func New(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn}, nil
}
