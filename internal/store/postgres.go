package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tomorrow/api/internal/util"
)

// PostgresStore keeps the document as one row keyed by path. Writes are a
// compare-and-swap on the version column, and every accepted write is kept
// in document_revisions.
type PostgresStore struct {
	db           *sql.DB
	path         string
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewPostgresStore(db *sql.DB, path string) *PostgresStore {
	if path == "" {
		path = "main"
	}
	return &PostgresStore{db: db, path: path, readTimeout: 10 * time.Second, writeTimeout: 15 * time.Second}
}

func (s *PostgresStore) Name() string {
	return "postgres"
}

func (s *PostgresStore) Fetch(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	var snapshot Snapshot
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content, version FROM documents WHERE path = $1`,
		s.path,
	).Scan(&content, &snapshot.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch document: %w", err)
	}
	snapshot.Content = []byte(content)
	return snapshot, nil
}

func (s *PostgresStore) Put(ctx context.Context, content []byte, version, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	next := util.NewID()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin document tx: %w", err)
	}

	var result sql.Result
	if version == "" {
		result, err = tx.ExecContext(ctx, `
			INSERT INTO documents (path, content, version, message, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (path) DO NOTHING
		`, s.path, string(content), next, message)
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE documents
			SET content = $1, version = $2, message = $3, updated_at = NOW()
			WHERE path = $4 AND version = $5
		`, string(content), next, message, s.path, version)
	}
	if err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("write document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("write document rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return "", &ConflictError{Expected: version, Current: s.currentVersion(ctx)}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_revisions (path, version, parent_version, message, content)
		VALUES ($1, $2, $3, $4, $5)
	`, s.path, next, version, message, string(content)); err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("record document revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit document: %w", err)
	}
	return next, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) currentVersion(ctx context.Context) string {
	var current string
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM documents WHERE path = $1`, s.path).Scan(&current); err != nil {
		return ""
	}
	return current
}

func (s *PostgresStore) History(ctx context.Context, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, parent_version, message, created_at
		FROM document_revisions
		WHERE path = $1
		ORDER BY id DESC
		LIMIT $2
	`, s.path, limit)
	if err != nil {
		return nil, fmt.Errorf("list document revisions: %w", err)
	}
	defer rows.Close()

	var revisions []Revision
	for rows.Next() {
		var rev Revision
		if err := rows.Scan(&rev.Version, &rev.Parent, &rev.Message, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document revision: %w", err)
		}
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document revisions: %w", err)
	}
	return revisions, nil
}
