package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. The default backend; one file,
// no external service.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (and if needed creates) the case database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for concurrent readers during writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		source_text TEXT NOT NULL,
		record TEXT NOT NULL,
		result TEXT NOT NULL,
		edition TEXT NOT NULL,
		report TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_cases_edition ON cases(edition);
	CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(s scanner) (*Case, error) {
	c := &Case{}
	var recordJSON, resultJSON string

	err := s.Scan(&c.ID, &c.SourceText, &recordJSON, &resultJSON,
		&c.Edition, &c.Report, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(recordJSON), &c.Record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal([]byte(resultJSON), &c.Result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return c, nil
}

func marshalCase(c *Case) (recordJSON, resultJSON []byte, err error) {
	recordJSON, err = json.Marshal(c.Record)
	if err != nil {
		return nil, nil, fmt.Errorf("encode record: %w", err)
	}
	resultJSON, err = json.Marshal(c.Result)
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return recordJSON, resultJSON, nil
}

// Save stores or updates a case by ID.
func (s *SQLiteStore) Save(ctx context.Context, c *Case) error {
	recordJSON, resultJSON, err := marshalCase(c)
	if err != nil {
		return err
	}
	now := time.Now()

	var existing string
	err = s.db.QueryRowContext(ctx, "SELECT id FROM cases WHERE id = ?", c.ID).Scan(&existing)
	if err == nil {
		c.UpdatedAt = now
		_, err = s.db.ExecContext(ctx, `
			UPDATE cases SET
				source_text = ?, record = ?, result = ?,
				edition = ?, report = ?, updated_at = ?
			WHERE id = ?
		`, c.SourceText, string(recordJSON), string(resultJSON),
			c.Edition, c.Report, now, c.ID)
		return err
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing: %w", err)
	}

	c.CreatedAt = now
	c.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cases (id, source_text, record, result, edition, report, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.SourceText, string(recordJSON), string(resultJSON),
		c.Edition, c.Report, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// Get retrieves a case by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_text, record, result, edition, report, created_at, updated_at
		FROM cases WHERE id = ? LIMIT 1
	`, id)

	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return c, nil
}

// List returns cases ordered newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_text, record, result, edition, report, created_at, updated_at
		FROM cases
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// Count returns the total number of stored cases.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cases").Scan(&count)
	return count, err
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// compile-time interface check
var _ Store = (*SQLiteStore)(nil)
