package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL, for deployments where
// several server instances share one case history.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection. The schema must already
// exist.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a connection pool from a URL and ensures
// the schema exists.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		source_text TEXT NOT NULL,
		record JSONB NOT NULL,
		result JSONB NOT NULL,
		edition TEXT NOT NULL,
		report TEXT DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_cases_edition ON cases(edition);
	CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save stores or updates a case by ID via upsert.
func (s *PostgresStore) Save(ctx context.Context, c *Case) error {
	recordJSON, resultJSON, err := marshalCase(c)
	if err != nil {
		return err
	}
	now := time.Now()

	query := `
		INSERT INTO cases (id, source_text, record, result, edition, report, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			source_text = EXCLUDED.source_text,
			record = EXCLUDED.record,
			result = EXCLUDED.result,
			edition = EXCLUDED.edition,
			report = EXCLUDED.report,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		c.ID, c.SourceText, string(recordJSON), string(resultJSON),
		c.Edition, c.Report, now, now,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save case: %w", err)
	}
	c.UpdatedAt = now
	return nil
}

// Get retrieves a case by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_text, record, result, edition, report, created_at, updated_at
		FROM cases WHERE id = $1 LIMIT 1
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
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_text, record, result, edition, report, created_at, updated_at
		FROM cases
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
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
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cases").Scan(&count)
	return count, err
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ Store = (*PostgresStore)(nil)
