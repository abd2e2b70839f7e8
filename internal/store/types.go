// Package store persists processed cases: the source text, the structured
// record built from it, and the recommendation set served, so a case can be
// audited later against the guideline edition that produced it.
package store

import (
	"context"
	"time"

	"github.com/hf-guideline-server/internal/domain"
)

// Case is one processed recommendation request.
type Case struct {
	ID         string                    `json:"id"`
	SourceText string                    `json:"source_text"`
	Record     *domain.PatientRecord     `json:"record"`
	Result     *domain.RecommendationSet `json:"result"`
	Edition    string                    `json:"edition"`
	Report     string                    `json:"report"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// Store is the case persistence interface, implemented for SQLite and
// PostgreSQL.
type Store interface {
	// Save stores or updates a case by ID.
	Save(ctx context.Context, c *Case) error

	// Get retrieves a case by ID. Returns (nil, nil) when not found.
	Get(ctx context.Context, id string) (*Case, error)

	// List returns cases ordered by creation time descending.
	List(ctx context.Context, limit, offset int) ([]*Case, error)

	// Count returns the total number of stored cases.
	Count(ctx context.Context) (int64, error)

	// Close releases resources.
	Close() error
}
