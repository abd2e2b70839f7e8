package domain

import (
	"fmt"
	"strings"
)

// Error codes for the failure taxonomy. Only validation failures and
// knowledge base load errors are hard stops; everything else degrades to a
// warning or a fallback path.
const (
	ErrCodeValidation = "VALIDATION_FAILURE"
	ErrCodeKBLoad     = "KNOWLEDGE_BASE_LOAD_ERROR"
	ErrCodeRendering  = "RENDERING_FAILURE"
	ErrCodeStore      = "STORE_ERROR"
	ErrCodeInternal   = "INTERNAL_ERROR"
)

// ValidationFailure blocks matching when mandatory fields are absent. It
// names every missing field so the caller can re-prompt for exactly what is
// needed.
type ValidationFailure struct {
	MissingFields []string `json:"missing_fields"`
}

// Error implements the error interface.
func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("insufficient data: missing mandatory fields: %s",
		strings.Join(e.MissingFields, ", "))
}

// NewValidationFailure creates a ValidationFailure for the given fields.
func NewValidationFailure(missing ...string) *ValidationFailure {
	return &ValidationFailure{MissingFields: missing}
}

// LoadError is fatal at startup: the system refuses to serve
// recommendations against a malformed or version-inconsistent rule set.
type LoadError struct {
	Source string
	Reason error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("knowledge base load (%s): %v", e.Source, e.Reason)
}

// Unwrap exposes the underlying cause.
func (e *LoadError) Unwrap() error { return e.Reason }

// RenderError reports a failed external rendering call. It is recovered
// locally by the static formatter and never surfaces to the user.
type RenderError struct {
	Provider string
	Reason   error
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering via %s failed: %v", e.Provider, e.Reason)
}

// Unwrap exposes the underlying cause.
func (e *RenderError) Unwrap() error { return e.Reason }
