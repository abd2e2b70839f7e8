// Package guideline holds the versioned knowledge base of evidence-graded
// recommendation rules and serves immutable snapshots of it to the matcher.
package guideline

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hf-guideline-server/internal/domain"
)

//go:embed rules_2022_ch7.json
var embeddedRules []byte

// Metadata identifies a guideline document edition.
type Metadata struct {
	Title   string `json:"title"`
	Chapter string `json:"chapter"`
	Edition string `json:"edition"`
}

// Document is one parsed guideline rule set. Parsing validates every rule
// and every interaction edge; a malformed document is rejected whole so a
// half-loaded rule set can never serve matches.
type Document struct {
	Metadata Metadata      `json:"metadata"`
	Rules    []domain.Rule `json:"rules"`
}

// ParseDocument decodes and validates a guideline document. Any schema
// violation is fatal for the whole document.
func ParseDocument(source string, data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.LoadError{Source: source, Reason: fmt.Errorf("decode: %w", err)}
	}
	if err := validateDocument(&doc); err != nil {
		return nil, &domain.LoadError{Source: source, Reason: err}
	}
	return &doc, nil
}

// ParseEmbedded parses the rule set compiled into the binary. The embedded
// document is the startup default; a parse failure here is a build defect.
func ParseEmbedded() (*Document, error) {
	return ParseDocument("embedded", embeddedRules)
}

// EmbeddedRules returns the raw bytes of the compiled-in rule set, as a
// starting point for editing a custom edition.
func EmbeddedRules() []byte {
	out := make([]byte, len(embeddedRules))
	copy(out, embeddedRules)
	return out
}

// ParseFile parses a guideline document from disk, for hot reloads of
// revised editions.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.LoadError{Source: path, Reason: err}
	}
	return ParseDocument(path, data)
}

func validateDocument(doc *Document) error {
	if doc.Metadata.Edition == "" {
		return fmt.Errorf("document metadata: missing edition")
	}
	if len(doc.Rules) == 0 {
		return fmt.Errorf("document %q: no rules", doc.Metadata.Edition)
	}

	ids := make(map[string]struct{}, len(doc.Rules))
	for i := range doc.Rules {
		r := &doc.Rules[i]
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := ids[r.ID]; dup {
			return fmt.Errorf("duplicate rule ID %q", r.ID)
		}
		ids[r.ID] = struct{}{}
	}

	// Interaction edges must resolve inside the same document.
	for i := range doc.Rules {
		r := &doc.Rules[i]
		for _, edge := range [][]string{r.Requires, r.Conflicts, r.Supersedes} {
			for _, target := range edge {
				if _, ok := ids[target]; !ok {
					return fmt.Errorf("rule %s references unknown rule %q", r.ID, target)
				}
			}
		}
		for _, target := range r.Requires {
			if target == r.ID {
				return fmt.Errorf("rule %s requires itself", r.ID)
			}
		}
	}
	return nil
}
