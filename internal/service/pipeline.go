// Package service wires the processing pipeline: clinical text in,
// persisted recommendation report out.
package service

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hf-guideline-server/internal/domain"
	"github.com/hf-guideline-server/internal/extract"
	"github.com/hf-guideline-server/internal/guideline"
	"github.com/hf-guideline-server/internal/match"
	"github.com/hf-guideline-server/internal/render"
	"github.com/hf-guideline-server/internal/store"
	"github.com/hf-guideline-server/internal/validate"
)

// Result is one fully processed case.
type Result struct {
	CaseID string                    `json:"case_id"`
	Record *domain.PatientRecord     `json:"record"`
	Set    *domain.RecommendationSet `json:"result"`
	Report render.Report             `json:"report"`
}

// Pipeline runs extraction, validation, matching, and rendering as one
// unit. The store is optional; without one, cases are served but not
// persisted.
type Pipeline struct {
	logger    *logrus.Logger
	extractor *extract.Extractor
	validator *validate.Validator
	matcher   *match.Matcher
	library   *guideline.Library
	renderer  *render.Renderer
	cases     store.Store
	workers   int
}

// Options configures optional pipeline pieces.
type Options struct {
	// MandatoryFields overrides the validator's default mandatory set.
	MandatoryFields []string
	// Store persists processed cases when non-nil.
	Store store.Store
	// Narrative enables LLM rendering when non-nil.
	Narrative render.NarrativeClient
	// CacheSize bounds the rendered-report cache.
	CacheSize int
	// Workers bounds batch concurrency. Defaults to 4.
	Workers int
}

// NewPipeline builds the pipeline around a guideline library.
func NewPipeline(logger *logrus.Logger, library *guideline.Library, opts Options) *Pipeline {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Pipeline{
		logger:    logger,
		extractor: extract.New(),
		validator: validate.New(logger, opts.MandatoryFields),
		matcher:   match.New(logger),
		library:   library,
		renderer:  render.NewRenderer(logger, opts.Narrative, opts.CacheSize),
		cases:     opts.Store,
		workers:   workers,
	}
}

// Process runs one clinical note through the full pipeline. A missing
// mandatory field surfaces as a ValidationFailure; every other data problem
// degrades to warnings on the result. The same input against the same
// guideline edition always produces the same record and recommendation set.
func (p *Pipeline) Process(ctx context.Context, text string) (*Result, error) {
	fields, warnings := p.extractor.Extract(text)

	rec, err := p.validator.Validate(fields, warnings)
	if err != nil {
		return nil, err
	}

	// The matcher gets its own copy; the stored record stays pristine.
	snap := p.library.Snapshot()
	set := p.matcher.Match(rec.Clone(), snap)
	report := p.renderer.Render(ctx, rec, set)

	result := &Result{
		CaseID: uuid.New().String(),
		Record: rec,
		Set:    set,
		Report: report,
	}

	if p.cases != nil {
		err := p.cases.Save(ctx, &store.Case{
			ID:         result.CaseID,
			SourceText: text,
			Record:     rec,
			Result:     set,
			Edition:    set.Edition,
			Report:     report.Text,
		})
		if err != nil {
			// Persistence is best-effort; the caller still gets the result.
			p.logger.WithError(err).WithField("case_id", result.CaseID).Error("Failed to persist case")
		}
	}

	p.logger.WithFields(logrus.Fields{
		"case_id":         result.CaseID,
		"edition":         set.Edition,
		"recommendations": len(set.Recommendations),
	}).Info("Case processed")

	return result, nil
}

// Case retrieves a persisted case by ID. Returns (nil, nil) when the store
// is disabled or the case is unknown.
func (p *Pipeline) Case(ctx context.Context, id string) (*store.Case, error) {
	if p.cases == nil {
		return nil, nil
	}
	return p.cases.Get(ctx, id)
}

// Cases lists persisted cases newest first, with the total count for
// paging. Returns empty results without a store.
func (p *Pipeline) Cases(ctx context.Context, limit, offset int) ([]*store.Case, int64, error) {
	if p.cases == nil {
		return nil, 0, nil
	}
	cases, err := p.cases.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := p.cases.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return cases, total, nil
}

// Reload parses a guideline document from disk and atomically installs it.
// With an empty path the embedded edition is restored.
func (p *Pipeline) Reload(path string) (string, error) {
	var doc *guideline.Document
	var err error
	if path == "" {
		doc, err = guideline.ParseEmbedded()
	} else {
		doc, err = guideline.ParseFile(path)
	}
	if err != nil {
		return "", err
	}
	p.library.Swap(doc)
	return doc.Metadata.Edition, nil
}

// Edition reports the active guideline edition.
func (p *Pipeline) Edition() string {
	return p.library.Snapshot().Edition()
}

// BatchItem is the outcome for one note of a batch. Err and Result are
// mutually exclusive.
type BatchItem struct {
	Index  int     `json:"index"`
	Input  string  `json:"-"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"error,omitempty"`
}

// ProcessBatch splits the input on separator lines and processes each note
// on a bounded worker pool. Items come back in input order; one failing
// note never aborts the rest.
func (p *Pipeline) ProcessBatch(ctx context.Context, text, separator string) []BatchItem {
	notes := splitNotes(text, separator)
	items := make([]BatchItem, len(notes))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				result, err := p.Process(ctx, notes[i])
				items[i] = BatchItem{Index: i, Input: notes[i], Result: result, Err: err}
			}
		}()
	}
	for i := range notes {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return items
}

// splitNotes divides batch input into notes on lines consisting solely of
// the separator. Blank notes are dropped.
func splitNotes(text, separator string) []string {
	if separator == "" {
		separator = "---"
	}
	var notes []string
	var current []string
	flush := func() {
		note := strings.TrimSpace(strings.Join(current, "\n"))
		if note != "" {
			notes = append(notes, note)
		}
		current = current[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == separator {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return notes
}
