package guideline

import (
	"sort"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/hf-guideline-server/internal/domain"
)

// Library serves immutable snapshots of the active guideline edition.
// Reload replaces the whole snapshot atomically, so a match in flight
// keeps evaluating against the edition it started with and can never see
// rules from two editions.
type Library struct {
	logger   *logrus.Logger
	snapshot atomic.Pointer[Snapshot]
}

// Snapshot is one frozen guideline edition: rules in document order plus
// lookup indices. Snapshots are never mutated after construction.
type Snapshot struct {
	edition string
	rules   []*domain.Rule
	byID    map[string]*domain.Rule
	byField map[string][]*domain.Rule
}

// NewLibrary builds a library around an initial document.
func NewLibrary(logger *logrus.Logger, doc *Document) *Library {
	lib := &Library{logger: logger}
	lib.snapshot.Store(buildSnapshot(doc))
	logger.WithFields(logrus.Fields{
		"edition": doc.Metadata.Edition,
		"rules":   len(doc.Rules),
	}).Info("Guideline knowledge base loaded")
	return lib
}

// Snapshot returns the active edition. Callers hold the snapshot for the
// duration of one match and must not cache it across requests.
func (l *Library) Snapshot() *Snapshot {
	return l.snapshot.Load()
}

// Swap installs a new document as the active edition. In-flight matches
// keep their old snapshot.
func (l *Library) Swap(doc *Document) {
	prev := l.snapshot.Swap(buildSnapshot(doc))
	l.logger.WithFields(logrus.Fields{
		"edition":      doc.Metadata.Edition,
		"prev_edition": prev.edition,
		"rules":        len(doc.Rules),
	}).Info("Guideline knowledge base swapped")
}

func buildSnapshot(doc *Document) *Snapshot {
	snap := &Snapshot{
		edition: doc.Metadata.Edition,
		rules:   make([]*domain.Rule, 0, len(doc.Rules)),
		byID:    make(map[string]*domain.Rule, len(doc.Rules)),
		byField: map[string][]*domain.Rule{},
	}
	for i := range doc.Rules {
		snap.rules = append(snap.rules, &doc.Rules[i])
	}
	sort.SliceStable(snap.rules, func(i, j int) bool {
		return domain.SectionLess(snap.rules[i], snap.rules[j])
	})
	for _, r := range snap.rules {
		snap.byID[r.ID] = r
		for _, f := range r.Predicate.Fields() {
			snap.byField[f] = append(snap.byField[f], r)
		}
	}
	return snap
}

// Edition identifies the snapshot's guideline version.
func (s *Snapshot) Edition() string { return s.edition }

// Rules returns every rule in document order. The slice is shared; callers
// must not modify it.
func (s *Snapshot) Rules() []*domain.Rule { return s.rules }

// RuleByID resolves interaction edges.
func (s *Snapshot) RuleByID(id string) (*domain.Rule, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// Candidates returns, in document order, the rules whose predicates touch
// at least one field set on the record. Gate rules referenced only through
// requires edges are resolved by the matcher via RuleByID, so they need
// not appear here.
func (s *Snapshot) Candidates(rec *domain.PatientRecord) []*domain.Rule {
	hit := map[string]struct{}{}
	for field, rules := range s.byField {
		if _, ok := rec.Field(field); !ok {
			continue
		}
		for _, r := range rules {
			hit[r.ID] = struct{}{}
		}
	}
	out := make([]*domain.Rule, 0, len(hit))
	for _, r := range s.rules {
		if _, ok := hit[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}
