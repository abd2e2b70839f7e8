// Package match evaluates the active guideline snapshot against a validated
// patient record and produces an ordered, deduplicated recommendation set
// with per-rule rationale.
package match

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hf-guideline-server/internal/domain"
	"github.com/hf-guideline-server/internal/guideline"
)

// Matcher is stateless; the guideline edition comes in per call as a
// snapshot, so one matcher serves concurrent requests against whatever
// edition each request started with.
type Matcher struct {
	logger *logrus.Logger
}

// New creates a Matcher.
func New(logger *logrus.Logger) *Matcher {
	return &Matcher{logger: logger}
}

// candidate is a rule that evaluated true, pending interaction resolution.
type candidate struct {
	rule       *domain.Rule
	cited      []string
	notes      []string
	suppressed []string
}

// Match evaluates every candidate rule against the record and resolves
// interactions. The record is never mutated. Output ordering is strength of
// recommendation first (COR, then LOE), then guideline document order, and
// is deterministic for identical inputs.
func (m *Matcher) Match(rec *domain.PatientRecord, snap *guideline.Snapshot) *domain.RecommendationSet {
	set := &domain.RecommendationSet{
		Edition:   snap.Edition(),
		CreatedAt: time.Now().UTC(),
	}

	gates := map[string]domain.Tri{}
	var matched []*candidate

	for _, rule := range snap.Candidates(rec) {
		if rule.Gate {
			continue
		}
		res, cited := rule.Predicate.Evaluate(rec)
		switch res {
		case domain.TriFalse:
			continue
		case domain.TriUnknown:
			missing := missingRequired(rule, rec)
			if len(missing) == 0 {
				// Not applicable and nothing mandatory absent: a quiet
				// non-match, not worth reporting.
				continue
			}
			set.Indeterminate = append(set.Indeterminate, domain.RuleOutcome{
				RuleID:  rule.ID,
				Section: rule.Section,
				Reason:  fmt.Sprintf("cannot determine applicability: missing %s", strings.Join(missing, ", ")),
			})
			continue
		}

		cand := &candidate{rule: rule, cited: dedupe(cited)}
		if outcome, ok := m.checkGates(rec, snap, rule, gates, cand); !ok {
			if outcome != nil {
				if outcome.excluded {
					set.Excluded = append(set.Excluded, outcome.outcome)
					set.Warnings = append(set.Warnings, domain.Warning{
						Code: domain.WarnPrecondition, Field: outcome.gateID,
						Message: outcome.outcome.Reason,
					})
				} else {
					set.Indeterminate = append(set.Indeterminate, outcome.outcome)
				}
			}
			continue
		}
		matched = append(matched, cand)
	}

	matched = m.resolveSupersedes(matched)
	matched = m.resolveConflicts(matched)

	sort.SliceStable(matched, func(i, j int) bool {
		return strengthLess(matched[i].rule, matched[j].rule)
	})

	for _, c := range matched {
		set.Recommendations = append(set.Recommendations, domain.Recommendation{
			Rule:       c.rule,
			Rationale:  m.rationale(rec, c.cited),
			Suppressed: c.suppressed,
			Notes:      c.notes,
		})
	}

	m.logger.WithFields(logrus.Fields{
		"edition":       set.Edition,
		"selected":      len(set.Recommendations),
		"excluded":      len(set.Excluded),
		"indeterminate": len(set.Indeterminate),
	}).Debug("Guideline matching complete")

	return set
}

// gateOutcome reports why a rule left the match early.
type gateOutcome struct {
	gateID   string
	excluded bool
	outcome  domain.RuleOutcome
}

// checkGates evaluates every precondition rule the candidate requires. A
// failed gate excludes the rule with a contraindication note; a gate that
// cannot be evaluated makes the rule indeterminate. Gate evaluations are
// memoized per match so shared preconditions are checked once.
func (m *Matcher) checkGates(rec *domain.PatientRecord, snap *guideline.Snapshot, rule *domain.Rule, gates map[string]domain.Tri, cand *candidate) (*gateOutcome, bool) {
	for _, gateID := range rule.Requires {
		gate, ok := snap.RuleByID(gateID)
		if !ok {
			// Unreachable after document validation.
			continue
		}
		res, cached := gates[gateID]
		if !cached {
			res, _ = gate.Predicate.Evaluate(rec)
			gates[gateID] = res
		}
		switch res {
		case domain.TriTrue:
			cand.notes = append(cand.notes, fmt.Sprintf("precondition satisfied: %s", gate.Title))
		case domain.TriFalse:
			return &gateOutcome{
				gateID:   gateID,
				excluded: true,
				outcome: domain.RuleOutcome{
					RuleID:  rule.ID,
					Section: rule.Section,
					Reason:  fmt.Sprintf("contraindicated: %s (%s)", gate.Title, strings.Join(m.rationale(rec, gate.RequiredFields), "; ")),
				},
			}, false
		case domain.TriUnknown:
			missing := missingRequired(gate, rec)
			if len(missing) == 0 {
				missing = gate.RequiredFields
			}
			return &gateOutcome{
				gateID: gateID,
				outcome: domain.RuleOutcome{
					RuleID:  rule.ID,
					Section: rule.Section,
					Reason:  fmt.Sprintf("precondition %s undetermined: missing %s", gate.Title, strings.Join(missing, ", ")),
				},
			}, false
		}
	}
	return nil, true
}

// resolveSupersedes drops any matched rule that another matched rule
// supersedes, regardless of relative strength. Supersession edges are
// directional and unconditional.
func (m *Matcher) resolveSupersedes(matched []*candidate) []*candidate {
	dropped := map[string]*candidate{}
	for _, c := range matched {
		for _, target := range c.rule.Supersedes {
			for _, other := range matched {
				if other.rule.ID == target {
					dropped[target] = c
				}
			}
		}
	}
	if len(dropped) == 0 {
		return matched
	}
	out := matched[:0]
	for _, c := range matched {
		if winner, gone := dropped[c.rule.ID]; gone {
			winner.suppressed = append(winner.suppressed, c.rule.ID)
			continue
		}
		out = append(out, c)
	}
	return out
}

// resolveConflicts settles declared conflict edges: the rule with the
// stronger class of recommendation wins, level of evidence breaks COR ties,
// and earlier document position breaks full ties. The winner records the
// loser for the audit trail.
func (m *Matcher) resolveConflicts(matched []*candidate) []*candidate {
	byPriority := append([]*candidate(nil), matched...)
	sort.SliceStable(byPriority, func(i, j int) bool {
		return strengthLess(byPriority[i].rule, byPriority[j].rule)
	})

	var selected []*candidate
	suppressed := map[string]struct{}{}
	for _, c := range byPriority {
		loser := false
		for _, winner := range selected {
			if conflictsWith(c.rule, winner.rule) {
				winner.suppressed = append(winner.suppressed, c.rule.ID)
				suppressed[c.rule.ID] = struct{}{}
				loser = true
				m.logger.WithFields(logrus.Fields{
					"winner": winner.rule.ID,
					"loser":  c.rule.ID,
				}).Debug("Conflict resolved")
				break
			}
		}
		if !loser {
			selected = append(selected, c)
		}
	}

	out := matched[:0]
	for _, c := range matched {
		if _, gone := suppressed[c.rule.ID]; !gone {
			out = append(out, c)
		}
	}
	return out
}

// conflictsWith treats conflict edges as symmetric regardless of which side
// declares them.
func conflictsWith(a, b *domain.Rule) bool {
	for _, id := range a.Conflicts {
		if id == b.ID {
			return true
		}
	}
	for _, id := range b.Conflicts {
		if id == a.ID {
			return true
		}
	}
	return false
}

// strengthLess is the user-visible priority order: COR, then LOE, then
// guideline document position.
func strengthLess(a, b *domain.Rule) bool {
	if a.COR.Rank() != b.COR.Rank() {
		return a.COR.Rank() < b.COR.Rank()
	}
	if a.LOE.Rank() != b.LOE.Rank() {
		return a.LOE.Rank() < b.LOE.Rank()
	}
	return domain.SectionLess(a, b)
}

// missingRequired names the rule's required fields absent from the record.
func missingRequired(rule *domain.Rule, rec *domain.PatientRecord) []string {
	var missing []string
	for _, f := range rule.RequiredFields {
		if _, ok := rec.Field(f); !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// rationale formats cited record fields with their actual values, so each
// recommendation carries the exact data that triggered it.
func (m *Matcher) rationale(rec *domain.PatientRecord, fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		val, ok := rec.Field(f)
		if !ok {
			out = append(out, fmt.Sprintf("%s is not documented", f))
			continue
		}
		out = append(out, fmt.Sprintf("%s = %s", f, formatFieldValue(val)))
	}
	return out
}

func formatFieldValue(val any) string {
	switch v := val.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case []string:
		return strings.Join(v, ", ")
	case []domain.Medication:
		names := make([]string, 0, len(v))
		for _, med := range v {
			names = append(names, med.Name)
		}
		return strings.Join(names, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func dedupe(fields []string) []string {
	seen := map[string]struct{}{}
	out := fields[:0]
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
