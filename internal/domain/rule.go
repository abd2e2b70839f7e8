package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Tri is the three-valued outcome of predicate evaluation. Unknown means a
// referenced field was never set on the record; predicates must resolve to
// Unknown instead of raising when data is missing.
type Tri int

const (
	TriFalse Tri = iota
	TriTrue
	TriUnknown
)

// PredicateOp is the closed set of leaf predicate operations. Keeping the
// set closed lets the matcher reason statically about indeterminate-field
// handling instead of dispatching into opaque callbacks.
type PredicateOp string

const (
	OpGT             PredicateOp = "gt"
	OpGTE            PredicateOp = "gte"
	OpLT             PredicateOp = "lt"
	OpLTE            PredicateOp = "lte"
	OpEq             PredicateOp = "eq"
	OpEqStr          PredicateOp = "eq_str"
	OpInStr          PredicateOp = "in_str"
	OpInNum          PredicateOp = "in_num"
	OpIsTrue         PredicateOp = "is_true"
	OpIsFalse        PredicateOp = "is_false"
	OpHasClass       PredicateOp = "has_class"
	OpLacksClass     PredicateOp = "lacks_class"
	OpHasComorbidity PredicateOp = "has_comorbidity"
	OpDoseBelow      PredicateOp = "dose_below"
)

// Predicate is either a leaf comparison over one record field or a
// composite of sub-predicates. Exactly one of Op, All, Any, Not is used.
type Predicate struct {
	Field  string      `json:"field,omitempty"`
	Op     PredicateOp `json:"op,omitempty"`
	Value  float64     `json:"value,omitempty"`
	Str    string      `json:"str,omitempty"`
	Strs   []string    `json:"strs,omitempty"`
	Values []float64   `json:"values,omitempty"`

	All []Predicate `json:"all,omitempty"`
	Any []Predicate `json:"any,omitempty"`
	Not *Predicate  `json:"not,omitempty"`
}

// Validate checks the predicate is well-formed: exactly one variant in use,
// known op, and a field name on every leaf. Called at knowledge base load;
// a malformed predicate is fatal there, never at match time.
func (p *Predicate) Validate() error {
	variants := 0
	if p.Op != "" {
		variants++
	}
	if len(p.All) > 0 {
		variants++
	}
	if len(p.Any) > 0 {
		variants++
	}
	if p.Not != nil {
		variants++
	}
	if variants != 1 {
		return fmt.Errorf("predicate must have exactly one of op/all/any/not, got %d", variants)
	}

	if p.Op != "" {
		switch p.Op {
		case OpGT, OpGTE, OpLT, OpLTE, OpEq, OpEqStr, OpInStr, OpInNum,
			OpIsTrue, OpIsFalse, OpHasClass, OpLacksClass, OpHasComorbidity, OpDoseBelow:
		default:
			return fmt.Errorf("unknown predicate op %q", p.Op)
		}
		if p.Field == "" {
			return fmt.Errorf("leaf predicate with op %q has no field", p.Op)
		}
		return nil
	}

	for i := range p.All {
		if err := p.All[i].Validate(); err != nil {
			return fmt.Errorf("all[%d]: %w", i, err)
		}
	}
	for i := range p.Any {
		if err := p.Any[i].Validate(); err != nil {
			return fmt.Errorf("any[%d]: %w", i, err)
		}
	}
	if p.Not != nil {
		if err := p.Not.Validate(); err != nil {
			return fmt.Errorf("not: %w", err)
		}
	}
	return nil
}

// Fields returns every field name the predicate references, sorted, for
// the knowledge base trigger-field index and rationale citations.
func (p *Predicate) Fields() []string {
	seen := map[string]struct{}{}
	p.collectFields(seen)
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (p *Predicate) collectFields(seen map[string]struct{}) {
	if p.Field != "" {
		seen[p.Field] = struct{}{}
	}
	for i := range p.All {
		p.All[i].collectFields(seen)
	}
	for i := range p.Any {
		p.Any[i].collectFields(seen)
	}
	if p.Not != nil {
		p.Not.collectFields(seen)
	}
}

// Evaluate resolves the predicate against a record. It never panics on
// missing data: a leaf over an unset field yields Unknown. cited collects
// the leaf fields whose values contributed to a True outcome so the matcher
// can attach exact rationale.
func (p *Predicate) Evaluate(r *PatientRecord) (result Tri, cited []string) {
	switch {
	case p.Op != "":
		return p.evalLeaf(r)
	case len(p.All) > 0:
		res := TriTrue
		var all []string
		for i := range p.All {
			sub, c := p.All[i].Evaluate(r)
			switch sub {
			case TriFalse:
				return TriFalse, nil
			case TriUnknown:
				res = TriUnknown
			case TriTrue:
				all = append(all, c...)
			}
		}
		if res == TriTrue {
			return TriTrue, all
		}
		return TriUnknown, nil
	case len(p.Any) > 0:
		res := TriFalse
		for i := range p.Any {
			sub, c := p.Any[i].Evaluate(r)
			switch sub {
			case TriTrue:
				return TriTrue, c
			case TriUnknown:
				res = TriUnknown
			}
		}
		return res, nil
	case p.Not != nil:
		sub, _ := p.Not.Evaluate(r)
		switch sub {
		case TriTrue:
			return TriFalse, nil
		case TriFalse:
			// Cite everything the negated predicate looked at; it may be a
			// composite with no field of its own.
			return TriTrue, p.Not.Fields()
		default:
			return TriUnknown, nil
		}
	default:
		// Empty predicate matches nothing.
		return TriFalse, nil
	}
}

func (p *Predicate) evalLeaf(r *PatientRecord) (Tri, []string) {
	val, ok := r.Field(p.Field)
	if !ok {
		return TriUnknown, nil
	}
	cite := []string{p.Field}

	switch p.Op {
	case OpGT, OpGTE, OpLT, OpLTE, OpEq:
		num, isNum := val.(float64)
		if !isNum {
			return TriUnknown, nil
		}
		return boolTri(compareNum(p.Op, num, p.Value)), cite
	case OpInNum:
		num, isNum := val.(float64)
		if !isNum {
			return TriUnknown, nil
		}
		for _, v := range p.Values {
			if num == v {
				return TriTrue, cite
			}
		}
		return TriFalse, nil
	case OpEqStr:
		s, isStr := val.(string)
		if !isStr {
			return TriUnknown, nil
		}
		return boolTri(strings.EqualFold(s, p.Str)), cite
	case OpInStr:
		s, isStr := val.(string)
		if !isStr {
			return TriUnknown, nil
		}
		for _, v := range p.Strs {
			if strings.EqualFold(s, v) {
				return TriTrue, cite
			}
		}
		return TriFalse, nil
	case OpIsTrue:
		b, isBool := val.(bool)
		if !isBool {
			return TriUnknown, nil
		}
		return boolTri(b), cite
	case OpIsFalse:
		b, isBool := val.(bool)
		if !isBool {
			return TriUnknown, nil
		}
		return boolTri(!b), cite
	case OpHasClass:
		return boolTri(r.HasDrugClass(DrugClass(p.Str))), cite
	case OpLacksClass:
		return boolTri(!r.HasDrugClass(DrugClass(p.Str))), cite
	case OpHasComorbidity:
		return boolTri(r.HasComorbidity(p.Str)), cite
	case OpDoseBelow:
		// Matches by drug name substring: dose targets are per drug, not
		// per class (Table 14).
		for _, med := range r.Medications {
			if !strings.Contains(strings.ToLower(med.Name), strings.ToLower(p.Str)) {
				continue
			}
			if med.Dose == 0 {
				// Drug present but dose never stated.
				return TriUnknown, nil
			}
			return boolTri(med.Dose < p.Value), cite
		}
		return TriFalse, nil
	default:
		return TriUnknown, nil
	}
}

func compareNum(op PredicateOp, a, b float64) bool {
	switch op {
	case OpGT:
		return a > b
	case OpGTE:
		return a >= b
	case OpLT:
		return a < b
	case OpLTE:
		return a <= b
	case OpEq:
		return a == b
	default:
		return false
	}
}

func boolTri(b bool) Tri {
	if b {
		return TriTrue
	}
	return TriFalse
}

// DrugOption is one concrete drug choice inside an action payload, with
// dosing from Table 14 of the guideline.
type DrugOption struct {
	Name         string `json:"name"`
	StartingDose string `json:"starting_dose,omitempty"`
	TargetDose   string `json:"target_dose,omitempty"`
}

// ActionPayload is the intervention a rule recommends.
type ActionPayload struct {
	Intervention string       `json:"intervention"`
	Drugs        []DrugOption `json:"drugs,omitempty"`
	Titration    string       `json:"titration,omitempty"`
	Monitoring   []string     `json:"monitoring,omitempty"`
}

// Rule is one knowledge base entry: an evidence-graded recommendation with
// an applicability predicate and interaction metadata.
type Rule struct {
	ID      string `json:"id"`
	Section string `json:"section"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Text    string `json:"text"`

	COR COR `json:"cor"`
	LOE LOE `json:"loe"`

	// Gate marks a precondition rule: it participates in requires edges but
	// is never surfaced as a recommendation itself.
	Gate bool `json:"gate,omitempty"`

	Predicate Predicate `json:"predicate"`

	// RequiredFields are fields without which applicability cannot be
	// determined at all; a rule missing one of these is reported as
	// indeterminate, not as a negative match.
	RequiredFields []string `json:"required_fields,omitempty"`

	// Interaction edges by rule ID.
	Requires   []string `json:"requires,omitempty"`
	Conflicts  []string `json:"conflicts,omitempty"`
	Supersedes []string `json:"supersedes,omitempty"`

	Action ActionPayload `json:"action"`
}

// Validate checks a rule at load time. Knowledge base schema violations are
// fatal at startup, never per request.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule validation: missing ID")
	}
	if r.Section == "" {
		return fmt.Errorf("rule validation (%s): missing section", r.ID)
	}
	if !r.COR.IsValid() {
		return fmt.Errorf("rule validation (%s): %w: %q", r.ID, ErrInvalidCOR, r.COR)
	}
	if !r.LOE.IsValid() {
		return fmt.Errorf("rule validation (%s): %w: %q", r.ID, ErrInvalidLOE, r.LOE)
	}
	if err := r.Predicate.Validate(); err != nil {
		return fmt.Errorf("rule validation (%s): predicate: %w", r.ID, err)
	}
	if r.Action.Intervention == "" {
		return fmt.Errorf("rule validation (%s): missing action intervention", r.ID)
	}
	return nil
}

// SectionLess orders rules by guideline document position: section reference
// ascending, then recommendation number. Earlier sections take precedence in
// tie-breaks, reflecting document order.
func SectionLess(a, b *Rule) bool {
	as, bs := sectionKey(a.Section), sectionKey(b.Section)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	if len(as) != len(bs) {
		return len(as) < len(bs)
	}
	return a.Number < b.Number
}

// sectionKey parses a dotted section reference ("7.3.1") into numeric parts
// so "7.10" sorts after "7.3".
func sectionKey(section string) []int {
	parts := strings.Split(section, ".")
	key := make([]int, 0, len(parts))
	for _, p := range parts {
		n := 0
		for _, c := range p {
			if c < '0' || c > '9' {
				break
			}
			n = n*10 + int(c-'0')
		}
		key = append(key, n)
	}
	return key
}
