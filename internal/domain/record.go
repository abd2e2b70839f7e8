package domain

import "time"

// Span locates an extracted value in the source text. Offsets are byte
// offsets into the original input.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// FieldValue is a single extracted clinical attribute with provenance.
// Multi-valued fields (medications, comorbidities) carry one span per
// entry in Spans; Span then holds the first of them.
type FieldValue struct {
	Name       string     `json:"name"`
	Value      any        `json:"value"`
	Unit       string     `json:"unit,omitempty"`
	Confidence Confidence `json:"confidence"`
	Span       Span       `json:"span"`
	Spans      []Span     `json:"spans,omitempty"`
}

// FieldMap is the extractor's output: normalized field name to value.
type FieldMap map[string]FieldValue

// WarningCode classifies extraction and validation warnings.
type WarningCode string

const (
	WarnNoContent     WarningCode = "no_content"
	WarnConflict      WarningCode = "conflicting_mentions"
	WarnImplausible   WarningCode = "implausible_value"
	WarnUnit          WarningCode = "unresolvable_unit"
	WarnAmbiguous     WarningCode = "ambiguous_phrase"
	WarnOutOfRange    WarningCode = "out_of_range"
	WarnInconsistent  WarningCode = "cross_field_inconsistency"
	WarnStaleLab      WarningCode = "stale_lab"
	WarnDuplicateMed  WarningCode = "duplicate_medication"
	WarnPrecondition  WarningCode = "precondition_failed"
	WarnIndeterminate WarningCode = "indeterminate_rule"
)

// Warning is a recoverable problem attached to extractor or validator
// output. Warnings never block the pipeline.
type Warning struct {
	Code    WarningCode `json:"code"`
	Field   string      `json:"field,omitempty"`
	Message string      `json:"message"`
}

// Medication is one entry of the patient's medication list, normalized to
// the canonical drug-class taxonomy.
type Medication struct {
	Name         string    `json:"name"`
	Class        DrugClass `json:"class"`
	Dose         float64   `json:"dose,omitempty"`
	DoseUnit     string    `json:"dose_unit,omitempty"`
	Frequency    string    `json:"frequency,omitempty"`
	RecentChange bool      `json:"recent_change,omitempty"`
	Span         Span      `json:"span"`
}

// LabValue is a laboratory result. Stale marks a value whose validity
// window has passed; stale labs still match predicates but are flagged.
type LabValue struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Stale bool    `json:"stale,omitempty"`
}

// PatientRecord is the central entity handed to the matcher. Optional
// scalar fields are pointers: nil means "never mentioned", which matching
// logic must treat distinctly from zero or false.
//
// The record is immutable once validated; the matcher never mutates it.
type PatientRecord struct {
	// Demographics
	Age       *int     `json:"age,omitempty"`
	Sex       Sex      `json:"sex,omitempty"`
	WeightKg  *float64 `json:"weight_kg,omitempty"`
	HeightCm  *float64 `json:"height_cm,omitempty"`
	Ethnicity string   `json:"ethnicity,omitempty"`

	// Cardiac parameters
	LVEF      *float64 `json:"lvef,omitempty"`
	NYHAClass *int     `json:"nyha_class,omitempty"`
	HFStage   *HFStage `json:"hf_stage,omitempty"`
	HFType    *HFType  `json:"hf_type,omitempty"`

	// Vitals
	SystolicBP *float64 `json:"systolic_bp,omitempty"`

	// Medications
	Medications []Medication `json:"medications,omitempty"`

	// Labs
	Potassium *LabValue `json:"potassium,omitempty"`
	EGFR      *LabValue `json:"egfr,omitempty"`
	Sodium    *LabValue `json:"sodium,omitempty"`
	BNP       *LabValue `json:"bnp,omitempty"`
	NTProBNP  *LabValue `json:"nt_probnp,omitempty"`

	// Comorbidities and history flags
	Comorbidities     []string `json:"comorbidities,omitempty"`
	AngioedemaHistory *bool    `json:"angioedema_history,omitempty"`

	// Provenance by field name, carried over from extraction.
	Provenance map[string]FieldValue `json:"provenance,omitempty"`

	// Warnings accumulated during extraction and validation.
	Warnings []Warning `json:"warnings,omitempty"`
}

// Field resolves a record field by its normalized name for predicate
// evaluation. The second return is false when the field was never set;
// callers must not treat unset as zero or false.
func (r *PatientRecord) Field(name string) (any, bool) {
	switch name {
	case "age":
		if r.Age == nil {
			return nil, false
		}
		return float64(*r.Age), true
	case "sex":
		if r.Sex == "" {
			return nil, false
		}
		return string(r.Sex), true
	case "weight_kg":
		if r.WeightKg == nil {
			return nil, false
		}
		return *r.WeightKg, true
	case "height_cm":
		if r.HeightCm == nil {
			return nil, false
		}
		return *r.HeightCm, true
	case "ethnicity":
		if r.Ethnicity == "" {
			return nil, false
		}
		return r.Ethnicity, true
	case "lvef":
		if r.LVEF == nil {
			return nil, false
		}
		return *r.LVEF, true
	case "nyha_class":
		if r.NYHAClass == nil {
			return nil, false
		}
		return float64(*r.NYHAClass), true
	case "hf_stage":
		if r.HFStage == nil {
			return nil, false
		}
		return string(*r.HFStage), true
	case "hf_type":
		if r.HFType == nil {
			return nil, false
		}
		return string(*r.HFType), true
	case "systolic_bp":
		if r.SystolicBP == nil {
			return nil, false
		}
		return *r.SystolicBP, true
	case "medications":
		if r.Medications == nil {
			return nil, false
		}
		return r.Medications, true
	case "potassium":
		return labField(r.Potassium)
	case "egfr":
		return labField(r.EGFR)
	case "sodium":
		return labField(r.Sodium)
	case "bnp":
		return labField(r.BNP)
	case "nt_probnp":
		return labField(r.NTProBNP)
	case "comorbidities":
		if r.Comorbidities == nil {
			return nil, false
		}
		return r.Comorbidities, true
	case "angioedema_history":
		if r.AngioedemaHistory == nil {
			return nil, false
		}
		return *r.AngioedemaHistory, true
	default:
		return nil, false
	}
}

func labField(lv *LabValue) (any, bool) {
	if lv == nil {
		return nil, false
	}
	return lv.Value, true
}

// HasDrugClass reports whether the medication list contains a drug of the
// given class.
func (r *PatientRecord) HasDrugClass(class DrugClass) bool {
	for _, m := range r.Medications {
		if m.Class == class {
			return true
		}
	}
	return false
}

// MedicationByClass returns the first medication of the given class.
func (r *PatientRecord) MedicationByClass(class DrugClass) (Medication, bool) {
	for _, m := range r.Medications {
		if m.Class == class {
			return m, true
		}
	}
	return Medication{}, false
}

// HasComorbidity reports whether the named condition is recorded.
func (r *PatientRecord) HasComorbidity(name string) bool {
	for _, c := range r.Comorbidities {
		if c == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record. The validator freezes its output
// by handing the matcher a clone, so recommendations can never mutate the
// caller's record.
func (r *PatientRecord) Clone() *PatientRecord {
	out := *r
	out.Age = cloneScalar(r.Age)
	out.WeightKg = cloneScalar(r.WeightKg)
	out.HeightCm = cloneScalar(r.HeightCm)
	out.LVEF = cloneScalar(r.LVEF)
	out.NYHAClass = cloneScalar(r.NYHAClass)
	out.HFStage = cloneScalar(r.HFStage)
	out.HFType = cloneScalar(r.HFType)
	out.SystolicBP = cloneScalar(r.SystolicBP)
	out.AngioedemaHistory = cloneScalar(r.AngioedemaHistory)
	out.Potassium = cloneScalar(r.Potassium)
	out.EGFR = cloneScalar(r.EGFR)
	out.Sodium = cloneScalar(r.Sodium)
	out.BNP = cloneScalar(r.BNP)
	out.NTProBNP = cloneScalar(r.NTProBNP)
	out.Medications = append([]Medication(nil), r.Medications...)
	out.Comorbidities = append([]string(nil), r.Comorbidities...)
	out.Warnings = append([]Warning(nil), r.Warnings...)
	if r.Provenance != nil {
		out.Provenance = make(map[string]FieldValue, len(r.Provenance))
		for k, v := range r.Provenance {
			out.Provenance[k] = v
		}
	}
	return &out
}

func cloneScalar[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// RuleOutcome records how a single rule fared during matching, for
// audit trails.
type RuleOutcome struct {
	RuleID  string `json:"rule_id"`
	Section string `json:"section"`
	Reason  string `json:"reason"`
}

// Recommendation is one selected guideline rule plus the audit trail a
// clinician needs: which record fields triggered it and which conflicting
// rules it suppressed.
type Recommendation struct {
	Rule       *Rule    `json:"rule"`
	Rationale  []string `json:"rationale"`
	Suppressed []string `json:"suppressed,omitempty"`
	Notes      []string `json:"notes,omitempty"`
}

// RecommendationSet is the matcher's output. Created per request; the
// ordering is the user-visible priority and is deterministic for identical
// inputs. An empty Recommendations slice is a valid outcome meaning "no
// guideline recommendation matches this record".
type RecommendationSet struct {
	Edition         string           `json:"edition"`
	CreatedAt       time.Time        `json:"created_at"`
	Recommendations []Recommendation `json:"recommendations"`
	Indeterminate   []RuleOutcome    `json:"indeterminate,omitempty"`
	Excluded        []RuleOutcome    `json:"excluded,omitempty"`
	Warnings        []Warning        `json:"warnings,omitempty"`
}
