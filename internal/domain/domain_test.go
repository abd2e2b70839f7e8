package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestCORRanking(t *testing.T) {
	// Class 1 outranks 2a outranks 2b outranks both class 3 variants.
	ordered := []COR{CORI, CORIIa, CORIIb, CORIIINoBenef, CORIIIHarm}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1].Rank(), ordered[i].Rank())
	}
	assert.True(t, CORI.IsValid())
	assert.False(t, COR("5").IsValid())
	assert.Greater(t, COR("5").Rank(), CORIIIHarm.Rank())
}

func TestLOERanking(t *testing.T) {
	ordered := []LOE{LOEA, LOEBR, LOEBNR, LOECLD, LOECEO}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1].Rank(), ordered[i].Rank())
	}
	assert.False(t, LOE("D").IsValid())
}

func TestConfidenceDemote(t *testing.T) {
	assert.Equal(t, ConfidenceMedium, ConfidenceHigh.Demote())
	assert.Equal(t, ConfidenceLow, ConfidenceMedium.Demote())
	assert.Equal(t, ConfidenceLow, ConfidenceLow.Demote())
}

func TestHFTypeFromLVEF(t *testing.T) {
	tests := []struct {
		lvef float64
		want HFType
	}{
		{20, HFrEF},
		{40, HFrEF},
		{41, HFmrEF},
		{49, HFmrEF},
		{50, HFpEF},
		{65, HFpEF},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HFTypeFromLVEF(tt.lvef), "LVEF %v", tt.lvef)
	}
}

func TestSectionLess(t *testing.T) {
	rule := func(section string, number int) *Rule {
		return &Rule{Section: section, Number: number}
	}
	// Numeric section ordering, not lexicographic: 7.10 comes after 7.3.
	assert.True(t, SectionLess(rule("7.3", 1), rule("7.10", 1)))
	assert.False(t, SectionLess(rule("7.10", 1), rule("7.3", 1)))
	assert.True(t, SectionLess(rule("7.3.1", 1), rule("7.3.1", 2)))
	assert.True(t, SectionLess(rule("7.3", 1), rule("7.3.1", 1)))
}

func TestPredicateEvaluateTriState(t *testing.T) {
	rec := &PatientRecord{
		HFType:    ptr(HFrEF),
		NYHAClass: ptr(2),
		EGFR:      &LabValue{Value: 55},
	}

	tests := []struct {
		name string
		pred Predicate
		want Tri
	}{
		{
			name: "numeric comparison true",
			pred: Predicate{Field: "egfr", Op: OpGTE, Value: 30},
			want: TriTrue,
		},
		{
			name: "numeric comparison false",
			pred: Predicate{Field: "egfr", Op: OpLT, Value: 30},
			want: TriFalse,
		},
		{
			name: "unset field is unknown, never false",
			pred: Predicate{Field: "potassium", Op: OpLT, Value: 5},
			want: TriUnknown,
		},
		{
			name: "and short-circuits on false",
			pred: Predicate{All: []Predicate{
				{Field: "egfr", Op: OpLT, Value: 30},
				{Field: "potassium", Op: OpLT, Value: 5},
			}},
			want: TriFalse,
		},
		{
			name: "and with unknown stays unknown",
			pred: Predicate{All: []Predicate{
				{Field: "egfr", Op: OpGTE, Value: 30},
				{Field: "potassium", Op: OpLT, Value: 5},
			}},
			want: TriUnknown,
		},
		{
			name: "or short-circuits on true",
			pred: Predicate{Any: []Predicate{
				{Field: "potassium", Op: OpLT, Value: 5},
				{Field: "hf_type", Op: OpEqStr, Str: "HFrEF"},
			}},
			want: TriTrue,
		},
		{
			name: "or of false and unknown is unknown",
			pred: Predicate{Any: []Predicate{
				{Field: "potassium", Op: OpLT, Value: 5},
				{Field: "hf_type", Op: OpEqStr, Str: "HFpEF"},
			}},
			want: TriUnknown,
		},
		{
			name: "not inverts true",
			pred: Predicate{Not: &Predicate{Field: "hf_type", Op: OpEqStr, Str: "HFrEF"}},
			want: TriFalse,
		},
		{
			name: "not of unknown is unknown",
			pred: Predicate{Not: &Predicate{Field: "potassium", Op: OpLT, Value: 5}},
			want: TriUnknown,
		},
		{
			name: "in_num membership",
			pred: Predicate{Field: "nyha_class", Op: OpInNum, Values: []float64{2, 3}},
			want: TriTrue,
		},
		{
			name: "empty predicate matches nothing",
			pred: Predicate{},
			want: TriFalse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := tt.pred.Evaluate(rec)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPredicateCitesFields(t *testing.T) {
	rec := &PatientRecord{HFType: ptr(HFrEF), NYHAClass: ptr(2)}
	pred := Predicate{All: []Predicate{
		{Field: "hf_type", Op: OpEqStr, Str: "HFrEF"},
		{Field: "nyha_class", Op: OpInNum, Values: []float64{2, 3}},
	}}

	got, cited := pred.Evaluate(rec)
	assert.Equal(t, TriTrue, got)
	assert.Equal(t, []string{"hf_type", "nyha_class"}, cited)

	// Negating a composite cites every field the composite looked at, not
	// an empty name.
	negated := Predicate{Not: &Predicate{Any: []Predicate{
		{Field: "hf_type", Op: OpEqStr, Str: "HFpEF"},
		{Field: "nyha_class", Op: OpEq, Value: 4},
	}}}
	got, cited = negated.Evaluate(rec)
	assert.Equal(t, TriTrue, got)
	assert.Equal(t, []string{"hf_type", "nyha_class"}, cited)
}

func TestPredicateDrugClassOps(t *testing.T) {
	rec := &PatientRecord{
		Medications: []Medication{
			{Name: "lisinopril", Class: ClassACEi, Dose: 10},
			{Name: "metoprolol succinate", Class: ClassBetaBlocker, Dose: 50},
			{Name: "carvedilol", Class: ClassBetaBlocker},
		},
	}

	has, _ := (&Predicate{Field: "medications", Op: OpHasClass, Str: "ACEi"}).Evaluate(rec)
	assert.Equal(t, TriTrue, has)

	lacks, _ := (&Predicate{Field: "medications", Op: OpLacksClass, Str: "MRA"}).Evaluate(rec)
	assert.Equal(t, TriTrue, lacks)

	// Below the 200mg target.
	below, _ := (&Predicate{Field: "medications", Op: OpDoseBelow, Str: "metoprolol succinate", Value: 200}).Evaluate(rec)
	assert.Equal(t, TriTrue, below)

	// On the drug but dose never stated: indeterminate, not false.
	noDose, _ := (&Predicate{Field: "medications", Op: OpDoseBelow, Str: "carvedilol", Value: 25}).Evaluate(rec)
	assert.Equal(t, TriUnknown, noDose)

	// Not on the drug at all.
	absent, _ := (&Predicate{Field: "medications", Op: OpDoseBelow, Str: "lisinopril x", Value: 20}).Evaluate(rec)
	assert.Equal(t, TriFalse, absent)
}

func TestPredicateValidate(t *testing.T) {
	tests := []struct {
		name    string
		pred    Predicate
		wantErr bool
	}{
		{"valid leaf", Predicate{Field: "egfr", Op: OpGTE, Value: 30}, false},
		{"leaf without field", Predicate{Op: OpGTE, Value: 30}, true},
		{"unknown op", Predicate{Field: "egfr", Op: "between"}, true},
		{"no variant", Predicate{}, true},
		{
			"two variants",
			Predicate{Field: "egfr", Op: OpGTE, All: []Predicate{{Field: "x", Op: OpEq}}},
			true,
		},
		{
			"nested invalid",
			Predicate{All: []Predicate{{Field: "egfr", Op: "nope"}}},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pred.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRuleValidate(t *testing.T) {
	valid := Rule{
		ID: "7.3.2-1", Section: "7.3.2", Number: 1, Title: "t", Text: "x",
		COR: CORI, LOE: LOEA,
		Predicate: Predicate{Field: "hf_type", Op: OpEqStr, Str: "HFrEF"},
		Action:    ActionPayload{Intervention: "do"},
	}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.COR = "9"
	require.Error(t, bad.Validate())
	assert.ErrorIs(t, bad.Validate(), ErrInvalidCOR)

	bad = valid
	bad.Action.Intervention = ""
	assert.Error(t, bad.Validate())
}

func TestRecordClone(t *testing.T) {
	rec := &PatientRecord{
		Age:         ptr(65),
		HFType:      ptr(HFrEF),
		EGFR:        &LabValue{Value: 55},
		Medications: []Medication{{Name: "lisinopril", Class: ClassACEi}},
		Provenance:  map[string]FieldValue{"age": {Name: "age", Value: 65.0}},
	}

	clone := rec.Clone()
	*clone.Age = 80
	clone.EGFR.Value = 10
	clone.Medications[0].Name = "changed"
	clone.Provenance["age"] = FieldValue{Name: "age", Value: 80.0}

	assert.Equal(t, 65, *rec.Age)
	assert.Equal(t, 55.0, rec.EGFR.Value)
	assert.Equal(t, "lisinopril", rec.Medications[0].Name)
	assert.Equal(t, 65.0, rec.Provenance["age"].Value)
}

func TestRecordFieldUnset(t *testing.T) {
	rec := &PatientRecord{}
	for _, name := range []string{"age", "sex", "lvef", "nyha_class", "hf_type", "medications", "potassium", "angioedema_history", "no_such_field"} {
		_, ok := rec.Field(name)
		assert.False(t, ok, name)
	}
}

func TestValidationFailureMessage(t *testing.T) {
	err := NewValidationFailure("age", "NYHA class")
	assert.Equal(t, "insufficient data: missing mandatory fields: age, NYHA class", err.Error())
}
