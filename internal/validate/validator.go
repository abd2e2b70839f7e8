// Package validate turns the extractor's field map into a typed, frozen
// PatientRecord, separating hard failures (missing mandatory fields) from
// soft warnings (out-of-range values, cross-field inconsistencies).
package validate

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hf-guideline-server/internal/domain"
)

// DefaultMandatoryFields is the minimum field set without which guideline
// matching is not meaningful. "hf_type" is satisfied by an LVEF value since
// the type is derivable from it.
var DefaultMandatoryFields = []string{"age", "sex", "nyha_class", "hf_type"}

// fieldLabels maps field keys to the names surfaced in validation failures,
// so callers can re-prompt in clinical language.
var fieldLabels = map[string]string{
	"age":        "age",
	"sex":        "sex",
	"nyha_class": "NYHA class",
	"hf_type":    "HF type/LVEF",
	"lvef":       "LVEF",
}

// Validator enforces type, range, and consistency invariants over extracted
// field maps. Construct with New; the mandatory field set is configurable.
type Validator struct {
	logger    *logrus.Logger
	mandatory []string
}

// New creates a Validator with the given mandatory field set. An empty set
// falls back to DefaultMandatoryFields.
func New(logger *logrus.Logger, mandatory []string) *Validator {
	if len(mandatory) == 0 {
		mandatory = DefaultMandatoryFields
	}
	return &Validator{logger: logger, mandatory: mandatory}
}

// Validate builds a PatientRecord from the field map. It returns a
// ValidationFailure naming every absent mandatory field; soft problems
// (range violations, HF type inconsistent with LVEF, stale-looking labs)
// become warnings attached to the record. The returned record carries the
// extractor's warnings followed by validation warnings.
func (v *Validator) Validate(fields domain.FieldMap, extractionWarnings []domain.Warning) (*domain.PatientRecord, error) {
	missing := v.missingMandatory(fields)
	if len(missing) > 0 {
		v.logger.WithFields(logrus.Fields{
			"missing": missing,
		}).Warn("Patient record rejected: mandatory fields absent")
		return nil, domain.NewValidationFailure(missing...)
	}

	rec := &domain.PatientRecord{
		Sex:        domain.SexUnspecified,
		Provenance: map[string]domain.FieldValue{},
	}
	rec.Warnings = append(rec.Warnings, extractionWarnings...)

	for _, name := range sortedFieldNames(fields) {
		fv := fields[name]
		rec.Provenance[name] = fv
		if err := assignField(rec, fv); err != nil {
			rec.Warnings = append(rec.Warnings, domain.Warning{
				Code: domain.WarnAmbiguous, Field: name,
				Message: err.Error(),
			})
		}
	}

	v.rangeChecks(rec)
	v.consistencyChecks(rec)

	v.logger.WithFields(logrus.Fields{
		"fields":   len(fields),
		"warnings": len(rec.Warnings),
	}).Debug("Patient record validated")

	return rec, nil
}

// missingMandatory returns the labels of mandatory fields absent from the
// field map, in mandatory-set order.
func (v *Validator) missingMandatory(fields domain.FieldMap) []string {
	var missing []string
	for _, field := range v.mandatory {
		if _, ok := fields[field]; ok {
			continue
		}
		// HF type is derivable from LVEF, so either satisfies.
		if field == "hf_type" {
			if _, ok := fields["lvef"]; ok {
				continue
			}
		}
		label := fieldLabels[field]
		if label == "" {
			label = field
		}
		missing = append(missing, label)
	}
	return missing
}

// assignField moves one extracted value onto the typed record. Type
// mismatches are soft: the field stays unset and a warning is recorded.
func assignField(rec *domain.PatientRecord, fv domain.FieldValue) error {
	switch fv.Name {
	case "age":
		num, ok := fv.Value.(float64)
		if !ok {
			return fmt.Errorf("age has non-numeric value %v", fv.Value)
		}
		age := int(num)
		rec.Age = &age
	case "sex":
		s, ok := fv.Value.(string)
		if !ok {
			return fmt.Errorf("sex has non-string value %v", fv.Value)
		}
		rec.Sex = domain.Sex(s)
	case "weight_kg":
		return assignFloat(&rec.WeightKg, fv)
	case "height_cm":
		return assignFloat(&rec.HeightCm, fv)
	case "ethnicity":
		if s, ok := fv.Value.(string); ok {
			rec.Ethnicity = s
		}
	case "lvef":
		return assignFloat(&rec.LVEF, fv)
	case "nyha_class":
		num, ok := fv.Value.(float64)
		if !ok {
			return fmt.Errorf("NYHA class has non-numeric value %v", fv.Value)
		}
		cls := int(num)
		if cls < 1 || cls > 4 {
			return fmt.Errorf("%w: %d", domain.ErrInvalidNYHAClass, cls)
		}
		rec.NYHAClass = &cls
	case "hf_stage":
		s, ok := fv.Value.(string)
		if !ok {
			return fmt.Errorf("HF stage has non-string value %v", fv.Value)
		}
		stage := domain.HFStage(s)
		if !stage.IsValid() {
			return fmt.Errorf("invalid HF stage %q", s)
		}
		rec.HFStage = &stage
	case "hf_type":
		s, ok := fv.Value.(string)
		if !ok {
			return fmt.Errorf("HF type has non-string value %v", fv.Value)
		}
		t := domain.HFType(s)
		if !t.IsValid() {
			return fmt.Errorf("%w: %q", domain.ErrInvalidHFType, s)
		}
		rec.HFType = &t
	case "systolic_bp":
		return assignFloat(&rec.SystolicBP, fv)
	case "medications":
		meds, ok := fv.Value.([]domain.Medication)
		if !ok {
			return fmt.Errorf("medications has unexpected value type %T", fv.Value)
		}
		rec.Medications = meds
	case "potassium":
		return assignLab(&rec.Potassium, fv)
	case "egfr":
		return assignLab(&rec.EGFR, fv)
	case "sodium":
		return assignLab(&rec.Sodium, fv)
	case "bnp":
		return assignLab(&rec.BNP, fv)
	case "nt_probnp":
		return assignLab(&rec.NTProBNP, fv)
	case "comorbidities":
		list, ok := fv.Value.([]string)
		if !ok {
			return fmt.Errorf("comorbidities has unexpected value type %T", fv.Value)
		}
		rec.Comorbidities = list
	case "angioedema_history":
		b, ok := fv.Value.(bool)
		if !ok {
			return fmt.Errorf("angioedema history has non-boolean value %v", fv.Value)
		}
		rec.AngioedemaHistory = &b
	default:
		return fmt.Errorf("unknown field %q", fv.Name)
	}
	return nil
}

func assignFloat(dst **float64, fv domain.FieldValue) error {
	num, ok := fv.Value.(float64)
	if !ok {
		return fmt.Errorf("%s has non-numeric value %v", fv.Name, fv.Value)
	}
	*dst = &num
	return nil
}

func assignLab(dst **domain.LabValue, fv domain.FieldValue) error {
	num, ok := fv.Value.(float64)
	if !ok {
		return fmt.Errorf("%s has non-numeric value %v", fv.Name, fv.Value)
	}
	*dst = &domain.LabValue{Value: num, Unit: fv.Unit}
	return nil
}

// rangeChecks flags values outside clinical ranges. LVEF additionally has a
// hard invariant [0,100]; a value outside it is clamped-out by warning but
// the record still carries it for auditability.
func (v *Validator) rangeChecks(rec *domain.PatientRecord) {
	checks := []struct {
		field string
		value *float64
	}{
		{"age", intAsFloat(rec.Age)},
		{"weight_kg", rec.WeightKg},
		{"height_cm", rec.HeightCm},
		{"lvef", rec.LVEF},
		{"systolic_bp", rec.SystolicBP},
		{"potassium", labValue(rec.Potassium)},
		{"egfr", labValue(rec.EGFR)},
		{"sodium", labValue(rec.Sodium)},
		{"bnp", labValue(rec.BNP)},
		{"nt_probnp", labValue(rec.NTProBNP)},
	}
	for _, chk := range checks {
		if chk.value == nil {
			continue
		}
		if r, ok := RangeFor(chk.field); ok && (*chk.value < r.Min || *chk.value > r.Max) {
			rec.Warnings = append(rec.Warnings, domain.Warning{
				Code: domain.WarnOutOfRange, Field: chk.field,
				Message: fmt.Sprintf("%s %v outside clinical range [%v, %v]", chk.field, *chk.value, r.Min, r.Max),
			})
		}
	}
}

// consistencyChecks covers cross-field invariants: HF type implied by LVEF
// must agree with a stated type, and eGFR cannot be negative.
func (v *Validator) consistencyChecks(rec *domain.PatientRecord) {
	if rec.HFType != nil && rec.LVEF != nil {
		implied := domain.HFTypeFromLVEF(*rec.LVEF)
		stated := *rec.HFType
		statedConf := rec.Provenance["hf_type"].Confidence
		if implied != stated && statedConf == domain.ConfidenceHigh {
			rec.Warnings = append(rec.Warnings, domain.Warning{
				Code: domain.WarnInconsistent, Field: "hf_type",
				Message: fmt.Sprintf("stated HF type %s conflicts with type %s implied by LVEF %v", stated, implied, *rec.LVEF),
			})
		}
	}
	if rec.EGFR != nil && rec.EGFR.Value < 0 {
		rec.Warnings = append(rec.Warnings, domain.Warning{
			Code: domain.WarnOutOfRange, Field: "egfr",
			Message: "eGFR cannot be negative",
		})
	}
}

func intAsFloat(p *int) *float64 {
	if p == nil {
		return nil
	}
	f := float64(*p)
	return &f
}

func labValue(lv *domain.LabValue) *float64 {
	if lv == nil {
		return nil
	}
	return &lv.Value
}

// sortedFieldNames gives a deterministic assignment order so warning lists
// are stable across runs for identical input.
func sortedFieldNames(fields domain.FieldMap) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
