// Package extract parses raw clinical narrative text into a normalized
// field map with per-field confidence and provenance. Extraction is pure
// and stateless: identical input always yields an identical field map and
// warning list, byte for byte.
package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hf-guideline-server/internal/domain"
	"github.com/hf-guideline-server/internal/validate"
)

// Extractor pulls clinical parameters out of unstructured text. It holds no
// mutable state; the zero value is not usable, construct with New.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract runs the multi-pass extraction over the input text. Each pass
// targets one semantic class: demographics, cardiac parameters, labs,
// medications, comorbidities. It never rejects a value; out-of-plausibility
// numerics are kept and flagged, rejection is the validator's job.
//
// Empty input yields an empty field map with a single no-content warning so
// downstream logic can produce a "missing data" response instead of failing.
func (e *Extractor) Extract(text string) (domain.FieldMap, []domain.Warning) {
	c := &collector{
		text:   text,
		fields: domain.FieldMap{},
	}

	if strings.TrimSpace(text) == "" {
		c.warn(domain.WarnNoContent, "", "input text contains no content")
		return c.fields, c.warnings
	}

	e.extractDemographics(c)
	e.extractCardiac(c)
	e.extractLabs(c)
	e.extractMedications(c)
	e.extractComorbidities(c)

	return c.fields, c.warnings
}

// collector accumulates fields and warnings for one extraction run.
type collector struct {
	text     string
	fields   domain.FieldMap
	warnings []domain.Warning
}

func (c *collector) warn(code domain.WarningCode, field, format string, args ...any) {
	c.warnings = append(c.warnings, domain.Warning{
		Code:    code,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// set records a field value, applying the conflicting-mention policy: a
// later mention with a different value wins, confidence drops to low, and
// both candidates land in the warning list. Nothing is silently discarded.
func (c *collector) set(fv domain.FieldValue) {
	prev, exists := c.fields[fv.Name]
	if exists {
		if fmt.Sprint(prev.Value) == fmt.Sprint(fv.Value) {
			return // repeated identical mention, nothing to reconcile
		}
		fv.Confidence = domain.ConfidenceLow
		c.warn(domain.WarnConflict, fv.Name,
			"conflicting mentions for %s: %q then %q; keeping most recent",
			fv.Name, prev.Span.Text, fv.Span.Text)
	}
	c.fields[fv.Name] = fv

	if num, ok := fv.Value.(float64); ok {
		if !validate.Plausible(fv.Name, num) {
			c.warn(domain.WarnImplausible, fv.Name,
				"value %v for %s is outside the plausible range; kept for validation", num, fv.Name)
		}
	}
}

func span(text string, start, end int) domain.Span {
	return domain.Span{Start: start, End: end, Text: text[start:end]}
}

func (e *Extractor) extractDemographics(c *collector) {
	for _, m := range reAge.FindAllStringSubmatchIndex(c.text, -1) {
		v, err := strconv.ParseFloat(c.text[m[2]:m[3]], 64)
		if err != nil {
			continue
		}
		c.set(domain.FieldValue{
			Name: "age", Value: v,
			Confidence: domain.ConfidenceHigh,
			Span:       span(c.text, m[0], m[1]),
		})
	}

	for _, m := range reSex.FindAllStringSubmatchIndex(c.text, -1) {
		word := strings.ToLower(c.text[m[2]:m[3]])
		sex := "male"
		switch word {
		case "female", "woman", "lady":
			sex = "female"
		}
		c.set(domain.FieldValue{
			Name: "sex", Value: sex,
			Confidence: domain.ConfidenceHigh,
			Span:       span(c.text, m[0], m[1]),
		})
	}

	if m := reEthnicity.FindStringSubmatchIndex(c.text); m != nil {
		c.set(domain.FieldValue{
			Name: "ethnicity", Value: "african american",
			Confidence: domain.ConfidenceMedium,
			Span:       span(c.text, m[0], m[1]),
		})
	}

	for _, m := range reWeight.FindAllStringSubmatchIndex(c.text, -1) {
		raw, err := strconv.ParseFloat(c.text[m[2]:m[3]], 64)
		if err != nil {
			continue
		}
		unit := c.text[m[4]:m[5]]
		kg, ok := normalizeWeight(raw, unit)
		if !ok {
			c.warn(domain.WarnUnit, "weight_kg", "unresolvable weight unit %q", unit)
			continue
		}
		c.set(domain.FieldValue{
			Name: "weight_kg", Value: kg, Unit: "kg",
			Confidence: domain.ConfidenceHigh,
			Span:       span(c.text, m[0], m[1]),
		})
	}

	for _, m := range reHeight.FindAllStringSubmatchIndex(c.text, -1) {
		raw, err := strconv.ParseFloat(c.text[m[2]:m[3]], 64)
		if err != nil {
			continue
		}
		unit := c.text[m[4]:m[5]]
		cm, ok := normalizeHeight(raw, unit)
		if !ok {
			c.warn(domain.WarnUnit, "height_cm", "unresolvable height unit %q", unit)
			continue
		}
		c.set(domain.FieldValue{
			Name: "height_cm", Value: cm, Unit: "cm",
			Confidence: domain.ConfidenceHigh,
			Span:       span(c.text, m[0], m[1]),
		})
	}
}

func (e *Extractor) extractCardiac(c *collector) {
	for _, m := range reHFStage.FindAllStringSubmatchIndex(c.text, -1) {
		c.set(domain.FieldValue{
			Name: "hf_stage", Value: strings.ToUpper(c.text[m[2]:m[3]]),
			Confidence: domain.ConfidenceHigh,
			Span:       span(c.text, m[0], m[1]),
		})
	}

	for _, m := range reHFType.FindAllStringSubmatchIndex(c.text, -1) {
		c.set(domain.FieldValue{
			Name: "hf_type", Value: canonicalHFType(c.text[m[2]:m[3]]),
			Confidence: domain.ConfidenceHigh,
			Span:       span(c.text, m[0], m[1]),
		})
	}

	for _, m := range reLVEF.FindAllStringSubmatchIndex(c.text, -1) {
		v, err := strconv.ParseFloat(c.text[m[2]:m[3]], 64)
		if err != nil {
			continue
		}
		c.set(domain.FieldValue{
			Name: "lvef", Value: v, Unit: "%",
			Confidence: domain.ConfidenceHigh,
			Span:       span(c.text, m[0], m[1]),
		})
	}

	// HF type is derivable from LVEF when not stated explicitly. Derived
	// values carry medium confidence and the LVEF mention as provenance.
	if _, has := c.fields["hf_type"]; !has {
		if lvef, ok := c.fields["lvef"]; ok {
			if v, isNum := lvef.Value.(float64); isNum {
				c.set(domain.FieldValue{
					Name: "hf_type", Value: string(domain.HFTypeFromLVEF(v)),
					Confidence: domain.ConfidenceMedium,
					Span:       lvef.Span,
				})
			}
		}
	}

	for _, m := range reNYHA.FindAllStringSubmatchIndex(c.text, -1) {
		cls, ok := nyhaClass(c.text[m[2]:m[3]])
		if !ok {
			c.warn(domain.WarnAmbiguous, "nyha_class", "unparseable NYHA class %q", c.text[m[2]:m[3]])
			continue
		}
		c.set(domain.FieldValue{
			Name: "nyha_class", Value: float64(cls),
			Confidence: domain.ConfidenceHigh,
			Span:       span(c.text, m[0], m[1]),
		})
	}

	for _, m := range reSBP.FindAllStringSubmatchIndex(c.text, -1) {
		v, err := strconv.ParseFloat(c.text[m[2]:m[3]], 64)
		if err != nil {
			continue
		}
		c.set(domain.FieldValue{
			Name: "systolic_bp", Value: v, Unit: "mmHg",
			Confidence: domain.ConfidenceHigh,
			Span:       span(c.text, m[0], m[1]),
		})
	}
}

func (e *Extractor) extractLabs(c *collector) {
	type labPattern struct {
		name    string
		unit    string
		pattern [][]int
	}
	labs := []labPattern{
		{"potassium", "mEq/L", rePotassium.FindAllStringSubmatchIndex(c.text, -1)},
		{"egfr", "mL/min/1.73m2", reEGFR.FindAllStringSubmatchIndex(c.text, -1)},
		{"sodium", "mEq/L", reSodium.FindAllStringSubmatchIndex(c.text, -1)},
		{"bnp", "pg/mL", reBNP.FindAllStringSubmatchIndex(c.text, -1)},
		{"nt_probnp", "pg/mL", reNTProBNP.FindAllStringSubmatchIndex(c.text, -1)},
	}

	for _, lab := range labs {
		for _, m := range lab.pattern {
			v, err := strconv.ParseFloat(c.text[m[2]:m[3]], 64)
			if err != nil {
				continue
			}
			c.set(domain.FieldValue{
				Name: lab.name, Value: v, Unit: lab.unit,
				Confidence: domain.ConfidenceHigh,
				Span:       span(c.text, m[0], m[1]),
			})
		}
	}
}

// medNameStopwords are leading tokens the medication name group may have
// swallowed from the surrounding sentence.
var medNameStopwords = map[string]struct{}{
	"on": {}, "of": {}, "with": {}, "and": {}, "taking": {},
	"currently": {}, "started": {}, "takes": {}, "including": {},
	"increased": {}, "decreased": {}, "uptitrated": {}, "switched": {}, "to": {},
}

func (e *Extractor) extractMedications(c *collector) {
	var meds []domain.Medication
	classSeen := map[domain.DrugClass]int{} // class -> index in meds

	for _, m := range reMedication.FindAllStringSubmatchIndex(c.text, -1) {
		rawName := c.text[m[2]:m[3]]
		name, ok := normalizeDrugName(rawName)
		if !ok {
			continue // lab value or unrecognizable token, not a drug
		}

		dose, _ := strconv.ParseFloat(c.text[m[4]:m[5]], 64)
		doseMg, doseUnit := normalizeDose(dose, c.text[m[6]:m[7]])

		frequency := ""
		if m[8] >= 0 {
			frequency = strings.ToLower(c.text[m[8]:m[9]])
		}

		med := domain.Medication{
			Name:      name,
			Class:     classifyDrug(name),
			Dose:      doseMg,
			DoseUnit:  doseUnit,
			Frequency: frequency,
			Span:      span(c.text, m[0], m[1]),
		}

		// A recency marker shortly before the mention distinguishes a dose
		// change from a duplicate mention.
		windowStart := m[0] - 48
		if windowStart < 0 {
			windowStart = 0
		}
		med.RecentChange = reRecency.MatchString(c.text[windowStart:m[0]])

		if med.Class != domain.ClassOther {
			if idx, dup := classSeen[med.Class]; dup {
				prev := meds[idx]
				if med.RecentChange || prev.RecentChange {
					// Dose change: keep the most recent mention, preserve flag.
					med.RecentChange = true
					meds[idx] = med
				} else if prev.Name == med.Name && prev.Dose == med.Dose {
					// Identical repeat, drop it.
				} else {
					meds[idx] = med
					c.warn(domain.WarnDuplicateMed, "medications",
						"duplicate %s entries without recency marker: %s then %s; keeping most recent",
						med.Class, prev.Name, med.Name)
				}
				continue
			}
			classSeen[med.Class] = len(meds)
		}
		meds = append(meds, med)
	}

	if len(meds) > 0 {
		spans := make([]domain.Span, 0, len(meds))
		for _, med := range meds {
			spans = append(spans, med.Span)
		}
		c.fields["medications"] = domain.FieldValue{
			Name: "medications", Value: meds,
			Confidence: domain.ConfidenceHigh,
			Span:       spans[0],
			Spans:      spans,
		}
	}
}

func (e *Extractor) extractComorbidities(c *collector) {
	var found []string
	var spans []domain.Span
	for _, cp := range comorbidityPatterns {
		if m := cp.Pattern.FindStringIndex(c.text); m != nil {
			found = append(found, cp.Name)
			spans = append(spans, span(c.text, m[0], m[1]))
		}
	}
	if len(found) > 0 {
		c.fields["comorbidities"] = domain.FieldValue{
			Name: "comorbidities", Value: found,
			Confidence: domain.ConfidenceHigh,
			Span:       spans[0],
			Spans:      spans,
		}
	}

	// Negated form must be checked first: "no history of angioedema" also
	// matches the positive pattern's suffix.
	if m := reNoAngioedema.FindStringIndex(c.text); m != nil {
		c.set(domain.FieldValue{
			Name: "angioedema_history", Value: false,
			Confidence: domain.ConfidenceHigh,
			Span:       span(c.text, m[0], m[1]),
		})
	} else if m := reAngioedema.FindStringIndex(c.text); m != nil {
		c.set(domain.FieldValue{
			Name: "angioedema_history", Value: true,
			Confidence: domain.ConfidenceHigh,
			Span:       span(c.text, m[0], m[1]),
		})
	}
}

// normalizeDrugName strips sentence debris from a matched drug name and
// resolves brand names to generics. Returns false for lab tokens and names
// with no alphabetic content.
func normalizeDrugName(raw string) (string, bool) {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	for len(tokens) > 0 {
		if _, stop := medNameStopwords[tokens[0]]; stop {
			tokens = tokens[1:]
			continue
		}
		break
	}
	if len(tokens) == 0 {
		return "", false
	}
	name := strings.Join(tokens, " ")
	if _, isLab := labTokens[name]; isLab {
		return "", false
	}
	if _, isLab := labTokens[tokens[len(tokens)-1]]; isLab {
		return "", false
	}
	if generic, ok := drugSynonyms[name]; ok {
		return generic, true
	}
	return name, true
}

// classifyDrug maps a generic drug name onto the canonical class taxonomy.
func classifyDrug(name string) domain.DrugClass {
	if class, ok := drugTaxonomy[name]; ok {
		return class
	}
	// Two-word names may carry a formulation suffix; retry on first token.
	if i := strings.IndexByte(name, ' '); i > 0 {
		if class, ok := drugTaxonomy[name[:i]]; ok {
			return class
		}
	}
	return domain.ClassOther
}

func canonicalHFType(raw string) string {
	switch strings.ToLower(raw) {
	case "hfref":
		return string(domain.HFrEF)
	case "hfpef":
		return string(domain.HFpEF)
	default:
		return string(domain.HFmrEF)
	}
}

func nyhaClass(raw string) (int, bool) {
	switch strings.ToUpper(raw) {
	case "I", "1":
		return 1, true
	case "II", "2":
		return 2, true
	case "III", "3":
		return 3, true
	case "IV", "4":
		return 4, true
	default:
		return 0, false
	}
}
