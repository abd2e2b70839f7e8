package validate

// Range bounds a clinical parameter. Values outside the range are
// plausible-but-suspect: they produce warnings, never rejections, except
// where a hard invariant applies (see Validator.check).
type Range struct {
	Min float64
	Max float64
}

// clinicalRanges is the single home of clinical bounds knowledge. The
// extractor consults it for plausibility flags and the validator for soft
// range checks; neither duplicates the numbers.
var clinicalRanges = map[string]Range{
	"age":         {0, 120},
	"weight_kg":   {20, 350},
	"height_cm":   {100, 250},
	"lvef":        {5, 80},
	"nyha_class":  {1, 4},
	"systolic_bp": {50, 260},
	"potassium":   {2.0, 7.5},
	"egfr":        {0, 200},
	"sodium":      {110, 160},
	"bnp":         {0, 50000},
	"nt_probnp":   {0, 100000},
}

// RangeFor returns the clinical range for a field, if one is defined.
func RangeFor(field string) (Range, bool) {
	r, ok := clinicalRanges[field]
	return r, ok
}

// Plausible reports whether a numeric value sits inside the field's
// clinical range. Fields without a defined range are always plausible.
func Plausible(field string, v float64) bool {
	r, ok := clinicalRanges[field]
	if !ok {
		return true
	}
	return v >= r.Min && v <= r.Max
}
