package extract

import "strings"

// Unit normalization happens at extraction time so no downstream component
// ever sees a pound or an inch.

const (
	lbPerKg = 2.20462
	cmPerIn = 2.54
)

// normalizeWeight converts a weight reading to kilograms. The second return
// is false when the unit is unrecognized.
func normalizeWeight(value float64, unit string) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "kg", "kgs", "kilogram", "kilograms", "":
		return value, true
	case "lb", "lbs", "pound", "pounds":
		return roundTo(value/lbPerKg, 1), true
	default:
		return 0, false
	}
}

// normalizeHeight converts a height reading to centimeters.
func normalizeHeight(value float64, unit string) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "cm", "centimeter", "centimeters", "":
		return value, true
	case "in", "inch", "inches":
		return roundTo(value*cmPerIn, 1), true
	default:
		return 0, false
	}
}

// normalizeDose converts medication doses to milligrams.
func normalizeDose(value float64, unit string) (float64, string) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "mcg":
		return value / 1000, "mg"
	case "g":
		return value * 1000, "mg"
	default:
		return value, "mg"
	}
}

// roundTo rounds to the given number of decimal places. Extraction rounds
// converted values so the lb->kg round-trip is stable.
func roundTo(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
