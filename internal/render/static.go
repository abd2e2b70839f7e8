// Package render turns a recommendation set into a clinician-readable
// report. The static formatter is the authoritative output path; the LLM
// renderer is an optional narrative layer that always falls back to the
// static formatter on any failure.
package render

import (
	"fmt"
	"strings"

	"github.com/hf-guideline-server/internal/domain"
)

// StaticRenderer formats reports deterministically with no external calls.
type StaticRenderer struct{}

// NewStaticRenderer creates the fallback formatter.
func NewStaticRenderer() *StaticRenderer { return &StaticRenderer{} }

// Render produces the plain-text report: patient summary, numbered
// recommendations in priority order, then exclusions and data warnings.
func (s *StaticRenderer) Render(rec *domain.PatientRecord, set *domain.RecommendationSet) string {
	var b strings.Builder

	b.WriteString("HEART FAILURE TREATMENT RECOMMENDATIONS\n")
	fmt.Fprintf(&b, "Guideline edition: %s\n\n", set.Edition)

	b.WriteString("PATIENT SUMMARY\n")
	b.WriteString(patientSummary(rec))
	b.WriteString("\n")

	if len(set.Recommendations) == 0 {
		b.WriteString("No guideline recommendation matches this record.\n")
	} else {
		b.WriteString("RECOMMENDATIONS\n")
		for i, r := range set.Recommendations {
			writeRecommendation(&b, i+1, r)
		}
	}

	if len(set.Excluded) > 0 {
		b.WriteString("\nEXCLUDED BY PRECONDITION\n")
		for _, out := range set.Excluded {
			fmt.Fprintf(&b, "- [%s] %s\n", out.Section, out.Reason)
		}
	}
	if len(set.Indeterminate) > 0 {
		b.WriteString("\nNEEDS MORE DATA\n")
		for _, out := range set.Indeterminate {
			fmt.Fprintf(&b, "- [%s] %s\n", out.Section, out.Reason)
		}
	}
	if len(set.Warnings) > 0 {
		b.WriteString("\nDATA WARNINGS\n")
		for _, w := range set.Warnings {
			fmt.Fprintf(&b, "- %s: %s\n", w.Code, w.Message)
		}
	}

	return b.String()
}

func patientSummary(rec *domain.PatientRecord) string {
	var parts []string
	if rec.Age != nil {
		parts = append(parts, fmt.Sprintf("%d-year-old", *rec.Age))
	}
	if rec.Sex != "" && rec.Sex != domain.SexUnspecified {
		parts = append(parts, string(rec.Sex))
	}
	if rec.HFType != nil {
		parts = append(parts, string(*rec.HFType))
	}
	if rec.LVEF != nil {
		parts = append(parts, fmt.Sprintf("LVEF %.0f%%", *rec.LVEF))
	}
	if rec.NYHAClass != nil {
		parts = append(parts, fmt.Sprintf("NYHA class %s", romanNYHA(*rec.NYHAClass)))
	}
	line := "- " + strings.Join(parts, ", ") + "\n"

	var b strings.Builder
	b.WriteString(line)
	if len(rec.Medications) > 0 {
		names := make([]string, 0, len(rec.Medications))
		for _, m := range rec.Medications {
			if m.Dose > 0 {
				names = append(names, fmt.Sprintf("%s %g %s %s", m.Name, m.Dose, m.DoseUnit, m.Frequency))
			} else {
				names = append(names, m.Name)
			}
		}
		fmt.Fprintf(&b, "- Current medications: %s\n", strings.Join(names, "; "))
	}
	var labs []string
	for _, l := range []struct {
		name string
		val  *domain.LabValue
	}{
		{"K+", rec.Potassium}, {"eGFR", rec.EGFR}, {"Na+", rec.Sodium},
		{"BNP", rec.BNP}, {"NT-proBNP", rec.NTProBNP},
	} {
		if l.val != nil {
			labs = append(labs, fmt.Sprintf("%s %g %s", l.name, l.val.Value, l.val.Unit))
		}
	}
	if len(labs) > 0 {
		fmt.Fprintf(&b, "- Labs: %s\n", strings.Join(labs, ", "))
	}
	if len(rec.Comorbidities) > 0 {
		fmt.Fprintf(&b, "- Comorbidities: %s\n", strings.Join(rec.Comorbidities, ", "))
	}
	return b.String()
}

func writeRecommendation(b *strings.Builder, n int, r domain.Recommendation) {
	rule := r.Rule
	fmt.Fprintf(b, "\n%d. %s (Class %s, LOE %s, Section %s)\n", n, rule.Title, rule.COR, rule.LOE, rule.Section)
	fmt.Fprintf(b, "   %s\n", rule.Action.Intervention)
	for _, d := range rule.Action.Drugs {
		switch {
		case d.StartingDose != "" && d.TargetDose != "":
			fmt.Fprintf(b, "   - %s: start %s, target %s\n", d.Name, d.StartingDose, d.TargetDose)
		case d.TargetDose != "":
			fmt.Fprintf(b, "   - %s: target %s\n", d.Name, d.TargetDose)
		default:
			fmt.Fprintf(b, "   - %s\n", d.Name)
		}
	}
	if rule.Action.Titration != "" {
		fmt.Fprintf(b, "   Titration: %s\n", rule.Action.Titration)
	}
	if len(rule.Action.Monitoring) > 0 {
		fmt.Fprintf(b, "   Monitor: %s\n", strings.Join(rule.Action.Monitoring, ", "))
	}
	if len(r.Rationale) > 0 {
		fmt.Fprintf(b, "   Why: %s\n", strings.Join(r.Rationale, "; "))
	}
	for _, note := range r.Notes {
		fmt.Fprintf(b, "   Note: %s\n", note)
	}
	if len(r.Suppressed) > 0 {
		fmt.Fprintf(b, "   Takes precedence over: %s\n", strings.Join(r.Suppressed, ", "))
	}
}

func romanNYHA(class int) string {
	switch class {
	case 1:
		return "I"
	case 2:
		return "II"
	case 3:
		return "III"
	case 4:
		return "IV"
	default:
		return fmt.Sprintf("%d", class)
	}
}
