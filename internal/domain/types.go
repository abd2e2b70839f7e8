// Package domain contains core business entities and types for heart failure
// treatment recommendation following the 2022 AHA/ACC/HFSA guidelines.
//
// Reference: Heidenreich et al. (2022) 2022 AHA/ACC/HFSA Guideline for the
// Management of Heart Failure. Circulation. 145(18):e895-e1032.
// doi: 10.1161/CIR.0000000000001063
package domain

import "errors"

// COR represents the Class of Recommendation assigned to a guideline rule.
// These classes follow the ACC/AHA recommendation system and express the
// strength of a recommendation.
//
// Reference: 2022 AHA/ACC/HFSA Guidelines, Table 2
type COR string

const (
	CORI          COR = "1"
	CORIIa        COR = "2a"
	CORIIb        COR = "2b"
	CORIIINoBenef COR = "3:no-benefit"
	CORIIIHarm    COR = "3:harm"
)

// LOE represents the Level of Evidence supporting a guideline rule.
type LOE string

const (
	LOEA   LOE = "A"
	LOEBR  LOE = "B-R"
	LOEBNR LOE = "B-NR"
	LOECLD LOE = "C-LD"
	LOECEO LOE = "C-EO"
)

// Confidence represents the confidence in an extracted field value.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Sex is the patient's recorded sex.
type Sex string

const (
	SexMale        Sex = "male"
	SexFemale      Sex = "female"
	SexUnspecified Sex = "unspecified"
)

// HFType is the heart failure phenotype by ejection fraction.
type HFType string

const (
	HFrEF  HFType = "HFrEF"
	HFpEF  HFType = "HFpEF"
	HFmrEF HFType = "HFmrEF"
)

// HFStage is the ACC/AHA heart failure stage (A through D).
type HFStage string

const (
	StageA HFStage = "A"
	StageB HFStage = "B"
	StageC HFStage = "C"
	StageD HFStage = "D"
)

// DrugClass is the canonical drug-class taxonomy used for medication
// normalization and guideline eligibility checks.
type DrugClass string

const (
	ClassACEi         DrugClass = "ACEi"
	ClassARB          DrugClass = "ARB"
	ClassARNi         DrugClass = "ARNi"
	ClassBetaBlocker  DrugClass = "beta-blocker"
	ClassMRA          DrugClass = "MRA"
	ClassSGLT2i       DrugClass = "SGLT2i"
	ClassLoopDiuretic DrugClass = "loop-diuretic"
	ClassThiazide     DrugClass = "thiazide"
	ClassNitrate      DrugClass = "nitrate"
	ClassHydralazine  DrugClass = "hydralazine"
	ClassOther        DrugClass = "other"
)

// Validation errors for clinical data integrity.
var (
	ErrInvalidCOR        = errors.New("invalid class of recommendation")
	ErrInvalidLOE        = errors.New("invalid level of evidence")
	ErrInvalidConfidence = errors.New("invalid confidence level")
	ErrInvalidHFType     = errors.New("invalid heart failure type")
	ErrInvalidNYHAClass  = errors.New("invalid NYHA class")
)

// corRank orders classes of recommendation from strongest to weakest.
// Lower rank means higher priority in conflict resolution and output order.
var corRank = map[COR]int{
	CORI:          0,
	CORIIa:        1,
	CORIIb:        2,
	CORIIINoBenef: 3,
	CORIIIHarm:    4,
}

// loeRank orders levels of evidence: A > B-R > B-NR > C-LD > C-EO.
var loeRank = map[LOE]int{
	LOEA:   0,
	LOEBR:  1,
	LOEBNR: 2,
	LOECLD: 3,
	LOECEO: 4,
}

// IsValid reports whether the class of recommendation is one of the
// recognized ACC/AHA classes. Only valid classes may enter the knowledge
// base; this is checked at load time.
func (c COR) IsValid() bool {
	_, ok := corRank[c]
	return ok
}

// Rank returns the priority rank of the class (0 is strongest). Unknown
// classes rank after every valid class.
func (c COR) Rank() int {
	if r, ok := corRank[c]; ok {
		return r
	}
	return len(corRank)
}

// String returns the string representation of the class for reports and
// audit trails.
func (c COR) String() string { return string(c) }

// IsValid reports whether the level of evidence is recognized.
func (l LOE) IsValid() bool {
	_, ok := loeRank[l]
	return ok
}

// Rank returns the priority rank of the level of evidence (0 is strongest).
func (l LOE) Rank() int {
	if r, ok := loeRank[l]; ok {
		return r
	}
	return len(loeRank)
}

// String returns the string representation of the level of evidence.
func (l LOE) String() string { return string(l) }

// IsValid validates the confidence level.
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	default:
		return false
	}
}

// Demote lowers the confidence one step. Used when conflicting mentions of
// the same field are found in the source text.
func (c Confidence) Demote() Confidence {
	switch c {
	case ConfidenceHigh:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// IsValid validates the heart failure type.
func (t HFType) IsValid() bool {
	switch t {
	case HFrEF, HFpEF, HFmrEF:
		return true
	default:
		return false
	}
}

// IsValid validates the heart failure stage.
func (s HFStage) IsValid() bool {
	switch s {
	case StageA, StageB, StageC, StageD:
		return true
	default:
		return false
	}
}

// HFTypeFromLVEF derives the heart failure phenotype from the ejection
// fraction when no type is stated explicitly: LVEF <=40% is HFrEF,
// >=50% is HFpEF, everything between is HFmrEF.
func HFTypeFromLVEF(lvef float64) HFType {
	switch {
	case lvef <= 40:
		return HFrEF
	case lvef >= 50:
		return HFpEF
	default:
		return HFmrEF
	}
}
