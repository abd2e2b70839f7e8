package extract

import (
	"regexp"

	"github.com/hf-guideline-server/internal/domain"
)

// Pattern libraries for each extraction pass. All patterns are compiled once
// at package init; the extractor itself holds no state between calls.

var (
	// Demographics
	reAge = regexp.MustCompile(`(?i)\b(\d{1,3})[\s-]*(?:yo\b|y/o\b|year[s]?[\s-]*old|yr[s]?[\s-]*old)`)
	reSex = regexp.MustCompile(`(?i)\b(male|man|female|woman|gentleman|lady)\b`)

	reWeight = regexp.MustCompile(`(?i)\b(?:weight|weighs|wt)\.?\s*(?:of|:)?\s*(\d+(?:\.\d+)?)\s*(kg|kgs|kilograms?|lb|lbs|pounds?)\b`)
	reHeight = regexp.MustCompile(`(?i)\b(?:height|ht)\.?\s*(?:of|:)?\s*(\d+(?:\.\d+)?)\s*(cm|centimeters?|in|inches?)\b`)

	// Cardiac parameters
	reHFStage = regexp.MustCompile(`(?i)\bstage\s+([A-D])\b`)
	reHFType  = regexp.MustCompile(`(?i)\b(HFrEF|HFpEF|HFmrEF)\b`)
	reLVEF    = regexp.MustCompile(`(?i)\b(?:LVEF|EF|ejection\s+fraction)\s*(?:of|:|=|is)?\s*(\d{1,3}(?:\.\d+)?)\s*%?`)
	reNYHA    = regexp.MustCompile(`(?i)\bNYHA\s*(?:class)?\s*(IV|III|II|I|[1-4])\b`)
	reSBP     = regexp.MustCompile(`(?i)\b(?:BP|blood\s+pressure)\s*(?:of|:)?\s*(\d{2,3})\s*/\s*\d{2,3}\b`)

	// Labs
	rePotassium = regexp.MustCompile(`(?i)\b(?:K\+?|potassium)\s*(?:of|:|=|is)?\s*(\d+(?:\.\d+)?)\s*(mEq/L|meq/l|mmol/L|mmol/l)?`)
	reEGFR      = regexp.MustCompile(`(?i)\b(?:eGFR|GFR)\s*(?:of|:|=|is)?\s*(\d+(?:\.\d+)?)`)
	reSodium    = regexp.MustCompile(`(?i)\b(?:Na\+?|sodium)\s*(?:of|:|=|is)?\s*(\d+(?:\.\d+)?)\s*(mEq/L|meq/l|mmol/L|mmol/l)?`)
	reBNP       = regexp.MustCompile(`(?i)\bBNP\s*(?:of|:|=|is)?\s*(\d+(?:\.\d+)?)`)
	reNTProBNP  = regexp.MustCompile(`(?i)\bNT[\s-]?proBNP\s*(?:of|:|=|is)?\s*(\d+(?:\.\d+)?)`)

	// Medications: drug name, dose, unit, optional frequency.
	reMedication = regexp.MustCompile(`(?i)\b([A-Za-z]+(?:[\s/-][A-Za-z]+)?)\s+(\d+(?:\.\d+)?)\s*(mg|mcg|g)\b\s*((?:once|twice)\s+daily|daily|nightly|BID|TID|QID|weekly|QHS|QD)?`)

	// Recency markers scanned in the text preceding a medication mention.
	reRecency = regexp.MustCompile(`(?i)\b(?:recently(?:\s+(?:started|added|increased))?|just\s+started|new(?:ly)?\s+(?:started|added)|uptitrated|increased|dose\s+change[d]?)\b`)

	// History flags
	reNoAngioedema = regexp.MustCompile(`(?i)\bno\s+(?:history\s+of\s+|hx\s+of\s+|prior\s+)?angioedema\b`)
	reAngioedema   = regexp.MustCompile(`(?i)\b(?:history\s+of|hx\s+of|prior)\s+angioedema\b`)
)

// comorbidityPatterns maps canonical comorbidity names to the phrases that
// identify them.
var comorbidityPatterns = []struct {
	Name    string
	Pattern *regexp.Regexp
}{
	{"diabetes", regexp.MustCompile(`(?i)\b(?:diabetes|diabetic|T2DM|type\s*2\s*diabetes|DM2?)\b`)},
	{"atrial fibrillation", regexp.MustCompile(`(?i)\b(?:atrial\s*fibrillation|AFib|A\.?\s?fib)\b`)},
	{"hypertension", regexp.MustCompile(`(?i)\b(?:hypertension|HTN|hypertensive)\b`)},
	{"CKD", regexp.MustCompile(`(?i)\b(?:CKD|chronic\s+kidney\s+disease|renal\s+insufficiency)\b`)},
	{"COPD", regexp.MustCompile(`(?i)\b(?:COPD|chronic\s+obstructive)\b`)},
	{"CAD", regexp.MustCompile(`(?i)\b(?:CAD|coronary\s+artery\s+disease|ischemic\s+heart)\b`)},
	{"obesity", regexp.MustCompile(`(?i)\b(?:obesity|obese)\b`)},
	{"fluid overload", regexp.MustCompile(`(?i)\b(?:fluid\s+retention|fluid\s+overload(?:ed)?|volume\s+overload(?:ed)?|congest(?:ion|ed)|peripheral\s+edema)\b`)},
	{"ACEi intolerance", regexp.MustCompile(`(?i)\b(?:intoleran(?:t|ce)\s+(?:to|of)\s+(?:an\s+)?ACE|ACE[i]?\s+intoleran(?:t|ce)|ACE\s+inhibitor\s+cough)\b`)},
}

// reEthnicity captures ethnicity tokens only where guideline criteria
// differ by ethnicity (hydralazine/nitrate recommendation).
var reEthnicity = regexp.MustCompile(`(?i)\b(african[\s-]american|black)\b`)

// drugSynonyms normalizes brand names and shorthand to generic drug names
// before taxonomy lookup.
var drugSynonyms = map[string]string{
	"lasix":     "furosemide",
	"entresto":  "sacubitril/valsartan",
	"coreg":     "carvedilol",
	"toprol":    "metoprolol succinate",
	"toprol-xl": "metoprolol succinate",
	"lopressor": "metoprolol tartrate",
	"aldactone": "spironolactone",
	"inspra":    "eplerenone",
	"farxiga":   "dapagliflozin",
	"jardiance": "empagliflozin",
	"zestril":   "lisinopril",
	"prinivil":  "lisinopril",
	"vasotec":   "enalapril",
	"altace":    "ramipril",
	"cozaar":    "losartan",
	"diovan":    "valsartan",
	"atacand":   "candesartan",
	"bidil":     "hydralazine/isosorbide dinitrate",
}

// drugTaxonomy maps normalized generic names to the canonical drug-class
// taxonomy the guideline rules key on.
var drugTaxonomy = map[string]domain.DrugClass{
	"lisinopril":           domain.ClassACEi,
	"enalapril":            domain.ClassACEi,
	"captopril":            domain.ClassACEi,
	"ramipril":             domain.ClassACEi,
	"losartan":             domain.ClassARB,
	"valsartan":            domain.ClassARB,
	"candesartan":          domain.ClassARB,
	"sacubitril/valsartan": domain.ClassARNi,
	"carvedilol":           domain.ClassBetaBlocker,
	"metoprolol succinate": domain.ClassBetaBlocker,
	"metoprolol tartrate":  domain.ClassBetaBlocker,
	"metoprolol":           domain.ClassBetaBlocker,
	"bisoprolol":           domain.ClassBetaBlocker,
	"spironolactone":       domain.ClassMRA,
	"eplerenone":           domain.ClassMRA,
	"dapagliflozin":        domain.ClassSGLT2i,
	"empagliflozin":        domain.ClassSGLT2i,
	"furosemide":           domain.ClassLoopDiuretic,
	"torsemide":            domain.ClassLoopDiuretic,
	"bumetanide":           domain.ClassLoopDiuretic,
	"metolazone":           domain.ClassThiazide,
	"hydrochlorothiazide":  domain.ClassThiazide,
	"hydralazine":          domain.ClassHydralazine,
	"isosorbide dinitrate": domain.ClassNitrate,
	"isosorbide":           domain.ClassNitrate,

	"hydralazine/isosorbide dinitrate": domain.ClassHydralazine,
}

// labTokens are words the medication pass must skip: they look like
// "name number unit" but are lab results, not drugs.
var labTokens = map[string]struct{}{
	"k": {}, "k+": {}, "potassium": {},
	"na": {}, "na+": {}, "sodium": {},
	"cr": {}, "creatinine": {},
	"bnp": {}, "egfr": {}, "gfr": {},
	"bp": {}, "weight": {}, "height": {},
}
