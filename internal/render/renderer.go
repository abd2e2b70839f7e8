package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/hf-guideline-server/internal/domain"
)

// Report is the rendered output plus how it was produced, so callers can
// tell a degraded response from a narrative one.
type Report struct {
	Text   string `json:"text"`
	Source string `json:"source"` // "static", "llm", or "cache"
}

// NarrativeClient is the external rendering dependency. Satisfied by
// LLMClient; tests substitute a stub.
type NarrativeClient interface {
	Render(ctx context.Context, staticReport string) (string, error)
}

// Renderer combines the static formatter, the optional narrative client,
// and an LRU of rendered reports keyed by record and edition. Rendering
// never fails: every error path degrades to the static report.
type Renderer struct {
	logger *logrus.Logger
	static *StaticRenderer
	llm    NarrativeClient
	cache  *lru.Cache[string, Report]
}

// NewRenderer builds a renderer. llm may be nil, in which case every report
// is static. cacheSize <= 0 disables caching.
func NewRenderer(logger *logrus.Logger, llm NarrativeClient, cacheSize int) *Renderer {
	r := &Renderer{
		logger: logger,
		static: NewStaticRenderer(),
		llm:    llm,
	}
	if cacheSize > 0 {
		// Size is validated positive, so the constructor cannot fail.
		r.cache, _ = lru.New[string, Report](cacheSize)
	}
	return r
}

// Render produces the report for a recommendation set. Identical record and
// edition pairs are served from cache; the cache is keyed on content, so a
// knowledge base reload naturally misses.
func (r *Renderer) Render(ctx context.Context, rec *domain.PatientRecord, set *domain.RecommendationSet) Report {
	key := fingerprint(rec, set)
	if r.cache != nil {
		if report, ok := r.cache.Get(key); ok {
			report.Source = "cache"
			return report
		}
	}

	staticText := r.static.Render(rec, set)
	report := Report{Text: staticText, Source: "static"}

	if r.llm != nil {
		narrative, err := r.llm.Render(ctx, staticText)
		if err != nil {
			r.logger.WithError(err).Warn("Narrative rendering failed, serving static report")
		} else {
			report = Report{Text: narrative, Source: "llm"}
		}
	}

	if r.cache != nil {
		r.cache.Add(key, report)
	}
	return report
}

// fingerprint hashes the record and the set's edition plus selected rule
// IDs. Timestamps are deliberately excluded so identical clinical inputs
// hit the cache.
func fingerprint(rec *domain.PatientRecord, set *domain.RecommendationSet) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(rec)
	h.Write([]byte(set.Edition))
	for _, r := range set.Recommendations {
		h.Write([]byte(r.Rule.ID))
	}
	return hex.EncodeToString(h.Sum(nil))
}
