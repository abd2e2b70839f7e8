package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hf-guideline-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func ptr[T any](v T) *T { return &v }

func sampleSet() (*domain.PatientRecord, *domain.RecommendationSet) {
	rec := &domain.PatientRecord{
		Age:       ptr(65),
		Sex:       domain.SexMale,
		HFType:    ptr(domain.HFrEF),
		LVEF:      ptr(35.0),
		NYHAClass: ptr(2),
		Medications: []domain.Medication{
			{Name: "lisinopril", Class: domain.ClassACEi, Dose: 10, DoseUnit: "mg", Frequency: "daily"},
		},
		Potassium: &domain.LabValue{Value: 4.1, Unit: "mEq/L"},
	}
	set := &domain.RecommendationSet{
		Edition: "2022-ch7.1",
		Recommendations: []domain.Recommendation{
			{
				Rule: &domain.Rule{
					ID: "7.3.1-4", Section: "7.3.1", Title: "Switch ACEi/ARB to ARNi",
					COR: domain.CORI, LOE: domain.LOEBR,
					Action: domain.ActionPayload{
						Intervention: "Replace ACEi/ARB with an ARNi",
						Drugs: []domain.DrugOption{
							{Name: "sacubitril/valsartan", StartingDose: "49/51 mg BID", TargetDose: "97/103 mg BID"},
						},
						Titration: "Wait 36 hours after last ACEi dose",
					},
				},
				Rationale:  []string{"hf_type = HFrEF", "nyha_class = 2"},
				Suppressed: []string{"7.3.8-3"},
			},
		},
		Excluded: []domain.RuleOutcome{
			{RuleID: "7.3.3-1", Section: "7.3.3", Reason: "contraindicated: MRA renal/potassium precondition (egfr = 15)"},
		},
		Warnings: []domain.Warning{
			{Code: domain.WarnPrecondition, Field: "7.3.3-pre", Message: "precondition failed"},
		},
	}
	return rec, set
}

func TestStaticRender(t *testing.T) {
	rec, set := sampleSet()
	out := NewStaticRenderer().Render(rec, set)

	assert.Contains(t, out, "65-year-old, male, HFrEF, LVEF 35%, NYHA class II")
	assert.Contains(t, out, "Guideline edition: 2022-ch7.1")
	assert.Contains(t, out, "1. Switch ACEi/ARB to ARNi (Class 1, LOE B-R, Section 7.3.1)")
	assert.Contains(t, out, "sacubitril/valsartan: start 49/51 mg BID, target 97/103 mg BID")
	assert.Contains(t, out, "Why: hf_type = HFrEF; nyha_class = 2")
	assert.Contains(t, out, "Takes precedence over: 7.3.8-3")
	assert.Contains(t, out, "EXCLUDED BY PRECONDITION")
	assert.Contains(t, out, "lisinopril 10 mg daily")

	// Deterministic for identical input.
	assert.Equal(t, out, NewStaticRenderer().Render(rec, set))
}

func TestStaticRenderEmptySet(t *testing.T) {
	rec, _ := sampleSet()
	out := NewStaticRenderer().Render(rec, &domain.RecommendationSet{Edition: "2022-ch7.1"})
	assert.Contains(t, out, "No guideline recommendation matches this record.")
}

type stubNarrative struct {
	text string
	err  error
}

func (s *stubNarrative) Render(_ context.Context, _ string) (string, error) {
	return s.text, s.err
}

func TestRendererFallsBackToStatic(t *testing.T) {
	rec, set := sampleSet()
	r := NewRenderer(testLogger(), &stubNarrative{err: errors.New("boom")}, 0)

	report := r.Render(context.Background(), rec, set)
	assert.Equal(t, "static", report.Source)
	assert.Contains(t, report.Text, "Switch ACEi/ARB to ARNi")
}

func TestRendererNarrativeAndCache(t *testing.T) {
	rec, set := sampleSet()
	r := NewRenderer(testLogger(), &stubNarrative{text: "narrative report"}, 8)

	first := r.Render(context.Background(), rec, set)
	assert.Equal(t, "llm", first.Source)
	assert.Equal(t, "narrative report", first.Text)

	second := r.Render(context.Background(), rec, set)
	assert.Equal(t, "cache", second.Source)
	assert.Equal(t, first.Text, second.Text)

	// A different edition misses the cache.
	set.Edition = "2022-ch7.2"
	third := r.Render(context.Background(), rec, set)
	assert.Equal(t, "llm", third.Source)
}

func TestRendererNilNarrative(t *testing.T) {
	rec, set := sampleSet()
	report := NewRenderer(testLogger(), nil, 8).Render(context.Background(), rec, set)
	assert.Equal(t, "static", report.Source)
}

func TestLLMClient(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
		wantErr bool
	}{
		{
			name: "successful completion",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
				fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"phrased report"}}]}`)
			},
			want: "phrased report",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
			wantErr: true,
		},
		{
			name: "empty choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"choices":[]}`)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := NewLLMClient(LLMConfig{
				BaseURL:   srv.URL,
				APIKey:    "test-key",
				Model:     "test-model",
				Timeout:   2 * time.Second,
				RateLimit: 100,
			})

			out, err := client.Render(context.Background(), "static text")
			if tt.wantErr {
				require.Error(t, err)
				var renderErr *domain.RenderError
				assert.ErrorAs(t, err, &renderErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}
