package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hf-guideline-server/internal/domain"
	"github.com/hf-guideline-server/internal/guideline"
	"github.com/hf-guideline-server/internal/store"
)

const sampleNote = `65 yo male with HFrEF, LVEF 35%, NYHA class II.
On lisinopril 10 mg daily. K+ 4.1 mEq/L, eGFR 55. No history of angioedema.`

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	doc, err := guideline.ParseEmbedded()
	require.NoError(t, err)
	return NewPipeline(testLogger(), guideline.NewLibrary(testLogger(), doc), opts)
}

func TestProcessEndToEnd(t *testing.T) {
	p := newTestPipeline(t, Options{})

	result, err := p.Process(context.Background(), sampleNote)
	require.NoError(t, err)

	assert.NotEmpty(t, result.CaseID)
	require.NotNil(t, result.Record.Age)
	assert.Equal(t, 65, *result.Record.Age)
	assert.Equal(t, "2022-ch7.1", result.Set.Edition)
	assert.NotEmpty(t, result.Set.Recommendations)
	assert.Equal(t, "static", result.Report.Source)
	assert.Contains(t, result.Report.Text, "HEART FAILURE TREATMENT RECOMMENDATIONS")

	ids := map[string]bool{}
	for _, rec := range result.Set.Recommendations {
		ids[rec.Rule.ID] = true
	}
	assert.True(t, ids["7.3.1-4"], "ARNi switch for HFrEF on ACEi")
	assert.True(t, ids["7.3.3-1"], "MRA with clear labs")
}

func TestProcessValidationFailure(t *testing.T) {
	p := newTestPipeline(t, Options{})

	_, err := p.Process(context.Background(), "the patient feels tired")
	require.Error(t, err)

	var failure *domain.ValidationFailure
	require.True(t, errors.As(err, &failure))
	assert.NotEmpty(t, failure.MissingFields)
}

func TestProcessPersistsCase(t *testing.T) {
	cases, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cases.db"))
	require.NoError(t, err)
	defer cases.Close()

	p := newTestPipeline(t, Options{Store: cases})

	result, err := p.Process(context.Background(), sampleNote)
	require.NoError(t, err)

	saved, err := p.Case(context.Background(), result.CaseID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, sampleNote, saved.SourceText)
	assert.Equal(t, result.Set.Edition, saved.Edition)
	assert.NotEmpty(t, saved.Report)
}

func TestCaseWithoutStore(t *testing.T) {
	p := newTestPipeline(t, Options{})
	saved, err := p.Case(context.Background(), "any")
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestProcessBatch(t *testing.T) {
	p := newTestPipeline(t, Options{Workers: 2})

	batch := sampleNote + "\n---\n" +
		"no structured data here\n---\n" +
		"72 yo female, HFpEF, EF 55%, NYHA II\n"

	items := p.ProcessBatch(context.Background(), batch, "---")
	require.Len(t, items, 3)

	// Outcomes stay in input order, and one failing note aborts nothing.
	assert.NoError(t, items[0].Err)
	require.NotNil(t, items[0].Result)
	assert.NotEmpty(t, items[0].Result.Set.Recommendations)

	assert.Error(t, items[1].Err)
	assert.Nil(t, items[1].Result)

	assert.NoError(t, items[2].Err)
	require.NotNil(t, items[2].Result)
}

func TestSplitNotes(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		separator string
		want      int
	}{
		{"two notes", "a\n---\nb", "---", 2},
		{"trailing separator", "a\n---\n", "---", 1},
		{"blank segment dropped", "a\n---\n\n---\nb", "---", 2},
		{"no separator", "a\nb\nc", "---", 1},
		{"custom separator", "a\n===\nb", "===", 2},
		{"empty input", "", "---", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, splitNotes(tt.text, tt.separator), tt.want)
		})
	}
}

func TestReload(t *testing.T) {
	p := newTestPipeline(t, Options{})
	assert.Equal(t, "2022-ch7.1", p.Edition())

	_, err := p.Reload("/no/such/file.json")
	require.Error(t, err)
	var loadErr *domain.LoadError
	assert.True(t, errors.As(err, &loadErr))
	// Failed reload leaves the active edition untouched.
	assert.Equal(t, "2022-ch7.1", p.Edition())

	edition, err := p.Reload("")
	require.NoError(t, err)
	assert.Equal(t, "2022-ch7.1", edition)
}
