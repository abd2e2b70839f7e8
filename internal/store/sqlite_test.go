package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hf-guideline-server/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func sampleCase(id string) *Case {
	return &Case{
		ID:         id,
		SourceText: "65 yo male with HFrEF, NYHA II, on lisinopril 10mg daily",
		Record: &domain.PatientRecord{
			Age:    ptr(65),
			Sex:    domain.SexMale,
			HFType: ptr(domain.HFrEF),
		},
		Result: &domain.RecommendationSet{
			Edition:   "2022-ch7.1",
			CreatedAt: time.Now().UTC(),
		},
		Edition: "2022-ch7.1",
		Report:  "HEART FAILURE TREATMENT RECOMMENDATIONS",
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cases.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := sampleCase("case-1")
	require.NoError(t, s.Save(ctx, c))
	assert.False(t, c.CreatedAt.IsZero())

	got, err := s.Get(ctx, "case-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.SourceText, got.SourceText)
	assert.Equal(t, "2022-ch7.1", got.Edition)
	require.NotNil(t, got.Record)
	assert.Equal(t, 65, *got.Record.Age)
	assert.Equal(t, domain.HFrEF, *got.Record.HFType)
}

func TestSQLiteGetMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteSaveUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := sampleCase("case-1")
	require.NoError(t, s.Save(ctx, c))

	c.Report = "revised report"
	require.NoError(t, s.Save(ctx, c))

	got, err := s.Get(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "revised report", got.Report)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, sampleCase(id)))
	}

	all, err := s.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := s.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
