package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hf-guideline-server/internal/config"
	"github.com/hf-guideline-server/internal/guideline"
	"github.com/hf-guideline-server/internal/service"
	"github.com/hf-guideline-server/internal/store"
)

const sampleNote = `65 yo male with HFrEF, LVEF 35%, NYHA class II.
On lisinopril 10 mg daily. K+ 4.1 mEq/L, eGFR 55. No history of angioedema.`

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T, withStore bool) *Server {
	t.Helper()
	doc, err := guideline.ParseEmbedded()
	require.NoError(t, err)

	opts := service.Options{}
	if withStore {
		cases, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cases.db"))
		require.NoError(t, err)
		t.Cleanup(func() { cases.Close() })
		opts.Store = cases
	}

	logger := testLogger()
	pipeline := service.NewPipeline(logger, guideline.NewLibrary(logger, doc), opts)

	cfg := &config.Config{}
	cfg.Logging.Level = "info"
	return NewServer(cfg, logger, pipeline)
}

type payload = map[string]any

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	w := doJSON(t, s, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "2022-ch7.1", body["edition"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRecommend(t *testing.T) {
	s := newTestServer(t, false)
	w := doJSON(t, s, http.MethodPost, "/api/v1/recommend", payload{"text": sampleNote})

	require.Equal(t, http.StatusOK, w.Code)
	var result service.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotEmpty(t, result.CaseID)
	assert.NotEmpty(t, result.Set.Recommendations)
	assert.Contains(t, result.Report.Text, "RECOMMENDATIONS")
}

func TestRecommendValidationFailure(t *testing.T) {
	s := newTestServer(t, false)
	w := doJSON(t, s, http.MethodPost, "/api/v1/recommend", payload{"text": "patient feels tired"})

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body struct {
		Code          string   `json:"code"`
		MissingFields []string `json:"missing_fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "VALIDATION_FAILURE", body.Code)
	assert.NotEmpty(t, body.MissingFields)
}

func TestRecommendMissingBody(t *testing.T) {
	s := newTestServer(t, false)
	w := doJSON(t, s, http.MethodPost, "/api/v1/recommend", payload{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecommendBatch(t *testing.T) {
	s := newTestServer(t, false)
	batch := sampleNote + "\n---\nnothing clinical here"
	w := doJSON(t, s, http.MethodPost, "/api/v1/recommend/batch", payload{"text": batch})

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Items []struct {
			Index  int             `json:"index"`
			Result *service.Result `json:"result"`
			Error  string          `json:"error"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Items, 2)
	assert.NotNil(t, body.Items[0].Result)
	assert.Empty(t, body.Items[0].Error)
	assert.Nil(t, body.Items[1].Result)
	assert.Contains(t, body.Items[1].Error, "insufficient data")
}

func TestGetCase(t *testing.T) {
	s := newTestServer(t, true)

	w := doJSON(t, s, http.MethodPost, "/api/v1/recommend", payload{"text": sampleNote})
	require.Equal(t, http.StatusOK, w.Code)
	var result service.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	w = doJSON(t, s, http.MethodGet, "/api/v1/case/"+result.CaseID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var saved store.Case
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &saved))
	assert.Equal(t, result.CaseID, saved.ID)
	assert.Equal(t, sampleNote, saved.SourceText)
}

func TestListCases(t *testing.T) {
	s := newTestServer(t, true)

	w := doJSON(t, s, http.MethodPost, "/api/v1/recommend", payload{"text": sampleNote})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/cases?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Total int64        `json:"total"`
		Cases []store.Case `json:"cases"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Total)
	require.Len(t, body.Cases, 1)
	assert.Equal(t, sampleNote, body.Cases[0].SourceText)
}

func TestListCasesWithoutStore(t *testing.T) {
	s := newTestServer(t, false)
	w := doJSON(t, s, http.MethodGet, "/api/v1/cases", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Zero(t, body.Total)
}

func TestGetCaseNotFound(t *testing.T) {
	s := newTestServer(t, true)
	w := doJSON(t, s, http.MethodGet, "/api/v1/case/unknown-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReloadEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	// Bad path leaves the active edition untouched.
	w := doJSON(t, s, http.MethodPost, "/api/v1/guidelines/reload", payload{"path": "/no/such.json"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodGet, "/health", nil)
	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "2022-ch7.1", health["edition"])

	// Empty path reloads the embedded edition.
	w = doJSON(t, s, http.MethodPost, "/api/v1/guidelines/reload", payload{})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "2022-ch7.1", body["edition"])
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/recommend", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
