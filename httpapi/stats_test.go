package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelmesh/gateway/inference/warehouse"
)

func TestHandleInferenceStats_AggregatesWrittenRecords(t *testing.T) {
	w := warehouse.NewMemoryWriter()
	require.NoError(t, w.WriteInference(t.Context(), warehouse.InferenceRecord{FunctionName: "greet", VariantName: "v1"}))
	require.NoError(t, w.WriteInference(t.Context(), warehouse.InferenceRecord{FunctionName: "greet", VariantName: "v1"}))

	s := &Server{Stats: w}
	req := httptest.NewRequest(http.MethodGet, "/internal/functions/greet/inference-stats", nil)
	req.SetPathValue("name", "greet")
	rec := httptest.NewRecorder()

	s.handleInferenceStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var rows []functionStatsRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, int64(2), rows[0].Count)
}

func TestHandleInferenceStats_NoBackendConfiguredIsAnError(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/internal/functions/greet/inference-stats", nil)
	req.SetPathValue("name", "greet")
	rec := httptest.NewRecorder()

	s.handleInferenceStats(rec, req)

	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHandleInferenceStatsByMetric_RejectsMalformedThreshold(t *testing.T) {
	s := &Server{Stats: warehouse.NewMemoryWriter()}
	req := httptest.NewRequest(http.MethodGet, "/internal/functions/greet/inference-stats/quality?threshold=not-a-number", nil)
	req.SetPathValue("name", "greet")
	req.SetPathValue("metric", "quality")
	rec := httptest.NewRecorder()

	s.handleInferenceStatsByMetric(rec, req)

	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHandleInferenceStatsByMetric_FiltersByThreshold(t *testing.T) {
	w := warehouse.NewMemoryWriter()
	ctx := t.Context()
	id := warehouse.InferenceRecord{FunctionName: "greet", VariantName: "v1"}
	require.NoError(t, w.WriteInference(ctx, id))
	infs, _, _ := w.Snapshot()
	require.NoError(t, w.WriteFeedback(ctx, warehouse.FeedbackRecord{InferenceID: infs[0].InferenceID, MetricName: "quality", Value: 0.9}))

	s := &Server{Stats: w}
	req := httptest.NewRequest(http.MethodGet, "/internal/functions/greet/inference-stats/quality?threshold=0.5", nil)
	req.SetPathValue("name", "greet")
	req.SetPathValue("metric", "quality")
	rec := httptest.NewRecorder()

	s.handleInferenceStatsByMetric(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var rows []metricStatsRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "v1", rows[0].VariantName)
}
