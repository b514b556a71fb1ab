package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelmesh/gateway/inference/dispatch"
	"github.com/modelmesh/gateway/inference/warehouse"
)

func TestHandleHealth_OKWithoutReachabilityChecker(t *testing.T) {
	s := &Server{Stats: warehouse.NewMemoryWriter()}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out healthResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "ok", out.Status)
	require.Equal(t, "ok", out.Warehouse)
}

type unreachableChecker struct{ warehouse.StatsReader }

func (unreachableChecker) Ping(ctx context.Context) error { return context.DeadlineExceeded }

func TestHandleHealth_ReportsUnreachableWarehouse(t *testing.T) {
	s := &Server{Stats: unreachableChecker{StatsReader: warehouse.NewMemoryWriter()}}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var out healthResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "unreachable", out.Warehouse)
}

func TestHandleFeedback_RejectsMissingMetricName(t *testing.T) {
	s := &Server{Dispatcher: &dispatch.Dispatcher{}}
	req := httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(`{"episode_id":"`+newEpisodeID(t)+`"}`))
	rec := httptest.NewRecorder()

	s.handleFeedback(rec, req)

	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHandleFeedback_RejectsMissingEpisodeAndInferenceID(t *testing.T) {
	s := &Server{Dispatcher: &dispatch.Dispatcher{}}
	req := httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(`{"metric_name":"quality","value":1}`))
	rec := httptest.NewRecorder()

	s.handleFeedback(rec, req)

	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHandleFeedback_WritesRecordAndReturnsFeedbackID(t *testing.T) {
	w := warehouse.NewMemoryWriter()
	s := &Server{Dispatcher: &dispatch.Dispatcher{Writer: w}}
	body := `{"metric_name":"quality","value":0.9,"episode_id":"` + newEpisodeID(t) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleFeedback(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out feedbackResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.FeedbackID)

	_, _, feedback := w.Snapshot()
	require.Len(t, feedback, 1)
	require.Equal(t, "quality", feedback[0].MetricName)
}

func newEpisodeID(t *testing.T) string {
	t.Helper()
	return "018f1e4a-7c3d-7c3d-8c3d-000000000000"
}
