package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/modelmesh/gateway/inference"
)

type functionStatsRow struct {
	VariantName string `json:"variant_name,omitempty"`
	Count       int64  `json:"count"`
	LastUsedAt  string `json:"last_used_at"`
}

type metricStatsRow struct {
	VariantName string `json:"variant_name"`
	Count       int64  `json:"count"`
}

// handleInferenceStats serves GET
// /internal/functions/{name}/inference-stats[?variant_name=…&group_by=variant].
func (s *Server) handleInferenceStats(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		err := inference.NewDispatchError(r.PathValue("name"), inference.ErrorKindInternal, fmt.Errorf("no stats backend configured"))
		writeJSON(w, http.StatusServiceUnavailable, errorEnvelope{Error: err.Error(), ErrorJSON: errorJSON(err)})
		return
	}
	name := r.PathValue("name")
	variantName := r.URL.Query().Get("variant_name")
	groupByVariant := r.URL.Query().Get("group_by") == "variant"

	rows, err := s.Stats.FunctionInferenceStats(r.Context(), name, variantName, groupByVariant)
	if err != nil {
		s.logError(r.Context(), "inference stats failed", err)
		writeError(w, inference.NewDispatchError(name, inference.ErrorKindInternal, err))
		return
	}
	out := make([]functionStatsRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, functionStatsRow{VariantName: row.VariantName, Count: row.Count, LastUsedAt: row.LastUsedAt.UTC().Format("2006-01-02T15:04:05Z")})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleInferenceStatsByMetric serves GET
// /internal/functions/{name}/inference-stats/{metric}[?threshold=…].
func (s *Server) handleInferenceStatsByMetric(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		err := inference.NewDispatchError(r.PathValue("name"), inference.ErrorKindInternal, fmt.Errorf("no stats backend configured"))
		writeJSON(w, http.StatusServiceUnavailable, errorEnvelope{Error: err.Error(), ErrorJSON: errorJSON(err)})
		return
	}
	name := r.PathValue("name")
	metric := r.PathValue("metric")

	var threshold *float64
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, inference.NewDispatchError(name, inference.ErrorKindInvalidRequest, fmt.Errorf("threshold: %w", err)))
			return
		}
		threshold = &v
	}

	rows, err := s.Stats.FunctionInferenceStatsByMetric(r.Context(), name, metric, threshold)
	if err != nil {
		s.logError(r.Context(), "metric-joined inference stats failed", err)
		writeError(w, inference.NewDispatchError(name, inference.ErrorKindInternal, err))
		return
	}
	out := make([]metricStatsRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, metricStatsRow{VariantName: row.VariantName, Count: row.Count})
	}
	writeJSON(w, http.StatusOK, out)
}
