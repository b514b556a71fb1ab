package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/uuidv7"
	"github.com/modelmesh/gateway/inference/warehouse"
)

// feedbackRequestBody is the §6 /feedback request shape: a metric value
// attached to either a prior episode or a prior inference.
type feedbackRequestBody struct {
	MetricName  string `json:"metric_name"`
	Value       any    `json:"value"`
	EpisodeID   string `json:"episode_id,omitempty"`
	InferenceID string `json:"inference_id,omitempty"`
}

type feedbackResponseBody struct {
	FeedbackID string `json:"feedback_id"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var body feedbackRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, inference.NewDispatchError("", inference.ErrorKindInvalidRequest, fmt.Errorf("decode request body: %w", err)))
		return
	}
	if body.MetricName == "" {
		writeError(w, inference.NewDispatchError("", inference.ErrorKindInvalidRequest, fmt.Errorf("metric_name is required")))
		return
	}
	if body.EpisodeID == "" && body.InferenceID == "" {
		writeError(w, inference.NewDispatchError("", inference.ErrorKindInvalidRequest, fmt.Errorf("one of episode_id or inference_id is required")))
		return
	}

	var episodeID, inferenceID uuid.UUID
	var err error
	if body.EpisodeID != "" {
		if episodeID, err = uuid.Parse(body.EpisodeID); err != nil {
			writeError(w, inference.NewDispatchError("", inference.ErrorKindInvalidRequest, fmt.Errorf("episode_id: %w", err)))
			return
		}
	}
	if body.InferenceID != "" {
		if inferenceID, err = uuid.Parse(body.InferenceID); err != nil {
			writeError(w, inference.NewDispatchError("", inference.ErrorKindInvalidRequest, fmt.Errorf("inference_id: %w", err)))
			return
		}
	}

	rec := warehouse.FeedbackRecord{
		FeedbackID:  uuidv7.MustNew(),
		EpisodeID:   episodeID,
		InferenceID: inferenceID,
		MetricName:  body.MetricName,
		Value:       body.Value,
		CreatedAt:   time.Now(),
	}
	if err := s.Dispatcher.RecordFeedback(r.Context(), rec); err != nil {
		s.logError(r.Context(), "record feedback failed", err)
		writeError(w, inference.NewDispatchError("", inference.ErrorKindInternal, err))
		return
	}
	writeJSON(w, http.StatusOK, feedbackResponseBody{FeedbackID: rec.FeedbackID.String()})
}
