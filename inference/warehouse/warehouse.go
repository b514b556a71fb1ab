// Package warehouse defines the persisted-record write interface
// (inference records, model-inference records, feedback) and an
// in-memory implementation for tests. The production implementation in
// mongowarehouse backs the same interface with
// go.mongodb.org/mongo-driver/v2, standing in for the ClickHouse-style
// append-only store described in §3 without committing to its schema.
package warehouse

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelmesh/gateway/inference"
)

// InferenceRecord is the persisted result of a single Dispatcher call,
// matching §3's "Inference record" fields.
type InferenceRecord struct {
	InferenceID  uuid.UUID
	EpisodeID    uuid.UUID
	FunctionName string
	VariantName  string
	ModelName    string
	Provider     string
	Output       []inference.ContentBlock
	Usage        inference.TokenUsage
	FinishReason string
	RawRequest   string
	RawResponse  string
	CreatedAt    time.Time
}

// ModelInferenceRecord is the persisted result of a single model-level
// invocation, matching §3's "Model-inference record". The dispatcher
// writes one per successful variant-level model call (each best-of-N or
// mixture-of-N candidate included); failed provider attempts inside a
// Model's fallback loop are not recorded.
type ModelInferenceRecord struct {
	InferenceID uuid.UUID
	ModelName   string
	Provider    string
	RawRequest  string
	RawResponse string
	LatencyMs   int64
	TTFTMs      int64
	Usage       inference.TokenUsage
	Errored     bool
	CreatedAt   time.Time
}

// FeedbackRecord attaches user or model-graded feedback to a prior
// episode or inference, per the Dispatcher's RecordFeedback operation.
type FeedbackRecord struct {
	FeedbackID  uuid.UUID
	EpisodeID   uuid.UUID
	InferenceID uuid.UUID // zero value when feedback targets the episode
	MetricName  string
	Value       any
	CreatedAt   time.Time
}

// Writer is the persistence boundary every dispatch/streamagg/variant
// component writes through. Per §9 "persistence is decoupled from the
// client response path", callers invoke these off the client's request
// context after the client-visible response has already been produced or
// forwarded.
type Writer interface {
	WriteInference(ctx context.Context, rec InferenceRecord) error
	WriteModelInference(ctx context.Context, rec ModelInferenceRecord) error
	WriteFeedback(ctx context.Context, rec FeedbackRecord) error
}

// FunctionStats is one row of the §6 inference-stats endpoint: a count and
// last-used timestamp, either for a whole function or (when GroupByVariant
// was requested) for a single one of its variants.
type FunctionStats struct {
	FunctionName string
	VariantName  string // empty when not grouped by variant
	Count        int64
	LastUsedAt   time.Time
}

// MetricStats is one row of the §6 metric-joined inference-stats endpoint:
// the count of inferences for (function, variant) whose feedback rows for
// metricName meet an optional threshold.
type MetricStats struct {
	FunctionName string
	VariantName  string
	MetricName   string
	Count        int64
}

// StatsReader serves the internal aggregation endpoints. Implementations
// are expected to run the aggregation against the same store Writer
// writes to.
type StatsReader interface {
	// FunctionInferenceStats aggregates inference counts for functionName,
	// optionally narrowed to variantName and optionally grouped per
	// variant.
	FunctionInferenceStats(ctx context.Context, functionName, variantName string, groupByVariant bool) ([]FunctionStats, error)

	// FunctionInferenceStatsByMetric joins inferences for functionName
	// against feedback rows named metricName, optionally filtered to
	// values at or above threshold.
	FunctionInferenceStatsByMetric(ctx context.Context, functionName, metricName string, threshold *float64) ([]MetricStats, error)
}

// MemoryWriter is an in-memory Writer for tests, recording every write in
// arrival order without any persistence guarantees.
type MemoryWriter struct {
	mu               sync.Mutex
	Inferences       []InferenceRecord
	ModelInferences  []ModelInferenceRecord
	Feedback         []FeedbackRecord
}

// NewMemoryWriter constructs an empty MemoryWriter.
func NewMemoryWriter() *MemoryWriter { return &MemoryWriter{} }

func (w *MemoryWriter) WriteInference(_ context.Context, rec InferenceRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Inferences = append(w.Inferences, rec)
	return nil
}

func (w *MemoryWriter) WriteModelInference(_ context.Context, rec ModelInferenceRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ModelInferences = append(w.ModelInferences, rec)
	return nil
}

func (w *MemoryWriter) WriteFeedback(_ context.Context, rec FeedbackRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Feedback = append(w.Feedback, rec)
	return nil
}

// Snapshot returns a copy of everything written so far, safe to inspect
// concurrently with further writes.
func (w *MemoryWriter) Snapshot() ([]InferenceRecord, []ModelInferenceRecord, []FeedbackRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]InferenceRecord(nil), w.Inferences...),
		append([]ModelInferenceRecord(nil), w.ModelInferences...),
		append([]FeedbackRecord(nil), w.Feedback...)
}

// FunctionInferenceStats implements StatsReader by scanning the in-memory
// slice; fine for tests, not for production data volumes.
func (w *MemoryWriter) FunctionInferenceStats(_ context.Context, functionName, variantName string, groupByVariant bool) ([]FunctionStats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	agg := make(map[string]*FunctionStats)
	for _, rec := range w.Inferences {
		if rec.FunctionName != functionName {
			continue
		}
		if variantName != "" && rec.VariantName != variantName {
			continue
		}
		key := ""
		if groupByVariant {
			key = rec.VariantName
		}
		s, ok := agg[key]
		if !ok {
			s = &FunctionStats{FunctionName: functionName, VariantName: key}
			agg[key] = s
		}
		s.Count++
		if rec.CreatedAt.After(s.LastUsedAt) {
			s.LastUsedAt = rec.CreatedAt
		}
	}
	out := make([]FunctionStats, 0, len(agg))
	for _, s := range agg {
		out = append(out, *s)
	}
	return out, nil
}

// FunctionInferenceStatsByMetric implements StatsReader for tests.
func (w *MemoryWriter) FunctionInferenceStatsByMetric(_ context.Context, functionName, metricName string, threshold *float64) ([]MetricStats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	byInference := make(map[string]string) // inference id -> variant name
	for _, rec := range w.Inferences {
		if rec.FunctionName == functionName {
			byInference[rec.InferenceID.String()] = rec.VariantName
		}
	}
	agg := make(map[string]*MetricStats)
	counted := make(map[string]bool) // each inference counts once
	for _, fb := range w.Feedback {
		if fb.MetricName != metricName {
			continue
		}
		id := fb.InferenceID.String()
		variant, ok := byInference[id]
		if !ok || counted[id] {
			continue
		}
		if threshold != nil {
			v, ok := fb.Value.(float64)
			if !ok || v < *threshold {
				continue
			}
		}
		counted[id] = true
		s, ok := agg[variant]
		if !ok {
			s = &MetricStats{FunctionName: functionName, VariantName: variant, MetricName: metricName}
			agg[variant] = s
		}
		s.Count++
	}
	out := make([]MetricStats, 0, len(agg))
	for _, s := range agg {
		out = append(out, *s)
	}
	return out, nil
}
