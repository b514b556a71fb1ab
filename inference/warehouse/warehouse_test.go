package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemoryWriter_FunctionInferenceStats_CountsAndTracksLastUsed(t *testing.T) {
	w := NewMemoryWriter()
	ctx := context.Background()

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	require.NoError(t, w.WriteInference(ctx, InferenceRecord{FunctionName: "greet", VariantName: "v1", CreatedAt: older}))
	require.NoError(t, w.WriteInference(ctx, InferenceRecord{FunctionName: "greet", VariantName: "v2", CreatedAt: newer}))
	require.NoError(t, w.WriteInference(ctx, InferenceRecord{FunctionName: "other", VariantName: "v1", CreatedAt: newer}))

	stats, err := w.FunctionInferenceStats(ctx, "greet", "", false)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, int64(2), stats[0].Count)
	require.WithinDuration(t, newer, stats[0].LastUsedAt, time.Second)
}

func TestMemoryWriter_FunctionInferenceStats_GroupsByVariant(t *testing.T) {
	w := NewMemoryWriter()
	ctx := context.Background()
	require.NoError(t, w.WriteInference(ctx, InferenceRecord{FunctionName: "greet", VariantName: "v1"}))
	require.NoError(t, w.WriteInference(ctx, InferenceRecord{FunctionName: "greet", VariantName: "v1"}))
	require.NoError(t, w.WriteInference(ctx, InferenceRecord{FunctionName: "greet", VariantName: "v2"}))

	stats, err := w.FunctionInferenceStats(ctx, "greet", "", true)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byVariant := make(map[string]int64)
	for _, s := range stats {
		byVariant[s.VariantName] = s.Count
	}
	require.Equal(t, int64(2), byVariant["v1"])
	require.Equal(t, int64(1), byVariant["v2"])
}

func TestMemoryWriter_FunctionInferenceStatsByMetric_FiltersByThreshold(t *testing.T) {
	w := NewMemoryWriter()
	ctx := context.Background()

	id1, id2 := uuid.New(), uuid.New()
	require.NoError(t, w.WriteInference(ctx, InferenceRecord{InferenceID: id1, FunctionName: "greet", VariantName: "v1"}))
	require.NoError(t, w.WriteInference(ctx, InferenceRecord{InferenceID: id2, FunctionName: "greet", VariantName: "v2"}))
	require.NoError(t, w.WriteFeedback(ctx, FeedbackRecord{InferenceID: id1, MetricName: "quality", Value: 0.9}))
	require.NoError(t, w.WriteFeedback(ctx, FeedbackRecord{InferenceID: id2, MetricName: "quality", Value: 0.3}))

	threshold := 0.5
	stats, err := w.FunctionInferenceStatsByMetric(ctx, "greet", "quality", &threshold)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, "v1", stats[0].VariantName)
	require.Equal(t, int64(1), stats[0].Count)
}

func TestMemoryWriter_FunctionInferenceStatsByMetric_NoThresholdCountsAll(t *testing.T) {
	w := NewMemoryWriter()
	ctx := context.Background()

	id1 := uuid.New()
	require.NoError(t, w.WriteInference(ctx, InferenceRecord{InferenceID: id1, FunctionName: "greet", VariantName: "v1"}))
	require.NoError(t, w.WriteFeedback(ctx, FeedbackRecord{InferenceID: id1, MetricName: "quality", Value: 0.1}))

	stats, err := w.FunctionInferenceStatsByMetric(ctx, "greet", "quality", nil)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, int64(1), stats[0].Count)
}

func TestMemoryWriter_Snapshot_ReturnsIndependentCopy(t *testing.T) {
	w := NewMemoryWriter()
	ctx := context.Background()
	require.NoError(t, w.WriteInference(ctx, InferenceRecord{FunctionName: "greet"}))

	infs, _, _ := w.Snapshot()
	require.Len(t, infs, 1)

	require.NoError(t, w.WriteInference(ctx, InferenceRecord{FunctionName: "greet2"}))
	require.Len(t, infs, 1, "snapshot must not observe writes made after it was taken")
}
