package streamagg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelmesh/gateway/inference"
)

type sliceStream struct {
	chunks []inference.ResponseChunk
	i      int
}

func (s *sliceStream) Next() (inference.ResponseChunk, bool, error) {
	if s.i >= len(s.chunks) {
		return inference.ResponseChunk{}, false, nil
	}
	c := s.chunks[s.i]
	s.i++
	return c, true, nil
}

func (s *sliceStream) Close() error { return nil }

func TestRun_ReassemblesTextByBlockIndex(t *testing.T) {
	first := inference.ResponseChunk{BlockIndex: 0, Delta: inference.ContentBlockDelta{TextDelta: "Hel"}}
	rest := &sliceStream{chunks: []inference.ResponseChunk{
		{BlockIndex: 0, Delta: inference.ContentBlockDelta{TextDelta: "lo"}},
		{BlockIndex: 0, FinishReason: "stop"},
	}}

	var forwarded []inference.ResponseChunk
	agg := New()
	resp, err := agg.Run(context.Background(), first, rest, func(c inference.ResponseChunk) error {
		forwarded = append(forwarded, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, forwarded, 3)
	require.Len(t, resp.Content, 1)
	tb, ok := resp.Content[0].(inference.TextBlock)
	require.True(t, ok)
	require.Equal(t, "Hello", tb.Text)
	require.Equal(t, "stop", resp.FinishReason)
}

func TestRun_OrdersMultipleBlocksByIndex(t *testing.T) {
	first := inference.ResponseChunk{BlockIndex: 1, Delta: inference.ContentBlockDelta{TextDelta: "second"}}
	rest := &sliceStream{chunks: []inference.ResponseChunk{
		{BlockIndex: 0, Delta: inference.ContentBlockDelta{TextDelta: "first"}},
	}}
	agg := New()
	resp, err := agg.Run(context.Background(), first, rest, nil)
	require.NoError(t, err)
	require.Len(t, resp.Content, 2)
	require.Equal(t, "first", resp.Content[0].(inference.TextBlock).Text)
	require.Equal(t, "second", resp.Content[1].(inference.TextBlock).Text)
}

func TestRun_AccumulatesToolCallArguments(t *testing.T) {
	first := inference.ResponseChunk{BlockIndex: 0, Delta: inference.ContentBlockDelta{ToolCallID: "call_1", ToolCallName: "lookup", ToolArgumentsDelta: `{"q":`}}
	rest := &sliceStream{chunks: []inference.ResponseChunk{
		{BlockIndex: 0, Delta: inference.ContentBlockDelta{ToolCallID: "call_1", ToolArgumentsDelta: `"x"}`}},
	}}
	agg := New()
	resp, err := agg.Run(context.Background(), first, rest, nil)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	tc, ok := resp.Content[0].(inference.ToolCallBlock)
	require.True(t, ok)
	require.Equal(t, "call_1", tc.ID)
	require.Equal(t, "lookup", tc.Name)
	require.JSONEq(t, `{"q":"x"}`, string(tc.Arguments))
}

func TestRun_SumsUsageAcrossChunks(t *testing.T) {
	first := inference.ResponseChunk{BlockIndex: 0, Delta: inference.ContentBlockDelta{TextDelta: "a"}, Usage: &inference.TokenUsage{InputTokens: 10}}
	rest := &sliceStream{chunks: []inference.ResponseChunk{
		{BlockIndex: 0, Usage: &inference.TokenUsage{OutputTokens: 5}},
	}}
	agg := New()
	resp, err := agg.Run(context.Background(), first, rest, nil)
	require.NoError(t, err)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 5, resp.Usage.OutputTokens)
}

func TestRun_ForwardErrorStopsDrainButKeepsPartial(t *testing.T) {
	first := inference.ResponseChunk{BlockIndex: 0, Delta: inference.ContentBlockDelta{TextDelta: "partial"}}
	rest := &sliceStream{chunks: []inference.ResponseChunk{
		{BlockIndex: 0, Delta: inference.ContentBlockDelta{TextDelta: "more"}},
	}}
	agg := New()
	boom := context.Canceled
	resp, err := agg.Run(context.Background(), first, rest, func(c inference.ResponseChunk) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "partial", resp.Content[0].(inference.TextBlock).Text)
}
