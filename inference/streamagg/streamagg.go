// Package streamagg implements the Stream Aggregator (§4.5): it forwards
// provider chunks to the client as they arrive while concurrently
// re-shaping and accumulating them by stable block index, so that once the
// client stream ends the same aggregated Response a non-streaming call
// would have produced is available for persistence.
package streamagg

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/modelmesh/gateway/inference"
)

// Aggregator consumes a ChunkStream, forwarding each chunk to Forward as
// it arrives and accumulating text/tool-call blocks by BlockIndex so the
// final Response can be reconstructed once the stream ends.
type Aggregator struct {
	blocks       map[int]*blockAccumulator
	order        []int
	usage        inference.TokenUsage
	finishReason string
	firstChunkAt time.Duration
	sawFirst     bool
	start        time.Time
}

type blockAccumulator struct {
	text      strings.Builder
	toolID    string
	toolName  string
	toolArgs  strings.Builder
	isToolCall bool
}

// New constructs an empty Aggregator. The clock starts immediately so
// Finalize's TotalMs reflects the full drain time even if the caller
// delays calling Run.
func New() *Aggregator { return &Aggregator{blocks: make(map[int]*blockAccumulator), start: time.Now()} }

// Observe folds one chunk into the aggregate. Run calls it once per chunk,
// in arrival order, before forwarding that chunk to the caller. Only the
// first chunk that carries a text or tool-call delta sets the TTFT mark.
func (a *Aggregator) Observe(chunk inference.ResponseChunk) {
	if chunk.Usage != nil {
		a.usage = a.usage.Add(*chunk.Usage)
	}
	if chunk.FinishReason != "" {
		// Last-wins: later finish-reason chunks overwrite earlier ones.
		a.finishReason = chunk.FinishReason
	}
	if chunk.Delta.TextDelta == "" && chunk.Delta.ToolArgumentsDelta == "" && chunk.Delta.ToolCallID == "" {
		return
	}
	if !a.sawFirst {
		a.sawFirst = true
		a.firstChunkAt = chunk.ElapsedSinceStart
	}
	acc, ok := a.blocks[chunk.BlockIndex]
	if !ok {
		acc = &blockAccumulator{}
		a.blocks[chunk.BlockIndex] = acc
		a.order = append(a.order, chunk.BlockIndex)
	}
	if chunk.Delta.TextDelta != "" {
		acc.text.WriteString(chunk.Delta.TextDelta)
	}
	if chunk.Delta.ToolCallID != "" {
		acc.isToolCall = true
		acc.toolID = chunk.Delta.ToolCallID
		if chunk.Delta.ToolCallName != "" {
			acc.toolName = chunk.Delta.ToolCallName
		}
		acc.toolArgs.WriteString(chunk.Delta.ToolArgumentsDelta)
	}
}

// Run drains stream, calling forward for every chunk in arrival order
// (the client-visible side-effect), and returns the aggregated Response
// once the stream ends normally. forward's error aborts the drain (the
// client disconnected) without discarding partial aggregation state, so
// ttft-aware callers can still persist a partial record.
func (a *Aggregator) Run(ctx context.Context, first inference.ResponseChunk, rest inference.ChunkStream, forward func(inference.ResponseChunk) error) (*inference.Response, error) {
	if err := a.observeAndForward(first, forward); err != nil {
		return a.Finalize(), err
	}
	for {
		select {
		case <-ctx.Done():
			return a.Finalize(), ctx.Err()
		default:
		}
		chunk, more, err := rest.Next()
		if err != nil {
			return a.Finalize(), err
		}
		if !more {
			return a.Finalize(), nil
		}
		if err := a.observeAndForward(chunk, forward); err != nil {
			return a.Finalize(), err
		}
	}
}

func (a *Aggregator) observeAndForward(chunk inference.ResponseChunk, forward func(inference.ResponseChunk) error) error {
	a.Observe(chunk)
	if forward == nil {
		return nil
	}
	return forward(chunk)
}

// FirstChunkLatency returns the elapsed time to the first content-bearing
// chunk, used to populate ttft_ms on the persisted record.
func (a *Aggregator) FirstChunkLatency() time.Duration { return a.firstChunkAt }

// Finalize reconstructs the Response a non-streaming call would have
// produced: blocks are ordered by their stable BlockIndex, text and
// tool-argument fragments are concatenated in arrival order, and usage is
// the running sum of every usage delta observed.
func (a *Aggregator) Finalize() *inference.Response {
	order := append([]int(nil), a.order...)
	sort.Ints(order)
	content := make([]inference.ContentBlock, 0, len(order))
	for _, idx := range order {
		acc := a.blocks[idx]
		if acc.isToolCall {
			content = append(content, inference.ToolCallBlock{
				ID:        acc.toolID,
				Name:      acc.toolName,
				Arguments: []byte(acc.toolArgs.String()),
			})
			continue
		}
		if acc.text.Len() > 0 {
			content = append(content, inference.TextBlock{Text: acc.text.String()})
		}
	}
	return &inference.Response{
		Content:      content,
		Usage:        a.usage,
		FinishReason: a.finishReason,
		Latency:      inference.Latency{TTFTMs: a.firstChunkAt.Milliseconds(), TotalMs: time.Since(a.start).Milliseconds()},
	}
}
