// Package dummy implements an in-process provider adapter with
// canned/echo responses, for deployments that want to exercise the
// dispatch/variant/model pipeline without calling a real upstream.
package dummy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/provider"
)

// Adapter echoes back a canned response, optionally keyed by the model
// name so tests can configure distinct canned texts per model. Infer fails
// for a model name containing "error" (for example "dummy::error");
// InferStream does not apply that check. No model name adds a delay:
// delays come only from Latency.
type Adapter struct {
	// Responses maps a model name to the text the adapter returns. When a
	// model name is not present, the adapter echoes the last user message.
	Responses map[string]string

	// Latency optionally delays every call, used to exercise timeout
	// paths deterministically in tests.
	Latency time.Duration
}

// New constructs a dummy Adapter.
func New(responses map[string]string) *Adapter {
	return &Adapter{Responses: responses}
}

func (a *Adapter) Name() string { return "dummy" }

func (a *Adapter) Infer(ctx context.Context, req *inference.Request, _ provider.Credentials) (*inference.Response, error) {
	start := time.Now()
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}
	if strings.Contains(req.ModelName, "error") {
		return nil, inference.NewProviderCallError("dummy", "infer", 500, inference.ErrorKindInferenceServer, true, "", "", fmt.Errorf("dummy: forced error for model %q", req.ModelName))
	}
	text := a.responseText(req)
	return &inference.Response{
		Content:      []inference.ContentBlock{inference.TextBlock{Text: text}},
		Usage:        inference.TokenUsage{InputTokens: estimateTokens(req), OutputTokens: len(strings.Fields(text))},
		FinishReason: "stop",
		Latency:      inference.Latency{TotalMs: time.Since(start).Milliseconds()},
		RawRequest:   fmt.Sprintf("%+v", req),
		RawResponse:  text,
	}, nil
}

func (a *Adapter) InferStream(ctx context.Context, req *inference.Request, _ provider.Credentials) (inference.ResponseChunk, inference.ChunkStream, string, error) {
	if err := a.sleep(ctx); err != nil {
		return inference.ResponseChunk{}, nil, "", err
	}
	text := a.responseText(req)
	words := strings.Fields(text)
	if len(words) == 0 {
		words = []string{""}
	}
	start := time.Now()
	stream := &wordStream{words: words, start: start}
	first, more, err := stream.Next()
	if err != nil {
		return inference.ResponseChunk{}, nil, "", err
	}
	if !more {
		return first, &emptyStream{}, fmt.Sprintf("%+v", req), nil
	}
	return first, stream, fmt.Sprintf("%+v", req), nil
}

func (a *Adapter) responseText(req *inference.Request) string {
	if text, ok := a.Responses[req.ModelName]; ok {
		return text
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == inference.RoleUser {
			return "echo: " + inference.TextOnly(req.Messages[i].Content)
		}
	}
	return "dummy response"
}

func (a *Adapter) sleep(ctx context.Context) error {
	if a.Latency <= 0 {
		return nil
	}
	select {
	case <-time.After(a.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func estimateTokens(req *inference.Request) int {
	n := 0
	for _, m := range req.Messages {
		n += len(strings.Fields(inference.TextOnly(m.Content)))
	}
	return n
}

type wordStream struct {
	words []string
	idx   int
	start time.Time
}

func (s *wordStream) Next() (inference.ResponseChunk, bool, error) {
	if s.idx >= len(s.words) {
		return inference.ResponseChunk{}, false, nil
	}
	w := s.words[s.idx]
	if s.idx > 0 {
		w = " " + w
	}
	chunk := inference.ResponseChunk{
		BlockIndex:        0,
		Delta:             inference.ContentBlockDelta{TextDelta: w},
		ElapsedSinceStart: time.Since(s.start),
	}
	s.idx++
	if s.idx == len(s.words) {
		chunk.FinishReason = "stop"
	}
	return chunk, true, nil
}

func (s *wordStream) Close() error { return nil }

type emptyStream struct{}

func (emptyStream) Next() (inference.ResponseChunk, bool, error) { return inference.ResponseChunk{}, false, nil }
func (emptyStream) Close() error                                  { return nil }
