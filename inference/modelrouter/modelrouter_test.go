package modelrouter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/provider"
)

type fakeAdapter struct {
	name       string
	resp       *inference.Response
	err        error
	firstChunk inference.ResponseChunk
	rest       inference.ChunkStream
	streamErr  error
	delay      time.Duration
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Infer(ctx context.Context, req *inference.Request, creds provider.Credentials) (*inference.Response, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.resp, f.err
}

func (f *fakeAdapter) InferStream(ctx context.Context, req *inference.Request, creds provider.Credentials) (inference.ResponseChunk, inference.ChunkStream, string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return inference.ResponseChunk{}, nil, "", ctx.Err()
		}
	}
	return f.firstChunk, f.rest, "", f.streamErr
}

func TestInfer_FirstProviderSucceeds(t *testing.T) {
	want := &inference.Response{}
	r := &Router{
		ModelName: "m",
		Providers: []ProviderBinding{
			{Name: "a", Adapter: &fakeAdapter{name: "a", resp: want}},
			{Name: "b", Adapter: &fakeAdapter{name: "b", err: inference.NewProviderCallError("b", "infer", 500, inference.ErrorKindInferenceServer, true, "", "", nil)}},
		},
	}
	resp, name, err := r.Infer(context.Background(), &inference.Request{})
	require.NoError(t, err)
	require.Same(t, want, resp)
	require.Equal(t, "a", name)
}

func TestInfer_FallsBackOnFailure(t *testing.T) {
	want := &inference.Response{}
	r := &Router{
		ModelName: "m",
		Providers: []ProviderBinding{
			{Name: "a", Adapter: &fakeAdapter{name: "a", err: inference.NewProviderCallError("a", "infer", 500, inference.ErrorKindInferenceServer, true, "", "", nil)}},
			{Name: "b", Adapter: &fakeAdapter{name: "b", resp: want}},
		},
	}
	resp, name, err := r.Infer(context.Background(), &inference.Request{})
	require.NoError(t, err)
	require.Same(t, want, resp)
	require.Equal(t, "b", name)
}

func TestInfer_ExhaustsAllProviders(t *testing.T) {
	r := &Router{
		ModelName: "m",
		Providers: []ProviderBinding{
			{Name: "a", Adapter: &fakeAdapter{name: "a", err: inference.NewProviderCallError("a", "infer", 500, inference.ErrorKindInferenceServer, true, "", "", nil)}},
			{Name: "b", Adapter: &fakeAdapter{name: "b", err: inference.NewProviderCallError("b", "infer", 500, inference.ErrorKindInferenceServer, true, "", "", nil)}},
		},
	}
	_, _, err := r.Infer(context.Background(), &inference.Request{})
	require.Error(t, err)
	me, ok := inference.AsModelError(err)
	require.True(t, ok)
	require.Equal(t, inference.ErrorKindModelProvidersExhausted, me.Kind())
	require.Len(t, me.ProviderErrors(), 2)
}

func TestInfer_ModelTimeoutStopsFallback(t *testing.T) {
	r := &Router{
		ModelName:           "m",
		NonStreamingTimeout:  20 * time.Millisecond,
		Providers: []ProviderBinding{
			{Name: "a", Adapter: &fakeAdapter{name: "a", delay: 100 * time.Millisecond, err: context.DeadlineExceeded}},
			{Name: "b", Adapter: &fakeAdapter{name: "b", resp: &inference.Response{}}},
		},
	}
	_, _, err := r.Infer(context.Background(), &inference.Request{})
	require.Error(t, err)
	me, ok := inference.AsModelError(err)
	require.True(t, ok)
	require.Equal(t, inference.ErrorKindModelTimeout, me.Kind())
}

func TestInferStream_TTFTTimeoutDoesNotWaitForBody(t *testing.T) {
	r := &Router{
		ModelName:            "m",
		StreamingTTFTTimeout: 20 * time.Millisecond,
		Providers: []ProviderBinding{
			{Name: "a", Adapter: &fakeAdapter{name: "a", delay: 200 * time.Millisecond}},
		},
	}
	start := time.Now()
	_, _, _, _, err := r.InferStream(context.Background(), &inference.Request{})
	elapsed := time.Since(start)
	require.Error(t, err)
	require.Less(t, elapsed, 150*time.Millisecond, "ttft timeout should fire well before the slow adapter's delay elapses")
}
