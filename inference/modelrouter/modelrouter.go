// Package modelrouter implements the Model contract (§4.3): an ordered
// list of providers tried in sequence until one succeeds, wrapped in a
// single model-level timeout that bounds the whole provider loop.
package modelrouter

import (
	"context"
	"fmt"
	"time"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/provider"
	"github.com/modelmesh/gateway/inference/ratelimit"
	"github.com/modelmesh/gateway/inference/telemetry"
)

// ProviderBinding pairs a provider.Adapter with the credentials and model
// name it should use for this model entry's routing step. RateLimiter is
// optional; when set, every attempt against this provider waits for
// estimated-token capacity first and reports 429s back into the limiter's
// AIMD backoff.
type ProviderBinding struct {
	Name        string
	Adapter     provider.Adapter
	Creds       provider.Credentials
	RateLimiter *ratelimit.Limiter
}

// Router invokes a model's providers in order, applying the model-level
// timeout across the entire attempt sequence. All provider errors are
// fallback-eligible, per §4.3's "deliberate simplification": the router
// does not try to distinguish retryable from non-retryable failures when
// deciding whether to advance to the next provider.
type Router struct {
	ModelName        string
	Providers        []ProviderBinding
	NonStreamingTimeout time.Duration
	StreamingTTFTTimeout time.Duration
	Logger           telemetry.Logger
	Metrics          telemetry.Metrics
}

// Infer tries each provider in order within the model's non-streaming
// timeout. A provider failure moves to the next binding; exhausting every
// binding returns a ModelError wrapping the full per-provider error map. A
// timeout firing mid-loop stops further providers from being tried.
func (r *Router) Infer(ctx context.Context, req *inference.Request) (*inference.Response, string, error) {
	timeout := r.NonStreamingTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errs := make(map[string]error, len(r.Providers))
	for _, b := range r.Providers {
		if b.RateLimiter != nil {
			if err := b.RateLimiter.Wait(ctx, req); err != nil {
				errs[b.Name] = err
				continue
			}
		}
		resp, err := b.Adapter.Infer(ctx, req, b.Creds)
		if b.RateLimiter != nil {
			b.RateLimiter.Observe(err)
		}
		if err == nil {
			return resp, b.Name, nil
		}
		errs[b.Name] = err
		r.log("infer provider failed", b.Name, err)
		if ctx.Err() != nil {
			return nil, b.Name, inference.NewModelTimeoutError(r.ModelName, timeout, false)
		}
	}
	return nil, "", inference.NewModelProvidersExhaustedError(r.ModelName, errs)
}

// InferStream tries each provider in order, applying the streaming ttft
// timeout only to the wait for the first chunk: once a provider starts
// streaming, the rest of the stream is not subject to the model-level
// timeout (§5 "ttft_ms bounds the first chunk only"). The adapter call
// runs against a cancelable (not deadline-bound) derivative of ctx so a
// slow-but-eventually-successful stream is not torn down once ttft has
// already been satisfied; only the *wait* for the first chunk is bounded.
func (r *Router) InferStream(ctx context.Context, req *inference.Request) (inference.ResponseChunk, inference.ChunkStream, string, string, error) {
	timeout := r.StreamingTTFTTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	errs := make(map[string]error, len(r.Providers))
	for _, b := range r.Providers {
		if b.RateLimiter != nil {
			if err := b.RateLimiter.Wait(ctx, req); err != nil {
				errs[b.Name] = err
				continue
			}
		}
		first, rest, providerName, rawRequest, err := r.attemptStream(ctx, b, req, timeout)
		if b.RateLimiter != nil {
			b.RateLimiter.Observe(err)
		}
		if err == nil {
			return first, rest, providerName, rawRequest, nil
		}
		errs[b.Name] = err
		r.log("stream provider failed", b.Name, err)
		if me, ok := inference.AsModelError(err); ok && me.Kind() == inference.ErrorKindModelTimeout {
			return inference.ResponseChunk{}, nil, b.Name, rawRequest, err
		}
		if ctx.Err() != nil {
			return inference.ResponseChunk{}, nil, b.Name, rawRequest, ctx.Err()
		}
	}
	return inference.ResponseChunk{}, nil, "", "", inference.NewModelProvidersExhaustedError(r.ModelName, errs)
}

type streamResult struct {
	first      inference.ResponseChunk
	rest       inference.ChunkStream
	rawRequest string
	err        error
}

func (r *Router) attemptStream(ctx context.Context, b ProviderBinding, req *inference.Request, timeout time.Duration) (inference.ResponseChunk, inference.ChunkStream, string, string, error) {
	callCtx, cancel := context.WithCancel(ctx)
	results := make(chan streamResult, 1)
	go func() {
		first, rest, rawRequest, err := b.Adapter.InferStream(callCtx, req, b.Creds)
		results <- streamResult{first: first, rest: rest, rawRequest: rawRequest, err: err}
	}()
	select {
	case res := <-results:
		if res.err != nil {
			cancel()
			return inference.ResponseChunk{}, nil, b.Name, res.rawRequest, res.err
		}
		return res.first, &cancelOnCloseStream{ChunkStream: res.rest, cancel: cancel}, b.Name, res.rawRequest, nil
	case <-time.After(timeout):
		cancel()
		<-results // drain so the goroutine does not leak
		return inference.ResponseChunk{}, nil, b.Name, "", inference.NewModelTimeoutError(r.ModelName, timeout, true)
	case <-ctx.Done():
		cancel()
		<-results
		return inference.ResponseChunk{}, nil, b.Name, "", ctx.Err()
	}
}

// Embed runs the model's first provider binding implementing
// provider.EmbeddingAdapter, used by the dicl variant to embed the current
// input for demonstration retrieval. It does not apply the fallback loop
// the way Infer/InferStream do, since embedding is a retrieval-path
// concern rather than a generation one.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	for _, b := range r.Providers {
		embedder, ok := b.Adapter.(provider.EmbeddingAdapter)
		if !ok {
			continue
		}
		return embedder.Embed(ctx, r.ModelName, text, b.Creds)
	}
	return nil, fmt.Errorf("model %q: no provider supports embeddings", r.ModelName)
}

func (r *Router) log(msg, providerName string, err error) {
	if r.Logger == nil {
		return
	}
	r.Logger.Warn(context.Background(), msg, "model", r.ModelName, "provider", providerName, "error", err.Error())
}

// cancelOnCloseStream cancels the adapter call's context once the stream
// is closed: the context must stay alive for the duration of streaming,
// and it must not leak past the Close call.
type cancelOnCloseStream struct {
	inference.ChunkStream
	cancel context.CancelFunc
}

func (s *cancelOnCloseStream) Close() error {
	defer s.cancel()
	return s.ChunkStream.Close()
}
