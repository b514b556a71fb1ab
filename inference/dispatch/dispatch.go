// Package dispatch implements the Dispatcher (§4.1): the entry point that
// resolves a function, validates input, prepares tool config, samples a
// variant, invokes it (retrying the sampling loop without replacement on
// failure), and persists the result.
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/config"
	"github.com/modelmesh/gateway/inference/uuidv7"
	"github.com/modelmesh/gateway/inference/variant"
	"github.com/modelmesh/gateway/inference/warehouse"
)

// Request is a single call to Dispatch.
type Request struct {
	FunctionName   string
	// ModelName, set instead of FunctionName, routes through a synthesized
	// single-variant chat-completion function targeting this model
	// directly, per §6 "model_name routes through a synthesized default
	// chat function".
	ModelName      string
	VariantName    string // optional pin, empty selects via weighted sampling
	Input          variant.Input
	AllowedTools   []string
	Credentials    map[string]string
	EpisodeID      uuid.UUID // zero value means "generate a new one"
	MaxUUIDSlack   time.Duration
	// DryRun suppresses persistence entirely, per §6's `dryrun` field.
	DryRun bool
}

// syntheticFunctionName tags dispatches made via Request.ModelName rather
// than a configured function, distinguishing them in persisted records and
// logs without colliding with a user's own function names.
const syntheticFunctionName = "tensorzero::default"

func syntheticFunction(modelName string) *config.Function {
	return &config.Function{
		Name: syntheticFunctionName,
		Type: inference.FunctionTypeChat,
		Variants: map[string]*config.Variant{
			"default": {Name: "default", Kind: config.VariantChatCompletion, Model: modelName, Weight: 1},
		},
	}
}

// Response is the Dispatcher's result: the variant's output plus the
// episode/inference identifiers assigned during dispatch.
type Response struct {
	InferenceID  uuid.UUID
	EpisodeID    uuid.UUID
	FunctionName string
	VariantName  string
	Result       *variant.Result
}

// Dispatcher resolves functions from config and hands variant invocation
// to the variant package, persisting results through a warehouse.Writer.
type Dispatcher struct {
	Config   *config.Gateway
	Resolver variant.ModelResolver
	Writer   warehouse.Writer
}

// requestScopedResolver is implemented by resolvers (runtime.Resolver)
// that can rebuild their routing table with a single request's dynamic
// provider credentials (§6 `credentials` map). Resolvers that don't
// implement it simply never see request-scoped credentials, which is
// correct for configurations with no `dynamic` credential providers.
type requestScopedResolver interface {
	ForRequest(reqCredentials map[string]string) (variant.ModelResolver, error)
}

// Dispatch runs the 8-step algorithm of §4.1.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	// Step 1: look up the function, or synthesize one when the caller
	// named a model directly instead of a function (§6).
	var fn *config.Function
	if req.FunctionName == "" && req.ModelName != "" {
		fn = syntheticFunction(req.ModelName)
		req.FunctionName = syntheticFunctionName
	} else {
		var ok bool
		fn, ok = d.Config.Functions[req.FunctionName]
		if !ok {
			return nil, inference.NewDispatchError(req.FunctionName, inference.ErrorKindUnknownFunction, fmt.Errorf("unknown function %q", req.FunctionName))
		}
	}

	// Step 2: validate input (schema validation against fn's configured
	// schemas is performed by the caller's httpapi layer before Dispatch is
	// invoked, per §4.1's "Validate input" step being an HTTP-boundary
	// concern for JSON Schema but a dispatcher-level concern for presence).
	if req.Input.Messages == nil && req.Input.System == nil {
		return nil, inference.NewDispatchError(req.FunctionName, inference.ErrorKindInvalidInput, fmt.Errorf("request has neither system input nor messages"))
	}

	// Step 3: prepare tool config by filtering the request's own tool list
	// through the allowed_tools whitelist. The function's static tools
	// (fn.Tools) are not merged in.
	if req.Input.Tools != nil && len(req.AllowedTools) > 0 {
		filtered := inference.FilterAllowed(req.Input.Tools.Tools, req.AllowedTools)
		cfg := *req.Input.Tools
		cfg.Tools = filtered
		req.Input.Tools = &cfg
	}

	// Step 4/5: resolve or generate episode_id, validating version and
	// freshness when the caller supplied one.
	episodeID, err := resolveEpisodeID(req.EpisodeID, req.MaxUUIDSlack)
	if err != nil {
		return nil, inference.NewDispatchError(req.FunctionName, inference.ErrorKindInvalidInput, err)
	}
	inferenceID := uuidv7.MustNew()

	// Step 6: weighted-random-without-replacement variant sampling loop,
	// seeded by (function_name, episode_id, attempt_index).
	candidates, err := candidateVariants(fn, req.VariantName)
	if err != nil {
		return nil, inference.NewDispatchError(req.FunctionName, inference.ErrorKindUnknownVariant, err)
	}

	resolver := d.Resolver
	if scoper, ok := resolver.(requestScopedResolver); ok && len(req.Credentials) > 0 {
		scoped, err := scoper.ForRequest(req.Credentials)
		if err != nil {
			return nil, inference.NewDispatchError(req.FunctionName, inference.ErrorKindAPIKeyMissing, err)
		}
		resolver = scoped
	}

	variantErrors := make(map[string]error, len(candidates))
	remaining := append([]*config.Variant(nil), candidates...)
	attempt := 0
	var lastErr error
	for len(remaining) > 0 {
		rng := seededRNG(req.FunctionName, episodeID, attempt)
		idx := sampleWeightedIndex(remaining, rng)
		v := remaining[idx]
		remaining = append(remaining[:idx], remaining[idx+1:]...)

		res, err := variant.Invoke(ctx, v, fn.Variants, resolver, req.Input, rng)
		attempt++
		if err != nil {
			variantErrors[v.Name] = err
			lastErr = err
			continue
		}

		// Step 7: background persistence on success. The caller's context
		// is not used for the persistence write so a client disconnect does
		// not abort it, per §9 "persistence is decoupled from the client
		// response path". Streaming calls are persisted by the httpapi
		// layer instead, once it has driven the stream to completion and
		// reconstructed the aggregated Response via streamagg.
		if d.Writer != nil && !req.Input.Stream && !req.DryRun {
			go d.Persist(episodeID, inferenceID, req.FunctionName, v.Name, res)
		}

		return &Response{InferenceID: inferenceID, EpisodeID: episodeID, FunctionName: req.FunctionName, VariantName: v.Name, Result: res}, nil
	}

	return nil, inference.NewAllVariantsFailedError(req.FunctionName, variantErrors, lastErr)
}

// Persist writes res as an inference record, plus one model-inference
// record per underlying model invocation (§3 "for every persisted
// inference there is ≥ 1 persisted model-inference with the same
// inference_id"). For variants backed by a single model call (chat
// completion, chain-of-thought, dicl), that's res itself; for variants
// that fan out to several models (best-of-n, mixture-of-n), it's every
// entry in res.Candidates — one per candidate plus the evaluator/fuser
// call, success or failure, per §4.2/§8's "exactly k+1 or k" row count.
// It is called in the background for non-streaming dispatches and
// explicitly by the httpapi layer once a streaming response has been
// fully aggregated.
func (d *Dispatcher) Persist(episodeID, inferenceID uuid.UUID, functionName, variantName string, res *variant.Result) {
	rec := warehouse.InferenceRecord{
		InferenceID:  inferenceID,
		EpisodeID:    episodeID,
		FunctionName: functionName,
		VariantName:  variantName,
		ModelName:    res.ModelName,
		Provider:     res.Provider,
	}
	if res.Response != nil {
		rec.Output = res.Response.Content
		rec.Usage = res.Response.Usage
		rec.FinishReason = res.Response.FinishReason
		rec.RawRequest = res.Response.RawRequest
		rec.RawResponse = res.Response.RawResponse
	}
	// Persistence runs detached from the request context; a short bound
	// avoids leaking the goroutine if the warehouse backend is unreachable.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = d.Writer.WriteInference(ctx, rec)

	attempts := res.Candidates
	if len(attempts) == 0 {
		attempts = []*variant.Result{res}
	}
	for _, a := range attempts {
		_ = d.Writer.WriteModelInference(ctx, modelInferenceRecord(inferenceID, a))
	}
}

func modelInferenceRecord(inferenceID uuid.UUID, a *variant.Result) warehouse.ModelInferenceRecord {
	mrec := warehouse.ModelInferenceRecord{
		InferenceID: inferenceID,
		ModelName:   a.ModelName,
		Provider:    a.Provider,
		Errored:     a.Err != nil,
	}
	if a.Response != nil {
		mrec.RawRequest = a.Response.RawRequest
		mrec.RawResponse = a.Response.RawResponse
		mrec.Usage = a.Response.Usage
		mrec.LatencyMs = a.Response.Latency.TotalMs
		mrec.TTFTMs = a.Response.Latency.TTFTMs
	}
	return mrec
}

// RecordFeedback writes a feedback record for a prior episode or
// inference, the only Dispatcher operation besides Dispatch itself.
func (d *Dispatcher) RecordFeedback(ctx context.Context, fb warehouse.FeedbackRecord) error {
	if d.Writer == nil {
		return nil
	}
	return d.Writer.WriteFeedback(ctx, fb)
}

func resolveEpisodeID(supplied uuid.UUID, maxSlack time.Duration) (uuid.UUID, error) {
	if supplied == (uuid.UUID{}) {
		return uuidv7.New()
	}
	if maxSlack <= 0 {
		maxSlack = 24 * time.Hour
	}
	if err := uuidv7.ValidateFreshness(supplied, time.Now(), maxSlack); err != nil {
		return uuid.UUID{}, err
	}
	return supplied, nil
}

// candidateVariants builds the weighted-sampling candidate set. fn.Variants
// is a Go map with randomized iteration order, so the result is sorted by
// name before sampleWeightedIndex ever sees it: otherwise the same
// (function_name, episode_id) could sample a different variant across
// calls or processes despite the RNG itself being seeded deterministically,
// contradicting §4.1's "routing is reproducible per episode".
func candidateVariants(fn *config.Function, pinned string) ([]*config.Variant, error) {
	if pinned != "" {
		v, ok := fn.Variants[pinned]
		if !ok {
			return nil, fmt.Errorf("unknown variant %q", pinned)
		}
		return []*config.Variant{v}, nil
	}
	out := make([]*config.Variant, 0, len(fn.Variants))
	for _, v := range fn.Variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// sampleWeightedIndex picks an index into candidates proportional to each
// variant's configured weight, falling back to uniform selection when no
// weight is set (matches the config default of a zero Weight field).
func sampleWeightedIndex(candidates []*config.Variant, rng *rand.Rand) int {
	total := 0.0
	for _, v := range candidates {
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	if total <= 0 {
		return rng.Intn(len(candidates))
	}
	r := rng.Float64() * total
	acc := 0.0
	for i, v := range candidates {
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		acc += w
		if r < acc {
			return i
		}
	}
	return len(candidates) - 1
}

// seededRNG derives a deterministic RNG from (function_name, episode_id,
// attempt_index), per §4.1's tie-break rule, so repeated dispatch attempts
// for the same episode are reproducible for debugging and testing.
func seededRNG(functionName string, episodeID uuid.UUID, attempt int) *rand.Rand {
	h := fnv64a(functionName, episodeID.String(), attempt)
	return rand.New(rand.NewSource(int64(h)))
}

func fnv64a(functionName, episodeID string, attempt int) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	hash := uint64(offset64)
	for _, b := range []byte(functionName + "\x00" + episodeID + "\x00" + fmt.Sprint(attempt)) {
		hash ^= uint64(b)
		hash *= prime64
	}
	return hash
}
