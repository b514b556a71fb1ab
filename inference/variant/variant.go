// Package variant implements the five variant strategies of §4.2:
// chat-completion, best-of-n, mixture-of-n, chain-of-thought, and dicl.
// Per §9's polymorphism constraint, these are a fixed, exhaustively
// dispatched set rather than an open interface hierarchy — Invoke below
// switches on config.VariantKind rather than using variant-specific
// dynamic dispatch.
package variant

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/config"
	"github.com/modelmesh/gateway/inference/modelrouter"
	"github.com/modelmesh/gateway/inference/template"
)

// ModelResolver looks up the model router bound to a model name, as
// configured by the function's owning Gateway.
type ModelResolver interface {
	Resolve(modelName string) (*modelrouter.Router, bool)
}

// Input is the caller-supplied request to a function, prior to variant
// resolution (Dispatcher steps 1-3).
type Input struct {
	System   any
	Messages []inference.Message
	Tools    *inference.ToolConfig
	Params   inference.GenerationParams
	JSONMode inference.JSONMode
	OutputSchema json.RawMessage
	FunctionType inference.FunctionType
	Stream   bool
}

// Result is a variant's output, carrying the raw model.Response and the
// name of the provider/model that ultimately produced it for persistence.
// For a streaming invocation, Response is nil and FirstChunk/Stream carry
// the not-yet-aggregated chunk sequence instead: the caller (httpapi) owns
// forwarding those chunks to the client and running streamagg.Aggregator
// to reconstruct the final Response for persistence, since only the HTTP
// layer knows how chunks should be framed on the wire.
type Result struct {
	Response   *inference.Response
	ModelName  string
	Provider   string
	// Err is set on a Result that represents a single failed sub-invocation
	// kept only for persistence (see Candidates below); a Result returned
	// as a variant's primary output never has Err set.
	Err error

	FirstChunk *inference.ResponseChunk
	Stream     inference.ChunkStream

	// Candidates carries one Result per underlying model invocation for
	// variants that fan out to more than one model (best-of-n,
	// mixture-of-n): every candidate plus the evaluator/fuser call,
	// success or failure, so the dispatcher can persist a model-inference
	// record per invocation per §4.2/§8 ("exactly k+1 or k model-inference
	// rows"). Nil for variants backed by a single model invocation, in
	// which case the dispatcher persists the Result itself as the sole
	// model-inference record.
	Candidates []*Result
}

// Evaluator is the JSON contract an LLM judge must emit for best-of-n
// candidate selection, per §4.2.
type evaluatorOutput struct {
	Thinking     string `json:"thinking"`
	AnswerChoice int    `json:"answer_choice"`
}

// Invoke dispatches a single variant invocation by kind. rng seeds the
// best-of-n uniform-random fallback and must be derived by the caller from
// (function_name, episode_id, attempt_index) per §4.1's tie-break rule.
func Invoke(ctx context.Context, v *config.Variant, siblings map[string]*config.Variant, resolver ModelResolver, in Input, rng *rand.Rand) (*Result, error) {
	switch v.Kind {
	case config.VariantChatCompletion:
		return invokeChatCompletion(ctx, v, resolver, in)
	case config.VariantChainOfThought:
		inner, ok := siblings[v.InnerVariant]
		if !ok {
			return nil, fmt.Errorf("variant: unknown inner_variant %q", v.InnerVariant)
		}
		return invokeChatCompletion(ctx, inner, resolver, in)
	case config.VariantBestOfN:
		return invokeBestOfN(ctx, v, siblings, resolver, in, rng)
	case config.VariantMixtureOfN:
		return invokeMixtureOfN(ctx, v, siblings, resolver, in, rng)
	case config.VariantDICL:
		return invokeDICL(ctx, v, resolver, in)
	default:
		return nil, fmt.Errorf("variant: unknown kind %q", v.Kind)
	}
}

func invokeChatCompletion(ctx context.Context, v *config.Variant, resolver ModelResolver, in Input) (*Result, error) {
	router, ok := resolver.Resolve(v.Model)
	if !ok {
		return nil, fmt.Errorf("variant %q: unknown model %q", v.Name, v.Model)
	}
	req, err := buildRequest(v, in)
	if err != nil {
		return nil, err
	}
	if in.Stream {
		first, rest, providerName, _, err := router.InferStream(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Result{ModelName: v.Model, Provider: providerName, FirstChunk: &first, Stream: rest}, nil
	}
	resp, providerName, err := router.Infer(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{Response: resp, ModelName: v.Model, Provider: providerName}, nil
}

// buildRequest renders the variant's system template (chat-completion
// contract, §4.2) and back-fills generation parameters from the variant's
// configured defaults. The user and assistant templates are not rendered;
// messages pass through unchanged.
func buildRequest(v *config.Variant, in Input) (*inference.Request, error) {
	system, err := renderSlot(v.Templates.System, in.System)
	if err != nil {
		return nil, fmt.Errorf("variant %q: render system template: %w", v.Name, err)
	}
	return &inference.Request{
		System:       system,
		Messages:     in.Messages,
		Tools:        in.Tools,
		Params:       in.Params.WithDefaults(v.Params),
		JSONMode:     in.JSONMode,
		OutputSchema: in.OutputSchema,
		Stream:       in.Stream,
		FunctionType: in.FunctionType,
		ModelName:    v.Model,
	}, nil
}

func renderSlot(body string, data any) (string, error) {
	if body == "" {
		if s, ok := data.(string); ok {
			return s, nil
		}
		return "", nil
	}
	r, err := template.Compile("slot", body)
	if err != nil {
		return "", err
	}
	return r.Render(data)
}

// invokeBestOfN fans out v.Candidates concurrently via errgroup (so one
// candidate's failure does not cancel its siblings, per §5's concurrency
// model), then asks the evaluator model to choose among the successful
// candidates. On evaluator failure or a malformed response it falls back
// to a uniform-random choice among the successes, per §4.2.
func invokeBestOfN(ctx context.Context, v *config.Variant, siblings map[string]*config.Variant, resolver ModelResolver, in Input, rng *rand.Rand) (*Result, error) {
	results := fanOutCandidates(ctx, v.Candidates, siblings, resolver, in)
	successes := collectSuccesses(results)
	if len(successes) == 0 {
		return nil, fmt.Errorf("variant %q: all %d candidates failed: %v", v.Name, len(v.Candidates), candidateErrors(results))
	}
	winner := successes[rng.Intn(len(successes))]
	if v.EvaluatorModel != "" {
		choice, evalAttempt, err := evaluate(ctx, v, resolver, in, successes)
		if evalAttempt != nil {
			results = append(results, evalAttempt)
		}
		if err == nil && choice >= 0 && choice < len(successes) {
			winner = successes[choice]
		}
	}
	chosen := *winner
	chosen.Candidates = results
	return &chosen, nil
}

// invokeMixtureOfN fans out candidates the same way as best-of-n, then
// asks the fuser model to synthesize a single response from all
// successful candidates rather than selecting one, per §4.2. Per §4.2
// "fails if *all* underlying model invocations fail", a fuser failure
// after at least one candidate succeeded still surfaces an error (there
// is no uniform-random fallback for mixture-of-n).
func invokeMixtureOfN(ctx context.Context, v *config.Variant, siblings map[string]*config.Variant, resolver ModelResolver, in Input, _ *rand.Rand) (*Result, error) {
	results := fanOutCandidates(ctx, v.Candidates, siblings, resolver, in)
	successes := collectSuccesses(results)
	if len(successes) == 0 {
		return nil, fmt.Errorf("variant %q: all %d candidates failed: %v", v.Name, len(v.Candidates), candidateErrors(results))
	}
	router, ok := resolver.Resolve(v.FuserModel)
	if !ok {
		return nil, fmt.Errorf("variant %q: unknown fuser model %q", v.Name, v.FuserModel)
	}
	texts := make([]string, 0, len(successes))
	for _, r := range successes {
		texts = append(texts, inference.TextOnly(r.Response.Content))
	}
	system, err := template.MixtureOfNSystem.Render(nil)
	if err != nil {
		return nil, err
	}
	candidatesText, err := template.MixtureOfNCandidates.Render(template.CandidatesData{Candidates: texts})
	if err != nil {
		return nil, err
	}
	req := &inference.Request{
		System:   system,
		Messages: []inference.Message{{Role: inference.RoleUser, Content: []inference.ContentBlock{inference.TextBlock{Text: candidatesText}}}},
		FunctionType: inference.FunctionTypeChat,
		ModelName: v.FuserModel,
	}
	resp, providerName, err := router.Infer(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("variant %q: fuser invocation failed: %w", v.Name, err)
	}
	fuserAttempt := &Result{Response: resp, ModelName: v.FuserModel, Provider: providerName}
	return &Result{Response: resp, ModelName: v.FuserModel, Provider: providerName, Candidates: append(results, fuserAttempt)}, nil
}

// fanOutCandidates invokes every named candidate concurrently via errgroup
// (so one candidate's failure does not cancel its siblings, per §5's
// concurrency model) and returns one Result per candidate, in order,
// whether it succeeded or failed. Failed candidates carry Err (and
// ModelName when the candidate's model was known before the call failed)
// rather than being dropped, so every attempt — successful or not — is
// still available to persist a model-inference row per §4.2/§8.
func fanOutCandidates(ctx context.Context, names []string, siblings map[string]*config.Variant, resolver ModelResolver, in Input) []*Result {
	results := make([]*Result, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			cand, ok := siblings[name]
			if !ok {
				results[i] = &Result{Err: fmt.Errorf("unknown candidate %q", name)}
				return nil
			}
			res, err := invokeChatCompletion(gctx, cand, resolver, in)
			if err != nil {
				results[i] = &Result{ModelName: cand.Model, Err: err}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait() // candidate failures are recorded per-index, never aborted
	return results
}

func collectSuccesses(results []*Result) []*Result {
	out := make([]*Result, 0, len(results))
	for _, r := range results {
		if r != nil && r.Response != nil && r.Err == nil {
			out = append(out, r)
		}
	}
	return out
}

// candidateErrors collects the per-attempt errors out of a fanOutCandidates
// result slice, for inclusion in the "all candidates failed" error message.
func candidateErrors(results []*Result) []error {
	errs := make([]error, 0, len(results))
	for _, r := range results {
		if r != nil && r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}

// evaluate asks the evaluator model to choose among successes, returning
// the chosen index plus a Result describing the evaluator's own invocation
// (non-nil whenever the evaluator model was resolved and called, even on
// failure) so the caller can fold it into the persisted candidate set.
func evaluate(ctx context.Context, v *config.Variant, resolver ModelResolver, in Input, successes []*Result) (int, *Result, error) {
	router, ok := resolver.Resolve(v.EvaluatorModel)
	if !ok {
		return -1, nil, fmt.Errorf("variant %q: unknown evaluator model %q", v.Name, v.EvaluatorModel)
	}
	texts := make([]string, 0, len(successes))
	for _, r := range successes {
		texts = append(texts, inference.TextOnly(r.Response.Content))
	}
	system, err := template.BestOfNSystem.Render(template.BestOfNSystemData{NumCandidates: len(texts)})
	if err != nil {
		return -1, nil, err
	}
	candidatesText, err := template.BestOfNCandidates.Render(template.CandidatesData{Candidates: texts})
	if err != nil {
		return -1, nil, err
	}
	req := &inference.Request{
		System:       system,
		Messages:     []inference.Message{{Role: inference.RoleUser, Content: []inference.ContentBlock{inference.TextBlock{Text: candidatesText}}}},
		JSONMode:     inference.JSONModeOn,
		FunctionType: inference.FunctionTypeChat,
		ModelName:    v.EvaluatorModel,
	}
	resp, providerName, err := router.Infer(ctx, req)
	if err != nil {
		return -1, &Result{ModelName: v.EvaluatorModel, Err: err}, err
	}
	attempt := &Result{Response: resp, ModelName: v.EvaluatorModel, Provider: providerName}
	var out evaluatorOutput
	if err := json.Unmarshal([]byte(inference.TextOnly(resp.Content)), &out); err != nil {
		return -1, attempt, fmt.Errorf("variant %q: evaluator returned malformed JSON: %w", v.Name, err)
	}
	return out.AnswerChoice, attempt, nil
}

// invokeDICL is the dynamic-in-context-learning variant: it embeds the
// current input with the configured embedding model, retrieves the K
// nearest stored demonstrations, and runs v.Model with those
// demonstrations prepended to the conversation. Retrieval is delegated to
// a DemonstrationStore the caller wires in via context, since the store's
// backing index (vector search) is a warehouse concern rather than a
// variant one.
func invokeDICL(ctx context.Context, v *config.Variant, resolver ModelResolver, in Input) (*Result, error) {
	store, ok := DemonstrationStoreFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("variant %q: no demonstration store configured for dicl", v.Name)
	}
	embedRouter, ok := resolver.Resolve(v.EmbeddingModel)
	if !ok {
		return nil, fmt.Errorf("variant %q: unknown embedding model %q", v.Name, v.EmbeddingModel)
	}
	query := inference.TextOnly(lastUserMessage(in.Messages).Content)
	vector, err := embedRouter.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("variant %q: embed input: %w", v.Name, err)
	}
	demos, err := store.Retrieve(ctx, vector, v.K)
	if err != nil {
		return nil, fmt.Errorf("variant %q: retrieve demonstrations: %w", v.Name, err)
	}
	messages := make([]inference.Message, 0, len(demos)*2+len(in.Messages))
	for _, d := range demos {
		messages = append(messages,
			inference.Message{Role: inference.RoleUser, Content: []inference.ContentBlock{inference.TextBlock{Text: d.Input}}},
			inference.Message{Role: inference.RoleAssistant, Content: []inference.ContentBlock{inference.TextBlock{Text: d.Output}}},
		)
	}
	messages = append(messages, in.Messages...)
	in.Messages = messages
	return invokeChatCompletion(ctx, v, resolver, in)
}

func lastUserMessage(msgs []inference.Message) inference.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == inference.RoleUser {
			return msgs[i]
		}
	}
	return inference.Message{}
}
