// Package openai implements the provider Adapter contract on top of
// github.com/openai/openai-go's Chat Completions API. It is the base
// adapter reused, with a different base URL, by the azure, vllm, sglang,
// tgi, and deepseek provider families, all of which speak the same
// OpenAI-compatible wire format.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/provider"
)

// Options configures the adapter. BaseURL lets callers point the same
// client code at OpenAI, an Azure-compatible endpoint, or a self-hosted
// OpenAI-compatible server (vLLM, SGLang, TGI, DeepSeek).
type Options struct {
	BaseURL     string
	Name        string // provider family name used in telemetry/errors
	APIVersion  string // Azure-style ?api-version query param, empty elsewhere
}

// Adapter implements provider.Adapter via the Chat Completions API.
type Adapter struct {
	name       string
	baseURL    string
	apiVersion string
}

// New constructs an Adapter. When opts.Name is empty it defaults to
// "openai".
func New(opts Options) *Adapter {
	name := opts.Name
	if name == "" {
		name = "openai"
	}
	return &Adapter{name: name, baseURL: opts.BaseURL, apiVersion: opts.APIVersion}
}

func (a *Adapter) Name() string { return a.name }

// Embed implements provider.EmbeddingAdapter via the Embeddings API, used
// by the dicl variant's embedding_model.
func (a *Adapter) Embed(ctx context.Context, modelName, text string, creds provider.Credentials) ([]float32, error) {
	if creds.APIKey == "" && a.name != vllmFamily {
		return nil, inference.NewProviderCallError(a.name, "embeddings.create", 0, inference.ErrorKindAPIKeyMissing, false, "", "", errors.New("api key missing"))
	}
	resp, err := a.client(creds).Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: modelName,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
	})
	if err != nil {
		return nil, translateCallError(a.name, "embeddings.create", "", err)
	}
	if len(resp.Data) == 0 {
		return nil, provider.InferenceServer(a.name, "embeddings.create", "", mustJSON(resp), errors.New("empty embedding response"))
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (a *Adapter) client(creds provider.Credentials) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(creds.APIKey)}
	if a.baseURL != "" {
		opts = append(opts, option.WithBaseURL(a.baseURL))
	}
	if a.apiVersion != "" {
		opts = append(opts, option.WithQuery("api-version", a.apiVersion))
	}
	return openai.NewClient(opts...)
}

func (a *Adapter) Infer(ctx context.Context, req *inference.Request, creds provider.Credentials) (*inference.Response, error) {
	if creds.APIKey == "" && a.name != vllmFamily {
		return nil, inference.NewProviderCallError(a.name, "chat.completions.create", 0, inference.ErrorKindAPIKeyMissing, false, "", "", errors.New("api key missing"))
	}
	params, extraOpts, err := buildParams(a.name, req)
	if err != nil {
		return nil, inference.NewProviderCallError(a.name, "chat.completions.create", 0, inference.ErrorKindInvalidRequest, false, "", "", err)
	}
	rawRequest := marshalForRaw(params)
	start := time.Now()
	resp, err := a.client(creds).Chat.Completions.New(ctx, params, extraOpts...)
	if err != nil {
		return nil, translateCallError(a.name, "chat.completions.create", rawRequest, err)
	}
	if len(resp.Choices) != 1 {
		return nil, provider.InferenceServer(a.name, "chat.completions.create", rawRequest, mustJSON(resp), fmt.Errorf("expected exactly 1 choice, got %d", len(resp.Choices)))
	}
	out, err := translateResponse(resp, rawRequest, time.Since(start))
	if err != nil {
		return nil, provider.InferenceServer(a.name, "chat.completions.create", rawRequest, mustJSON(resp), err)
	}
	return out, nil
}

func (a *Adapter) InferStream(ctx context.Context, req *inference.Request, creds provider.Credentials) (inference.ResponseChunk, inference.ChunkStream, string, error) {
	if creds.APIKey == "" && a.name != vllmFamily {
		return inference.ResponseChunk{}, nil, "", inference.NewProviderCallError(a.name, "chat.completions.create_stream", 0, inference.ErrorKindAPIKeyMissing, false, "", "", errors.New("api key missing"))
	}
	params, extraOpts, err := buildParams(a.name, req)
	if err != nil {
		return inference.ResponseChunk{}, nil, "", inference.NewProviderCallError(a.name, "chat.completions.create_stream", 0, inference.ErrorKindInvalidRequest, false, "", "", err)
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: param.NewOpt(true)}
	rawRequest := marshalForRaw(params)
	sseStream := a.client(creds).Chat.Completions.NewStreaming(ctx, params, extraOpts...)
	start := time.Now()
	stream := &chunkStream{sse: sseStream, start: start, providerName: a.name}
	first, more, err := stream.Next()
	if err != nil {
		sseStream.Close()
		return inference.ResponseChunk{}, nil, rawRequest, err
	}
	if !more {
		sseStream.Close()
		return inference.ResponseChunk{}, &doneStream{}, rawRequest, nil
	}
	return first, stream, rawRequest, nil
}

// vllmFamily is the Options.Name the vllm package passes to New: vLLM's
// OpenAI-compatible server diverges from the plain OpenAI wire format for
// JSON-constrained decoding (a top-level guided_json field rather than
// response_format) and does not support tool use at all, per
// original_source/.../providers/vllm.rs.
const vllmFamily = "vllm"

func buildParams(providerName string, req *inference.Request) (openai.ChatCompletionNewParams, []option.RequestOption, error) {
	var params openai.ChatCompletionNewParams
	params.Model = req.ModelName

	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		encoded, err := encodeMessage(m)
		if err != nil {
			return params, nil, err
		}
		msgs = append(msgs, encoded...)
	}
	params.Messages = msgs

	if req.Params.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Params.Temperature))
	}
	if req.Params.MaxTokens != nil {
		params.MaxCompletionTokens = param.NewOpt(int64(*req.Params.MaxTokens))
	}
	if req.Params.Seed != nil {
		params.Seed = param.NewOpt(*req.Params.Seed)
	}
	if req.Params.TopP != nil {
		params.TopP = param.NewOpt(float64(*req.Params.TopP))
	}
	if req.Params.PresencePenalty != nil {
		params.PresencePenalty = param.NewOpt(float64(*req.Params.PresencePenalty))
	}
	if req.Params.FrequencyPenalty != nil {
		params.FrequencyPenalty = param.NewOpt(float64(*req.Params.FrequencyPenalty))
	}
	if len(req.Params.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: req.Params.StopSequences,
		}
	}

	extraOpts, err := applyJSONMode(providerName, &params, req)
	if err != nil {
		return params, nil, err
	}
	if err := applyTools(providerName, &params, req); err != nil {
		return params, nil, err
	}
	return params, extraOpts, nil
}

// applyJSONMode maps json_mode=On/Strict to the provider's JSON-constraining
// mechanism, per §4.4. Every family except vllm uses OpenAI's
// response_format (JSON-object for On, JSON-schema constrained decoding for
// Strict); vllm has no response_format support at all and instead takes a
// top-level guided_json field carrying the raw schema, applied via
// option.WithJSONSet since openai-go's typed params have no such field.
func applyJSONMode(providerName string, params *openai.ChatCompletionNewParams, req *inference.Request) ([]option.RequestOption, error) {
	if providerName == vllmFamily {
		switch req.JSONMode {
		case inference.JSONModeOn, inference.JSONModeStrict:
			if len(req.OutputSchema) == 0 {
				if req.JSONMode == inference.JSONModeStrict {
					return nil, errors.New("json_mode=strict requires an output schema")
				}
				return nil, nil
			}
			var schema any
			if err := json.Unmarshal(req.OutputSchema, &schema); err != nil {
				return nil, fmt.Errorf("decode output schema: %w", err)
			}
			return []option.RequestOption{option.WithJSONSet("guided_json", schema)}, nil
		}
		return nil, nil
	}

	switch req.JSONMode {
	case inference.JSONModeOn:
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	case inference.JSONModeStrict:
		if len(req.OutputSchema) == 0 {
			return nil, errors.New("json_mode=strict requires an output schema")
		}
		var schema any
		if err := json.Unmarshal(req.OutputSchema, &schema); err != nil {
			return nil, fmt.Errorf("decode output schema: %w", err)
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "output",
					Schema: schema,
					Strict: param.NewOpt(true),
				},
			},
		}
	}
	return nil, nil
}

// applyTools merges req.Tools into the request, synthesizing the
// "respond" tool when json_mode=Tool per §4.4. vllm does not support tool
// use at all, so any configured tool (explicit or the json_mode=Tool
// synthetic one) is a request-level error rather than something the
// adapter can silently drop.
func applyTools(providerName string, params *openai.ChatCompletionNewParams, req *inference.Request) error {
	tools := req.Tools
	if req.JSONMode == inference.JSONModeTool {
		if providerName == vllmFamily {
			return errors.New("vllm does not support tool use; json_mode=tool is unavailable for this provider")
		}
		if tools != nil && len(tools.Tools) > 0 {
			return errors.New("json_mode=tool requires no other tools configured")
		}
		if len(req.OutputSchema) == 0 {
			return errors.New("json_mode=tool requires an output schema")
		}
		var schema any
		if err := json.Unmarshal(req.OutputSchema, &schema); err != nil {
			return fmt.Errorf("decode output schema: %w", err)
		}
		tools = &inference.ToolConfig{
			Tools: []inference.ToolDefinition{{
				Name:        "respond",
				Description: "Respond to the user with output matching the required schema.",
				InputSchema: schema,
			}},
			Choice: inference.ToolChoice{Mode: inference.ToolChoiceSpecific, Name: "respond"},
		}
	}
	if tools == nil || len(tools.Tools) == 0 {
		return nil
	}
	if providerName == vllmFamily {
		return errors.New("vllm does not support tool use")
	}
	encoded := make([]openai.ChatCompletionToolUnionParam, 0, len(tools.Tools))
	for _, t := range tools.Tools {
		encoded = append(encoded, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: param.NewOpt(t.Description),
			Parameters:  t.InputSchema.(map[string]any),
		}))
	}
	params.Tools = encoded
	switch tools.Choice.Mode {
	case inference.ToolChoiceNone:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("none")}
	case inference.ToolChoiceRequired:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("required")}
	case inference.ToolChoiceSpecific:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: tools.Choice.Name},
			},
		}
	default:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("auto")}
	}
	if tools.ParallelToolCalls {
		params.ParallelToolCalls = param.NewOpt(true)
	}
	return nil
}

func encodeMessage(m inference.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	var out []openai.ChatCompletionMessageParamUnion
	switch m.Role {
	case inference.RoleUser:
		text := inference.TextOnly(m.Content)
		var toolResults []inference.ToolResultBlock
		for _, b := range m.Content {
			if tr, ok := b.(inference.ToolResultBlock); ok {
				toolResults = append(toolResults, tr)
			}
		}
		if text != "" {
			out = append(out, openai.UserMessage(text))
		}
		for _, tr := range toolResults {
			content, err := toolResultText(tr)
			if err != nil {
				return nil, err
			}
			out = append(out, openai.ToolMessage(content, tr.ToolCallID))
		}
	case inference.RoleAssistant:
		asst := openai.ChatCompletionAssistantMessageParam{}
		text := inference.TextOnly(m.Content)
		if text != "" {
			asst.Content.OfString = param.NewOpt(text)
		}
		var calls []openai.ChatCompletionMessageToolCallUnionParam
		for _, b := range m.Content {
			if tc, ok := b.(inference.ToolCallBlock); ok {
				calls = append(calls, openai.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}.ToUnion())
			}
		}
		asst.ToolCalls = calls
		out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
	}
	return out, nil
}

func toolResultText(tr inference.ToolResultBlock) (string, error) {
	if s, ok := tr.Result.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(tr.Result)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(b), nil
}

func translateResponse(resp *openai.ChatCompletion, rawRequest string, elapsed time.Duration) (*inference.Response, error) {
	choice := resp.Choices[0]
	var content []inference.ContentBlock
	if choice.Message.Content != "" {
		content = append(content, inference.TextBlock{Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		fn := call.Function
		content = append(content, inference.ToolCallBlock{
			ID:        call.ID,
			Name:      fn.Name,
			Arguments: json.RawMessage(fn.Arguments),
		})
	}
	return &inference.Response{
		Content: content,
		Usage: inference.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
		FinishReason: string(choice.FinishReason),
		Latency:      inference.Latency{TotalMs: elapsed.Milliseconds()},
		RawRequest:   rawRequest,
		RawResponse:  mustJSON(resp),
	}, nil
}

func translateCallError(providerName, op, rawRequest string, err error) error {
	if provider.IsContextDeadline(err) {
		return provider.ClassifyTimeout(providerName, op, false, 0)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return provider.ClassifyHTTPStatus(providerName, op, apiErr.StatusCode, rawRequest, apiErr.RawJSON(), err)
	}
	return inference.NewProviderCallError(providerName, op, 0, inference.ErrorKindInferenceServer, true, rawRequest, "", err)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func marshalForRaw(params openai.ChatCompletionNewParams) string {
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(b)
}

// chunkStream adapts the openai-go SSE stream to inference.ChunkStream,
// tracking per-tool-call-id state so tool name (observed once on the first
// fragment) is only emitted on that first fragment, per §4.5 "the final
// name is the one first observed".
type chunkStream struct {
	sse          interface {
		Next() bool
		Current() openai.ChatCompletionChunk
		Err() error
		Close() error
	}
	start        time.Time
	providerName string
	seenToolCall map[string]bool
}

func (s *chunkStream) Next() (inference.ResponseChunk, bool, error) {
	if s.seenToolCall == nil {
		s.seenToolCall = make(map[string]bool)
	}
	if !s.sse.Next() {
		if err := s.sse.Err(); err != nil {
			return inference.ResponseChunk{}, false, translateCallError(s.providerName, "chat.completions.create_stream", "", err)
		}
		return inference.ResponseChunk{}, false, nil
	}
	chunk := s.sse.Current()
	if len(chunk.Choices) == 0 {
		if chunk.Usage.TotalTokens > 0 {
			return inference.ResponseChunk{
				Usage: &inference.TokenUsage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				},
				ElapsedSinceStart: time.Since(s.start),
			}, true, nil
		}
		return s.Next()
	}
	choice := chunk.Choices[0]
	out := inference.ResponseChunk{ElapsedSinceStart: time.Since(s.start)}
	if choice.Delta.Content != "" {
		out.Delta.TextDelta = choice.Delta.Content
	}
	if len(choice.Delta.ToolCalls) > 0 {
		tc := choice.Delta.ToolCalls[0]
		out.BlockIndex = int(tc.Index) + 1
		out.Delta.ToolCallID = tc.ID
		out.Delta.ToolArgumentsDelta = tc.Function.Arguments
		if !s.seenToolCall[tc.ID] {
			out.Delta.ToolCallName = tc.Function.Name
			s.seenToolCall[tc.ID] = true
		}
	}
	if choice.FinishReason != "" {
		out.FinishReason = choice.FinishReason
	}
	if chunk.Usage.TotalTokens > 0 {
		out.Usage = &inference.TokenUsage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
		}
	}
	return out, true, nil
}

func (s *chunkStream) Close() error { return s.sse.Close() }

type doneStream struct{}

func (doneStream) Next() (inference.ResponseChunk, bool, error) { return inference.ResponseChunk{}, false, nil }
func (doneStream) Close() error                                   { return nil }
