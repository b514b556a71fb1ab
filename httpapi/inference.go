package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/config"
	"github.com/modelmesh/gateway/inference/dispatch"
	"github.com/modelmesh/gateway/inference/schema"
	"github.com/modelmesh/gateway/inference/streamagg"
	"github.com/modelmesh/gateway/inference/variant"
)

// inferenceRequestBody is the §6 /inference request shape.
type inferenceRequestBody struct {
	FunctionName string `json:"function_name,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	EpisodeID    string `json:"episode_id,omitempty"`

	Input struct {
		System   any           `json:"system,omitempty"`
		Messages []wireMessage `json:"messages"`
	} `json:"input"`

	Stream bool `json:"stream,omitempty"`

	Params struct {
		ChatCompletion wireChatParams `json:"chat_completion"`
	} `json:"params,omitempty"`

	VariantName string `json:"variant_name,omitempty"`
	DryRun      bool   `json:"dryrun,omitempty"`

	AllowedTools       []string             `json:"allowed_tools,omitempty"`
	AdditionalTools    []wireToolDefinition `json:"additional_tools,omitempty"`
	ToolChoice         *wireToolChoice      `json:"tool_choice,omitempty"`
	ParallelToolCalls  bool                 `json:"parallel_tool_calls,omitempty"`

	OutputSchema json.RawMessage   `json:"output_schema,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Credentials  map[string]string `json:"credentials,omitempty"`

	CacheOptions struct {
		MaxAgeS int    `json:"max_age_s,omitempty"`
		Enabled string `json:"enabled,omitempty"`
	} `json:"cache_options,omitempty"`
}

// inferenceResponseBody is the §6 /inference non-streaming response shape.
type inferenceResponseBody struct {
	InferenceID  string `json:"inference_id"`
	EpisodeID    string `json:"episode_id"`
	VariantName  string `json:"variant_name"`
	Output       any    `json:"output"`
	Usage        wireUsage `json:"usage"`
	FinishReason string `json:"finish_reason,omitempty"`
}

func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	var body inferenceRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, inference.NewDispatchError("", inference.ErrorKindInvalidRequest, fmt.Errorf("decode request body: %w", err)))
		return
	}

	req, functionType, err := s.toDispatchRequest(body)
	if err != nil {
		writeError(w, inference.NewDispatchError(body.FunctionName, inference.ErrorKindInvalidRequest, err))
		return
	}

	resp, err := s.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		s.logError(r.Context(), "dispatch failed", err)
		writeError(w, err)
		return
	}

	if body.Stream {
		s.streamInference(w, r, resp, functionType, body.DryRun)
		return
	}

	output := renderOutput(functionType, resp.Result.Response.Content)
	if functionType == inference.FunctionTypeJSON {
		if err := s.validateJSONOutput(body, output); err != nil {
			writeError(w, inference.NewDispatchError(body.FunctionName, inference.ErrorKindSerialization, err))
			return
		}
	}

	out := inferenceResponseBody{
		InferenceID: resp.InferenceID.String(),
		EpisodeID:   resp.EpisodeID.String(),
		VariantName: resp.VariantName,
		FinishReason: resp.Result.Response.FinishReason,
		Usage:       fromInternalUsage(resp.Result.Response.Usage),
		Output:      output,
	}
	writeJSON(w, http.StatusOK, out)
}

// validateJSONOutput checks a json function's {raw, parsed} output against
// the function's configured output_schema, falling back to a per-request
// output_schema override when the function defines none.
func (s *Server) validateJSONOutput(body inferenceRequestBody, output any) error {
	schemaDoc := body.OutputSchema
	if body.FunctionName != "" {
		if fn, ok := s.Config.Functions[body.FunctionName]; ok && len(fn.OutputSchema) > 0 {
			schemaDoc = fn.OutputSchema
		}
	}
	if len(schemaDoc) == 0 {
		return nil
	}
	jo, ok := output.(jsonOutput)
	if !ok || jo.Parsed == nil {
		return fmt.Errorf("output_schema: output is not valid JSON")
	}
	return schema.Validate(schemaDoc, jo.Parsed)
}

// toDispatchRequest converts the wire body to a dispatch.Request, also
// returning the resolved function type needed to shape the response
// output (chat content blocks vs. json {raw, parsed}).
func (s *Server) toDispatchRequest(body inferenceRequestBody) (dispatch.Request, inference.FunctionType, error) {
	messages, err := toInternalMessages(body.Input.Messages)
	if err != nil {
		return dispatch.Request{}, "", fmt.Errorf("input.messages: %w", err)
	}

	functionType := inference.FunctionTypeChat
	var fn *config.Function
	if body.FunctionName != "" {
		if f, ok := s.Config.Functions[body.FunctionName]; ok {
			fn = f
			functionType = fn.Type
		}
	}

	if fn != nil {
		if body.Input.System != nil {
			if err := schema.Validate(fn.SystemSchema, body.Input.System); err != nil {
				return dispatch.Request{}, "", fmt.Errorf("input.system: %w", err)
			}
		}
		for i, m := range messages {
			var schemaDoc json.RawMessage
			switch m.Role {
			case inference.RoleUser:
				schemaDoc = fn.UserSchema
			case inference.RoleAssistant:
				schemaDoc = fn.AssistantSchema
			}
			if len(schemaDoc) == 0 {
				continue
			}
			if err := schema.Validate(schemaDoc, inference.TextOnly(m.Content)); err != nil {
				return dispatch.Request{}, "", fmt.Errorf("input.messages[%d]: %w", i, err)
			}
		}
	}

	jsonMode := body.Params.ChatCompletion.jsonMode()
	if jsonMode == inference.JSONModeTool && len(body.AdditionalTools) > 0 {
		// §4.1 step 3: reject additional_tools under json_mode "tool" before
		// any provider is invoked, rather than letting the provider adapter
		// discover the conflict mid-call (§7 "input validation errors
		// short-circuit the request before any provider is called").
		return dispatch.Request{}, "", fmt.Errorf("additional_tools is not allowed when json_mode is %q", jsonMode)
	}

	in := variant.Input{
		System:       body.Input.System,
		Messages:     messages,
		Params:       body.Params.ChatCompletion.toGenerationParams(),
		JSONMode:     jsonMode,
		OutputSchema: body.OutputSchema,
		FunctionType: functionType,
		Stream:       body.Stream,
	}
	if len(body.AdditionalTools) > 0 || body.ToolChoice != nil {
		cfg := &inference.ToolConfig{
			Tools:             toInternalTools(body.AdditionalTools),
			ParallelToolCalls: body.ParallelToolCalls,
		}
		if body.ToolChoice != nil {
			cfg.Choice = body.ToolChoice.ToolChoice
		}
		in.Tools = cfg
	}

	var episodeID uuid.UUID
	if body.EpisodeID != "" {
		id, err := uuid.Parse(body.EpisodeID)
		if err != nil {
			return dispatch.Request{}, "", fmt.Errorf("episode_id: %w", err)
		}
		episodeID = id
	}

	req := dispatch.Request{
		FunctionName: body.FunctionName,
		ModelName:    body.ModelName,
		VariantName:  body.VariantName,
		Input:        in,
		AllowedTools: body.AllowedTools,
		Credentials:  body.Credentials,
		EpisodeID:    episodeID,
		MaxUUIDSlack: s.MaxUUIDSlack,
		DryRun:       body.DryRun,
	}
	return req, functionType, nil
}

// renderOutput shapes content blocks per §3's "a json function's output is
// {raw, parsed}" invariant, vs. a chat function's raw content-block array.
func renderOutput(functionType inference.FunctionType, blocks []inference.ContentBlock) any {
	if functionType == inference.FunctionTypeJSON {
		return buildJSONOutput(blocks)
	}
	return fromInternalContent(blocks)
}

// sseChunk is the §6 streaming wire shape: "InferenceResponseChunk".
type sseChunk struct {
	BlockIndex   int    `json:"block_index"`
	TextDelta    string `json:"text_delta,omitempty"`

	ToolCallID         string `json:"tool_call_id,omitempty"`
	ToolCallName       string `json:"tool_call_name,omitempty"`
	ToolArgumentsDelta string `json:"tool_arguments_delta,omitempty"`

	Usage        *wireUsage `json:"usage,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

func toSSEChunk(c inference.ResponseChunk) sseChunk {
	out := sseChunk{
		BlockIndex:         c.BlockIndex,
		TextDelta:          c.Delta.TextDelta,
		ToolCallID:         c.Delta.ToolCallID,
		ToolCallName:       c.Delta.ToolCallName,
		ToolArgumentsDelta: c.Delta.ToolArgumentsDelta,
		FinishReason:       c.FinishReason,
	}
	if c.Usage != nil {
		u := fromInternalUsage(*c.Usage)
		out.Usage = &u
	}
	return out
}

// streamInference drives resp.Result's chunk stream to the client as
// Server-Sent Events while concurrently reconstructing the aggregated
// Response via streamagg, then persists it once the stream ends (unless
// dryrun), per §4.5 and §7's partial-streaming-failure handling.
func (s *Server) streamInference(w http.ResponseWriter, r *http.Request, resp *dispatch.Response, functionType inference.FunctionType, dryrun bool) {
	result := resp.Result
	if result.Stream == nil {
		// The variant resolved to a non-streaming path (shouldn't happen
		// when body.Stream was true, but degrade gracefully).
		writeJSON(w, http.StatusOK, inferenceResponseBody{
			InferenceID: resp.InferenceID.String(),
			EpisodeID:   resp.EpisodeID.String(),
			VariantName: resp.VariantName,
			Output:      renderOutput(functionType, result.Response.Content),
			Usage:       fromInternalUsage(result.Response.Usage),
		})
		return
	}
	defer result.Stream.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	agg := streamagg.New()
	forward := func(c inference.ResponseChunk) error {
		return writeSSEEvent(w, flusher, toSSEChunk(c))
	}

	final, err := agg.Run(r.Context(), *result.FirstChunk, result.Stream, forward)
	if err != nil {
		// Partial-streaming failure: first chunk already reached the
		// client, so emit an error event rather than an HTTP-level
		// error, and end the stream without [DONE] per §7.
		_ = writeSSEErrorEvent(w, flusher, err)
		s.logError(r.Context(), "stream aggregation failed", err)
		return
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	if dryrun || s.Dispatcher.Writer == nil {
		return
	}
	result.Response = final
	go s.Dispatcher.Persist(resp.EpisodeID, resp.InferenceID, resp.FunctionName, resp.VariantName, result)
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}

func writeSSEErrorEvent(w http.ResponseWriter, flusher http.Flusher, err error) error {
	env := errorEnvelope{Error: err.Error(), ErrorJSON: errorJSON(err)}
	return writeSSEEvent(w, flusher, map[string]any{"error_json": env})
}
