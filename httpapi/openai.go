package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/dispatch"
	"github.com/modelmesh/gateway/inference/streamagg"
	"github.com/modelmesh/gateway/inference/variant"
)

// openAIChatRequest is the subset of the OpenAI chat-completions request
// body §6's façade accepts.
type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
	Stream   bool                `json:"stream,omitempty"`

	Tools      []openAITool `json:"tools,omitempty"`
	ToolChoice any          `json:"tool_choice,omitempty"`

	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`

	Temperature      *float32 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
	TopP             *float32 `json:"top_p,omitempty"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

type openAIResponseFormat struct {
	Type       string `json:"type"`
	JSONSchema *struct {
		Schema json.RawMessage `json:"schema"`
	} `json:"json_schema,omitempty"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Parameters  any    `json:"parameters,omitempty"`
	} `json:"function"`
}

type openAIChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// openAIContentPart is one element of an OpenAI multi-part message
// content array: text, image_url, file, or input_audio.
type openAIContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
	File *struct {
		FileData string `json:"file_data"`
		Filename string `json:"filename,omitempty"`
	} `json:"file,omitempty"`
	InputAudio *struct {
		Data   string `json:"data"`
		Format string `json:"format,omitempty"`
	} `json:"input_audio,omitempty"`
}

// resolvedModel is the result of parsing §6's `model` field.
type resolvedModel struct {
	functionName string
	modelName    string
}

// parseModelField parses the `tensorzero::function_name::<name>`,
// `tensorzero::model_name::<name>`, and legacy `tensorzero::<name>`
// (resolves as a function) forms, falling back to treating an
// unprefixed value as a function name for callers migrating gradually.
func parseModelField(model string) (resolvedModel, error) {
	const prefix = "tensorzero::"
	if !strings.HasPrefix(model, prefix) {
		return resolvedModel{functionName: model}, nil
	}
	rest := strings.TrimPrefix(model, prefix)
	switch {
	case strings.HasPrefix(rest, "function_name::"):
		return resolvedModel{functionName: strings.TrimPrefix(rest, "function_name::")}, nil
	case strings.HasPrefix(rest, "model_name::"):
		return resolvedModel{modelName: strings.TrimPrefix(rest, "model_name::")}, nil
	case rest == "":
		return resolvedModel{}, fmt.Errorf("model %q: missing name after tensorzero:: prefix", model)
	default:
		return resolvedModel{functionName: rest}, nil
	}
}

func (s *Server) handleOpenAIChatCompletions(w http.ResponseWriter, r *http.Request) {
	var body openAIChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, inference.NewDispatchError("", inference.ErrorKindInvalidRequest, fmt.Errorf("decode request body: %w", err)))
		return
	}

	resolved, err := parseModelField(body.Model)
	if err != nil {
		writeError(w, inference.NewDispatchError("", inference.ErrorKindInvalidRequest, err))
		return
	}

	messages, systemText, err := openAIMessagesToInternal(body.Messages)
	if err != nil {
		writeError(w, inference.NewDispatchError(resolved.functionName, inference.ErrorKindInvalidRequest, err))
		return
	}

	in := variant.Input{
		System:       systemText,
		Messages:     messages,
		FunctionType: inference.FunctionTypeChat,
		Stream:       body.Stream,
		Params: inference.GenerationParams{
			Temperature:      body.Temperature,
			MaxTokens:        body.MaxTokens,
			Seed:             body.Seed,
			TopP:             body.TopP,
			PresencePenalty:  body.PresencePenalty,
			FrequencyPenalty: body.FrequencyPenalty,
			StopSequences:    body.Stop,
		},
		JSONMode: responseFormatToJSONMode(body.ResponseFormat),
	}
	if rf := body.ResponseFormat; rf != nil && rf.Type == "json_schema" && rf.JSONSchema != nil {
		in.OutputSchema = rf.JSONSchema.Schema
	}
	if len(body.Tools) > 0 {
		in.Tools = &inference.ToolConfig{Tools: openAIToolsToInternal(body.Tools)}
	}

	req := dispatch.Request{
		FunctionName: resolved.functionName,
		ModelName:    resolved.modelName,
		Input:        in,
	}
	resp, err := s.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		s.logError(r.Context(), "openai dispatch failed", err)
		writeError(w, err)
		return
	}

	if body.Stream {
		s.streamOpenAI(w, r, resp)
		return
	}
	writeJSON(w, http.StatusOK, toOpenAIResponse(resp))
}

func responseFormatToJSONMode(rf *openAIResponseFormat) inference.JSONMode {
	if rf == nil {
		return inference.JSONModeOff
	}
	switch rf.Type {
	case "json_object":
		return inference.JSONModeOn
	case "json_schema":
		return inference.JSONModeStrict
	default:
		return inference.JSONModeOff
	}
}

func openAIToolsToInternal(tools []openAITool) []inference.ToolDefinition {
	out := make([]inference.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, inference.ToolDefinition{Name: t.Function.Name, Description: t.Function.Description, InputSchema: t.Function.Parameters})
	}
	return out
}

// openAIMessagesToInternal converts OpenAI chat messages to the internal
// message list, pulling every system message (at any position) out of the
// list and concatenating their text, in order, as the request's system
// text per the internal Request shape.
func openAIMessagesToInternal(msgs []openAIChatMessage) ([]inference.Message, string, error) {
	var system string
	out := make([]inference.Message, 0, len(msgs))
	for i, m := range msgs {
		if m.Role == "system" {
			text, err := contentAsText(m.Content)
			if err != nil {
				return nil, "", fmt.Errorf("message[%d]: %w", i, err)
			}
			system += text
			continue
		}
		content, err := openAIContentToInternal(m)
		if err != nil {
			return nil, "", fmt.Errorf("message[%d]: %w", i, err)
		}
		role := inference.RoleUser
		switch m.Role {
		case "assistant":
			role = inference.RoleAssistant
		case "tool":
			role = inference.RoleUser
		}
		out = append(out, inference.Message{Role: role, Content: content})
	}
	return out, system, nil
}

func contentAsText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []openAIContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("content: %w", err)
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), nil
}

// openAIContentToInternal converts a single message's content plus
// tool_calls/tool_call_id into internal content blocks.
func openAIContentToInternal(m openAIChatMessage) ([]inference.ContentBlock, error) {
	var out []inference.ContentBlock
	if m.ToolCallID != "" {
		text, err := contentAsText(m.Content)
		if err != nil {
			return nil, err
		}
		out = append(out, inference.ToolResultBlock{ToolCallID: m.ToolCallID, Result: text})
		return out, nil
	}
	if len(m.Content) > 0 {
		var s string
		if err := json.Unmarshal(m.Content, &s); err == nil {
			if s != "" {
				out = append(out, inference.TextBlock{Text: s})
			}
		} else {
			var parts []openAIContentPart
			if err := json.Unmarshal(m.Content, &parts); err != nil {
				return nil, fmt.Errorf("content: %w", err)
			}
			for i, p := range parts {
				block, err := openAIPartToInternal(p)
				if err != nil {
					return nil, fmt.Errorf("content[%d]: %w", i, err)
				}
				if block != nil {
					out = append(out, block)
				}
			}
		}
	}
	for _, tc := range m.ToolCalls {
		out = append(out, inference.ToolCallBlock{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)})
	}
	return out, nil
}

func openAIPartToInternal(p openAIContentPart) (inference.ContentBlock, error) {
	switch p.Type {
	case "text":
		return inference.TextBlock{Text: p.Text}, nil
	case "image_url":
		if p.ImageURL == nil {
			return nil, fmt.Errorf("image_url part missing image_url")
		}
		return decodeDataURLOrRef("image", p.ImageURL.URL, "")
	case "file":
		if p.File == nil {
			return nil, fmt.Errorf("file part missing file")
		}
		return decodeDataURLOrRef("file", p.File.FileData, p.File.Filename)
	case "input_audio":
		if p.InputAudio == nil {
			return nil, fmt.Errorf("input_audio part missing input_audio")
		}
		raw, err := base64.StdEncoding.DecodeString(p.InputAudio.Data)
		if err != nil {
			return nil, fmt.Errorf("input_audio: decode base64: %w", err)
		}
		mimeType := sniffMIMEType(raw)
		if p.InputAudio.Format != "" && !strings.Contains(mimeType, p.InputAudio.Format) {
			// Magic-byte sniffing disagrees with the declared format; keep
			// the sniffed type since it reflects the actual bytes and note
			// the mismatch is intentionally silent here — the caller has no
			// channel to surface a warning on a request body field.
		}
		return inference.FileBlock{MIMEType: mimeType, Bytes: raw}, nil
	default:
		raw, _ := json.Marshal(p)
		return inference.UnknownBlock{RawKind: p.Type, Raw: raw}, nil
	}
}

// decodeDataURLOrRef handles both a bare URL reference (URI form) and a
// `data:<mime>;base64,<data>` data URL. For a data URL the MIME type is
// detected from the decoded bytes' magic bytes; the MIME type declared in
// the data URL is ignored, and a mismatch between the two produces no
// warning.
func decodeDataURLOrRef(kind, value, filename string) (inference.ContentBlock, error) {
	if !strings.HasPrefix(value, "data:") {
		return inference.FileBlock{Name: filename, URI: value}, nil
	}
	comma := strings.IndexByte(value, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%s: malformed data URL", kind)
	}
	raw, err := base64.StdEncoding.DecodeString(value[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("%s: decode base64: %w", kind, err)
	}
	return inference.FileBlock{Name: filename, MIMEType: sniffMIMEType(raw), Bytes: raw}, nil
}

func sniffMIMEType(data []byte) string {
	return http.DetectContentType(data)
}

// toOpenAIResponse shapes a dispatch.Response as an OpenAI chat-completion
// object. Tool calls are round-tripped to OpenAI's tool_calls shape; plain
// text blocks are concatenated into message.content.
func toOpenAIResponse(resp *dispatch.Response) map[string]any {
	content := resp.Result.Response.Content
	message := map[string]any{"role": "assistant"}
	if text := inference.TextOnly(content); text != "" {
		message["content"] = text
	}
	var toolCalls []map[string]any
	for _, b := range content {
		if tc, ok := b.(inference.ToolCallBlock); ok {
			toolCalls = append(toolCalls, map[string]any{
				"id":   tc.ID,
				"type": "function",
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": string(tc.Arguments),
				},
			})
		}
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}
	usage := resp.Result.Response.Usage
	return map[string]any{
		"id":      resp.InferenceID.String(),
		"object":  "chat.completion",
		"model":   resp.Result.ModelName,
		"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": resp.Result.Response.FinishReason}},
		"usage": map[string]any{
			"prompt_tokens":     usage.InputTokens,
			"completion_tokens": usage.OutputTokens,
			"total_tokens":      usage.InputTokens + usage.OutputTokens,
		},
	}
}

// streamOpenAI drives the streaming result to the client as OpenAI-shaped
// chat.completion.chunk SSE events, persisting the aggregated response
// once the stream ends (openai façade calls never set dryrun, since the
// OpenAI wire contract has no such field).
func (s *Server) streamOpenAI(w http.ResponseWriter, r *http.Request, resp *dispatch.Response) {
	result := resp.Result
	if result.Stream == nil {
		writeJSON(w, http.StatusOK, toOpenAIResponse(resp))
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
		return writeSSEEvent(w, flusher, openAIChunk(resp.InferenceID.String(), resp.Result.ModelName, c))
	}
	final, err := agg.Run(r.Context(), *result.FirstChunk, result.Stream, forward)
	if err != nil {
		_ = writeSSEErrorEvent(w, flusher, err)
		s.logError(r.Context(), "openai stream aggregation failed", err)
		return
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	if s.Dispatcher.Writer == nil {
		return
	}
	result.Response = final
	go s.Dispatcher.Persist(resp.EpisodeID, resp.InferenceID, resp.FunctionName, resp.VariantName, result)
}

func openAIChunk(id, model string, c inference.ResponseChunk) map[string]any {
	delta := map[string]any{}
	if c.Delta.TextDelta != "" {
		delta["content"] = c.Delta.TextDelta
	}
	if c.Delta.ToolCallID != "" {
		delta["tool_calls"] = []map[string]any{{
			"index": c.BlockIndex,
			"id":    c.Delta.ToolCallID,
			"type":  "function",
			"function": map[string]any{
				"name":      c.Delta.ToolCallName,
				"arguments": c.Delta.ToolArgumentsDelta,
			},
		}}
	}
	var finishReason any
	if c.FinishReason != "" {
		finishReason = c.FinishReason
	}
	return map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"model":   model,
		"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finishReason}},
	}
}
