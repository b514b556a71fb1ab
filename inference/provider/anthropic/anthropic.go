// Package anthropic implements the provider Adapter contract on top of
// github.com/anthropics/anthropic-sdk-go's Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/provider"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, satisfied by *sdk.MessageService in production and a fake in
// tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Adapter implements provider.Adapter against the Anthropic Messages API.
type Adapter struct {
	newClient func(apiKey string) MessagesClient
}

// New constructs an Adapter. A fresh SDK client is built per call from the
// resolved credential, since the gateway resolves credentials per-request
// (static config value or dynamic per-request override) rather than once
// at startup.
func New() *Adapter {
	return &Adapter{newClient: func(apiKey string) MessagesClient {
		c := sdk.NewClient(option.WithAPIKey(apiKey))
		return &c.Messages
	}}
}

func (a *Adapter) Name() string { return "anthropic" }

func (a *Adapter) Infer(ctx context.Context, req *inference.Request, creds provider.Credentials) (*inference.Response, error) {
	if creds.APIKey == "" {
		return nil, inference.NewProviderCallError("anthropic", "messages.new", 0, inference.ErrorKindAPIKeyMissing, false, "", "", errors.New("api key missing"))
	}
	params, err := buildParams(req)
	if err != nil {
		return nil, inference.NewProviderCallError("anthropic", "messages.new", 0, inference.ErrorKindInvalidRequest, false, "", "", err)
	}
	rawRequest := marshalForRaw(params)
	start := time.Now()
	msg, err := a.newClient(creds.APIKey).New(ctx, *params)
	if err != nil {
		return nil, translateCallError("messages.new", rawRequest, err)
	}
	resp, err := translateResponse(msg, rawRequest, time.Since(start))
	if err != nil {
		return nil, provider.InferenceServer("anthropic", "messages.new", rawRequest, mustJSON(msg), err)
	}
	return resp, nil
}

func (a *Adapter) InferStream(ctx context.Context, req *inference.Request, creds provider.Credentials) (inference.ResponseChunk, inference.ChunkStream, string, error) {
	if creds.APIKey == "" {
		return inference.ResponseChunk{}, nil, "", inference.NewProviderCallError("anthropic", "messages.stream", 0, inference.ErrorKindAPIKeyMissing, false, "", "", errors.New("api key missing"))
	}
	params, err := buildParams(req)
	if err != nil {
		return inference.ResponseChunk{}, nil, "", inference.NewProviderCallError("anthropic", "messages.stream", 0, inference.ErrorKindInvalidRequest, false, "", "", err)
	}
	rawRequest := marshalForRaw(params)
	sseStream := a.newClient(creds.APIKey).NewStreaming(ctx, *params)
	if err := sseStream.Err(); err != nil {
		return inference.ResponseChunk{}, nil, rawRequest, translateCallError("messages.stream", rawRequest, err)
	}
	stream := &chunkStream{
		stream:     sseStream,
		start:      time.Now(),
		toolBlocks: make(map[int]*toolBuffer),
	}
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

func buildParams(req *inference.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	if req.ModelName == "" {
		return nil, errors.New("anthropic: model name is required")
	}
	toolList, canonToSan, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	msgs, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, err
	}
	if req.System != "" {
		if system != "" {
			system = req.System + "\n" + system
		} else {
			system = req.System
		}
	}
	maxTokens := 4096
	if req.Params.MaxTokens != nil {
		maxTokens = *req.Params.MaxTokens
	}
	params := &sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(req.ModelName),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if len(toolList) > 0 {
		params.Tools = toolList
	}
	if req.Params.Temperature != nil {
		params.Temperature = sdk.Float(float64(*req.Params.Temperature))
	}
	if req.Params.TopP != nil {
		params.TopP = sdk.Float(float64(*req.Params.TopP))
	}
	if len(req.Params.StopSequences) > 0 {
		params.StopSequences = req.Params.StopSequences
	}
	if req.Tools != nil {
		tc, err := encodeToolChoice(req.Tools.Choice, canonToSan)
		if err != nil {
			return nil, err
		}
		if tc != nil {
			params.ToolChoice = *tc
		}
	}
	_ = sanToCanon
	return params, nil
}

func encodeMessages(msgs []inference.Message, canonToSan map[string]string) ([]sdk.MessageParam, string, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system strings.Builder

	for _, m := range msgs {
		if m.Role == inference.RoleSystem {
			if s := inference.TextOnly(m.Content); s != "" {
				if system.Len() > 0 {
					system.WriteString("\n")
				}
				system.WriteString(s)
			}
			continue
		}
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, part := range m.Content {
			switch v := part.(type) {
			case inference.TextBlock:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case inference.ToolCallBlock:
				var input any
				if len(v.Arguments) > 0 {
					if err := json.Unmarshal(v.Arguments, &input); err != nil {
						return nil, "", fmt.Errorf("anthropic: decode tool call arguments: %w", err)
					}
				}
				name, ok := canonToSan[v.Name]
				if !ok {
					name = inference.ToolUnavailable
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, name))
			case inference.ToolResultBlock:
				blocks = append(blocks, encodeToolResult(v))
			case inference.FileBlock:
				// Files are not re-encoded for history replay; only the
				// initial request carries file content.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case inference.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case inference.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, "", fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, "", errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system.String(), nil
}

func encodeToolResult(v inference.ToolResultBlock) sdk.ContentBlockParamUnion {
	var content string
	switch c := v.Result.(type) {
	case nil:
		content = ""
	case string:
		content = c
	case []byte:
		content = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			content = string(data)
		}
	}
	return sdk.NewToolResultBlock(v.ToolCallID, content, v.IsError)
}

func encodeTools(cfg *inference.ToolConfig) ([]sdk.ToolUnionParam, map[string]string, map[string]string, error) {
	if cfg == nil || len(cfg.Tools) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(cfg.Tools))
	canonToSan := make(map[string]string, len(cfg.Tools))
	sanToCanon := make(map[string]string, len(cfg.Tools))
	for _, def := range cfg.Tools {
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized
		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	return toolList, canonToSan, sanToCanon, nil
}

func toolInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var raw json.RawMessage
	switch v := schema.(type) {
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return sdk.ToolInputSchemaParam{}, err
		}
		raw = data
	}
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeToolChoice(choice inference.ToolChoice, canonToSan map[string]string) (*sdk.ToolChoiceUnionParam, error) {
	switch choice.Mode {
	case "", inference.ToolChoiceAuto:
		return nil, nil
	case inference.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return &sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case inference.ToolChoiceRequired:
		return &sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case inference.ToolChoiceSpecific:
		sanitized, ok := canonToSan[choice.Name]
		if !ok {
			return nil, fmt.Errorf("anthropic: tool choice name %q does not match any tool", choice.Name)
		}
		tc := sdk.ToolChoiceParamOfTool(sanitized)
		return &tc, nil
	default:
		return nil, fmt.Errorf("anthropic: unsupported tool choice mode %q", choice.Mode)
	}
}

// sanitizeToolName maps a tool name to the character set and length
// Anthropic's tool_use API accepts: [a-zA-Z0-9_-]+, max 64 characters.
func sanitizeToolName(in string) string {
	if isProviderSafeToolName(in) {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	name := string(out)
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func translateResponse(msg *sdk.Message, rawRequest string, elapsed time.Duration) (*inference.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	var content []inference.ContentBlock
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				content = append(content, inference.TextBlock{Text: block.Text})
			}
		case "tool_use":
			raw, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropic: marshal tool_use input: %w", err)
			}
			content = append(content, inference.ToolCallBlock{ID: block.ID, Name: block.Name, Arguments: raw})
		}
	}
	return &inference.Response{
		Content: content,
		Usage: inference.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		FinishReason: string(msg.StopReason),
		Latency:      inference.Latency{TotalMs: elapsed.Milliseconds()},
		RawRequest:   rawRequest,
		RawResponse:  mustJSON(msg),
	}, nil
}

func translateCallError(op, rawRequest string, err error) error {
	if provider.IsContextDeadline(err) {
		return provider.ClassifyTimeout("anthropic", op, false, 0)
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return provider.ClassifyHTTPStatus("anthropic", op, apiErr.StatusCode, rawRequest, apiErr.RawJSON(), err)
	}
	return inference.NewProviderCallError("anthropic", op, 0, inference.ErrorKindInferenceServer, true, rawRequest, "", err)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func marshalForRaw(params *sdk.MessageNewParams) string {
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(b)
}

// chunkStream adapts the Anthropic SSE event stream to inference.ChunkStream,
// buffering partial tool-call JSON by content-block index the way the
// teacher's stream processor does, since Anthropic streams tool arguments
// as incremental JSON fragments rather than complete values per chunk.
type chunkStream struct {
	stream     *ssestream.Stream[sdk.MessageStreamEventUnion]
	start      time.Time
	toolBlocks map[int]*toolBuffer
	stopReason string
	pending    []inference.ResponseChunk
}

type toolBuffer struct {
	id   string
	name string
}

func (s *chunkStream) Next() (inference.ResponseChunk, bool, error) {
	for len(s.pending) == 0 {
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return inference.ResponseChunk{}, false, translateCallError("messages.stream", "", err)
			}
			return inference.ResponseChunk{}, false, nil
		}
		if err := s.handle(s.stream.Current()); err != nil {
			return inference.ResponseChunk{}, false, err
		}
	}
	chunk := s.pending[0]
	s.pending = s.pending[1:]
	return chunk, true, nil
}

func (s *chunkStream) Close() error { return s.stream.Close() }

func (s *chunkStream) emit(c inference.ResponseChunk) {
	c.ElapsedSinceStart = time.Since(s.start)
	s.pending = append(s.pending, c)
}

func (s *chunkStream) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		s.toolBlocks = make(map[int]*toolBuffer)
		s.stopReason = ""
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			s.toolBlocks[idx] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
		}
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text != "" {
				s.emit(inference.ResponseChunk{BlockIndex: idx, Delta: inference.ContentBlockDelta{TextDelta: delta.Text}})
			}
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			tb := s.toolBlocks[idx]
			if tb == nil {
				return fmt.Errorf("anthropic stream: json delta for unknown block %d", idx)
			}
			cd := inference.ContentBlockDelta{ToolCallID: tb.id, ToolArgumentsDelta: delta.PartialJSON}
			if tb.name != "" {
				cd.ToolCallName = tb.name
				tb.name = ""
			}
			s.emit(inference.ResponseChunk{BlockIndex: idx, Delta: cd})
		}
	case sdk.ContentBlockStopEvent:
		delete(s.toolBlocks, int(ev.Index))
	case sdk.MessageDeltaEvent:
		s.stopReason = string(ev.Delta.StopReason)
		s.emit(inference.ResponseChunk{
			FinishReason: s.stopReason,
			Usage: &inference.TokenUsage{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
			},
		})
	case sdk.MessageStopEvent:
		s.emit(inference.ResponseChunk{FinishReason: s.stopReason})
	}
	return nil
}

type doneStream struct{}

func (doneStream) Next() (inference.ResponseChunk, bool, error) {
	return inference.ResponseChunk{}, false, nil
}
func (doneStream) Close() error { return nil }
