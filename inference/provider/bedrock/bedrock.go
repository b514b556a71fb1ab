// Package bedrock implements the provider Adapter contract on top of AWS
// Bedrock's Converse/ConverseStream API via
// github.com/aws/aws-sdk-go-v2/service/bedrockruntime.
package bedrock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/document"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/provider"
)

// RuntimeClient captures the subset of *bedrockruntime.Client used by the
// adapter, satisfied by the real client in production and a fake in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Adapter implements provider.Adapter against AWS Bedrock's Converse API.
// Unlike the other provider families, Bedrock credentials are resolved
// through the AWS SDK's own credential chain rather than a bearer token, so
// the client is built once at construction instead of per call.
type Adapter struct {
	rt RuntimeClient
}

// New constructs an Adapter from an already-configured Bedrock runtime
// client (for example built with config.LoadDefaultConfig plus a region
// override from the provider's base_url / model config).
func New(rt RuntimeClient) *Adapter {
	return &Adapter{rt: rt}
}

func (a *Adapter) Name() string { return "aws-bedrock" }

func (a *Adapter) Infer(ctx context.Context, req *inference.Request, _ provider.Credentials) (*inference.Response, error) {
	input, canonToSan, err := buildConverseInput(req)
	if err != nil {
		return nil, inference.NewProviderCallError("aws-bedrock", "converse", 0, inference.ErrorKindInvalidRequest, false, "", "", err)
	}
	rawRequest := mustJSON(input)
	start := time.Now()
	out, err := a.rt.Converse(ctx, input)
	if err != nil {
		return nil, translateCallError("converse", rawRequest, err)
	}
	resp, err := translateResponse(out, canonToSan, rawRequest, time.Since(start))
	if err != nil {
		return nil, provider.InferenceServer("aws-bedrock", "converse", rawRequest, mustJSON(out), err)
	}
	return resp, nil
}

func (a *Adapter) InferStream(ctx context.Context, req *inference.Request, _ provider.Credentials) (inference.ResponseChunk, inference.ChunkStream, string, error) {
	input, canonToSan, err := buildConverseStreamInput(req)
	if err != nil {
		return inference.ResponseChunk{}, nil, "", inference.NewProviderCallError("aws-bedrock", "converse_stream", 0, inference.ErrorKindInvalidRequest, false, "", "", err)
	}
	rawRequest := mustJSON(input)
	out, err := a.rt.ConverseStream(ctx, input)
	if err != nil {
		return inference.ResponseChunk{}, nil, rawRequest, translateCallError("converse_stream", rawRequest, err)
	}
	stream := &chunkStream{
		events:     out.GetStream().Events(),
		closer:     out.GetStream(),
		start:      time.Now(),
		nameMap:    canonToSan,
		toolBlocks: make(map[int32]*toolBuffer),
	}
	first, more, err := stream.Next()
	if err != nil {
		stream.Close()
		return inference.ResponseChunk{}, nil, rawRequest, err
	}
	if !more {
		stream.Close()
		return inference.ResponseChunk{}, &doneStream{}, rawRequest, nil
	}
	return first, stream, rawRequest, nil
}

func buildConverseInput(req *inference.Request) (*bedrockruntime.ConverseInput, map[string]string, error) {
	msgs, system, toolCfg, canonToSan, err := prepareCommon(req)
	if err != nil {
		return nil, nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:         &req.ModelName,
		Messages:        msgs,
		InferenceConfig: inferenceConfig(req),
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolCfg != nil {
		input.ToolConfig = toolCfg
	}
	return input, canonToSan, nil
}

func buildConverseStreamInput(req *inference.Request) (*bedrockruntime.ConverseStreamInput, map[string]string, error) {
	msgs, system, toolCfg, canonToSan, err := prepareCommon(req)
	if err != nil {
		return nil, nil, err
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         &req.ModelName,
		Messages:        msgs,
		InferenceConfig: inferenceConfig(req),
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolCfg != nil {
		input.ToolConfig = toolCfg
	}
	return input, canonToSan, nil
}

func prepareCommon(req *inference.Request) ([]brtypes.Message, []brtypes.SystemContentBlock, *brtypes.ToolConfiguration, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, nil, nil, errors.New("bedrock: messages are required")
	}
	if req.ModelName == "" {
		return nil, nil, nil, nil, errors.New("bedrock: model id is required")
	}
	toolCfg, canonToSan, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if req.System != "" {
		system = append([]brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}, system...)
	}
	return msgs, system, toolCfg, canonToSan, nil
}

func inferenceConfig(req *inference.Request) *brtypes.InferenceConfiguration {
	cfg := &brtypes.InferenceConfiguration{}
	set := false
	if req.Params.MaxTokens != nil {
		v := int32(*req.Params.MaxTokens)
		cfg.MaxTokens = &v
		set = true
	}
	if req.Params.Temperature != nil {
		cfg.Temperature = req.Params.Temperature
		set = true
	}
	if req.Params.TopP != nil {
		cfg.TopP = req.Params.TopP
		set = true
	}
	if len(req.Params.StopSequences) > 0 {
		cfg.StopSequences = req.Params.StopSequences
		set = true
	}
	if !set {
		return nil
	}
	return cfg
}

func encodeMessages(msgs []inference.Message, canonToSan map[string]string) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock

	for _, m := range msgs {
		if m.Role == inference.RoleSystem {
			if s := inference.TextOnly(m.Content); s != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: s})
			}
			continue
		}
		var blocks []brtypes.ContentBlock
		for _, part := range m.Content {
			switch v := part.(type) {
			case inference.TextBlock:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case inference.ToolCallBlock:
				var input any = map[string]any{}
				if len(v.Arguments) > 0 {
					if err := json.Unmarshal(v.Arguments, &input); err != nil {
						return nil, nil, fmt.Errorf("bedrock: decode tool call arguments: %w", err)
					}
				}
				name, ok := canonToSan[v.Name]
				if !ok {
					name = sanitizeToolName(inference.ToolUnavailable)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{ToolUseId: strPtr(v.ID), Name: strPtr(name), Input: document.NewLazyDocument(input)},
				})
			case inference.ToolResultBlock:
				blocks = append(blocks, encodeToolResult(v))
			case inference.FileBlock:
				// Not replayed into Bedrock history.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case inference.RoleUser:
			role = brtypes.ConversationRoleUser
		case inference.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeToolResult(v inference.ToolResultBlock) brtypes.ContentBlock {
	var text string
	switch c := v.Result.(type) {
	case nil:
		text = ""
	case string:
		text = c
	case []byte:
		text = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			text = string(data)
		}
	}
	status := brtypes.ToolResultStatusSuccess
	if v.IsError {
		status = brtypes.ToolResultStatusError
	}
	return &brtypes.ContentBlockMemberToolResult{
		Value: brtypes.ToolResultBlock{
			ToolUseId: strPtr(v.ToolCallID),
			Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: text}},
			Status:    status,
		},
	}
}

func encodeTools(cfg *inference.ToolConfig) (*brtypes.ToolConfiguration, map[string]string, error) {
	if cfg == nil || len(cfg.Tools) == 0 {
		return nil, nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(cfg.Tools))
	canonToSan := make(map[string]string, len(cfg.Tools))
	sanToCanon := make(map[string]string, len(cfg.Tools))
	for _, def := range cfg.Tools {
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, fmt.Errorf("bedrock: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized
		var schema any = map[string]any{}
		if def.InputSchema != nil {
			raw, err := json.Marshal(def.InputSchema)
			if err != nil {
				return nil, nil, fmt.Errorf("bedrock: tool %q schema: %w", def.Name, err)
			}
			if err := json.Unmarshal(raw, &schema); err != nil {
				return nil, nil, fmt.Errorf("bedrock: tool %q schema: %w", def.Name, err)
			}
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        strPtr(sanitized),
				Description: strPtr(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	toolCfg := &brtypes.ToolConfiguration{Tools: tools}
	if choice := encodeToolChoice(cfg.Choice, canonToSan); choice != nil {
		toolCfg.ToolChoice = choice
	}
	return toolCfg, canonToSan, nil
}

func encodeToolChoice(choice inference.ToolChoice, canonToSan map[string]string) brtypes.ToolChoice {
	switch choice.Mode {
	case inference.ToolChoiceRequired:
		return &brtypes.ToolChoiceMemberAny{}
	case inference.ToolChoiceSpecific:
		if sanitized, ok := canonToSan[choice.Name]; ok {
			return &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: strPtr(sanitized)}}
		}
		return nil
	default:
		return &brtypes.ToolChoiceMemberAuto{}
	}
}

// sanitizeToolName maps a tool name to Bedrock's [a-zA-Z0-9_-]+, max
// 64-byte constraint, appending a stable hash suffix on truncation to
// preserve uniqueness.
func sanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	const maxLen = 64
	const hashLen = 8
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if r == '.' {
			r = '_'
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	sanitized := string(out)
	if len(sanitized) <= maxLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	prefixLen := maxLen - (1 + hashLen)
	if prefixLen < 1 {
		prefixLen = 1
	}
	return sanitized[:prefixLen] + "_" + suffix
}

// isNovaModel reports whether modelID names an Amazon Nova model, which
// does not support tool-level cache checkpoints the way Anthropic/Claude
// models on Bedrock do.
func isNovaModel(modelID string) bool {
	return strings.HasPrefix(modelID, "amazon.nova-")
}

func translateResponse(out *bedrockruntime.ConverseOutput, sanToCanon map[string]string, rawRequest string, elapsed time.Duration) (*inference.Response, error) {
	canonOf := reverse(sanToCanon)
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock: response missing message output")
	}
	var content []inference.ContentBlock
	for _, block := range msgOut.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			if v.Value != "" {
				content = append(content, inference.TextBlock{Text: v.Value})
			}
		case *brtypes.ContentBlockMemberToolUse:
			raw, err := marshalDocument(v.Value.Input)
			if err != nil {
				return nil, fmt.Errorf("bedrock: marshal tool_use input: %w", err)
			}
			name := strVal(v.Value.Name)
			if canonical, ok := canonOf[name]; ok {
				name = canonical
			}
			content = append(content, inference.ToolCallBlock{ID: strVal(v.Value.ToolUseId), Name: name, Arguments: raw})
		}
	}
	usage := inference.TokenUsage{}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			usage.InputTokens = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			usage.OutputTokens = int(*out.Usage.OutputTokens)
		}
	}
	return &inference.Response{
		Content:      content,
		Usage:        usage,
		FinishReason: string(out.StopReason),
		Latency:      inference.Latency{TotalMs: elapsed.Milliseconds()},
		RawRequest:   rawRequest,
		RawResponse:  mustJSON(out),
	}, nil
}

func reverse(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

func marshalDocument(d document.Interface) (json.RawMessage, error) {
	if d == nil {
		return json.RawMessage("{}"), nil
	}
	var v any
	if err := d.UnmarshalSmithyDocument(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			return true
		}
	}
	return false
}

func translateCallError(op, rawRequest string, err error) error {
	if provider.IsContextDeadline(err) {
		return provider.ClassifyTimeout("aws-bedrock", op, false, 0)
	}
	if isRateLimited(err) {
		return inference.NewProviderCallError("aws-bedrock", op, 429, inference.ErrorKindInferenceClient, true, rawRequest, "", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorFault() {
		case smithy.FaultClient:
			return inference.NewProviderCallError("aws-bedrock", op, 400, inference.ErrorKindInferenceClient, true, rawRequest, "", err)
		default:
			return inference.NewProviderCallError("aws-bedrock", op, 500, inference.ErrorKindInferenceServer, true, rawRequest, "", err)
		}
	}
	return inference.NewProviderCallError("aws-bedrock", op, 0, inference.ErrorKindInferenceServer, true, rawRequest, "", err)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func strPtr(s string) *string { return &s }

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// chunkStream adapts a Bedrock ConverseStream event channel to
// inference.ChunkStream.
type chunkStream struct {
	events     <-chan brtypes.ConverseStreamOutput
	closer     interface{ Close() error }
	start      time.Time
	nameMap    map[string]string
	toolBlocks map[int32]*toolBuffer
	stopReason string
	pending    []inference.ResponseChunk
}

type toolBuffer struct {
	id   string
	name string
}

func (s *chunkStream) Next() (inference.ResponseChunk, bool, error) {
	for len(s.pending) == 0 {
		event, ok := <-s.events
		if !ok {
			return inference.ResponseChunk{}, false, nil
		}
		if err := s.handle(event); err != nil {
			return inference.ResponseChunk{}, false, err
		}
	}
	chunk := s.pending[0]
	s.pending = s.pending[1:]
	return chunk, true, nil
}

func (s *chunkStream) Close() error { return s.closer.Close() }

func (s *chunkStream) emit(c inference.ResponseChunk) {
	c.ElapsedSinceStart = time.Since(s.start)
	s.pending = append(s.pending, c)
}

func (s *chunkStream) canonicalName(name string) string {
	if canon, ok := reverse(s.nameMap)[name]; ok {
		return canon
	}
	return name
}

func (s *chunkStream) handle(event brtypes.ConverseStreamOutput) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx := int(derefInt32(ev.Value.ContentBlockIndex))
		if start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			s.toolBlocks[int32(idx)] = &toolBuffer{id: strVal(start.Value.ToolUseId), name: s.canonicalName(strVal(start.Value.Name))}
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := int32(derefInt32(ev.Value.ContentBlockIndex))
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value != "" {
				s.emit(inference.ResponseChunk{BlockIndex: int(idx), Delta: inference.ContentBlockDelta{TextDelta: delta.Value}})
			}
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if delta.Value.Input == nil || *delta.Value.Input == "" {
				return nil
			}
			tb := s.toolBlocks[idx]
			if tb == nil {
				return fmt.Errorf("bedrock stream: tool delta for unknown block %d", idx)
			}
			cd := inference.ContentBlockDelta{ToolCallID: tb.id, ToolArgumentsDelta: *delta.Value.Input}
			if tb.name != "" {
				cd.ToolCallName = tb.name
				tb.name = ""
			}
			s.emit(inference.ResponseChunk{BlockIndex: int(idx), Delta: cd})
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		delete(s.toolBlocks, derefInt32(ev.Value.ContentBlockIndex))
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		s.stopReason = string(ev.Value.StopReason)
		s.emit(inference.ResponseChunk{FinishReason: s.stopReason})
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage != nil {
			usage := inference.TokenUsage{}
			if ev.Value.Usage.InputTokens != nil {
				usage.InputTokens = int(*ev.Value.Usage.InputTokens)
			}
			if ev.Value.Usage.OutputTokens != nil {
				usage.OutputTokens = int(*ev.Value.Usage.OutputTokens)
			}
			s.emit(inference.ResponseChunk{Usage: &usage})
		}
	}
	return nil
}

func derefInt32(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}

type doneStream struct{}

func (doneStream) Next() (inference.ResponseChunk, bool, error) {
	return inference.ResponseChunk{}, false, nil
}
func (doneStream) Close() error { return nil }
