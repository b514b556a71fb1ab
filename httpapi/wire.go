package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/modelmesh/gateway/inference"
)

// wireContentBlock is the external, OpenAI-adjacent content-block shape
// used on /inference's wire (a "type" discriminator with type-specific
// fields), distinct from inference.Message's internal "Kind"-discriminated
// JSON used for raw persistence. Keeping the two separate means a change
// to the external contract never risks corrupting persisted raw bodies.
type wireContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	ToolCallID string `json:"tool_call_id,omitempty"`
	Result     any    `json:"result,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`

	FileName string `json:"file_name,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"` // base64
	URI      string `json:"uri,omitempty"`
}

type wireMessage struct {
	Role    string              `json:"role"`
	Content []wireContentBlock `json:"content"`
}

// toInternalMessages converts the wire message list to inference.Message,
// materializing concrete ContentBlock implementations.
func toInternalMessages(msgs []wireMessage) ([]inference.Message, error) {
	out := make([]inference.Message, 0, len(msgs))
	for i, m := range msgs {
		content := make([]inference.ContentBlock, 0, len(m.Content))
		for j, b := range m.Content {
			block, err := toInternalBlock(b)
			if err != nil {
				return nil, fmt.Errorf("message[%d].content[%d]: %w", i, j, err)
			}
			content = append(content, block)
		}
		out = append(out, inference.Message{Role: inference.ConversationRole(m.Role), Content: content})
	}
	if !inference.ToolCallIDsDefined(out) {
		return nil, fmt.Errorf("tool_result block references a tool_call_id not produced earlier in the message list")
	}
	return out, nil
}

func toInternalBlock(b wireContentBlock) (inference.ContentBlock, error) {
	switch b.Type {
	case "text":
		return inference.TextBlock{Text: b.Text}, nil
	case "tool_call":
		if b.Name == "" {
			return nil, fmt.Errorf("tool_call block requires name")
		}
		return inference.ToolCallBlock{ID: b.ID, Name: b.Name, Arguments: b.Arguments}, nil
	case "tool_result":
		if b.ToolCallID == "" {
			return nil, fmt.Errorf("tool_result block requires tool_call_id")
		}
		return inference.ToolResultBlock{ToolCallID: b.ToolCallID, Result: b.Result, IsError: b.IsError}, nil
	case "file":
		raw, err := decodeFileData(b.Data)
		if err != nil {
			return nil, fmt.Errorf("file block: %w", err)
		}
		return inference.FileBlock{Name: b.FileName, MIMEType: b.MIMEType, Bytes: raw, URI: b.URI}, nil
	default:
		raw, _ := json.Marshal(b)
		return inference.UnknownBlock{RawKind: b.Type, Raw: raw}, nil
	}
}

func decodeFileData(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(data)
}

// fromInternalContent renders internal content blocks back onto the
// wire shape, dropping UnknownBlock per the data model invariant that
// unknown blocks are never exposed outside the serialization boundary.
func fromInternalContent(blocks []inference.ContentBlock) []wireContentBlock {
	visible := inference.FilterUnknown(blocks)
	out := make([]wireContentBlock, 0, len(visible))
	for _, b := range visible {
		switch v := b.(type) {
		case inference.TextBlock:
			out = append(out, wireContentBlock{Type: "text", Text: v.Text})
		case inference.ToolCallBlock:
			out = append(out, wireContentBlock{Type: "tool_call", ID: v.ID, Name: v.Name, Arguments: v.Arguments})
		case inference.ToolResultBlock:
			out = append(out, wireContentBlock{Type: "tool_result", ToolCallID: v.ToolCallID, Result: v.Result, IsError: v.IsError})
		case inference.FileBlock:
			wb := wireContentBlock{Type: "file", FileName: v.Name, MIMEType: v.MIMEType, URI: v.URI}
			if len(v.Bytes) > 0 {
				wb.Data = base64.StdEncoding.EncodeToString(v.Bytes)
			}
			out = append(out, wb)
		}
	}
	return out
}

// wireToolChoice decodes §6's `tool_choice ∈ {"none","auto","required",
// {"specific": <name>}}` union: either a bare string or a one-key object.
type wireToolChoice struct {
	inference.ToolChoice
}

func (c *wireToolChoice) UnmarshalJSON(data []byte) error {
	var mode string
	if err := json.Unmarshal(data, &mode); err == nil {
		switch mode {
		case "none":
			c.ToolChoice = inference.ToolChoice{Mode: inference.ToolChoiceNone}
		case "auto":
			c.ToolChoice = inference.ToolChoice{Mode: inference.ToolChoiceAuto}
		case "required":
			c.ToolChoice = inference.ToolChoice{Mode: inference.ToolChoiceRequired}
		default:
			return fmt.Errorf("unknown tool_choice %q", mode)
		}
		return nil
	}
	var obj struct {
		Specific string `json:"specific"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("tool_choice: %w", err)
	}
	if obj.Specific == "" {
		return fmt.Errorf("tool_choice object requires a non-empty \"specific\" name")
	}
	c.ToolChoice = inference.ToolChoice{Mode: inference.ToolChoiceSpecific, Name: obj.Specific}
	return nil
}

// wireChatParams mirrors §6's params.chat_completion field group.
type wireChatParams struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
	TopP             *float32 `json:"top_p,omitempty"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty"`
	JSONMode         string   `json:"json_mode,omitempty"`
	StopSequences    []string `json:"stop_sequences,omitempty"`
}

func (p wireChatParams) toGenerationParams() inference.GenerationParams {
	return inference.GenerationParams{
		Temperature:      p.Temperature,
		MaxTokens:        p.MaxTokens,
		Seed:             p.Seed,
		TopP:             p.TopP,
		PresencePenalty:  p.PresencePenalty,
		FrequencyPenalty: p.FrequencyPenalty,
		StopSequences:    p.StopSequences,
	}
}

func (p wireChatParams) jsonMode() inference.JSONMode {
	switch p.JSONMode {
	case "on":
		return inference.JSONModeOn
	case "strict":
		return inference.JSONModeStrict
	case "tool":
		return inference.JSONModeTool
	default:
		return inference.JSONModeOff
	}
}

// wireToolDefinition mirrors a single entry of additional_tools.
type wireToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

func toInternalTools(defs []wireToolDefinition) []inference.ToolDefinition {
	if len(defs) == 0 {
		return nil
	}
	out := make([]inference.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, inference.ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	return out
}

// wireUsage mirrors §6's response usage field.
type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func fromInternalUsage(u inference.TokenUsage) wireUsage {
	return wireUsage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
}

// jsonOutput is the §6 json-function output shape: {raw, parsed}, where
// parsed is present iff raw parses as JSON. buildJSONOutput does no schema
// validation; the check against the function's output_schema runs on the
// built value afterwards.
type jsonOutput struct {
	Raw    string `json:"raw"`
	Parsed any    `json:"parsed,omitempty"`
}

func buildJSONOutput(blocks []inference.ContentBlock) jsonOutput {
	raw := inference.TextOnly(blocks)
	out := jsonOutput{Raw: raw}
	var parsed any
	if json.Unmarshal([]byte(raw), &parsed) == nil {
		out.Parsed = parsed
	}
	return out
}
