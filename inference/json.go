package inference

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MarshalJSON encodes ContentBlock with a Kind discriminator so concrete
// types can be recovered on decode. The Kind field name and casing follow
// the teacher's message-part JSON convention.
func (b TextBlock) MarshalJSON() ([]byte, error) {
	type alias TextBlock
	return json.Marshal(struct {
		Kind string `json:"Kind"` //nolint:tagliatelle
		alias
	}{Kind: "text", alias: alias(b)})
}

func (b ToolCallBlock) MarshalJSON() ([]byte, error) {
	type alias ToolCallBlock
	return json.Marshal(struct {
		Kind string `json:"Kind"` //nolint:tagliatelle
		alias
	}{Kind: "tool_call", alias: alias(b)})
}

func (b ToolResultBlock) MarshalJSON() ([]byte, error) {
	type alias ToolResultBlock
	return json.Marshal(struct {
		Kind string `json:"Kind"` //nolint:tagliatelle
		alias
	}{Kind: "tool_result", alias: alias(b)})
}

func (b FileBlock) MarshalJSON() ([]byte, error) {
	type alias FileBlock
	return json.Marshal(struct {
		Kind string `json:"Kind"` //nolint:tagliatelle
		alias
	}{Kind: "file", alias: alias(b)})
}

func (b UnknownBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind string          `json:"Kind"` //nolint:tagliatelle
		Raw  json.RawMessage `json:"Raw"`
	}{Kind: "unknown", Raw: b.Raw})
}

// MarshalJSON encodes Message preserving the concrete ContentBlock types
// stored in Content via the Kind discriminator above.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		Role    ConversationRole `json:"Role"`    //nolint:tagliatelle
		Content []ContentBlock   `json:"Content"` //nolint:tagliatelle
	}
	return json.Marshal(alias{Role: m.Role, Content: m.Content})
}

// UnmarshalJSON decodes Message, materializing concrete ContentBlock
// implementations. Content blocks whose Kind is not recognized decode into
// UnknownBlock rather than failing the whole message, per the data model's
// tolerance for forward-compatible wire payloads.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    ConversationRole  `json:"Role"` //nolint:tagliatelle
		Content []json.RawMessage `json:"Content"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	m.Role = tmp.Role
	if len(tmp.Content) == 0 {
		m.Content = nil
		return nil
	}
	m.Content = make([]ContentBlock, 0, len(tmp.Content))
	for i, raw := range tmp.Content {
		block, err := decodeContentBlock(raw)
		if err != nil {
			return fmt.Errorf("decode content[%d]: %w", i, err)
		}
		m.Content = append(m.Content, block)
	}
	return nil
}

func decodeContentBlock(raw json.RawMessage) (ContentBlock, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode content block object: %w", err)
	}
	kindRaw, ok := obj["Kind"]
	if !ok {
		return nil, errors.New("content block missing Kind discriminator")
	}
	var kind string
	if err := json.Unmarshal(kindRaw, &kind); err != nil {
		return nil, fmt.Errorf("decode Kind: %w", err)
	}
	switch kind {
	case "text":
		var b TextBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode TextBlock: %w", err)
		}
		return b, nil
	case "tool_call":
		var b ToolCallBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode ToolCallBlock: %w", err)
		}
		if b.Name == "" {
			return nil, errors.New("ToolCallBlock requires Name")
		}
		return b, nil
	case "tool_result":
		var b ToolResultBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode ToolResultBlock: %w", err)
		}
		if b.ToolCallID == "" {
			return nil, errors.New("ToolResultBlock requires ToolCallID")
		}
		return b, nil
	case "file":
		var b FileBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode FileBlock: %w", err)
		}
		return b, nil
	default:
		return UnknownBlock{RawKind: kind, Raw: raw}, nil
	}
}
