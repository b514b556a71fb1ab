// Package inference defines the provider-agnostic request/response types
// shared by every component of the gateway: content blocks, messages,
// generation parameters, and the typed errors that cross component
// boundaries (dispatcher, model, provider adapter).
package inference

import "encoding/json"

// ConversationRole identifies the speaker of a Message.
type ConversationRole string

const (
	// RoleSystem is reserved for the function's system prompt slot and is
	// never present in Request.Messages.
	RoleSystem ConversationRole = "system"

	// RoleUser is the role for client-authored turns.
	RoleUser ConversationRole = "user"

	// RoleAssistant is the role for model-authored turns.
	RoleAssistant ConversationRole = "assistant"
)

type (
	// ContentBlock is a marker interface implemented by every content block
	// kind a message can carry: text, tool-call, tool-result, and file.
	ContentBlock interface {
		isContentBlock()
	}

	// TextBlock is a plain-text content block.
	TextBlock struct {
		Text string
	}

	// ToolCallBlock is a tool invocation requested by the model.
	ToolCallBlock struct {
		// ID is the provider-issued identifier for this call, used to
		// correlate a later ToolResultBlock.
		ID string

		// Name is the tool identifier as declared in the function's tool
		// config.
		Name string

		// Arguments is the canonical JSON arguments object for the call.
		Arguments json.RawMessage
	}

	// ToolResultBlock carries the caller-supplied result of a prior
	// ToolCallBlock. ToolCallID must reference a block produced earlier in
	// the same message list.
	ToolResultBlock struct {
		ToolCallID string
		Result     any
		IsError    bool
	}

	// FileBlock carries file content (image, document, audio) attached to a
	// user message. Exactly one of Bytes or URI should be set.
	FileBlock struct {
		Name     string
		MIMEType string
		Bytes    []byte
		URI      string
	}

	// UnknownBlock preserves a content block whose kind was not recognized
	// during decoding. Per the persisted-record invariants, blocks of this
	// kind are never exposed to downstream evaluators or demonstration
	// outputs; they are filtered at the serialization boundary (see
	// FilterUnknown).
	UnknownBlock struct {
		RawKind string
		Raw     json.RawMessage
	}

	// Message is a single turn in a conversation: a role plus an ordered
	// list of content blocks.
	Message struct {
		Role    ConversationRole
		Content []ContentBlock
	}
)

func (TextBlock) isContentBlock()        {}
func (ToolCallBlock) isContentBlock()    {}
func (ToolResultBlock) isContentBlock()  {}
func (FileBlock) isContentBlock()        {}
func (UnknownBlock) isContentBlock()     {}

// FilterUnknown returns blocks with every UnknownBlock removed. Callers use
// this at the serialization boundary before handing content to evaluators
// or demonstration stores.
func FilterUnknown(blocks []ContentBlock) []ContentBlock {
	out := make([]ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if _, ok := b.(UnknownBlock); ok {
			continue
		}
		out = append(out, b)
	}
	return out
}

// TextOnly concatenates every TextBlock in blocks, in order, ignoring other
// block kinds. It is the common case for chat functions whose variants
// produce a single text response.
func TextOnly(blocks []ContentBlock) string {
	var out string
	for _, b := range blocks {
		if t, ok := b.(TextBlock); ok {
			out += t.Text
		}
	}
	return out
}

// ToolCallIDsDefined reports whether every ToolResultBlock in msgs
// references a ToolCallBlock.ID produced earlier in the same message list,
// per the data-model invariant that tool-result blocks may only reference
// preceding tool calls.
func ToolCallIDsDefined(msgs []Message) bool {
	seen := make(map[string]bool)
	for _, m := range msgs {
		for _, b := range m.Content {
			switch v := b.(type) {
			case ToolCallBlock:
				seen[v.ID] = true
			case ToolResultBlock:
				if !seen[v.ToolCallID] {
					return false
				}
			}
		}
	}
	return true
}
