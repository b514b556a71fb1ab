package httpapi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelmesh/gateway/inference"
)

func TestToInternalMessages_RoundTripsTextAndToolBlocks(t *testing.T) {
	msgs := []wireMessage{
		{Role: "user", Content: []wireContentBlock{{Type: "text", Text: "hi"}}},
		{Role: "assistant", Content: []wireContentBlock{{Type: "tool_call", ID: "call_1", Name: "lookup", Arguments: []byte(`{"q":"x"}`)}}},
		{Role: "user", Content: []wireContentBlock{{Type: "tool_result", ToolCallID: "call_1", Result: "42"}}},
	}
	internal, err := toInternalMessages(msgs)
	require.NoError(t, err)
	require.Len(t, internal, 3)

	back := fromInternalContent(internal[0].Content)
	require.Equal(t, "text", back[0].Type)
	require.Equal(t, "hi", back[0].Text)

	back = fromInternalContent(internal[1].Content)
	require.Equal(t, "tool_call", back[0].Type)
	require.Equal(t, "call_1", back[0].ID)
	require.Equal(t, "lookup", back[0].Name)
	require.JSONEq(t, `{"q":"x"}`, string(back[0].Arguments))

	back = fromInternalContent(internal[2].Content)
	require.Equal(t, "tool_result", back[0].Type)
	require.Equal(t, "call_1", back[0].ToolCallID)
	require.Equal(t, "42", back[0].Result)
}

func TestToInternalMessages_RejectsDanglingToolResult(t *testing.T) {
	msgs := []wireMessage{
		{Role: "user", Content: []wireContentBlock{{Type: "tool_result", ToolCallID: "never_produced", Result: "x"}}},
	}
	_, err := toInternalMessages(msgs)
	require.Error(t, err)
}

func TestToInternalBlock_UnknownTypePreserved(t *testing.T) {
	block, err := toInternalBlock(wireContentBlock{Type: "future_kind"})
	require.NoError(t, err)
	ub, ok := block.(inference.UnknownBlock)
	require.True(t, ok)
	require.Equal(t, "future_kind", ub.RawKind)
}

func TestFromInternalContent_DropsUnknownBlocks(t *testing.T) {
	blocks := []inference.ContentBlock{
		inference.TextBlock{Text: "keep"},
		inference.UnknownBlock{RawKind: "mystery"},
	}
	out := fromInternalContent(blocks)
	require.Len(t, out, 1)
	require.Equal(t, "keep", out[0].Text)
}

func TestWireToolChoice_UnmarshalsBareStringForms(t *testing.T) {
	var c wireToolChoice
	require.NoError(t, c.UnmarshalJSON([]byte(`"auto"`)))
	require.Equal(t, inference.ToolChoiceAuto, c.Mode)

	require.NoError(t, c.UnmarshalJSON([]byte(`"none"`)))
	require.Equal(t, inference.ToolChoiceNone, c.Mode)

	require.NoError(t, c.UnmarshalJSON([]byte(`"required"`)))
	require.Equal(t, inference.ToolChoiceRequired, c.Mode)
}

func TestWireToolChoice_UnmarshalsSpecificObjectForm(t *testing.T) {
	var c wireToolChoice
	require.NoError(t, c.UnmarshalJSON([]byte(`{"specific":"lookup"}`)))
	require.Equal(t, inference.ToolChoiceSpecific, c.Mode)
	require.Equal(t, "lookup", c.Name)
}

func TestWireToolChoice_RejectsUnknownString(t *testing.T) {
	var c wireToolChoice
	err := c.UnmarshalJSON([]byte(`"bogus"`))
	require.Error(t, err)
}

func TestWireChatParams_JSONMode(t *testing.T) {
	require.Equal(t, inference.JSONModeOff, wireChatParams{}.jsonMode())
	require.Equal(t, inference.JSONModeOn, wireChatParams{JSONMode: "on"}.jsonMode())
	require.Equal(t, inference.JSONModeStrict, wireChatParams{JSONMode: "strict"}.jsonMode())
	require.Equal(t, inference.JSONModeTool, wireChatParams{JSONMode: "tool"}.jsonMode())
}

func TestBuildJSONOutput_ParsesValidJSON(t *testing.T) {
	out := buildJSONOutput([]inference.ContentBlock{inference.TextBlock{Text: `{"a":1}`}})
	require.Equal(t, `{"a":1}`, out.Raw)
	require.NotNil(t, out.Parsed)
}

func TestBuildJSONOutput_LeavesParsedNilOnInvalidJSON(t *testing.T) {
	out := buildJSONOutput([]inference.ContentBlock{inference.TextBlock{Text: "not json"}})
	require.Equal(t, "not json", out.Raw)
	require.Nil(t, out.Parsed)
}
