package httpapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelmesh/gateway/inference"
)

func TestParseModelField(t *testing.T) {
	cases := []struct {
		name  string
		model string
		want  resolvedModel
		err   bool
	}{
		{"bare name is a function", "generate_haiku", resolvedModel{functionName: "generate_haiku"}, false},
		{"function_name prefix", "tensorzero::function_name::generate_haiku", resolvedModel{functionName: "generate_haiku"}, false},
		{"model_name prefix", "tensorzero::model_name::gpt4o_mini", resolvedModel{modelName: "gpt4o_mini"}, false},
		{"legacy bare tensorzero prefix resolves as function", "tensorzero::generate_haiku", resolvedModel{functionName: "generate_haiku"}, false},
		{"empty name after prefix is an error", "tensorzero::", resolvedModel{}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := parseModelField(c.model)
			if c.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, c.want, got)
		})
	}
}

func TestResponseFormatToJSONMode(t *testing.T) {
	require.Equal(t, inference.JSONModeOff, responseFormatToJSONMode(nil))
	require.Equal(t, inference.JSONModeOn, responseFormatToJSONMode(&openAIResponseFormat{Type: "json_object"}))
	require.Equal(t, inference.JSONModeStrict, responseFormatToJSONMode(&openAIResponseFormat{Type: "json_schema"}))
	require.Equal(t, inference.JSONModeOff, responseFormatToJSONMode(&openAIResponseFormat{Type: "text"}))
}

func TestContentAsText_PlainString(t *testing.T) {
	raw, _ := json.Marshal("hello")
	got, err := contentAsText(raw)
	require.NoError(t, err)
	require.Equal(t, "hello", got)
}

func TestContentAsText_MultiPartConcatenatesTextParts(t *testing.T) {
	raw, _ := json.Marshal([]openAIContentPart{
		{Type: "text", Text: "a"},
		{Type: "image_url", ImageURL: &struct {
			URL string `json:"url"`
		}{URL: "https://example.com/x.png"}},
		{Type: "text", Text: "b"},
	})
	got, err := contentAsText(raw)
	require.NoError(t, err)
	require.Equal(t, "ab", got)
}

func TestOpenAIMessagesToInternal_PullsOutSystemMessage(t *testing.T) {
	sysContent, _ := json.Marshal("be terse")
	userContent, _ := json.Marshal("hi")
	msgs := []openAIChatMessage{
		{Role: "system", Content: sysContent},
		{Role: "user", Content: userContent},
	}
	internal, system, err := openAIMessagesToInternal(msgs)
	require.NoError(t, err)
	require.Equal(t, "be terse", system)
	require.Len(t, internal, 1)
	require.Equal(t, inference.RoleUser, internal[0].Role)
}

func TestOpenAIMessagesToInternal_ToolRoleMapsToUser(t *testing.T) {
	toolContent, _ := json.Marshal("42")
	msgs := []openAIChatMessage{
		{Role: "tool", ToolCallID: "call_1", Content: toolContent},
	}
	internal, _, err := openAIMessagesToInternal(msgs)
	require.NoError(t, err)
	require.Len(t, internal, 1)
	require.Equal(t, inference.RoleUser, internal[0].Role)
	require.Len(t, internal[0].Content, 1)
	tr, ok := internal[0].Content[0].(inference.ToolResultBlock)
	require.True(t, ok)
	require.Equal(t, "call_1", tr.ToolCallID)
}

func TestOpenAIPartToInternal_DataURLSniffsMIMEType(t *testing.T) {
	// 1x1 PNG magic bytes, base64-encoded: not a full valid PNG, but
	// http.DetectContentType only inspects the header.
	part := openAIContentPart{Type: "image_url", ImageURL: &struct {
		URL string `json:"url"`
	}{URL: "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAAB"}}
	block, err := openAIPartToInternal(part)
	require.NoError(t, err)
	fb, ok := block.(inference.FileBlock)
	require.True(t, ok)
	require.Equal(t, "image/png", fb.MIMEType)
}

func TestOpenAIPartToInternal_BareURLRefKeptAsURI(t *testing.T) {
	part := openAIContentPart{Type: "image_url", ImageURL: &struct {
		URL string `json:"url"`
	}{URL: "https://example.com/cat.png"}}
	block, err := openAIPartToInternal(part)
	require.NoError(t, err)
	fb, ok := block.(inference.FileBlock)
	require.True(t, ok)
	require.Equal(t, "https://example.com/cat.png", fb.URI)
}

func TestOpenAIPartToInternal_UnknownTypeBecomesUnknownBlock(t *testing.T) {
	part := openAIContentPart{Type: "something_new"}
	block, err := openAIPartToInternal(part)
	require.NoError(t, err)
	_, ok := block.(inference.UnknownBlock)
	require.True(t, ok)
}
