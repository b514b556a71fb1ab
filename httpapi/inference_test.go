package httpapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/config"
	"github.com/modelmesh/gateway/inference/dispatch"
)

func serverWithFunction(fn *config.Function) *Server {
	return &Server{
		Config: &config.Gateway{Functions: map[string]*config.Function{fn.Name: fn}},
		Dispatcher: &dispatch.Dispatcher{
			Config: &config.Gateway{Functions: map[string]*config.Function{fn.Name: fn}},
		},
	}
}

func TestToDispatchRequest_RejectsSystemViolatingSchema(t *testing.T) {
	fn := &config.Function{
		Name: "greet",
		Type: inference.FunctionTypeChat,
		SystemSchema: json.RawMessage(`{
			"type": "object",
			"required": ["persona"],
			"properties": {"persona": {"type": "string"}}
		}`),
	}
	s := serverWithFunction(fn)

	body := inferenceRequestBody{FunctionName: "greet"}
	body.Input.System = map[string]any{"wrong_key": "x"}
	body.Input.Messages = []wireMessage{{Role: "user", Content: []wireContentBlock{{Type: "text", Text: "hi"}}}}

	_, _, err := s.toDispatchRequest(body)
	require.Error(t, err)
}

func TestToDispatchRequest_AcceptsSystemConformingToSchema(t *testing.T) {
	fn := &config.Function{
		Name: "greet",
		Type: inference.FunctionTypeChat,
		SystemSchema: json.RawMessage(`{
			"type": "object",
			"required": ["persona"],
			"properties": {"persona": {"type": "string"}}
		}`),
	}
	s := serverWithFunction(fn)

	body := inferenceRequestBody{FunctionName: "greet"}
	body.Input.System = map[string]any{"persona": "pirate"}
	body.Input.Messages = []wireMessage{{Role: "user", Content: []wireContentBlock{{Type: "text", Text: "hi"}}}}

	_, _, err := s.toDispatchRequest(body)
	require.NoError(t, err)
}

func TestToDispatchRequest_RejectsAdditionalToolsUnderJSONModeTool(t *testing.T) {
	fn := &config.Function{Name: "greet", Type: inference.FunctionTypeChat}
	s := serverWithFunction(fn)

	body := inferenceRequestBody{FunctionName: "greet"}
	body.Input.Messages = []wireMessage{{Role: "user", Content: []wireContentBlock{{Type: "text", Text: "hi"}}}}
	body.Params.ChatCompletion.JSONMode = "tool"
	body.AdditionalTools = []wireToolDefinition{{Name: "lookup"}}

	_, _, err := s.toDispatchRequest(body)
	require.Error(t, err)
}

func TestToDispatchRequest_AllowsJSONModeToolWithoutAdditionalTools(t *testing.T) {
	fn := &config.Function{Name: "greet", Type: inference.FunctionTypeChat}
	s := serverWithFunction(fn)

	body := inferenceRequestBody{FunctionName: "greet"}
	body.Input.Messages = []wireMessage{{Role: "user", Content: []wireContentBlock{{Type: "text", Text: "hi"}}}}
	body.Params.ChatCompletion.JSONMode = "tool"

	_, _, err := s.toDispatchRequest(body)
	require.NoError(t, err)
}

func TestValidateJSONOutput_RejectsOutputViolatingOutputSchema(t *testing.T) {
	fn := &config.Function{
		Name: "extract",
		Type: inference.FunctionTypeJSON,
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["score"],
			"properties": {"score": {"type": "number"}}
		}`),
	}
	s := serverWithFunction(fn)

	output := buildJSONOutput([]inference.ContentBlock{inference.TextBlock{Text: `{"score": "not a number"}`}})
	err := s.validateJSONOutput(inferenceRequestBody{FunctionName: "extract"}, output)
	require.Error(t, err)
}

func TestValidateJSONOutput_AcceptsOutputConformingToOutputSchema(t *testing.T) {
	fn := &config.Function{
		Name: "extract",
		Type: inference.FunctionTypeJSON,
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["score"],
			"properties": {"score": {"type": "number"}}
		}`),
	}
	s := serverWithFunction(fn)

	output := buildJSONOutput([]inference.ContentBlock{inference.TextBlock{Text: `{"score": 0.9}`}})
	err := s.validateJSONOutput(inferenceRequestBody{FunctionName: "extract"}, output)
	require.NoError(t, err)
}

func TestValidateJSONOutput_RejectsNonJSONRawWhenSchemaConfigured(t *testing.T) {
	fn := &config.Function{
		Name: "extract",
		Type: inference.FunctionTypeJSON,
		OutputSchema: json.RawMessage(`{"type": "object"}`),
	}
	s := serverWithFunction(fn)

	output := buildJSONOutput([]inference.ContentBlock{inference.TextBlock{Text: "not json"}})
	err := s.validateJSONOutput(inferenceRequestBody{FunctionName: "extract"}, output)
	require.Error(t, err)
}

func TestValidateJSONOutput_NoSchemaConfiguredAlwaysPasses(t *testing.T) {
	fn := &config.Function{Name: "extract", Type: inference.FunctionTypeJSON}
	s := serverWithFunction(fn)

	output := buildJSONOutput([]inference.ContentBlock{inference.TextBlock{Text: "not json either"}})
	err := s.validateJSONOutput(inferenceRequestBody{FunctionName: "extract"}, output)
	require.NoError(t, err)
}
