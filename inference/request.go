package inference

import "encoding/json"

// JSONMode is the output-shaping policy for a Request.
type JSONMode string

const (
	// JSONModeOff leaves output as free-form content blocks.
	JSONModeOff JSONMode = "off"

	// JSONModeOn requests the provider's native JSON-object response
	// format. Only the openai-compatible adapters act on it; the other
	// adapters ignore it and add no system-prompt suffix.
	JSONModeOn JSONMode = "on"

	// JSONModeStrict requires OutputSchema and uses schema-constrained
	// decoding when the provider adapter supports it.
	JSONModeStrict JSONMode = "strict"

	// JSONModeTool synthesizes a "respond" tool from OutputSchema and pins
	// tool_choice to it (openai-compatible adapters only). The model's
	// answer comes back as a tool-call block; its arguments are not
	// unwrapped into a text block. Only valid for chat functions with no
	// other tools configured.
	JSONModeTool JSONMode = "tool"
)

// FunctionType distinguishes chat functions (free-form content-block
// output) from json functions (schema-validated output).
type FunctionType string

const (
	FunctionTypeChat FunctionType = "chat"
	FunctionTypeJSON FunctionType = "json"
)

// GenerationParams carries the sampling parameters a variant back-fills
// from its defaults when the caller leaves them unset.
type GenerationParams struct {
	Temperature      *float32
	MaxTokens        *int
	Seed             *int64
	TopP             *float32
	PresencePenalty  *float32
	FrequencyPenalty *float32
	StopSequences    []string
}

// WithDefaults returns a copy of p with every unset field filled in from
// defaults. Caller-supplied values always take precedence.
func (p GenerationParams) WithDefaults(defaults GenerationParams) GenerationParams {
	out := p
	if out.Temperature == nil {
		out.Temperature = defaults.Temperature
	}
	if out.MaxTokens == nil {
		out.MaxTokens = defaults.MaxTokens
	}
	if out.Seed == nil {
		out.Seed = defaults.Seed
	}
	if out.TopP == nil {
		out.TopP = defaults.TopP
	}
	if out.PresencePenalty == nil {
		out.PresencePenalty = defaults.PresencePenalty
	}
	if out.FrequencyPenalty == nil {
		out.FrequencyPenalty = defaults.FrequencyPenalty
	}
	if len(out.StopSequences) == 0 {
		out.StopSequences = defaults.StopSequences
	}
	return out
}

// Request is the internal, provider-agnostic model invocation built by a
// variant and handed to the model router (§4.3) and on to a provider
// adapter (§4.4).
type Request struct {
	// System is the rendered system prompt text, if any.
	System string

	// Messages is the ordered conversational transcript, excluding the
	// system turn.
	Messages []Message

	// Tools is the request's tool configuration after allowed_tools
	// filtering, nil when no tools are configured.
	Tools *ToolConfig

	// Params carries generation parameters, already back-filled from the
	// variant's defaults.
	Params GenerationParams

	// JSONMode is the output-shaping policy.
	JSONMode JSONMode

	// OutputSchema is the JSON Schema output must validate against when
	// JSONMode is Strict or Tool.
	OutputSchema json.RawMessage

	// Stream requests a streaming response when true and supported by the
	// provider.
	Stream bool

	// FunctionType tags the owning function's type so the provider
	// adapter and stream aggregator know how to shape the final output.
	FunctionType FunctionType

	// ModelName is the provider-specific model identifier to invoke,
	// resolved by the model router before the adapter sees the request.
	ModelName string
}
