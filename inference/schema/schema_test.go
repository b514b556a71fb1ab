package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate_EmptySchemaAlwaysPasses(t *testing.T) {
	require.NoError(t, Validate(nil, map[string]any{"anything": true}))
}

func TestValidate_AcceptsConformingValue(t *testing.T) {
	doc := json.RawMessage(`{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string"}}
	}`)
	require.NoError(t, Validate(doc, map[string]any{"name": "ada"}))
}

func TestValidate_RejectsNonConformingValue(t *testing.T) {
	doc := json.RawMessage(`{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string"}}
	}`)
	err := Validate(doc, map[string]any{"name": 42})
	require.Error(t, err)
}

func TestValidate_RejectsInvalidSchemaDocument(t *testing.T) {
	err := Validate(json.RawMessage(`not json`), map[string]any{})
	require.Error(t, err)
}

func TestValidateJSONText_RejectsNonJSONRaw(t *testing.T) {
	doc := json.RawMessage(`{"type": "object"}`)
	err := ValidateJSONText(doc, "not json at all")
	require.Error(t, err)
}

func TestValidateJSONText_AcceptsConformingJSON(t *testing.T) {
	doc := json.RawMessage(`{
		"type": "object",
		"required": ["ok"],
		"properties": {"ok": {"type": "boolean"}}
	}`)
	require.NoError(t, ValidateJSONText(doc, `{"ok": true}`))
}
