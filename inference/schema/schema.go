// Package schema validates request/response payloads against a function's
// configured JSON Schema documents (§3's system_schema/user_schema/
// assistant_schema/output_schema fields), using
// github.com/santhosh-tekuri/jsonschema/v6.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validate compiles schemaDoc and validates value against it. A nil or
// empty schemaDoc is treated as "no schema configured" and always passes.
func Validate(schemaDoc json.RawMessage, value any) error {
	if len(schemaDoc) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(schemaDoc, &doc); err != nil {
		return fmt.Errorf("schema: invalid schema document: %w", err)
	}
	c := jsonschema.NewCompiler()
	const resourceURL = "mem://inline-schema.json"
	if err := c.AddResource(resourceURL, doc); err != nil {
		return fmt.Errorf("schema: add resource: %w", err)
	}
	sch, err := c.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("schema: compile: %w", err)
	}
	if err := sch.Validate(value); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

// ValidateJSONText unmarshals raw as JSON and validates it against
// schemaDoc, used for a json function's {raw} output string before it is
// exposed as {raw, parsed}.
func ValidateJSONText(schemaDoc json.RawMessage, raw string) error {
	if len(schemaDoc) == 0 {
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return fmt.Errorf("schema: output is not valid JSON: %w", err)
	}
	return Validate(schemaDoc, value)
}
