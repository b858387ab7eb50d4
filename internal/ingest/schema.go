package ingest

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Top-level shape checks for the two supported log files. Entry internals
// stay loose on purpose; the tagged-union classifier owns field semantics,
// the schema only rejects files that are not an array of objects with the
// required discriminators.
const uiMessagesSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["type", "ts"],
		"properties": {
			"type": {"type": "string", "enum": ["say", "ask"]},
			"say": {"type": "string"},
			"ask": {"type": "string"},
			"ts": {"type": "integer"},
			"text": {"type": "string"}
		}
	}
}`

const apiHistorySchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["role"],
		"properties": {
			"role": {"type": "string"},
			"ts": {"type": "integer"},
			"content": {
				"type": "array",
				"items": {"type": "object", "required": ["type"]}
			}
		}
	}
}`

var (
	uiSchema  *jsonschema.Schema
	apiSchema *jsonschema.Schema
)

func init() {
	uiSchema = mustCompile("ui_messages.schema.json", uiMessagesSchema)
	apiSchema = mustCompile("api_conversation_history.schema.json", apiHistorySchema)
}

func mustCompile(name, text string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(text)))
	if err != nil {
		panic(fmt.Sprintf("unmarshal %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add resource %s: %v", name, err))
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile %s: %v", name, err))
	}
	return sch
}

// ValidateUIMessages checks the top-level shape of a ui_messages.json document.
func ValidateUIMessages(data []byte) error {
	return validateAgainst(uiSchema, data)
}

// ValidateAPIHistory checks the top-level shape of an
// api_conversation_history.json document.
func ValidateAPIHistory(data []byte) error {
	return validateAgainst(apiSchema, data)
}

func validateAgainst(sch *jsonschema.Schema, data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("schema violation: %w", err)
	}
	return nil
}
