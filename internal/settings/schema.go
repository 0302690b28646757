package settings

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaJSON constrains the known preference keys. additionalProperties
// stays open so keys written by a newer version survive a round trip
// through an older daemon.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "MirrorShard settings",
  "type": "object",
  "properties": {
    "fontFamily": {
      "type": "string",
      "minLength": 1
    },
    "fontSize": {
      "type": "number",
      "minimum": 8,
      "maximum": 72
    },
    "theme": {
      "enum": ["light", "dark", "system"]
    },
    "lineHeight": {
      "type": "number",
      "minimum": 1.0,
      "maximum": 3.0
    },
    "verticalText": {
      "type": "boolean"
    },
    "showLineNumbers": {
      "type": "boolean"
    },
    "wrapColumn": {
      "type": "integer",
      "minimum": 0,
      "maximum": 200
    }
  },
  "additionalProperties": true
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("settings.schema.json", strings.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("settings.schema.json")
	})
	return schema, schemaErr
}

// Validate checks a settings document against the embedded schema.
func Validate(values map[string]any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile settings schema: %w", err)
	}
	if err := s.Validate(values); err != nil {
		return fmt.Errorf("settings validation failed: %w", err)
	}
	return nil
}

// Defaults returns a fresh copy of the default preferences. Numbers are
// float64, matching what json.Unmarshal produces.
func Defaults() map[string]any {
	return map[string]any{
		"fontFamily":      "Noto Serif CJK JP",
		"fontSize":        float64(16),
		"theme":           "system",
		"lineHeight":      1.8,
		"verticalText":    false,
		"showLineNumbers": false,
		"wrapColumn":      float64(0),
	}
}
