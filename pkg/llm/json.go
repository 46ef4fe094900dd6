package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON schema for structured model output.
type Schema struct {
	schema *gojsonschema.Schema
}

// NewSchema compiles a JSON schema document.
func NewSchema(document string) (*Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(document))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Schema{schema: schema}, nil
}

// MustSchema is NewSchema for package-level schemas.
func MustSchema(document string) *Schema {
	s, err := NewSchema(document)
	if err != nil {
		panic(err)
	}

	return s
}

// ExtractJSON returns the first JSON object in text, dropping markdown fences
// and any prose around it.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start == -1 || end < start {
		return text
	}

	return text[start : end+1]
}

// DecodeJSON extracts the JSON object from a model answer, validates it
// against schema when one is given, and unmarshals it into dest.
func DecodeJSON(text string, schema *Schema, dest any) error {
	raw := ExtractJSON(text)
	if raw == "" {
		return fmt.Errorf("%w: no JSON object", ErrInvalidOutput)
	}

	if schema != nil {
		result, err := schema.schema.Validate(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOutput, err)
		}

		if !result.Valid() {
			problems := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				problems = append(problems, e.String())
			}

			return fmt.Errorf("%w: %s", ErrInvalidOutput, strings.Join(problems, "; "))
		}
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}

	return nil
}
