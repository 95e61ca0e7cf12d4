package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const jobAnalysisSchemaJSON = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"company": {"type": "string"},
		"location": {"type": "string"},
		"responsibilities": {"type": "array", "items": {"type": "string"}},
		"requirements": {"type": "array", "items": {"type": "string"}},
		"compensation": {"type": "string"},
		"keywords": {"type": "array", "items": {"type": "string"}}
	}
}`

const tailoredDocsSchemaJSON = `{
	"type": "object",
	"required": ["resume_markdown", "cover_letter_markdown"],
	"properties": {
		"resume_markdown": {"type": "string"},
		"cover_letter_markdown": {"type": "string"},
		"metadata": {"type": "object"}
	}
}`

const patchBundleSchemaJSON = `{
	"type": "object",
	"properties": {
		"rationale": {"type": "string"},
		"confidence": {"type": "number"},
		"operations": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"table": {"type": "string"},
					"operation": {"type": "string"},
					"key": {"type": "object"},
					"values": {"type": "object"},
					"source": {"type": "string"},
					"confidence": {"type": "number"}
				}
			}
		}
	}
}`

var (
	jobAnalysisSchema  = mustSchema("job_analysis.json", jobAnalysisSchemaJSON)
	tailoredDocsSchema = mustSchema("tailored_docs.json", tailoredDocsSchemaJSON)
	patchBundleSchema  = mustSchema("patch_bundle.json", patchBundleSchemaJSON)
)

func mustSchema(name, raw string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("unmarshal schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// validateAgainst extracts the JSON object embedded in a model response and
// validates it. Returns the extracted JSON on success.
func validateAgainst(schema *jsonschema.Schema, text string) (json.RawMessage, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("response contains no JSON object")
	}
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	return json.RawMessage(raw), nil
}

// extractJSON finds the JSON object in a model response, tolerating fenced
// code blocks and prose around the object.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + len("```json")
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSONObject(candidate) {
				return candidate
			}
		}
	}

	if idx := strings.Index(text, "```"); idx >= 0 {
		start := idx + 3
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSONObject(candidate) {
				return candidate
			}
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		candidate := balancedObject(text[i:])
		if candidate != "" && isJSONObject(candidate) {
			return candidate
		}
	}
	return ""
}

func isJSONObject(s string) bool {
	var v map[string]any
	return json.Unmarshal([]byte(s), &v) == nil
}

// balancedObject returns the shortest prefix of s that closes the opening
// brace, skipping braces inside string literals.
func balancedObject(s string) string {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
