package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spherical/doc-chat/internal/domain"
)

// fencePattern matches a response wrapped entirely in one Markdown code fence.
var fencePattern = regexp.MustCompile("(?s)^```(?:json|JSON)?[ \\t]*\\r?\\n?(.*?)\\s*```$")

// pageResultSchemaJSON requires every page-number key to carry a string.
const pageResultSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "patternProperties": {
    "^[1-9][0-9]*$": {"type": "string"}
  }
}`

var (
	compileOnce      sync.Once
	pageResultSchema *jsonschema.Schema
	compileErr       error
)

func pageSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("page_result.json", strings.NewReader(pageResultSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("page_result.json")
		if err != nil {
			compileErr = fmt.Errorf("compile page result schema: %w", err)
			return
		}
		pageResultSchema = schema
	})
	return pageResultSchema, compileErr
}

// StripFence removes a single outer Markdown fence and surrounding whitespace.
func StripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// Normalize parses a model response as a JSON object. An empty response yields
// a nil map and no error; malformed JSON or a non-object is an invalid_format error.
func Normalize(raw string) (map[string]interface{}, error) {
	text := StripFence(raw)
	if text == "" {
		return nil, nil
	}

	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, domain.InvalidFormatError("response is not valid JSON", err)
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, domain.InvalidFormatError(fmt.Sprintf("response is a JSON %s, not an object", jsonKind(v)), nil)
	}
	return obj, nil
}

// ParseBatch normalizes a batch response and keeps only the requested pages.
// Requested pages missing from the response are simply absent from the result.
func ParseBatch(raw string, requested []int) (domain.PageResult, error) {
	obj, err := normalizeValidated(raw)
	if err != nil {
		return nil, err
	}

	result := make(domain.PageResult, len(requested))
	for _, page := range requested {
		if v, ok := obj[domain.PageKey(page)].(string); ok {
			result[domain.PageKey(page)] = v
		}
	}
	return result, nil
}

// ParsePage normalizes a single-page response; the page's key must be present.
func ParsePage(raw string, page int) (string, error) {
	obj, err := normalizeValidated(raw)
	if err != nil {
		return "", err
	}

	v, ok := obj[domain.PageKey(page)]
	if !ok {
		return "", domain.InvalidFormatError(fmt.Sprintf("response has no key for page %d", page), nil)
	}
	return v.(string), nil
}

func normalizeValidated(raw string) (map[string]interface{}, error) {
	obj, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, domain.InvalidFormatError("empty response", nil)
	}

	schema, err := pageSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(obj); err != nil {
		return nil, domain.InvalidFormatError("response does not match page result schema", err)
	}
	return obj, nil
}

func jsonKind(v interface{}) string {
	switch v.(type) {
	case []interface{}:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
