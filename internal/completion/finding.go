package completion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrMalformedResponse = errors.New("completion response is not a JSON array of findings")

// Finding is one issue reported by the model.
type Finding struct {
	ErrorType       string `json:"error_type"`
	LocationContext string `json:"location_context"`
	OriginalText    string `json:"original_text"`
	Suggestion      string `json:"suggestion"`
	Page            int    `json:"page"`
}

// FindingFields lists the required properties in the order they are
// presented to the model.
var FindingFields = []string{"error_type", "location_context", "original_text", "suggestion", "page"}

// FindingSchema describes a single finding as JSON Schema.
func FindingSchema() map[string]any {
	str := map[string]any{"type": "string"}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"error_type":       str,
			"location_context": str,
			"original_text":    str,
			"suggestion":       str,
			"page":             map[string]any{"type": "integer", "minimum": 1},
		},
		"required": FindingFields,
	}
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func findingSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(FindingSchema())
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("finding.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("finding.json")
	})
	return compiledSchema, compileErr
}

// ParseFindings decodes a model response. Elements that do not satisfy the
// finding schema are dropped and counted; a body that is not a JSON array is
// an ErrMalformedResponse.
func ParseFindings(body string) ([]Finding, int, error) {
	schema, err := findingSchema()
	if err != nil {
		return nil, 0, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(stripFence(body)), &items); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	findings := make([]Finding, 0, len(items))
	dropped := 0
	for _, raw := range items {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil || schema.Validate(v) != nil {
			dropped++
			continue
		}
		var f Finding
		if err := json.Unmarshal(raw, &f); err != nil {
			dropped++
			continue
		}
		findings = append(findings, f)
	}
	return findings, dropped, nil
}

// stripFence removes a ```json fence some models wrap around the payload.
func stripFence(body string) string {
	s := strings.TrimSpace(body)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
