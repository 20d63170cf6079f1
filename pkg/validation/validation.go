// Package validation validates ingest/query request bodies against
// JSON schemas before they reach pkg/serving (spec §4.14), grounded on
// apps/edge-mcp/internal/validation/validator.go's ValidationError
// shape and its gojsonschema.Validate call.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Error reports a single field-level validation failure.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation error in field %q: %s", e.Field, e.Message)
}

// ingestSchema is the JSON schema for an ingest request body (spec §6:
// a non-empty items array, each item carrying a required source).
const ingestSchema = `{
	"type": "object",
	"required": ["items"],
	"properties": {
		"items": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["source"],
				"properties": {
					"doc_id": {"type": "string"},
					"source": {"type": "string", "minLength": 1},
					"content_type": {"type": "string"},
					"metadata": {"type": "object"}
				}
			}
		}
	}
}`

// querySchema is the JSON schema for a query request body.
const querySchema = `{
	"type": "object",
	"required": ["query"],
	"properties": {
		"query": {"type": "string"},
		"top_k": {"type": ["integer", "null"], "minimum": 0, "maximum": 1000},
		"mode": {"type": "string", "enum": ["vector", "keyword", "hybrid", ""]},
		"model_id": {"type": "string"},
		"rerank": {"type": "boolean"},
		"mmr_lambda": {"type": "number", "minimum": 0, "maximum": 1},
		"filter": {"type": ["object", "null"]}
	}
}`

// Validator validates request bodies against compiled JSON schemas.
type Validator struct {
	ingest *gojsonschema.Schema
	query  *gojsonschema.Schema
}

// New compiles the ingest and query schemas once at startup.
func New() (*Validator, error) {
	ingest, err := compile(ingestSchema)
	if err != nil {
		return nil, fmt.Errorf("compiling ingest schema: %w", err)
	}
	query, err := compile(querySchema)
	if err != nil {
		return nil, fmt.Errorf("compiling query schema: %w", err)
	}
	return &Validator{ingest: ingest, query: query}, nil
}

func compile(schema string) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
}

// ValidateIngest validates a raw ingest request body.
func (v *Validator) ValidateIngest(body []byte) error {
	return validate(v.ingest, body)
}

// ValidateQuery validates a raw query request body.
func (v *Validator) ValidateQuery(body []byte) error {
	return validate(v.query, body)
}

func validate(schema *gojsonschema.Schema, body []byte) error {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return &Error{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return &Error{Field: "body", Message: fmt.Sprintf("schema validation error: %v", err)}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &Error{Field: "body", Message: strings.Join(msgs, "; ")}
	}
	return nil
}
