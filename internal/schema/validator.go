// internal/schema/validator.go
// Package schema provides JSON schema validation for vault request payloads.
// Payloads are rejected before any storage or classifier work happens.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Payload kinds the validator knows about.
const (
	KindCatchCreate = "fishnet.catch.create"
	KindPostCreate  = "fishnet.post.create"
)

// catchCreateSchema constrains a catch-logging request. Species and scores
// are optional because the classifier fills them in when a photo is
// attached; coordinates are optional and degrade to the unknown-location
// sentinel downstream.
const catchCreateSchema = `{
	"type": "object",
	"properties": {
		"species": {"type": "string", "maxLength": 128},
		"confidence": {"type": "number", "minimum": 0, "maximum": 100},
		"healthScore": {"type": "number", "minimum": 0, "maximum": 100},
		"count": {"type": "integer", "minimum": 1},
		"estimatedWeight": {"type": "number", "minimum": 0},
		"latitude": {"type": "number", "minimum": -90, "maximum": 90},
		"longitude": {"type": "number", "minimum": -180, "maximum": 180},
		"imageData": {"type": "string", "pattern": "^data:image/"}
	},
	"additionalProperties": false
}`

// postCreateSchema constrains a feed post created on this device.
const postCreateSchema = `{
	"type": "object",
	"required": ["userId", "caption"],
	"properties": {
		"userId": {"type": "string", "maxLength": 128},
		"species": {"type": "string", "maxLength": 128},
		"caption": {"type": "string", "maxLength": 2048},
		"imageRef": {"type": "string", "maxLength": 512},
		"estimatedWeight": {"type": "number", "minimum": 0},
		"latitude": {"type": "number", "minimum": -90, "maximum": 90},
		"longitude": {"type": "number", "minimum": -180, "maximum": 180}
	},
	"additionalProperties": false
}`

// Validator validates request payloads against their JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles all payload schemas.
// Returns:
//   - *Validator: Initialized validator instance
//   - error: Any error that occurred during schema compilation
func NewValidator() (*Validator, error) {
	v := &Validator{
		schemas: make(map[string]*gojsonschema.Schema),
	}

	if err := v.loadSchema(KindCatchCreate, catchCreateSchema); err != nil {
		return nil, fmt.Errorf("failed to load catch schema: %w", err)
	}
	if err := v.loadSchema(KindPostCreate, postCreateSchema); err != nil {
		return nil, fmt.Errorf("failed to load post schema: %w", err)
	}

	return v, nil
}

// loadSchema compiles a single schema and registers it under its kind.
func (v *Validator) loadSchema(kind, schemaJSON string) error {
	loader := gojsonschema.NewStringLoader(schemaJSON)

	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", kind, err)
	}

	v.schemas[kind] = schema
	return nil
}

// Validate checks a raw JSON payload against the schema for its kind.
// Parameters:
//   - kind: Payload kind, one of the Kind* constants
//   - payload: The raw request body
// Returns:
//   - error: nil if valid, error with per-field details if invalid
func (v *Validator) Validate(kind string, payload []byte) error {
	schema, exists := v.schemas[kind]
	if !exists {
		return fmt.Errorf("unsupported payload kind: %s", kind)
	}

	if !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}
