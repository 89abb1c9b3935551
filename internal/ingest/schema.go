package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// readingSchema describes one telemetry message as published by the
// simulator on <base>/<device_id>.
const readingSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["device_id", "total_cups", "total_beans_usage"],
  "properties": {
    "device_id": {"type": "string", "minLength": 1},
    "total_cups": {"type": "integer", "minimum": 0},
    "total_beans_usage": {"type": "integer", "minimum": 0}
  }
}`

type validator struct {
	schema *gojsonschema.Schema
}

func newValidator() (*validator, error) {
	s, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewStringLoader(readingSchema))
	if err != nil {
		return nil, fmt.Errorf("compile reading schema: %w", err)
	}
	return &validator{schema: s}, nil
}

func (v *validator) validate(payload []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(msgs, "; "))
	}
	return nil
}

// ErrInvalidMessage marks payloads that do not describe a reading.
var ErrInvalidMessage = errors.New("invalid telemetry message")
