// Package schema does structural validation of attestation documents
// before anything downstream trusts them enough to unmarshal.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed response-v1.schema.json
var responseSchemaJSON []byte

//go:embed record-v1.schema.json
var recordSchemaJSON []byte

// Validator holds the compiled schemas.
type Validator struct {
	response *jsonschema.Schema
	record   *jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	response, err := compile("response-v1.schema.json", responseSchemaJSON)
	if err != nil {
		return nil, err
	}
	record, err := compile("record-v1.schema.json", recordSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &Validator{response: response, record: record}, nil
}

func compile(name string, data []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// ValidateResponse checks a raw response document against the response
// schema.
func (v *Validator) ValidateResponse(doc []byte) error {
	return validate(v.response, doc, "response")
}

// ValidateRecord checks a serialized attestation record against the
// record schema.
func (v *Validator) ValidateRecord(doc []byte) error {
	return validate(v.record, doc, "record")
}

func validate(schema *jsonschema.Schema, doc []byte, what string) error {
	var instance any
	if err := json.Unmarshal(doc, &instance); err != nil {
		return fmt.Errorf("%s not valid JSON: %w", what, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%s schema violation: %w", what, err)
	}
	return nil
}
