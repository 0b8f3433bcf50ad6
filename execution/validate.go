package execution

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator checks execution payloads against a JSON Schema before anything
// is persisted or scheduled. Construct one per domain at service startup;
// validation itself is cheap and safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the given JSON Schema document. The name is used in
// compile error messages only.
func NewValidator(name string, schema []byte) (*Validator, error) {
	if len(schema) == 0 {
		return nil, errors.New("schema is required")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("parse schema %q: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema %q: %w", name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks payload against the compiled schema. An empty payload is
// rejected; callers that allow empty payloads should skip validation.
func (v *Validator) Validate(payload []byte) error {
	if len(payload) == 0 {
		return errors.New("payload is required")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("payload does not match schema: %w", err)
	}
	return nil
}
