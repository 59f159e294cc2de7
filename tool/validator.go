package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks model-produced tool arguments against tool schemas.
// Compiled schemas are cached by tool name; registries keep schemas stable
// for the lifetime of a tool.
type Validator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewValidator creates a validator with an empty schema cache.
func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate checks input against the tool's schema. An empty schema accepts
// any input. Validation failures wrap ErrInvalidArguments.
func (v *Validator) Validate(name string, schema, input json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	s, err := v.compile(name, schema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}

	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func (v *Validator) compile(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[name]; ok {
		return s, nil
	}

	url := name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	v.compiled[name] = s
	return s, nil
}
