package tool

import (
	"encoding/json"
	"errors"
	"testing"
)

var fileSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string"},
		"offset": {"type": "integer", "minimum": 0},
		"mode": {"type": "string", "enum": ["read", "write"]}
	},
	"required": ["path"]
}`)

func TestValidateAcceptsValidInput(t *testing.T) {
	v := NewValidator()

	inputs := []string{
		`{"path": "main.go"}`,
		`{"path": "main.go", "offset": 10}`,
		`{"path": "main.go", "mode": "read"}`,
	}
	for _, input := range inputs {
		if err := v.Validate("file", fileSchema, json.RawMessage(input)); err != nil {
			t.Errorf("Validate(%s) = %v, want nil", input, err)
		}
	}
}

func TestValidateRejectsInvalidInput(t *testing.T) {
	v := NewValidator()

	inputs := []string{
		`{}`,                                  // missing required path
		`{"path": 42}`,                        // wrong type
		`{"path": "x", "offset": -1}`,         // below minimum
		`{"path": "x", "mode": "append"}`,     // not in enum
		`{"path": "x", "offset": "notanint"}`, // wrong type
	}
	for _, input := range inputs {
		err := v.Validate("file", fileSchema, json.RawMessage(input))
		if err == nil {
			t.Errorf("Validate(%s) = nil, want error", input)
			continue
		}
		if !errors.Is(err, ErrInvalidArguments) {
			t.Errorf("Validate(%s) = %v, want ErrInvalidArguments", input, err)
		}
	}
}

func TestValidateMalformedJSON(t *testing.T) {
	v := NewValidator()
	err := v.Validate("file", fileSchema, json.RawMessage(`{"path": `))
	if !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("got %v, want ErrInvalidArguments", err)
	}
}

func TestValidateEmptySchemaAcceptsAnything(t *testing.T) {
	v := NewValidator()
	if err := v.Validate("open", nil, json.RawMessage(`{"whatever": true}`)); err != nil {
		t.Errorf("empty schema should accept any input, got %v", err)
	}
}

func TestValidateEmptyInputDefaultsToObject(t *testing.T) {
	v := NewValidator()
	schema := json.RawMessage(`{"type": "object", "properties": {}}`)
	if err := v.Validate("noargs", schema, nil); err != nil {
		t.Errorf("empty input should validate as {}, got %v", err)
	}
}
